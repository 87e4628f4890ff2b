// Package auth verifies bearer tokens presented by streamrpc connections.
//
// An Authenticator validates a token string and returns a UserInfo (or an
// error). Transports only carry the token; gates.RequireBearer extracts it
// from the connection value and calls the Authenticator before a method is
// invoked.
//
// # Access Token Authentication
//
// NewFromDiscovery constructs an Authenticator that validates RFC 9068
// access tokens using OpenID Connect discovery to obtain the issuer's JWKS.
// NewStatic skips discovery and uses a known JWKS URI.
//
//	authn, err := auth.NewFromDiscovery(ctx, "https://issuer.example", "streamrpc://api",
//	    auth.WithRequiredScopes("rpc:call"),
//	)
//	if err != nil { log.Fatal(err) }
//	ui, err := authn.CheckAuthentication(ctx, token)
//	if errors.Is(err, auth.ErrUnauthorized) { /* reject */ }
//
// # Scopes
//
// WithRequiredScopes enforces that all provided scopes are present in the
// token's space-delimited scope claim; WithAnyRequiredScope relaxes this so
// at least one matches. The last one applied wins.
//
// By default only RS256 is accepted. Use WithAllowedAlgs to broaden the set.
// WithLeeway adds tolerance for clock skew when validating exp/iat/nbf.
package auth
