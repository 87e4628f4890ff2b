package jwtauth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const testAudience = "streamrpc://api.example.com"

type mockOIDC struct {
	srv      *httptest.Server
	issuer   string
	jwksPath string
	meta     map[string]any
}

func newMockOIDC(t *testing.T, keysJSON []byte, meta map[string]any) *mockOIDC {
	t.Helper()
	m := &mockOIDC{jwksPath: "/keys", meta: meta}
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		doc := map[string]any{
			"issuer":   m.issuer,
			"jwks_uri": m.issuer + m.jwksPath,
		}
		for k, v := range m.meta {
			doc[k] = v
		}
		_ = json.NewEncoder(w).Encode(doc)
	})
	mux.HandleFunc(m.jwksPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(keysJSON)
	})
	m.srv = httptest.NewServer(mux)
	m.issuer = m.srv.URL
	t.Cleanup(m.srv.Close)
	return m
}

func genRSA(t *testing.T) (*rsa.PrivateKey, string, []byte) {
	t.Helper()
	pk, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	kid := "test-key"
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &pk.PublicKey, KeyID: kid, Algorithm: "RS256", Use: "sig"}}}
	b, err := json.Marshal(set)
	require.NoError(t, err)
	return pk, kid, b
}

func signToken(t *testing.T, pk *rsa.PrivateKey, kid, typ string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	if typ != "" {
		tok.Header["typ"] = typ
	}
	s, err := tok.SignedString(pk)
	require.NoError(t, err)
	return s
}

func baseConfig(issuer string) *Config {
	cfg := DefaultConfig()
	cfg.Issuer = issuer
	cfg.ExpectedAudiences = []string{testAudience}
	cfg.Leeway = 0
	return cfg
}

func baseClaims(issuer string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": testAudience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
	}
}

func TestVerifier_HappyPath(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	op := newMockOIDC(t, jwks, nil)
	ctx := context.Background()

	v, err := NewFromDiscovery(ctx, baseConfig(op.issuer))
	require.NoError(t, err)

	claims := baseClaims(op.issuer)
	claims["scope"] = "rpc:read rpc:write"
	ui, err := v.Verify(ctx, signToken(t, pk, kid, "at+jwt", claims))
	require.NoError(t, err)
	require.Equal(t, "user-123", ui.UserID())

	var out struct {
		Scope string `json:"scope"`
	}
	require.NoError(t, ui.Claims(&out))
	require.Equal(t, "rpc:read rpc:write", out.Scope)
}

func TestVerifier_Rejections(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	op := newMockOIDC(t, jwks, nil)
	ctx := context.Background()

	cases := map[string]struct {
		typ    string
		mutate func(jwt.MapClaims)
		cfg    func(*Config)
		want   error
	}{
		"wrong typ":       {typ: "JWT", want: ErrUnauthorized},
		"issuer mismatch": {typ: "at+jwt", mutate: func(c jwt.MapClaims) { c["iss"] = "https://evil.example.com" }, want: ErrUnauthorized},
		"unknown aud":     {typ: "at+jwt", mutate: func(c jwt.MapClaims) { c["aud"] = "https://unknown" }, want: ErrUnauthorized},
		"expired":         {typ: "at+jwt", mutate: func(c jwt.MapClaims) { c["exp"] = time.Now().Add(-time.Hour).Unix() }, want: ErrUnauthorized},
		"missing exp":     {typ: "at+jwt", mutate: func(c jwt.MapClaims) { delete(c, "exp") }, want: ErrUnauthorized},
		"missing sub":     {typ: "at+jwt", mutate: func(c jwt.MapClaims) { delete(c, "sub") }, want: ErrUnauthorized},
		"missing all scopes": {
			typ:    "at+jwt",
			mutate: func(c jwt.MapClaims) { c["scope"] = "rpc:write" },
			cfg:    func(c *Config) { c.RequiredScopes = []string{"rpc:write", "rpc:admin"} },
			want:   ErrInsufficientScope,
		},
		"missing any scope": {
			typ:    "at+jwt",
			mutate: func(c jwt.MapClaims) { c["scope"] = "rpc:read" },
			cfg: func(c *Config) {
				c.RequiredScopes = []string{"rpc:write", "rpc:admin"}
				c.ScopeModeAny = true
			},
			want: ErrInsufficientScope,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := baseConfig(op.issuer)
			if tc.cfg != nil {
				tc.cfg(cfg)
			}
			v, err := NewFromDiscovery(ctx, cfg)
			require.NoError(t, err)

			claims := baseClaims(op.issuer)
			if tc.mutate != nil {
				tc.mutate(claims)
			}
			_, err = v.Verify(ctx, signToken(t, pk, kid, tc.typ, claims))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerifier_EmptyToken(t *testing.T) {
	_, _, jwks := genRSA(t)
	op := newMockOIDC(t, jwks, nil)
	v, err := NewFromDiscovery(context.Background(), baseConfig(op.issuer))
	require.NoError(t, err)

	_, err = v.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifier_AnyScopeAndAudienceArray(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	op := newMockOIDC(t, jwks, nil)
	ctx := context.Background()

	cfg := baseConfig(op.issuer)
	cfg.ExpectedAudiences = append(cfg.ExpectedAudiences, "http://localhost:8080")
	cfg.RequiredScopes = []string{"rpc:write", "rpc:admin"}
	cfg.ScopeModeAny = true
	v, err := NewFromDiscovery(ctx, cfg)
	require.NoError(t, err)

	claims := baseClaims(op.issuer)
	claims["aud"] = []string{"https://other", "http://localhost:8080"}
	claims["scope"] = "rpc:admin"
	_, err = v.Verify(ctx, signToken(t, pk, kid, "at+jwt", claims))
	require.NoError(t, err)
}

func TestNewFromDiscovery_MissingJWKS(t *testing.T) {
	_, _, jwks := genRSA(t)
	op := newMockOIDC(t, jwks, map[string]any{"jwks_uri": ""})

	_, err := NewFromDiscovery(context.Background(), baseConfig(op.issuer))
	require.ErrorContains(t, err, "jwks_uri")
}

func TestConfigValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewStatic(ctx, &Config{ExpectedAudiences: []string{"a"}}, "http://x")
	require.ErrorContains(t, err, "issuer")

	_, err = NewStatic(ctx, &Config{Issuer: "i"}, "http://x")
	require.ErrorContains(t, err, "audience")

	_, err = NewStatic(ctx, &Config{Issuer: "i", ExpectedAudiences: []string{"a"}, AllowedAlgs: []string{"none"}}, "http://x")
	require.Error(t, err)

	_, err = NewStatic(ctx, &Config{Issuer: "i", ExpectedAudiences: []string{"a"}}, "")
	require.ErrorContains(t, err, "jwks")
}

func TestNewStatic_VerifiesWithoutDiscovery(t *testing.T) {
	pk, kid, jwks := genRSA(t)
	op := newMockOIDC(t, jwks, nil)
	ctx := context.Background()

	cfg := baseConfig("https://issuer.example")
	cfg.TokenTypes = nil
	v, err := NewStatic(ctx, cfg, op.issuer+op.jwksPath)
	require.NoError(t, err)

	claims := baseClaims("https://issuer.example")
	ui, err := v.Verify(ctx, signToken(t, pk, kid, "", claims))
	require.NoError(t, err)
	require.Equal(t, "user-123", ui.UserID())
}
