package redisbus

import (
	"encoding/json"
	"fmt"

	"github.com/ggoodman/streamrpc-go/wire"
)

const (
	kindMsg   = "msg"
	kindReady = "ready"
	kindClose = "close"
)

type envelope struct {
	Kind string        `json:"kind"`
	Msg  *wire.Message `json:"msg,omitempty"`
}

func encodeEnvelope(kind string, m *wire.Message) ([]byte, error) {
	b, err := json.Marshal(envelope{Kind: kind, Msg: m})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(payload string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	switch env.Kind {
	case kindReady, kindClose:
	case kindMsg:
		if env.Msg == nil {
			return envelope{}, fmt.Errorf("msg envelope without message")
		}
	default:
		return envelope{}, fmt.Errorf("unknown envelope kind %q", env.Kind)
	}
	return env, nil
}
