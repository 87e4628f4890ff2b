package rpcservice_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ggoodman/streamrpc-go/rpcservice"
)

type point struct {
	X    int    `json:"x"`
	Y    int    `json:"y"`
	Name string `json:"name,omitempty"`
}

func TestPrimitiveParams(t *testing.T) {
	cases := []struct {
		param rpcservice.Param
		ok    []any
		bad   []any
	}{
		{rpcservice.String(), []any{"a", ""}, []any{1, nil, true}},
		{rpcservice.Number(), []any{1, 2.5, float64(3), json.Number("4")}, []any{"1", nil}},
		{rpcservice.Boolean(), []any{true, false}, []any{"true", 0}},
		{rpcservice.Object(), []any{map[string]any{}, point{}}, []any{[]any{}, "x"}},
		{rpcservice.Array(), []any{[]any{1}, []string{}}, []any{map[string]any{}, 1}},
		{rpcservice.Any(), []any{nil, 1, "x", []any{}}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.param.Kind(), func(t *testing.T) {
			for _, v := range tc.ok {
				require.True(t, tc.param.Match(v), "%v should match", v)
			}
			for _, v := range tc.bad {
				require.False(t, tc.param.Match(v), "%v should not match", v)
			}
		})
	}
}

func TestShapeParam(t *testing.T) {
	p := rpcservice.Shape[point]()
	require.Equal(t, "point", p.Kind())

	require.True(t, p.Match(point{X: 1}))
	require.True(t, p.Match(&point{}))
	require.True(t, p.Match(map[string]any{"x": float64(1), "y": float64(2)}))
	require.True(t, p.Match(map[string]any{"x": float64(1), "y": float64(2), "name": "p"}))

	require.False(t, p.Match(map[string]any{"x": float64(1)}), "missing required y")
	require.False(t, p.Match(map[string]any{"x": "1", "y": float64(2)}), "x has wrong kind")
	require.False(t, p.Match(map[string]any{"x": 1.5, "y": float64(2)}), "x is not integral")
	require.False(t, p.Match("point"))
	require.False(t, p.Match(nil))
}

func TestCheckArgs(t *testing.T) {
	m := &rpcservice.Method{Name: "Timer.tick", Params: []rpcservice.Param{rpcservice.Number(), rpcservice.Number()}}

	var cnt *rpcservice.ArgumentCountMismatchError
	require.ErrorAs(t, m.CheckArgs([]any{float64(1)}), &cnt)
	require.Equal(t, 2, cnt.Expected)
	require.Equal(t, 1, cnt.Got)

	var typ *rpcservice.ArgumentTypeMismatchError
	require.ErrorAs(t, m.CheckArgs([]any{float64(1), "x"}), &typ)
	require.Equal(t, 1, typ.Index)
	require.Equal(t, "number", typ.Expected)
	require.Equal(t, "string", typ.Actual)
	require.Equal(t, "argument 1 has an invalid type expected number got string", typ.Error())

	require.NoError(t, m.CheckArgs([]any{float64(1), float64(2)}))
}
