package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/genflow/types"
)

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestJSON_Validate(t *testing.T) {
	t.Run("decodes payload", func(t *testing.T) {
		p, err := JSON[point]{}.Validate(json.RawMessage(`{"x":1,"y":2}`))
		require.NoError(t, err)
		assert.Equal(t, point{X: 1, Y: 2}, p)
	})

	t.Run("strict rejects unknown fields", func(t *testing.T) {
		_, err := JSON[point]{Strict: true}.Validate(json.RawMessage(`{"x":1,"z":3}`))
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})

	t.Run("lenient ignores unknown fields", func(t *testing.T) {
		p, err := JSON[point]{}.Validate(json.RawMessage(`{"x":1,"z":3}`))
		require.NoError(t, err)
		assert.Equal(t, 1, p.X)
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := JSON[point]{}.Validate(json.RawMessage(`{"x":"one"}`))
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})
}

func TestFunc_Validate(t *testing.T) {
	s := Func[int](func(raw json.RawMessage) (int, error) { return len(raw), nil })
	n, err := s.Validate(json.RawMessage(`[1]`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTyped_Validate(t *testing.T) {
	def := Object().
		Prop("x", Integer()).
		Prop("y", Integer()).
		Require("x")
	s := NewTyped[point](def)

	p, err := s.Validate(json.RawMessage(`{"x":5}`))
	require.NoError(t, err)
	assert.Equal(t, 5, p.X)

	_, err = s.Validate(json.RawMessage(`{"y":5}`))
	require.Error(t, err)
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "x: required field is missing")

	_, err = s.Validate(json.RawMessage(`{"x":1.5}`))
	assert.Error(t, err, "非整数应被拒绝")
}

func TestAny_CopiesPayload(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	out, err := Any().Validate(raw)
	require.NoError(t, err)
	raw[2] = 'b'
	assert.JSONEq(t, `{"a":1}`, string(out))
}
