package jsonpath

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) any {
	t.Helper()

	var doc any

	require.NoError(t, json.Unmarshal([]byte(raw), &doc))

	return doc
}

func TestFind_RecursiveDescent(t *testing.T) {
	doc := decode(t, `{"3":{"inputs":{"seed":0}},"7":{"inputs":{"text":"hello","seed":42}}}`)

	values, err := Find(doc, "$..seed")
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Contains(t, values, float64(0))
	assert.Contains(t, values, float64(42))
}

func TestFind_NoMatch(t *testing.T) {
	doc := decode(t, `{"3":{"inputs":{"seed":0}}}`)

	values, err := Find(doc, "$..ckpt_name")
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestFind_MalformedExpression(t *testing.T) {
	doc := decode(t, `{}`)

	_, err := Find(doc, "$[")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidExpression)
}

func TestSet_OverwritesEveryMatch(t *testing.T) {
	doc := decode(t, `{"3":{"inputs":{"seed":0}},"7":{"inputs":{"seed":0}}}`)

	n, err := Set(doc, "$..seed", 1234)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	values, err := Find(doc, "$..seed")
	require.NoError(t, err)

	for _, v := range values {
		assert.Equal(t, 1234, v)
	}
}

func TestSet_FixedPath(t *testing.T) {
	doc := decode(t, `{"3":{"inputs":{"text":"old"}}}`)

	n, err := Set(doc, `$["3"].inputs.text`, "new")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	values, err := Find(doc, `$["3"].inputs.text`)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "new", values[0])
}

func TestSet_NoMatchIsNotAnError(t *testing.T) {
	doc := decode(t, `{"3":{"inputs":{"seed":0}}}`)

	n, err := Set(doc, "$..missing", "x")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpr_Reuse(t *testing.T) {
	expr, err := Parse("$..ckpt_name")
	require.NoError(t, err)
	assert.Equal(t, "$..ckpt_name", expr.String())

	doc := decode(t, `{"4":{"inputs":{"ckpt_name":"sd_xl_base.safetensors"}}}`)
	values := expr.Find(doc)
	require.Len(t, values, 1)
	assert.Equal(t, "sd_xl_base.safetensors", values[0])
}
