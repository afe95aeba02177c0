package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNoEscapeKeepsAngleBrackets(t *testing.T) {
	t.Parallel()

	out, err := MarshalNoEscape(map[string]string{"text": "<a> & </a>"})
	require.NoError(t, err)
	assert.Equal(t, `{"text":"<a> & </a>"}`, string(out))
}

func TestMarshalNoEscapeKeepsUTF8(t *testing.T) {
	t.Parallel()

	out, err := MarshalNoEscape([]string{"内容已截断"})
	require.NoError(t, err)
	assert.Equal(t, `["内容已截断"]`, string(out))
}

func TestMarshalNoEscapeIndent(t *testing.T) {
	t.Parallel()

	out, err := MarshalNoEscapeIndent(map[string]int{"n": 1}, "", "  ")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"n\": 1\n}", string(out))
}
