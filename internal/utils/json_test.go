package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNoEscape(t *testing.T) {
	out, err := MarshalNoEscape(map[string]string{"error": "<html>502</html>"})
	require.NoError(t, err)
	assert.Equal(t, `{"error":"<html>502</html>"}`, string(out))
}

func TestMarshalIndentNoEscape(t *testing.T) {
	out, err := MarshalIndentNoEscape(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": 1\n}", string(out))
	assert.False(t, strings.HasSuffix(string(out), "\n"))
}
