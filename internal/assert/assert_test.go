package assert

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLength(t *testing.T) {
	require.NotPanics(t, func() { Length("abcd", 4) })
	require.Panics(t, func() { Length("abc", 4) })
}

func TestNotEmpty(t *testing.T) {
	require.NotPanics(t, func() { NotEmpty("x", "value") })
	require.PanicsWithValue(t, "assert.NotEmpty userID is empty", func() { NotEmpty("", "userID") })
}
