package network_test

import (
	"go/format"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateSourceIsFormatted(t *testing.T) {
	src, err := os.ReadFile("state.go")
	require.NoError(t, err)
	out, err := format.Source(src)
	require.NoError(t, err)
	require.Equal(t, string(out), string(src))
}
