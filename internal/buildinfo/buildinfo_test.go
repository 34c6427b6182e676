package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfo(t *testing.T) {
	info := Info()
	require.Equal(t, Version, info["version"])
	require.Equal(t, runtime.Version(), info["goVersion"])
}
