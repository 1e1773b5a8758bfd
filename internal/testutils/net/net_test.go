package net

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPortManager_UniquePorts(t *testing.T) {
	pm := &PortManager{usedPorts: make(map[int]bool)}
	seen := make(map[int]bool)
	for i := 0; i < 10; i++ {
		port, err := pm.GetFreePort()
		require.NoError(t, err)
		require.False(t, seen[port], "port %d handed out twice", port)
		seen[port] = true
	}
	require.NotEqual(t, FreeLocalAddr(t), FreeLocalAddr(t))
}
