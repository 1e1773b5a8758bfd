package net

import (
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// SharedPortManager is shared between tests so that servers started by
// different tests in one binary never get the same port.
var SharedPortManager = &PortManager{
	usedPorts: make(map[int]bool),
}

type PortManager struct {
	usedPorts map[int]bool
	mutex     sync.Mutex
}

func (pm *PortManager) GetFreePort() (int, error) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	for {
		l, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			return 0, err
		}
		port := l.Addr().(*net.TCPAddr).Port
		if err := l.Close(); err != nil {
			return 0, err
		}
		if !pm.usedPorts[port] {
			pm.usedPorts[port] = true
			return port, nil
		}
	}
}

// FreeLocalAddr returns a "localhost:port" address with a port not handed out before.
func FreeLocalAddr(t *testing.T) string {
	t.Helper()
	port, err := SharedPortManager.GetFreePort()
	require.NoError(t, err)
	return fmt.Sprintf("localhost:%d", port)
}
