package cluster

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPartitionControl(t *testing.T) {
	pc := NewPartitionControl()
	require.False(t, pc.IsBlocked("http://localhost:5001"))

	pc.Block("http://localhost:5001")
	require.True(t, pc.IsBlocked("http://localhost:5001"))
	require.False(t, pc.IsBlocked("http://localhost:5002"))

	snap := pc.Snapshot()
	require.Equal(t, map[string]bool{"http://localhost:5001": true}, snap)

	pc.Unblock("http://localhost:5001")
	require.False(t, pc.IsBlocked("http://localhost:5001"))
}
