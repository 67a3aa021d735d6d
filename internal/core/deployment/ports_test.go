package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// AllocatePort Tests
// =============================================================================

func TestAllocatePort_EmptyUsedList(t *testing.T) {
	port, err := AllocatePort(nil, DefaultPortRange())

	require.NoError(t, err)
	assert.Equal(t, 8000, port)
}

func TestAllocatePort_SkipsUsedPorts(t *testing.T) {
	used := []int{8000, 8001, 8002}

	port, err := AllocatePort(used, DefaultPortRange())

	require.NoError(t, err)
	assert.Equal(t, 8003, port)
}

func TestAllocatePort_FillsGaps(t *testing.T) {
	// The scan is strictly ascending from the range start, so a hole
	// left by a stopped deployment is reused before higher ports.
	used := []int{8000, 8002, 8004}

	port, err := AllocatePort(used, DefaultPortRange())

	require.NoError(t, err)
	assert.Equal(t, 8001, port)
}

func TestAllocatePort_ExhaustedRange(t *testing.T) {
	narrow := PortRange{Start: 9000, End: 9002}
	used := []int{9000, 9001, 9002}

	_, err := AllocatePort(used, narrow)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoFreePort)
}

func TestAllocatePort_DistinctForSequentialCallers(t *testing.T) {
	// Callers reserve the ports they are handed before asking again,
	// which is how the deployer serializes allocation.
	var reserved []int

	for i := 0; i < 5; i++ {
		port, err := AllocatePort(reserved, DefaultPortRange())
		require.NoError(t, err)
		reserved = append(reserved, port)
	}

	assert.Equal(t, []int{8000, 8001, 8002, 8003, 8004}, reserved)
}

// =============================================================================
// ValidatePort Tests
// =============================================================================

func TestValidatePort(t *testing.T) {
	tests := []struct {
		name    string
		port    int
		wantErr bool
	}{
		{name: "valid low", port: 1, wantErr: false},
		{name: "valid common", port: 8000, wantErr: false},
		{name: "valid max", port: 65535, wantErr: false},
		{name: "zero", port: 0, wantErr: true},
		{name: "negative", port: -1, wantErr: true},
		{name: "too large", port: 65536, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePort(tt.port)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
