package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSnapshot tests the point-in-time view of the sampler pipeline.
func TestSnapshot(t *testing.T) {
	t.Parallel()

	t.Run("fresh sampler reports zeros", func(t *testing.T) {
		t.Parallel()
		s := New(Config{Mux: newFakeMux(), Threshold: 0.65, ADCBits: 12, ADCReference: 1.2})

		snap := s.Snapshot()
		assert.Zero(t, snap.BPM)
		assert.Zero(t, snap.SamplesProcessed)
		assert.Zero(t, snap.BeatsDetected)
		assert.False(t, snap.InBeat)
		assert.Empty(t, snap.SessionID)
	})

	t.Run("snapshot is a copy, not a view", func(t *testing.T) {
		t.Parallel()
		s := New(Config{Mux: newFakeMux(), Threshold: 0.65, ADCBits: 12, ADCReference: 1.2})

		before := s.Snapshot()
		s.HandleLine("0,2048")
		s.HandleLine("20,2048")

		assert.Zero(t, before.SamplesProcessed)
		assert.Equal(t, uint64(1), s.Snapshot().SamplesProcessed)
	})

	t.Run("converged wave fills every field", func(t *testing.T) {
		t.Parallel()
		s := New(Config{Mux: newFakeMux(), Threshold: 0.65, ADCBits: 12, ADCReference: 1.2})
		for _, line := range squareWaveLines(10000) {
			s.HandleLine(line)
		}

		snap := s.Snapshot()
		require.NotZero(t, snap.BeatsDetected)
		assert.Equal(t, uint8(75), snap.BPM)
		assert.Equal(t, uint32(800), snap.IBIMS)
		assert.InDelta(t, 0.4, snap.Amplitude, 0.02)
		assert.Equal(t, uint64(10000), snap.BoardUptimeMS)
		assert.NotZero(t, snap.LastBeatAtMS)
	})
}
