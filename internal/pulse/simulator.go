package pulse

import "math/rand"

// Simulator produces a synthetic PPG-like voltage waveform: a square-ish
// pulse that surges to Peak for BeatWidthMS out of every PeriodMS, with
// optional uniform noise. It is deliberately non-clinical; it exists so the
// dev mode, fixture generator, and tests have a deterministic signal whose
// rate and amplitude are known in advance.
type Simulator struct {
	PeriodMS    uint32  // full beat period
	BeatWidthMS uint32  // portion of the period spent at Peak
	Peak        float64 // in-beat voltage
	Trough      float64 // between-beat voltage
	Noise       float64 // uniform noise amplitude, 0 disables

	rng     *rand.Rand
	elapsed uint64
}

// NewSimulator returns a Simulator producing 75 bpm (800ms period) pulses
// between 0.5V and 0.9V with no noise. Fields may be adjusted before the
// first call to Next.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{
		PeriodMS:    800,
		BeatWidthMS: 200,
		Peak:        0.9,
		Trough:      0.5,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Next advances the waveform clock by elapsedMS and returns the voltage at
// the new instant.
func (s *Simulator) Next(elapsedMS uint32) float64 {
	s.elapsed += uint64(elapsedMS)
	phase := uint32(s.elapsed % uint64(s.PeriodMS))

	v := s.Trough
	if phase < s.BeatWidthMS {
		v = s.Peak
	}
	if s.Noise > 0 {
		v += s.Noise * (2*s.rng.Float64() - 1)
	}
	return v
}
