package pulse

import "testing"

func TestSimulatorWaveShape(t *testing.T) {
	s := NewSimulator(1)
	for i := 0; i < 200; i++ {
		v := s.Next(20)
		phase := s.elapsed % uint64(s.PeriodMS)
		want := s.Trough
		if phase < uint64(s.BeatWidthMS) {
			want = s.Peak
		}
		if v != want {
			t.Fatalf("sample %d at phase %d = %v, want %v", i, phase, v, want)
		}
	}
}

func TestSimulatorNoiseBounded(t *testing.T) {
	s := NewSimulator(42)
	s.Noise = 0.05
	for i := 0; i < 1000; i++ {
		v := s.Next(20)
		if v < s.Trough-0.05 || v > s.Peak+0.05 {
			t.Fatalf("sample %d = %v outside noise envelope", i, v)
		}
	}
}

// A detector fed directly from the simulator converges to the simulated rate.
func TestSimulatorDrivesDetector(t *testing.T) {
	s := NewSimulator(7)
	d := NewDetector(0.65)
	for i := 0; i < 500; i++ { // 10s at 20ms
		d.Process(s.Next(20), 20)
	}
	if d.BPM() != 75 {
		t.Fatalf("bpm = %d, want 75 from an 800ms simulated period", d.BPM())
	}
	if d.Amplitude() < 0.39 || d.Amplitude() > 0.41 {
		t.Fatalf("amplitude = %v, want about 0.4", d.Amplitude())
	}
}
