package units

import (
	"math"
	"testing"
)

func TestIsValidRateUnit(t *testing.T) {
	for _, u := range ValidRateUnits {
		if !IsValidRateUnit(u) {
			t.Errorf("IsValidRateUnit(%q) = false, want true", u)
		}
	}
	for _, u := range []string{"", "mph", "BPM", "beats"} {
		if IsValidRateUnit(u) {
			t.Errorf("IsValidRateUnit(%q) = true, want false", u)
		}
	}
}

func TestConvertRate(t *testing.T) {
	cases := []struct {
		bpm    float64
		target string
		want   float64
	}{
		{75, BPM, 75},
		{75, Hz, 1.25},
		{60, Hz, 1},
		{75, "unknown", 75},
	}
	for _, c := range cases {
		if got := ConvertRate(c.bpm, c.target); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("ConvertRate(%v, %q) = %v, want %v", c.bpm, c.target, got, c.want)
		}
	}
}

func TestBPMFromInterval(t *testing.T) {
	if got := BPMFromInterval(800); got != 75 {
		t.Errorf("BPMFromInterval(800) = %v, want 75", got)
	}
	if got := BPMFromInterval(0); got != 0 {
		t.Errorf("BPMFromInterval(0) = %v, want 0", got)
	}
	if got := BPMFromInterval(-10); got != 0 {
		t.Errorf("BPMFromInterval(-10) = %v, want 0", got)
	}
}

func TestVoltsFromCounts(t *testing.T) {
	if got := VoltsFromCounts(4095, 12, 1.2); math.Abs(got-1.2) > 1e-9 {
		t.Errorf("full-scale 12-bit = %v, want 1.2", got)
	}
	if got := VoltsFromCounts(0, 12, 1.2); got != 0 {
		t.Errorf("zero counts = %v, want 0", got)
	}
	mid := VoltsFromCounts(2048, 12, 1.2)
	if mid < 0.59 || mid > 0.61 {
		t.Errorf("mid-scale 12-bit = %v, want about 0.6", mid)
	}
	if got := VoltsFromCounts(-1, 12, 1.2); got != 0 {
		t.Errorf("negative counts = %v, want 0", got)
	}
	if got := VoltsFromCounts(100, 0, 1.2); got != 0 {
		t.Errorf("zero bits = %v, want 0", got)
	}
}
