package main

import (
	"testing"

	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/sampler"
	"github.com/banshee-data/pulse.report/internal/serialmux"
)

func TestSimulatedLineSourceProducesSampleLines(t *testing.T) {
	next := simulatedLineSource(config.EmptyTuningConfig())

	var lastUptime uint64
	for i := 0; i < 200; i++ {
		line := next()
		if got := serialmux.ClassifyPayload(line); got != serialmux.EventTypeSample {
			t.Fatalf("line %q classified as %q, want sample", line, got)
		}
		uptimeMS, counts, err := serialmux.ParseSampleLine(line)
		if err != nil {
			t.Fatalf("line %q failed to parse: %v", line, err)
		}
		if uptimeMS != lastUptime+20 {
			t.Fatalf("uptime jumped from %d to %d, want +20ms steps", lastUptime, uptimeMS)
		}
		lastUptime = uptimeMS
		if counts < 0 || counts > 4095 {
			t.Fatalf("counts %d outside 12-bit range", counts)
		}
	}
}

func TestSimulatedLineSourceDrivesDetector(t *testing.T) {
	tuning := config.EmptyTuningConfig()
	next := simulatedLineSource(tuning)

	s := sampler.New(sampler.Config{
		Mux:          serialmux.NewDisabledSerialMux(),
		Threshold:    tuning.GetThreshold(),
		ADCBits:      tuning.GetADCBits(),
		ADCReference: tuning.GetADCReference(),
	})

	// 20 seconds of simulated signal at 20ms per sample.
	for i := 0; i < 1000; i++ {
		s.HandleLine(next())
	}

	snap := s.Snapshot()
	if snap.BeatsDetected < 10 {
		t.Fatalf("got %d beats from simulated signal, want at least 10", snap.BeatsDetected)
	}
	if snap.BPM != 75 {
		t.Errorf("got BPM %d, want 75 from the default 800ms period", snap.BPM)
	}
}
