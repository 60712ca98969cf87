// Package sampler connects the serial fan-out to the beat detector. It
// subscribes to the line stream from a sensor board, converts raw ADC
// counts into volts, advances the detector sample by sample, and records
// samples and detected beats into the database.
package sampler

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/timeutil"
	"github.com/banshee-data/pulse.report/internal/units"
)

// Config carries the sampler's dependencies and tuning. Mux is required;
// DB may be nil to run without persistence.
type Config struct {
	Mux   serialmux.SerialMuxInterface
	DB    *db.DB
	Clock timeutil.Clock

	// Threshold is the initial beat detection threshold in volts.
	Threshold float64

	// ADCBits and ADCReference describe the board's converter, used to
	// turn raw counts into volts.
	ADCBits      int
	ADCReference float64

	// SessionName labels the database session created by Run.
	SessionName string

	// RecordSamples writes every raw sample to the database, not just
	// beats. Noticeably heavier on disk at 50Hz.
	RecordSamples bool

	// Debug wires the detector's trace hook to the package logger.
	Debug bool
}

// Snapshot is a point-in-time copy of the sampler's detector outputs and
// pipeline counters, safe to serialize.
type Snapshot struct {
	SessionID     string  `json:"session_id"`
	BPM           uint8   `json:"bpm"`
	IBIMS         uint32  `json:"ibi_ms"`
	Amplitude     float64 `json:"amplitude"`
	Signal        float64 `json:"signal"`
	InBeat        bool    `json:"in_beat"`
	LastBeatAtMS  uint64  `json:"last_beat_at_ms"`
	SampleClockMS uint64  `json:"sample_clock_ms"`

	BoardUptimeMS    uint64  `json:"board_uptime_ms"`
	RunSeconds       float64 `json:"run_seconds"`
	SamplesProcessed uint64  `json:"samples_processed"`
	ParseErrors      uint64  `json:"parse_errors"`
	StatusLines      uint64  `json:"status_lines"`
	BeatsDetected    uint64  `json:"beats_detected"`
}

// Sampler drives a pulse.Detector from the serial line stream.
type Sampler struct {
	cfg Config

	mu        sync.Mutex
	detector  *pulse.Detector
	threshold float64
	session   db.Session
	startedAt time.Time

	lastUptimeMS uint64
	haveUptime   bool

	samplesProcessed uint64
	parseErrors      uint64
	statusLines      uint64
	beatsDetected    uint64

	subMu sync.Mutex
	subs  map[string]chan db.Beat
}

// New creates a Sampler. The detector is seeded from cfg.Threshold.
func New(cfg Config) *Sampler {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &Sampler{
		cfg:       cfg,
		detector:  pulse.NewDetector(cfg.Threshold),
		threshold: cfg.Threshold,
		subs:      make(map[string]chan db.Beat),
	}
	if cfg.Debug {
		s.detector.Trace = func(format string, v ...interface{}) {
			monitoring.Logf("detector: "+format, v...)
		}
	}
	return s
}

// SubscribeBeats returns a channel that receives each detected beat. The
// send is non-blocking: a subscriber that falls behind misses beats rather
// than stalling the sampling loop.
func (s *Sampler) SubscribeBeats() (string, chan db.Beat) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := uuid.NewString()
	c := make(chan db.Beat, 16)
	s.subs[id] = c
	return id, c
}

// UnsubscribeBeats removes and closes a beat subscription.
func (s *Sampler) UnsubscribeBeats(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if c, ok := s.subs[id]; ok {
		close(c)
		delete(s.subs, id)
	}
}

func (s *Sampler) publishBeat(beat db.Beat) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, c := range s.subs {
		select {
		case c <- beat:
		default:
		}
	}
}

// Session returns the database session created by Run, zero before Run.
func (s *Sampler) Session() db.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// SetThreshold updates the detector's beat threshold mid-run.
func (s *Sampler) SetThreshold(threshold float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = threshold
	s.detector.SetThreshold(threshold)
}

// Threshold returns the current detection threshold in volts, reflecting
// any runtime updates made through SetThreshold.
func (s *Sampler) Threshold() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threshold
}

// Snapshot copies the current detector outputs and pipeline counters.
func (s *Sampler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runSeconds float64
	if !s.startedAt.IsZero() {
		runSeconds = s.cfg.Clock.Since(s.startedAt).Seconds()
	}
	return Snapshot{
		SessionID:     s.session.ID,
		BPM:           s.detector.BPM(),
		IBIMS:         s.detector.InterBeatInterval(),
		Amplitude:     s.detector.Amplitude(),
		Signal:        s.detector.LatestSample(),
		InBeat:        s.detector.InsideBeat(),
		LastBeatAtMS:  s.detector.LastBeatTime(),
		SampleClockMS: s.detector.SampleCounter(),

		BoardUptimeMS:    s.lastUptimeMS,
		RunSeconds:       runSeconds,
		SamplesProcessed: s.samplesProcessed,
		ParseErrors:      s.parseErrors,
		StatusLines:      s.statusLines,
		BeatsDetected:    s.beatsDetected,
	}
}

// Run subscribes to the serial mux and processes lines until the context
// is cancelled. If a database was configured, a session is created first
// and beats (and optionally samples) are recorded into it.
func (s *Sampler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.cfg.Clock.Now()
	s.mu.Unlock()

	if s.cfg.DB != nil {
		session, err := s.cfg.DB.NewSession(s.cfg.SessionName, s.cfg.Threshold)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.session = session
		s.mu.Unlock()
		monitoring.Logf("sampler: recording session %s (%s)", session.ID, session.Name)
	}

	id, lines := s.cfg.Mux.Subscribe()
	defer s.cfg.Mux.Unsubscribe(id)

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			s.HandleLine(line)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// HandleLine classifies and processes one payload line from the board.
// Exported so replay tooling can push recorded lines through the same path
// the live loop uses.
func (s *Sampler) HandleLine(line string) {
	switch serialmux.ClassifyPayload(line) {
	case serialmux.EventTypeSample:
		uptimeMS, counts, err := serialmux.ParseSampleLine(line)
		if err != nil {
			// ClassifyPayload already parsed it; this cannot happen.
			return
		}
		s.handleSample(uptimeMS, counts)
	case serialmux.EventTypeStatus:
		s.mu.Lock()
		s.statusLines++
		s.mu.Unlock()
		monitoring.Logf("sampler: board status %s", line)
	default:
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
	}
}

func (s *Sampler) handleSample(uptimeMS uint64, counts int) {
	voltage := units.VoltsFromCounts(counts, s.cfg.ADCBits, s.cfg.ADCReference)

	s.mu.Lock()

	// The first sample only primes the uptime clock. Likewise after a
	// board reboot, where uptime jumps backwards.
	if !s.haveUptime || uptimeMS < s.lastUptimeMS {
		if s.haveUptime {
			monitoring.Logf("sampler: board uptime went backwards (%dms -> %dms), re-priming", s.lastUptimeMS, uptimeMS)
		}
		s.lastUptimeMS = uptimeMS
		s.haveUptime = true
		s.mu.Unlock()
		return
	}

	elapsed := uptimeMS - s.lastUptimeMS
	if elapsed > math.MaxUint32 {
		elapsed = math.MaxUint32
	}
	s.lastUptimeMS = uptimeMS

	s.detector.Process(voltage, uint32(elapsed))
	s.samplesProcessed++

	var beat db.Beat
	sawBeat := s.detector.SawStartOfBeat()
	if sawBeat {
		s.beatsDetected++
		beat = db.Beat{
			SessionID: s.session.ID,
			AtMS:      s.detector.LastBeatTime(),
			BPM:       int(s.detector.BPM()),
			IBIMS:     s.detector.InterBeatInterval(),
			Amplitude: s.detector.Amplitude(),
		}
	}
	sessionID := s.session.ID
	s.mu.Unlock()

	if s.cfg.DB != nil && s.cfg.RecordSamples {
		if err := s.cfg.DB.RecordSample(sessionID, uptimeMS, voltage); err != nil {
			monitoring.Logf("sampler: failed to record sample: %v", err)
		}
	}

	if sawBeat {
		if s.cfg.DB != nil {
			if err := s.cfg.DB.RecordBeat(beat); err != nil {
				monitoring.Logf("sampler: failed to record beat: %v", err)
			}
		}
		s.publishBeat(beat)
	}
}
