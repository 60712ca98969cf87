package db

import (
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	database, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestNewDBCreatesSchema(t *testing.T) {
	database := newTestDB(t)

	for _, table := range []string{"sessions", "samples", "beats"} {
		var count int
		err := database.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not created", table)
		}
	}
}

func TestNewSessionRoundTrip(t *testing.T) {
	database := newTestDB(t)

	s, err := database.NewSession("bench-rig", 0.65)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.ID == "" {
		t.Fatal("expected non-empty session ID")
	}

	sessions, err := database.Sessions()
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	got := sessions[0]
	if got.ID != s.ID || got.Name != "bench-rig" || got.Threshold != 0.65 {
		t.Errorf("session round trip mismatch: %+v", got)
	}
}

func TestRecordAndQueryBeats(t *testing.T) {
	database := newTestDB(t)

	s, err := database.NewSession("test", 0.65)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	for i := 0; i < 5; i++ {
		beat := Beat{
			SessionID: s.ID,
			AtMS:      uint64(800 * (i + 1)),
			BPM:       75,
			IBIMS:     800,
			Amplitude: 0.4,
		}
		if err := database.RecordBeat(beat); err != nil {
			t.Fatalf("RecordBeat %d: %v", i, err)
		}
	}

	beats, err := database.Beats(s.ID, 3)
	if err != nil {
		t.Fatalf("Beats: %v", err)
	}
	if len(beats) != 3 {
		t.Fatalf("got %d beats, want 3", len(beats))
	}
	// Newest first.
	if beats[0].AtMS != 4000 {
		t.Errorf("got first beat at %dms, want 4000ms", beats[0].AtMS)
	}

	latest, err := database.LatestBeat(s.ID)
	if err != nil {
		t.Fatalf("LatestBeat: %v", err)
	}
	if latest.AtMS != 4000 || latest.BPM != 75 || latest.IBIMS != 800 {
		t.Errorf("unexpected latest beat: %+v", latest)
	}
}

func TestLatestBeatEmptySession(t *testing.T) {
	database := newTestDB(t)

	_, err := database.LatestBeat("no-such-session")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("got %v, want sql.ErrNoRows", err)
	}
}

func TestRecordSample(t *testing.T) {
	database := newTestDB(t)

	s, err := database.NewSession("test", 0.65)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := database.RecordSample(s.ID, 1020, 0.734); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}

	var uptime int64
	var voltage float64
	err = database.QueryRow(
		"SELECT uptime_ms, voltage FROM samples WHERE session_id = ?", s.ID,
	).Scan(&uptime, &voltage)
	if err != nil {
		t.Fatalf("querying sample: %v", err)
	}
	if uptime != 1020 || voltage != 0.734 {
		t.Errorf("got (%d, %f), want (1020, 0.734)", uptime, voltage)
	}
}

func TestSessionStats(t *testing.T) {
	database := newTestDB(t)

	s, err := database.NewSession("test", 0.65)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// IBIs 700..900 in steps of 50, mean 800.
	ibis := []uint32{700, 750, 800, 850, 900}
	for i, ibi := range ibis {
		beat := Beat{SessionID: s.ID, AtMS: uint64(1000 * (i + 1)), BPM: 75, IBIMS: ibi, Amplitude: 0.4}
		if err := database.RecordBeat(beat); err != nil {
			t.Fatalf("RecordBeat: %v", err)
		}
	}

	stats, err := database.SessionStats(s.ID)
	if err != nil {
		t.Fatalf("SessionStats: %v", err)
	}
	if stats.Count != 5 {
		t.Errorf("got count %d, want 5", stats.Count)
	}
	if math.Abs(stats.MeanIBI-800) > 1e-9 {
		t.Errorf("got mean IBI %f, want 800", stats.MeanIBI)
	}
	if stats.MinIBI != 700 || stats.MaxIBI != 900 {
		t.Errorf("got min/max %f/%f, want 700/900", stats.MinIBI, stats.MaxIBI)
	}
	if stats.MedianIBI != 800 {
		t.Errorf("got median %f, want 800", stats.MedianIBI)
	}
	if stats.MeanBPM != 75 {
		t.Errorf("got mean BPM %f, want 75", stats.MeanBPM)
	}
}

func TestSessionStatsEmpty(t *testing.T) {
	database := newTestDB(t)

	if _, err := database.SessionStats("no-such-session"); err == nil {
		t.Error("expected error for session with no beats")
	}
}
