package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/pulse.report/internal/db"
	"github.com/banshee-data/pulse.report/internal/sampler"
	"github.com/banshee-data/pulse.report/internal/testutil"
)

// fakeMux implements serialmux.SerialMuxInterface, recording the commands
// sent through it.
type fakeMux struct {
	lines    chan string
	commands []string
	sendErr  error
}

func newFakeMux() *fakeMux {
	return &fakeMux{lines: make(chan string, 16)}
}

func (f *fakeMux) Subscribe() (string, chan string) { return "fake", f.lines }
func (f *fakeMux) Unsubscribe(string)               {}
func (f *fakeMux) SendCommand(command string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.commands = append(f.commands, command)
	return nil
}
func (f *fakeMux) Monitor(ctx context.Context) error    { <-ctx.Done(); return ctx.Err() }
func (f *fakeMux) Close() error                         { return nil }
func (f *fakeMux) Initialize() error                    { return nil }
func (f *fakeMux) AttachAdminRoutes(mux *http.ServeMux) {}

type testServer struct {
	*Server
	mux      *fakeMux
	database *db.DB
	sampler  *sampler.Sampler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	mux := newFakeMux()
	smp := sampler.New(sampler.Config{
		Mux:          mux,
		DB:           database,
		Threshold:    0.65,
		ADCBits:      12,
		ADCReference: 1.2,
	})
	return &testServer{
		Server:   NewServer(mux, database, smp, "bpm"),
		mux:      mux,
		database: database,
		sampler:  smp,
	}
}

// feedSquareWave drives the sampler with a 75 BPM square wave.
func (ts *testServer) feedSquareWave(totalMS uint64) {
	for t := uint64(0); t <= totalMS; t += 20 {
		counts := 1706 // ~0.5V
		if t%800 < 200 {
			counts = 3071 // ~0.9V
		}
		ts.sampler.HandleLine(fmt.Sprintf("%d,%d", t, counts))
	}
}

func TestShowMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.feedSquareWave(10000)

	rec := httptest.NewRecorder()
	ts.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["bpm"].(float64) != 75 {
		t.Errorf("got bpm %v, want 75", resp["bpm"])
	}
	if resp["rate"].(float64) != 75 {
		t.Errorf("got rate %v, want 75 (bpm units)", resp["rate"])
	}
	if resp["rate_units"] != "bpm" {
		t.Errorf("got rate_units %v, want bpm", resp["rate_units"])
	}
}

func TestMetricsRejectsPost(t *testing.T) {
	ts := newTestServer(t)

	rec := testutil.NewTestRecorder()
	ts.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodPost, "/metrics"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestListBeats(t *testing.T) {
	ts := newTestServer(t)
	session, err := ts.database.NewSession("test", 0.65)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for i := 0; i < 5; i++ {
		beat := db.Beat{SessionID: session.ID, AtMS: uint64(800 * (i + 1)), BPM: 75, IBIMS: 800, Amplitude: 0.4}
		if err := ts.database.RecordBeat(beat); err != nil {
			t.Fatalf("RecordBeat: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	ts.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/beats?session="+session.ID+"&limit=3", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var beats []db.Beat
	if err := json.Unmarshal(rec.Body.Bytes(), &beats); err != nil {
		t.Fatalf("decoding beats: %v", err)
	}
	if len(beats) != 3 {
		t.Errorf("got %d beats, want 3", len(beats))
	}
}

func TestListBeatsInvalidLimit(t *testing.T) {
	ts := newTestServer(t)

	rec := testutil.NewTestRecorder()
	ts.ServeMux().ServeHTTP(rec, testutil.NewTestRequest(http.MethodGet, "/beats?limit=zero"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestListBeatsEmptyIsJSONArray(t *testing.T) {
	ts := newTestServer(t)

	rec := httptest.NewRecorder()
	ts.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/beats?session=missing", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("got body %q, want []", got)
	}
}

func TestListSessions(t *testing.T) {
	ts := newTestServer(t)
	if _, err := ts.database.NewSession("one", 0.65); err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	rec := httptest.NewRecorder()
	ts.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var sessions []db.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decoding sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Name != "one" {
		t.Errorf("unexpected sessions: %+v", sessions)
	}
}

func TestSessionStats(t *testing.T) {
	ts := newTestServer(t)
	session, err := ts.database.NewSession("stats", 0.65)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	for i := 0; i < 4; i++ {
		beat := db.Beat{SessionID: session.ID, AtMS: uint64(800 * (i + 1)), BPM: 75, IBIMS: 800, Amplitude: 0.4}
		if err := ts.database.RecordBeat(beat); err != nil {
			t.Fatalf("RecordBeat: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	ts.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?session="+session.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var stats db.BeatStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decoding stats: %v", err)
	}
	if stats.Count != 4 || stats.MeanIBI != 800 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSessionStatsNoBeats(t *testing.T) {
	ts := newTestServer(t)

	rec := httptest.NewRecorder()
	ts.ServeMux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?session=missing", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("got status %d, want 500", rec.Code)
	}
}

func postForm(mux *http.ServeMux, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSendCommand(t *testing.T) {
	ts := newTestServer(t)
	mux := ts.ServeMux()

	rec := postForm(mux, "/command", url.Values{"command": {"OR"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if len(ts.mux.commands) != 1 || ts.mux.commands[0] != "OR" {
		t.Errorf("command not forwarded: %v", ts.mux.commands)
	}

	rec = postForm(mux, "/command", url.Values{"command": {"C=1756339200"}})
	if rec.Code != http.StatusOK {
		t.Errorf("clock sync rejected: status %d", rec.Code)
	}
}

func TestSendCommandRejectsUnknown(t *testing.T) {
	ts := newTestServer(t)
	mux := ts.ServeMux()

	for _, command := range []string{"RM -RF", "C=abc", "", "ax"} {
		rec := postForm(mux, "/command", url.Values{"command": {command}})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("command %q: got status %d, want 400", command, rec.Code)
		}
	}
	if len(ts.mux.commands) != 0 {
		t.Errorf("rejected commands were forwarded: %v", ts.mux.commands)
	}
}

func TestConfigGetAndUpdate(t *testing.T) {
	ts := newTestServer(t)
	mux := ts.ServeMux()

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	var config map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &config); err != nil {
		t.Fatalf("decoding config: %v", err)
	}
	if config["units"] != "bpm" {
		t.Errorf("got units %v, want bpm", config["units"])
	}
	if config["threshold"].(float64) != 0.65 {
		t.Errorf("got threshold %v, want 0.65", config["threshold"])
	}

	rec = postForm(mux, "/config", url.Values{"threshold": {"0.8"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("threshold update: got status %d, want 200", rec.Code)
	}

	// A follow-up GET must report the updated value, not the startup one.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &config); err != nil {
		t.Fatalf("decoding config: %v", err)
	}
	if config["threshold"].(float64) != 0.8 {
		t.Errorf("got threshold %v after update, want 0.8", config["threshold"])
	}

	rec = postForm(mux, "/config", url.Values{"threshold": {"-1"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative threshold: got status %d, want 400", rec.Code)
	}
}

func TestStreamLive(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/live", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		ts.ServeMux().ServeHTTP(rec, req)
	}()

	// Give the handler time to subscribe, then produce beats.
	time.Sleep(50 * time.Millisecond)
	ts.feedSquareWave(5000)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "event: snapshot") {
		t.Error("stream missing initial snapshot event")
	}
	if !strings.Contains(body, "event: beat") {
		t.Error("stream missing beat events")
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("got content type %q, want text/event-stream", rec.Header().Get("Content-Type"))
	}
}
