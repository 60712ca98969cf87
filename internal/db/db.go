package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the database without touching the schema. Used by the
// migrate subcommand, which manages the schema itself.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	return &DB{db}, nil
}

// NewDB opens the database and ensures the baseline schema exists.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			name              TEXT,
			threshold         DOUBLE,
			started_at        TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS samples (
			session_id        TEXT,
			uptime_ms         BIGINT,
			voltage           DOUBLE,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS beats (
			session_id        TEXT,
			at_ms             BIGINT,
			bpm               INTEGER,
			ibi_ms            BIGINT,
			amplitude         DOUBLE,
			timestamp         TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_beats_session ON beats(session_id, at_ms);
		CREATE INDEX IF NOT EXISTS idx_samples_session ON samples(session_id, uptime_ms);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Session is one continuous run of the sampling loop against a sensor.
type Session struct {
	ID        string    `json:"session_id"`
	Name      string    `json:"name"`
	Threshold float64   `json:"threshold"`
	StartedAt time.Time `json:"started_at"`
}

// NewSession records the start of a sampling session and returns its ID.
func (db *DB) NewSession(name string, threshold float64) (Session, error) {
	s := Session{
		ID:        uuid.NewString(),
		Name:      name,
		Threshold: threshold,
		StartedAt: time.Now().UTC(),
	}
	_, err := db.Exec(
		"INSERT INTO sessions (session_id, name, threshold, started_at) VALUES (?, ?, ?, ?)",
		s.ID, s.Name, s.Threshold, s.StartedAt,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to record session: %w", err)
	}
	return s, nil
}

// Sessions returns recorded sessions, most recent first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query("SELECT session_id, name, threshold, started_at FROM sessions ORDER BY started_at DESC LIMIT 100")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.Name, &s.Threshold, &s.StartedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecordSample stores one raw voltage reading.
func (db *DB) RecordSample(sessionID string, uptimeMS uint64, voltage float64) error {
	_, err := db.Exec(
		"INSERT INTO samples (session_id, uptime_ms, voltage) VALUES (?, ?, ?)",
		sessionID, int64(uptimeMS), voltage,
	)
	return err
}

// Beat is one detected heartbeat with the detector outputs at that instant.
type Beat struct {
	SessionID string  `json:"session_id"`
	AtMS      uint64  `json:"at_ms"`
	BPM       int     `json:"bpm"`
	IBIMS     uint32  `json:"ibi_ms"`
	Amplitude float64 `json:"amplitude"`
}

func (b *Beat) String() string {
	return fmt.Sprintf("AtMS: %d, BPM: %d, IBIMS: %d, Amplitude: %f", b.AtMS, b.BPM, b.IBIMS, b.Amplitude)
}

// RecordBeat stores one detected beat.
func (db *DB) RecordBeat(beat Beat) error {
	_, err := db.Exec(
		"INSERT INTO beats (session_id, at_ms, bpm, ibi_ms, amplitude) VALUES (?, ?, ?, ?, ?)",
		beat.SessionID, int64(beat.AtMS), beat.BPM, int64(beat.IBIMS), beat.Amplitude,
	)
	return err
}

// Beats returns the most recent beats for a session, newest first. A limit
// of 0 or less defaults to 100.
func (db *DB) Beats(sessionID string, limit int) ([]Beat, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(
		"SELECT session_id, at_ms, bpm, ibi_ms, amplitude FROM beats WHERE session_id = ? ORDER BY at_ms DESC LIMIT ?",
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var beats []Beat
	for rows.Next() {
		var b Beat
		var atMS, ibiMS int64
		if err := rows.Scan(&b.SessionID, &atMS, &b.BPM, &ibiMS, &b.Amplitude); err != nil {
			return nil, err
		}
		b.AtMS = uint64(atMS)
		b.IBIMS = uint32(ibiMS)
		beats = append(beats, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return beats, nil
}

// LatestBeat returns the most recent beat for a session, or sql.ErrNoRows
// when the session has none.
func (db *DB) LatestBeat(sessionID string) (Beat, error) {
	var b Beat
	var atMS, ibiMS int64
	err := db.QueryRow(
		"SELECT session_id, at_ms, bpm, ibi_ms, amplitude FROM beats WHERE session_id = ? ORDER BY at_ms DESC LIMIT 1",
		sessionID,
	).Scan(&b.SessionID, &atMS, &b.BPM, &ibiMS, &b.Amplitude)
	if err != nil {
		return Beat{}, err
	}
	b.AtMS = uint64(atMS)
	b.IBIMS = uint32(ibiMS)
	return b, nil
}

func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://pulse.db", db.DB, &tailsql.DBOptions{
		Label: "Pulse DB",
	})

	// mount the tailSQL server on the debug /tailsql path
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.DB.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}

		// close the backup file after sending it
		// and remove it from the filesystem
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()

		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write backup file: %v", err), http.StatusInternalServerError)
			return
		}
	}))
}
