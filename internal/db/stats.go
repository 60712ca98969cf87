package db

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// BeatStats summarises the inter-beat intervals recorded for a session.
type BeatStats struct {
	SessionID string  `json:"session_id"`
	Count     int     `json:"count"`
	MeanBPM   float64 `json:"mean_bpm"`
	MeanIBI   float64 `json:"mean_ibi_ms"`
	StdDevIBI float64 `json:"stddev_ibi_ms"`
	MedianIBI float64 `json:"median_ibi_ms"`
	P95IBI    float64 `json:"p95_ibi_ms"`
	MinIBI    float64 `json:"min_ibi_ms"`
	MaxIBI    float64 `json:"max_ibi_ms"`
}

// SessionStats computes IBI statistics over all beats in a session.
func (db *DB) SessionStats(sessionID string) (BeatStats, error) {
	rows, err := db.Query("SELECT bpm, ibi_ms FROM beats WHERE session_id = ? ORDER BY at_ms", sessionID)
	if err != nil {
		return BeatStats{}, err
	}
	defer rows.Close()

	var ibis, bpms []float64
	for rows.Next() {
		var bpm int
		var ibi int64
		if err := rows.Scan(&bpm, &ibi); err != nil {
			return BeatStats{}, err
		}
		bpms = append(bpms, float64(bpm))
		ibis = append(ibis, float64(ibi))
	}
	if err := rows.Err(); err != nil {
		return BeatStats{}, err
	}
	if len(ibis) == 0 {
		return BeatStats{}, fmt.Errorf("no beats recorded for session %s", sessionID)
	}

	sort.Float64s(ibis)
	return BeatStats{
		SessionID: sessionID,
		Count:     len(ibis),
		MeanBPM:   stat.Mean(bpms, nil),
		MeanIBI:   stat.Mean(ibis, nil),
		StdDevIBI: stat.StdDev(ibis, nil),
		MedianIBI: stat.Quantile(0.5, stat.Empirical, ibis, nil),
		P95IBI:    stat.Quantile(0.95, stat.Empirical, ibis, nil),
		MinIBI:    ibis[0],
		MaxIBI:    ibis[len(ibis)-1],
	}, nil
}
