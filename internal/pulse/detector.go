// Package pulse implements adaptive beat detection over a sampled
// photoplethysmogram voltage signal. The detector tracks the peak/trough
// envelope of the waveform, recenters its threshold after every beat, and
// keeps a running window of inter-beat intervals to derive BPM.
//
// The package has no dependencies beyond the standard library and performs
// no allocation per processed sample, so it is suitable for tight sampling
// loops and embedded-style deployments.
package pulse

// historySlots is the size of the inter-beat interval window used for the
// BPM running average.
const historySlots = 10

const (
	// seedIBI is the interval seeded at reset (750ms per beat = 80 bpm).
	seedIBI = 750
	// timeoutIBI is the interval seeded after a stale-signal timeout
	// (600ms per beat = 100 bpm).
	timeoutIBI = 600
	// midScale is the assumed middle of the 0-1.2V input range.
	midScale = 0.6
	// seedAmplitude is 1/10 of the input range.
	seedAmplitude = 0.12
	// noiseFloorMS rejects edges closer together than 250ms (240 bpm).
	noiseFloorMS = 250
	// staleSignalMS forces re-acquisition when no edge is seen for 2.5s.
	staleSignalMS = 2500
)

// Detector holds all beat-detection state for a single sensor channel. A
// Detector is owned by its caller and is not safe for concurrent use; if
// sampling and reading happen on different goroutines the caller must
// serialize access.
type Detector struct {
	signal      float64 // latest voltage sample
	bpm         uint8   // beats per minute, 0 until warm-up completes
	ibi         uint32  // inter-beat interval in ms
	pulse       bool    // true while inside a beat
	startOfBeat bool    // edge flag, consumed by SawStartOfBeat

	thresholdSetting float64 // seed value for the adaptive threshold
	amplitude        float64 // peak-trough span of the last completed beat
	lastBeatTime     uint64  // sample-clock time of the most recent edge

	// rate is a ring buffer of the last historySlots IBI values with an
	// incrementally maintained sum, so the running average costs O(1).
	rate    [historySlots]uint32
	rateIdx int
	rateSum uint64

	sampleCounter uint64 // cumulative elapsed ms since session start
	sinceLastBeat uint64 // sampleCounter - lastBeatTime

	peak      float64
	trough    float64
	threshold float64 // live adaptive decision boundary

	firstBeat  bool // warm-up: next edge is the first since (re)acquisition
	secondBeat bool // warm-up: next edge seeds the rate window

	// Trace, when non-nil, receives intermediate values for each processing
	// step. It is nil by default and never affects computed results.
	Trace func(format string, v ...interface{})
}

// NewDetector returns a Detector seeded with the given threshold and all
// state reset for acquisition.
func NewDetector(threshold float64) *Detector {
	d := &Detector{thresholdSetting: threshold}
	d.Reset()
	return d
}

// Reset returns the detector to its initial acquisition state: history
// cleared, BPM zeroed, envelope centered at mid-scale, and the live
// threshold reseeded from the configured setting. Call it to force
// re-acquisition, for example after the sensor is reattached.
func (d *Detector) Reset() {
	d.rate = [historySlots]uint32{}
	d.rateIdx = 0
	d.rateSum = 0
	d.startOfBeat = false
	d.bpm = 0
	d.ibi = seedIBI
	d.pulse = false
	d.sampleCounter = 0
	d.sinceLastBeat = 0
	d.lastBeatTime = 0
	d.peak = midScale
	d.trough = midScale
	d.threshold = d.thresholdSetting
	d.amplitude = seedAmplitude
	d.firstBeat = true
	d.secondBeat = false
}

// SetThreshold updates both the live threshold and the value used to reseed
// it on reset or timeout. The value is not range-checked: an out-of-range
// threshold degrades detection quality but never faults.
func (d *Detector) SetThreshold(threshold float64) {
	d.thresholdSetting = threshold
	d.threshold = threshold
}

// LatestSample returns the most recently processed voltage value.
func (d *Detector) LatestSample() float64 { return d.signal }

// BPM returns the current beats-per-minute estimate. It reads 0 until the
// two-beat warm-up has completed and after a stale-signal timeout.
func (d *Detector) BPM() uint8 { return d.bpm }

// InterBeatInterval returns the most recent inter-beat interval in ms.
func (d *Detector) InterBeatInterval() uint32 { return d.ibi }

// SawStartOfBeat reports whether a new beat began since the last call, and
// consumes the edge: a second read without an intervening beat returns
// false. The reference sensor driver left the flag latched until timeout,
// which made slow pollers see a stale edge forever; read-and-clear gives
// each detected beat exactly one true reading.
func (d *Detector) SawStartOfBeat() bool {
	saw := d.startOfBeat
	d.startOfBeat = false
	return saw
}

// InsideBeat reports whether the signal is currently above threshold within
// a detected beat.
func (d *Detector) InsideBeat() bool { return d.pulse }

// Amplitude returns the peak-trough span of the last completed beat.
func (d *Detector) Amplitude() float64 { return d.amplitude }

// LastBeatTime returns the sample-clock time in ms of the most recent beat
// edge.
func (d *Detector) LastBeatTime() uint64 { return d.lastBeatTime }

// SampleCounter returns the cumulative elapsed ms since the session began.
func (d *Detector) SampleCounter() uint64 { return d.sampleCounter }

// Process feeds one voltage sample into the detector. elapsedMS is the time
// in ms since the previous call; the caller's sampling loop sets the
// cadence. All inputs are accepted unconditionally: garbage in degrades
// detection quality but never faults.
func (d *Detector) Process(signal float64, elapsedMS uint32) {
	d.signal = signal
	d.sampleCounter += uint64(elapsedMS)
	d.sinceLastBeat = d.sampleCounter - d.lastBeatTime
	if d.Trace != nil {
		d.Trace("sample %.6f counter=%d sinceLast=%d", signal, d.sampleCounter, d.sinceLastBeat)
	}

	// Track the trough, but only past 3/5 of the previous interval so the
	// dichrotic notch does not drag it down.
	if signal < d.threshold && d.sinceLastBeat > uint64(d.ibi/5)*3 {
		if signal < d.trough {
			d.trough = signal
			if d.Trace != nil {
				d.Trace("trough %.6f", d.trough)
			}
		}
	}

	// Track the peak. The threshold condition keeps baseline noise out.
	if signal > d.threshold && signal > d.peak {
		d.peak = signal
		if d.Trace != nil {
			d.Trace("peak %.6f", d.peak)
		}
	}

	// Look for the beat edge: the signal surges above threshold once per
	// pulse. The 250ms floor rejects high frequency noise.
	if d.sinceLastBeat > noiseFloorMS {
		if signal > d.threshold && !d.pulse && d.sinceLastBeat > uint64(d.ibi/5)*3 {
			d.pulse = true
			d.ibi = uint32(d.sampleCounter - d.lastBeatTime)
			d.lastBeatTime = d.sampleCounter
			if d.Trace != nil {
				d.Trace("beat ibi=%d lastBeatTime=%d", d.ibi, d.lastBeatTime)
			}

			if d.secondBeat {
				// Seed the whole window with this interval so the first
				// reported BPM is plausible rather than averaged with zeros.
				d.secondBeat = false
				d.seedHistory(d.ibi)
			}

			if d.firstBeat {
				// The first interval has no valid prior reference; discard it.
				d.firstBeat = false
				d.secondBeat = true
				return
			}

			d.pushInterval(d.ibi)
			average := d.rateSum / historySlots
			d.bpm = uint8(60000 / average)
			d.startOfBeat = true
		}
	}

	// The beat is over once the signal drops back below threshold. Recenter
	// the threshold at 50% of this cycle's amplitude.
	if signal < d.threshold && d.pulse {
		d.pulse = false
		d.amplitude = d.peak - d.trough
		d.threshold = d.amplitude/2 + d.trough
		d.peak = d.threshold
		d.trough = d.threshold
		if d.Trace != nil {
			d.Trace("beat over amplitude=%.6f threshold=%.6f", d.amplitude, d.threshold)
		}
	}

	// No edge for 2.5 seconds: the signal is lost or the sensor is off.
	// Force a full re-acquisition. The rate window is deliberately left in
	// place; warm-up seeding overwrites it before it is read again.
	if d.sinceLastBeat > staleSignalMS {
		if d.Trace != nil {
			d.Trace("stale signal after %dms, re-acquiring", d.sinceLastBeat)
		}
		d.threshold = d.thresholdSetting
		d.peak = midScale
		d.trough = midScale
		d.lastBeatTime = d.sampleCounter
		d.firstBeat = true
		d.secondBeat = false
		d.startOfBeat = false
		d.bpm = 0
		d.ibi = timeoutIBI
		d.pulse = false
		d.amplitude = seedAmplitude
	}
}

// seedHistory fills every slot of the rate window with the given interval.
func (d *Detector) seedHistory(ibi uint32) {
	for i := range d.rate {
		d.rate[i] = ibi
	}
	d.rateIdx = 0
	d.rateSum = uint64(ibi) * historySlots
}

// pushInterval drops the oldest interval from the window, appends the new
// one, and keeps the running sum in step.
func (d *Detector) pushInterval(ibi uint32) {
	d.rateSum -= uint64(d.rate[d.rateIdx])
	d.rate[d.rateIdx] = ibi
	d.rateSum += uint64(ibi)
	d.rateIdx = (d.rateIdx + 1) % historySlots
}
