// Command ppg-gen generates synthetic sensor board logs for testing replay.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/security"
)

func main() {
	output := flag.String("o", "fixtures.txt", "output path")
	duration := flag.Duration("duration", time.Minute, "length of the recording")
	bpm := flag.Int("bpm", 75, "simulated heart rate")
	period := flag.Duration("period", 20*time.Millisecond, "sample period")
	noise := flag.Float64("noise", 0.02, "uniform noise amplitude in volts")
	bits := flag.Int("bits", 12, "ADC resolution in bits")
	vref := flag.Float64("vref", 1.2, "ADC reference voltage")
	seed := flag.Int64("seed", time.Now().UnixNano(), "noise seed")
	flag.Parse()

	if *bpm < 1 || *bpm > 255 {
		log.Fatalf("bpm %d out of range", *bpm)
	}
	if err := security.ValidateExportPath(*output); err != nil {
		log.Fatalf("invalid output path: %v", err)
	}

	sim := pulse.NewSimulator(*seed)
	sim.PeriodMS = uint32(60000 / *bpm)
	sim.Noise = *noise

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("failed to create output: %v", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	defer w.Flush()

	periodMS := uint32(*period / time.Millisecond)
	totalMS := uint64(*duration / time.Millisecond)
	maxCounts := (1 << *bits) - 1

	var lines int
	for uptimeMS := uint64(periodMS); uptimeMS <= totalMS; uptimeMS += uint64(periodMS) {
		v := sim.Next(periodMS)
		counts := int(v / *vref * float64(maxCounts))
		if counts < 0 {
			counts = 0
		}
		if counts > maxCounts {
			counts = maxCounts
		}
		fmt.Fprintf(w, "%d,%d\n", uptimeMS, counts)
		lines++
	}

	log.Printf("✓ Created: %s (%d samples, %d bpm)", *output, lines, *bpm)
}
