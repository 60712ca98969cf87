// Command replay pushes a recorded sensor log through the beat detector
// offline and reports what it found: IBI statistics on stdout, optionally
// a waveform PNG and an interactive rate chart.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/pulse.report/internal/pulse"
	"github.com/banshee-data/pulse.report/internal/security"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/units"
)

type beatRecord struct {
	atMS uint64
	bpm  uint8
	ibi  uint32
}

func main() {
	input := flag.String("i", "fixtures.txt", "recorded sensor log")
	threshold := flag.Float64("threshold", 0.65, "detection threshold in volts")
	bits := flag.Int("bits", 12, "ADC resolution in bits")
	vref := flag.Float64("vref", 1.2, "ADC reference voltage")
	plotOut := flag.String("plot", "", "write a waveform PNG to this path")
	chartOut := flag.String("chart", "", "write an HTML rate chart to this path")
	flag.Parse()

	for _, out := range []string{*plotOut, *chartOut} {
		if out == "" {
			continue
		}
		if err := security.ValidateExportPath(out); err != nil {
			log.Fatalf("invalid output path: %v", err)
		}
	}

	f, err := os.Open(*input)
	if err != nil {
		log.Fatalf("failed to open log: %v", err)
	}
	defer f.Close()

	detector := pulse.NewDetector(*threshold)

	var (
		beats      []beatRecord
		wavePoints plotter.XYs
		lastUptime uint64
		haveUptime bool
		samples    int
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if serialmux.ClassifyPayload(line) != serialmux.EventTypeSample {
			continue
		}
		uptimeMS, counts, err := serialmux.ParseSampleLine(line)
		if err != nil {
			continue
		}
		voltage := units.VoltsFromCounts(counts, *bits, *vref)

		if !haveUptime || uptimeMS < lastUptime {
			lastUptime = uptimeMS
			haveUptime = true
			continue
		}
		elapsed := uint32(uptimeMS - lastUptime)
		lastUptime = uptimeMS

		detector.Process(voltage, elapsed)
		samples++
		wavePoints = append(wavePoints, plotter.XY{X: float64(uptimeMS) / 1000, Y: voltage})

		if detector.SawStartOfBeat() {
			beats = append(beats, beatRecord{
				atMS: detector.LastBeatTime(),
				bpm:  detector.BPM(),
				ibi:  detector.InterBeatInterval(),
			})
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("failed to read log: %v", err)
	}

	if len(beats) == 0 {
		log.Fatalf("no beats detected in %d samples; threshold %.2fV may be wrong for this recording", samples, *threshold)
	}

	printStats(samples, beats)

	if *plotOut != "" {
		if err := writeWaveformPlot(*plotOut, wavePoints, *threshold); err != nil {
			log.Fatalf("failed to write waveform plot: %v", err)
		}
		log.Printf("✓ Created: %s", *plotOut)
	}
	if *chartOut != "" {
		if err := writeRateChart(*chartOut, beats); err != nil {
			log.Fatalf("failed to write rate chart: %v", err)
		}
		log.Printf("✓ Created: %s", *chartOut)
	}
}

func printStats(samples int, beats []beatRecord) {
	ibis := make([]float64, len(beats))
	for i, b := range beats {
		ibis[i] = float64(b.ibi)
	}
	sort.Float64s(ibis)

	fmt.Printf("samples:    %d\n", samples)
	fmt.Printf("beats:      %d\n", len(beats))
	fmt.Printf("mean IBI:   %.1fms (%.1f bpm)\n", stat.Mean(ibis, nil), units.BPMFromInterval(stat.Mean(ibis, nil)))
	fmt.Printf("stddev IBI: %.1fms\n", stat.StdDev(ibis, nil))
	fmt.Printf("median IBI: %.1fms\n", stat.Quantile(0.5, stat.Empirical, ibis, nil))
	fmt.Printf("p95 IBI:    %.1fms\n", stat.Quantile(0.95, stat.Empirical, ibis, nil))
	fmt.Printf("range:      %.0f-%.0fms\n", ibis[0], ibis[len(ibis)-1])
}

func writeWaveformPlot(path string, points plotter.XYs, threshold float64) error {
	p := plot.New()
	p.Title.Text = "PPG Waveform"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Voltage (V)"

	wave, err := plotter.NewLine(points)
	if err != nil {
		return err
	}
	wave.Width = vg.Points(1)
	p.Add(wave)
	p.Legend.Add("signal", wave)

	if len(points) > 0 {
		thresholdLine, err := plotter.NewLine(plotter.XYs{
			{X: points[0].X, Y: threshold},
			{X: points[len(points)-1].X, Y: threshold},
		})
		if err != nil {
			return err
		}
		thresholdLine.Width = vg.Points(1)
		thresholdLine.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(thresholdLine)
		p.Legend.Add("threshold", thresholdLine)
	}

	return p.Save(12*vg.Inch, 4*vg.Inch, path)
}

func writeRateChart(path string, beats []beatRecord) error {
	x := make([]string, len(beats))
	bpmSeries := make([]opts.LineData, len(beats))
	ibiSeries := make([]opts.LineData, len(beats))
	for i, b := range beats {
		x[i] = fmt.Sprintf("%.1fs", float64(b.atMS)/1000)
		bpmSeries[i] = opts.LineData{Value: b.bpm}
		ibiSeries[i] = opts.LineData{Value: b.ibi}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Heart Rate Replay", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Heart Rate", Subtitle: fmt.Sprintf("%d beats", len(beats))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "BPM"}),
	)
	line.SetXAxis(x).
		AddSeries("bpm", bpmSeries).
		AddSeries("ibi_ms", ibiSeries)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return line.Render(f)
}
