package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"savingbee-alerts/internal/storage"
)

// Export renders per-day queue throughput as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.AddDate(0, 0, -90)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	counts, err := store.CountEventsByDay(ctx, from, to)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		a.Logger.Info().Msg("no events found for export window")
		return nil
	}

	downsampled := downsampleCounts(counts, opts.MaxPoints)
	a.Logger.Info().Int("total", len(counts)).Int("exported", len(downsampled)).Msg("exporting daily counts")

	if opts.CSVPath != "" {
		if err := writeCountsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeCountsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleCounts(counts []storage.DayCount, max int) []storage.DayCount {
	if max <= 0 || len(counts) <= max {
		return counts
	}

	result := make([]storage.DayCount, 0, max)
	step := float64(len(counts)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(counts) {
			idx = len(counts) - 1
		}
		result = append(result, counts[idx])
	}
	return result
}

func writeCountsCSV(path string, counts []storage.DayCount) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"day", "enqueued", "sent", "failed"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, count := range counts {
		record := []string{
			count.Day.Format("2006-01-02"),
			strconv.FormatInt(count.Enqueued, 10),
			strconv.FormatInt(count.Sent, 10),
			strconv.FormatInt(count.Failed, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeCountsPNG(path string, counts []storage.DayCount) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(counts))
	enqueued := make([]float64, len(counts))
	sent := make([]float64, len(counts))
	failed := make([]float64, len(counts))

	for i, count := range counts {
		x[i] = count.Day
		enqueued[i] = float64(count.Enqueued)
		sent[i] = float64(count.Sent)
		failed[i] = float64(count.Failed)
	}

	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Events / day",
			ValueFormatter: countFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Enqueued",
				XValues: x,
				YValues: enqueued,
			},
			chart.TimeSeries{
				Name:    "Sent",
				XValues: x,
				YValues: sent,
			},
			chart.TimeSeries{
				Name:    "Failed",
				XValues: x,
				YValues: failed,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
