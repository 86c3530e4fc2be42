package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/Andresuito/barrett-bot/internal/catalog"
	"github.com/Andresuito/barrett-bot/internal/storage"
)

// Export renders one asset's snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if _, ok := catalog.Lookup(opts.AssetID); !ok {
		return fmt.Errorf("unknown asset %q", opts.AssetID)
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

	// Default window assumes one snapshot per fastest tick.
	from := to.Add(-time.Duration(opts.MaxPoints) * catalog.Cadence15m.Duration())
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snaps, err := store.ListSnapshotsBetween(ctx, opts.AssetID, from, to)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		a.Logger.Info().Str("asset", opts.AssetID).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleSnapshots(snaps, opts.MaxPoints)
	a.Logger.Info().Int("total", len(snaps)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeSnapshotsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeSnapshotsPNG(opts.PNGPath, opts.AssetID, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSnapshots(snaps []storage.QuoteSnapshot, max int) []storage.QuoteSnapshot {
	if max <= 0 || len(snaps) <= max {
		return snaps
	}

	result := make([]storage.QuoteSnapshot, 0, max)
	step := float64(len(snaps)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(snaps) {
			idx = len(snaps) - 1
		}
		result = append(result, snaps[idx])
	}
	return result
}

func writeSnapshotsCSV(path string, snaps []storage.QuoteSnapshot) error {
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

	header := []string{"tick_ts", "asset_id", "price_usd", "change_24h_pct", "market_cap", "volume_24h"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snaps {
		record := []string{
			snap.TickTS.Format(time.RFC3339),
			snap.AssetID,
			snap.PriceUSD.String(),
			snap.Change24h.String(),
			snap.MarketCap.String(),
			snap.Volume24h.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeSnapshotsPNG(path, assetID string, snaps []storage.QuoteSnapshot) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(snaps))
	price := make([]float64, len(snaps))
	change := make([]float64, len(snaps))

	for i, snap := range snaps {
		x[i] = snap.TickTS
		price[i] = snap.PriceUSD.InexactFloat64()
		change[i] = snap.Change24h.InexactFloat64()
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "24h change (%)",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    assetID + " price",
				XValues: x,
				YValues: price,
			},
			chart.TimeSeries{
				Name:    "24h change %",
				XValues: x,
				YValues: change,
				YAxis:   chart.YAxisSecondary,
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
