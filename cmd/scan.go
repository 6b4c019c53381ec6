package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/ctxlog"
	"github.com/agentic-research/metromap/internal/engine"
	"github.com/agentic-research/metromap/internal/profile"
	"github.com/agentic-research/metromap/internal/route"
	"github.com/agentic-research/metromap/internal/station"
	"github.com/agentic-research/metromap/internal/store"
)

var (
	scanBatchSize      int
	scanTimeSliceMs    int
	scanMaxDepth       int
	scanMaxEntries     int
	scanMetadata       bool
	scanFollowSymlinks bool
	scanProfilePath    string
	scanSnapshotDB     string
)

func init() {
	scanCmd.Flags().IntVar(&scanBatchSize, "batch-size", api.DefaultBatchSize, "nodes per partial batch")
	scanCmd.Flags().IntVar(&scanTimeSliceMs, "time-slice-ms", int(api.DefaultTimeSlice/time.Millisecond), "walk budget per slice in milliseconds")
	scanCmd.Flags().IntVar(&scanMaxDepth, "max-depth", 0, "depth limit, 0 = unbounded")
	scanCmd.Flags().IntVar(&scanMaxEntries, "max-entries", 0, "entry limit, 0 = unbounded")
	scanCmd.Flags().BoolVar(&scanMetadata, "metadata", true, "collect size, timestamps and symlink targets")
	scanCmd.Flags().BoolVar(&scanFollowSymlinks, "follow-symlinks", false, "walk into symlinked directories")
	scanCmd.Flags().StringVar(&scanProfilePath, "profile", "", "HCL scan profile (overrides root and flags)")
	scanCmd.Flags().StringVar(&scanSnapshotDB, "snapshot-db", "", "save the finished map to this SQLite file")
	rootCmd.AddCommand(scanCmd)
}

// scanConfig resolves flags and an optional profile into a root path,
// scan options, and pipeline tuning.
func scanConfig(args []string) (string, api.ScanOptions, engine.Config, error) {
	cfg := engine.DefaultConfig()
	opts := api.ScanOptions{
		BatchSize:       scanBatchSize,
		TimeSlice:       time.Duration(scanTimeSliceMs) * time.Millisecond,
		MaxDepth:        scanMaxDepth,
		MaxEntries:      scanMaxEntries,
		IncludeMetadata: scanMetadata,
		FollowSymlinks:  scanFollowSymlinks,
	}.Normalize()

	if scanProfilePath != "" {
		p, err := profile.Load(scanProfilePath)
		if err != nil {
			return "", opts, cfg, err
		}
		opts = p.Options()
		if p.Map != nil {
			if p.Map.AggregationThreshold != nil {
				cfg.Station = station.Config{AggregationThreshold: *p.Map.AggregationThreshold}
			}
			if p.Map.CornerRadius != nil {
				cfg.Route = route.Config{CornerRadius: *p.Map.CornerRadius}
			}
		}
		return p.Scan.Root, opts, cfg, nil
	}
	if len(args) != 1 {
		return "", opts, cfg, fmt.Errorf("a root path or --profile is required")
	}
	return args[0], opts, cfg, nil
}

var scanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Scan a directory tree and report map statistics",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, opts, cfg, err := scanConfig(args)
		if err != nil {
			return err
		}
		log := newLogger()
		ctx, stop := signal.NotifyContext(ctxlog.WithLogger(cmd.Context(), log), os.Interrupt)
		defer stop()

		eng := engine.New(cfg, log)
		defer func() { _ = eng.Scans.Close() }()

		start := time.Now()
		id := eng.Scans.StartScan(root, opts)
		state, err := eng.ScanAndWait(ctx, id)
		if err != nil {
			return err
		}

		errored := 0
		for _, st := range eng.Stations() {
			if st.ErrorKind != "" {
				errored++
			}
		}
		fmt.Printf("scanned %s in %v\n", root, time.Since(start).Round(time.Millisecond))
		fmt.Printf("  dirs: %d  files: %d  stations: %d  errors: %d\n",
			state.DirsProcessed, state.FilesProcessed, eng.Tree().Len(), errored)
		fmt.Printf("  truncated: %v  cancelled: %v\n", state.Truncated, state.Cancelled)
		m := eng.LayoutMetrics()
		fmt.Printf("  layouts: %d full, %d fast-path\n", m.FullLayouts, m.FastPathUses)

		if scanSnapshotDB != "" {
			if err := saveSnapshot(eng, root, scanSnapshotDB); err != nil {
				return err
			}
		}
		return nil
	},
}

func saveSnapshot(eng *engine.Engine, root, dbPath string) error {
	db, err := store.OpenSnapshotStore(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	id, err := db.Save(root, eng.Stations())
	if err != nil {
		return err
	}
	fmt.Printf("  snapshot %d saved to %s\n", id, dbPath)
	return nil
}
