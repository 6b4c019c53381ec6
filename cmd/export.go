package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/agentic-research/metromap/api"
	"github.com/agentic-research/metromap/internal/ctxlog"
	"github.com/agentic-research/metromap/internal/engine"
	"github.com/agentic-research/metromap/internal/render"
	"github.com/agentic-research/metromap/internal/store"
)

var (
	exportWidth       int
	exportHeight      int
	exportTransparent bool
	exportOut         string
	exportSnapshotDB  string
	exportSnapshotID  int64
)

func init() {
	exportCmd.Flags().IntVar(&exportWidth, "width", 1600, "image width in pixels")
	exportCmd.Flags().IntVar(&exportHeight, "height", 1200, "image height in pixels")
	exportCmd.Flags().BoolVar(&exportTransparent, "transparent", false, "transparent background")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "metromap.png", "output file")
	exportCmd.Flags().StringVar(&exportSnapshotDB, "snapshot-db", "", "render a saved snapshot instead of scanning")
	exportCmd.Flags().Int64Var(&exportSnapshotID, "snapshot-id", 0, "snapshot id within --snapshot-db")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [root]",
	Short: "Render a directory tree (or a saved snapshot) to a PNG map",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger()
		ctx, stop := signal.NotifyContext(ctxlog.WithLogger(cmd.Context(), log), os.Interrupt)
		defer stop()

		eng := engine.New(engine.DefaultConfig(), log)
		defer func() { _ = eng.Scans.Close() }()

		switch {
		case exportSnapshotDB != "":
			if err := loadSnapshot(eng, exportSnapshotDB, exportSnapshotID); err != nil {
				return err
			}
		case len(args) == 1:
			id := eng.Scans.StartScan(args[0], api.ScanOptions{IncludeMetadata: true})
			if _, err := eng.ScanAndWait(ctx, id); err != nil {
				return err
			}
		default:
			return fmt.Errorf("a root path or --snapshot-db is required")
		}

		// Export wants the whole map, so reconcile with culling off.
		eng.Redraw(true, render.Options{DisableCulling: true})

		data, info, err := eng.ExportImage(exportWidth, exportHeight, exportTransparent)
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportOut, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", exportOut, err)
		}
		fmt.Printf("wrote %s: %dx%d, %d bytes, transparent=%v\n",
			exportOut, info.Width, info.Height, info.ByteSize, info.Transparent)
		return nil
	},
}

// loadSnapshot replays a saved snapshot into the engine as one batch.
func loadSnapshot(eng *engine.Engine, dbPath string, id int64) error {
	db, err := store.OpenSnapshotStore(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	root, stations, err := db.Load(id)
	if err != nil {
		return err
	}
	nodes := make([]api.ScanNode, 0, len(stations))
	for _, st := range stations {
		if st.Aggregated {
			continue
		}
		nodes = append(nodes, api.ScanNode{Path: st.Path, Depth: st.Depth, Kind: st.Kind})
	}
	eng.Reset(root)
	eng.Ingest(nodes)
	return nil
}
