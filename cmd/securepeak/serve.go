package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/securepeak/internal/api"
	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/events"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the record API over HTTP",
	Long: `Starts the HTTP API on listen_addr. The API exposes status, records and graph data
and runs the refresh, create, decrypt and update flows. Record events are streamed over
WebSocket on /api/stream and metrics are served on /metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "Refresh automatically when record events arrive")
	serveCmd.Flags().Uint64Var(&watchFromBlock, "from-block", 0, "First block to scan for events (default: start_block from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	refreshCtx, cancel := a.flowContext(ctx)
	a.session.Refresh(refreshCtx)
	cancel()

	hub := api.NewHub(a.log)

	var watcher *events.Watcher
	if serveWatch && a.session.IsDeployed() {
		var closeNATS func()
		watcher, closeNATS, err = newWatcher(a)
		if err != nil {
			return err
		}
		defer closeNATS()
		watcher.OnEvent(func(_ context.Context, ev *contract.RecordEvent) {
			hub.Publish("record_event", ev)
		})
	}

	srv := api.NewServer(a.cfg.GetListenAddr(), a.session, api.Options{
		RequestTimeout: a.cfg.GetRequestTimeout(),
		Hub:            hub,
		Logger:         a.log,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if watcher != nil {
		g.Go(func() error { return watcher.Run(ctx) })
	}

	return g.Wait()
}
