package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/events"
)

var (
	watchFromBlock uint64
	watchFollow    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow record events and keep the local view fresh",
	Long: `Polls the contract for RecordCreated and RecordUpdated events, refreshes the record list
after every batch and optionally forwards events to NATS. Prometheus metrics are served
on metrics_addr when configured.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Uint64Var(&watchFromBlock, "from-block", 0, "First block to scan (default: start_block from config)")
	watchCmd.Flags().BoolVar(&watchFollow, "follow-chain", false, "Switch deployments when the RPC endpoint changes chain")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.session.IsDeployed() {
		return errors.New(a.session.Message())
	}

	watcher, closeNATS, err := newWatcher(a)
	if err != nil {
		return err
	}
	defer closeNATS()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return watcher.Run(ctx) })
	if a.cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, a) })
	}
	return g.Wait()
}

// newWatcher builds the event watcher for a and attaches the NATS forwarder when enabled
func newWatcher(a *app) (*events.Watcher, func(), error) {
	start := a.cfg.StartBlock
	if watchFromBlock > 0 {
		start = watchFromBlock
	}

	watcher := events.NewWatcher(a.client, a.session, events.WatcherOptions{
		Interval:    a.cfg.GetPollInterval(),
		StartBlock:  start,
		FollowChain: watchFollow,
		Logger:      a.log,
	})
	watcher.OnEvent(func(_ context.Context, ev *contract.RecordEvent) {
		a.log.Info().Str("event", ev.Kind).Uint64("record_id", ev.RecordID).Uint64("block", ev.BlockNumber).Msg("record event")
	})

	if !a.cfg.NATS.Enabled {
		return watcher, func() {}, nil
	}
	if a.cfg.NATS.URL == "" {
		return nil, nil, fmt.Errorf("nats.url is required when NATS is enabled")
	}
	conn, err := events.ConnectNATS(a.cfg.NATS.URL, 10*time.Second, a.log)
	if err != nil {
		return nil, nil, err
	}
	fwd := events.NewForwarder(conn, a.cfg.GetNATSSubjectPrefix(), a.log)
	watcher.OnEvent(fwd.Handler(a.session))
	a.log.Info().Str("url", a.cfg.NATS.URL).Str("subject", fwd.Subject(contract.EventRecordCreated)).Msg("forwarding events to NATS")

	return watcher, func() { drainNATS(conn) }, nil
}

func drainNATS(conn *nats.Conn) {
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
}

// serveMetrics exposes the Prometheus registry on the configured metrics address
func serveMetrics(ctx context.Context, a *app) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	a.log.Info().Str("addr", a.cfg.MetricsAddr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
