// Package events polls SecurePeakData logs and fans decoded events out to
// handlers such as the NATS forwarder.
package events

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/metrics"
	"github.com/jgoulah/securepeak/internal/peakdata"
)

const defaultMaxBlockRange = 5000

// ChainSource is the provider the watcher polls. *ethclient.Client satisfies it.
type ChainSource interface {
	contract.LogFilterer
	ChainID(ctx context.Context) (*big.Int, error)
}

// Session is the part of *peakdata.Session the watcher drives
type Session interface {
	ChainID() uint64
	SwitchChain(chainID uint64)
	Descriptor() contract.Descriptor
	Refresh(ctx context.Context) peakdata.Outcome
}

// Handler receives every decoded event
type Handler func(ctx context.Context, ev *contract.RecordEvent)

// WatcherOptions configures a Watcher
type WatcherOptions struct {
	Interval      time.Duration
	StartBlock    uint64
	MaxBlockRange uint64
	// FollowChain switches the session when the provider reports a new chain id
	FollowChain bool
	Logger      zerolog.Logger
}

// Watcher polls eth_getLogs for record events and refreshes the session
// after every batch that contained at least one event
type Watcher struct {
	src     ChainSource
	session Session
	opts    WatcherOptions
	log     zerolog.Logger

	mu       sync.Mutex
	handlers []Handler
	next     uint64
}

// NewWatcher creates a watcher starting at opts.StartBlock
func NewWatcher(src ChainSource, session Session, opts WatcherOptions) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxBlockRange == 0 {
		opts.MaxBlockRange = defaultMaxBlockRange
	}
	return &Watcher{
		src:     src,
		session: session,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "watcher").Logger(),
		next:    opts.StartBlock,
	}
}

// OnEvent registers a handler
func (w *Watcher) OnEvent(h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// NextBlock returns the first block the next poll will read
func (w *Watcher) NextBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Run polls until ctx is cancelled. Poll errors are logged and retried.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.opts.Interval).Uint64("start_block", w.NextBlock()).Msg("watching contract events")

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			w.log.Info().Msg("watcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Poll reads logs from the next unread block to the current head and
// returns the number of events dispatched
func (w *Watcher) Poll(ctx context.Context) (int, error) {
	if w.opts.FollowChain {
		if err := w.followChain(ctx); err != nil {
			return 0, err
		}
	}

	d := w.session.Descriptor()
	if !d.IsDeployed() {
		return 0, nil
	}

	head, err := w.src.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting block number: %w", err)
	}

	w.mu.Lock()
	from := w.next
	handlers := append([]Handler(nil), w.handlers...)
	w.mu.Unlock()

	dispatched := 0
	for from <= head {
		to := from + w.opts.MaxBlockRange - 1
		if to > head {
			to = head
		}

		logs, err := w.src.FilterLogs(ctx, contract.FilterQuery(*d.Address, from, to))
		if err != nil {
			return dispatched, fmt.Errorf("filtering logs %d-%d: %w", from, to, err)
		}

		for _, l := range logs {
			ev, err := contract.ParseRecordEvent(l)
			if err != nil {
				w.log.Warn().Err(err).Str("tx", l.TxHash.Hex()).Msg("skipping malformed log")
				continue
			}
			if ev == nil {
				continue
			}
			metrics.EventsReceived.WithLabelValues(ev.Kind).Inc()
			w.log.Debug().Str("event", ev.Kind).Uint64("record_id", ev.RecordID).Uint64("block", ev.BlockNumber).Msg("event")
			for _, h := range handlers {
				h(ctx, ev)
			}
			dispatched++
		}

		from = to + 1
		w.mu.Lock()
		w.next = from
		w.mu.Unlock()
	}

	if dispatched > 0 {
		w.session.Refresh(ctx)
	}
	return dispatched, nil
}

func (w *Watcher) followChain(ctx context.Context) error {
	id, err := w.src.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("getting chain id: %w", err)
	}
	if id.Uint64() == w.session.ChainID() {
		return nil
	}

	w.log.Info().Uint64("from", w.session.ChainID()).Uint64("to", id.Uint64()).Msg("provider switched chain")
	w.session.SwitchChain(id.Uint64())

	w.mu.Lock()
	w.next = w.opts.StartBlock
	w.mu.Unlock()

	w.session.Refresh(ctx)
	return nil
}
