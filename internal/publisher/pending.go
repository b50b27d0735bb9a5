package publisher

import (
	"fmt"

	"github.com/jgoulah/securepeak/pkg/models"
)

// Store is the plaintext cache the publisher drains. *database.DB satisfies it.
type Store interface {
	ListDecrypted(chainID uint64, contract string) ([]models.DecryptedReading, error)
	ListUnpublished(chainID uint64, contract string) ([]models.DecryptedReading, error)
	MarkPublished(chainID uint64, contract string, recordID uint64) error
}

// PendingOptions selects which cached readings PublishPending sends
type PendingOptions struct {
	ChainID  uint64
	Contract string
	// All republishes readings already marked as published
	All   bool
	Limit int
	// Progress, when set, is called after each attempt
	Progress func(i, total int, r models.DecryptedReading, err error)
}

// Report summarizes a PublishPending run
type Report struct {
	Total     int
	Published int
	Failed    int
}

// PublishPending publishes cached readings and marks each success as published.
// A failed reading is reported and skipped; it stays pending for the next run.
func (p *Publisher) PublishPending(store Store, opts PendingOptions) (Report, error) {
	var (
		readings []models.DecryptedReading
		err      error
	)
	if opts.All {
		readings, err = store.ListDecrypted(opts.ChainID, opts.Contract)
	} else {
		readings, err = store.ListUnpublished(opts.ChainID, opts.Contract)
	}
	if err != nil {
		return Report{}, fmt.Errorf("listing readings: %w", err)
	}

	if opts.Limit > 0 && len(readings) > opts.Limit {
		readings = readings[:opts.Limit]
	}

	report := Report{Total: len(readings)}
	for i, r := range readings {
		err := p.Publish(r)
		if err == nil {
			if markErr := store.MarkPublished(r.ChainID, r.Contract, r.RecordID); markErr != nil {
				err = fmt.Errorf("published but not marked: %w", markErr)
			}
		}
		if err != nil {
			report.Failed++
		} else {
			report.Published++
		}
		if opts.Progress != nil {
			opts.Progress(i+1, len(readings), r, err)
		}
	}
	return report, nil
}
