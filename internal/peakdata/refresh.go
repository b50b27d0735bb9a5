package peakdata

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/metrics"
	"github.com/jgoulah/securepeak/pkg/models"
)

// Refresh reloads every existing record as an encrypted placeholder. Read
// failures are recorded as the session message; Refresh itself never fails.
// Values already decrypted in this session, or found in the plaintext cache,
// are carried over.
func (s *Session) Refresh(ctx context.Context) Outcome {
	if !s.refreshing.CompareAndSwap(false, true) {
		metrics.FlowTotal.WithLabelValues("refresh", OutcomeBusy.String()).Inc()
		return OutcomeBusy
	}
	defer s.refreshing.Store(false)

	start := time.Now()
	metrics.FlowInFlight.WithLabelValues("refresh").Set(1)
	defer metrics.FlowInFlight.WithLabelValues("refresh").Set(0)

	outcome := s.refresh(ctx)
	metrics.FlowTotal.WithLabelValues("refresh", outcome.String()).Inc()
	metrics.FlowDuration.WithLabelValues("refresh").Observe(time.Since(start).Seconds())
	return outcome
}

const refreshPrealloc = 1024

func (s *Session) refresh(ctx context.Context) Outcome {
	fc := s.capture()
	log := s.log.With().Str("op", "refresh").Str("op_id", uuid.NewString()).Logger()

	if !fc.descriptor.IsDeployed() || fc.descriptor.ChainID == 0 || fc.backend == nil {
		s.mu.Lock()
		if s.chainID == fc.chainID {
			s.records = []models.ConsumptionRecord{}
			s.graph = []models.ConsumptionDataPoint{}
		}
		s.mu.Unlock()
		return OutcomeCompleted
	}

	reader, err := contract.NewReader(fc.descriptor, fc.backend)
	if err != nil {
		return s.refreshFailed(log, err)
	}

	count, err := reader.RecordCount(ctx)
	if err != nil {
		return s.refreshFailed(log, err)
	}

	// count comes from the provider; never size an allocation by it
	capacity := min(count, refreshPrealloc)
	records := make([]models.ConsumptionRecord, 0, capacity)
	graph := make([]models.ConsumptionDataPoint, 0, capacity)
	for i := uint64(0); i < count; i++ {
		meta, err := reader.RecordMetadata(ctx, i)
		if err != nil {
			return s.refreshFailed(log, fmt.Errorf("record %d: %w", i, err))
		}
		if !meta.Exists {
			continue
		}

		records = append(records, models.ConsumptionRecord{
			ID:          i,
			Timestamp:   s.formatTimestamp(meta.Timestamp),
			RecordedAt:  meta.Timestamp,
			Submitter:   meta.Submitter.Hex(),
			Consumption: models.EncryptedPlaceholder,
			Peak:        false,
			Reason:      models.ReasonEncrypted,
			Encrypted:   true,
		})
		graph = append(graph, models.ConsumptionDataPoint{
			RecordID:  i,
			Time:      s.formatGraphTime(meta.Timestamp),
			Encrypted: true,
		})
	}

	cached := s.cachedPlaintexts(fc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chainID != fc.chainID {
		log.Debug().Uint64("captured_chain", fc.chainID).Uint64("active_chain", s.chainID).Msg("discarding stale refresh")
		return OutcomeStale
	}

	// Values decrypted while this refresh was running win over the cache
	for _, r := range s.records {
		if !r.IsDecrypted {
			continue
		}
		if v, ok := r.ConsumptionKWh(); ok {
			cached[r.ID] = plaintext{consumption: v, peak: r.Peak}
		}
	}
	for i := range records {
		if p, ok := cached[records[i].ID]; ok {
			applyPlaintext(&records[i], &graph[i], p)
		}
	}

	s.records = records
	s.graph = graph
	metrics.RecordsTotal.Set(float64(len(records)))
	metrics.RecordsDecrypted.Set(float64(countDecrypted(records)))
	log.Debug().Uint64("count", count).Int("records", len(records)).Msg("records refreshed")
	return OutcomeCompleted
}

func (s *Session) refreshFailed(log zerolog.Logger, err error) Outcome {
	log.Warn().Err(err).Msg("refresh failed")
	s.setMessage(fmt.Sprintf(msgFetchFailed, err))
	return OutcomeFailed
}

type plaintext struct {
	consumption uint32
	peak        bool
}

// cachedPlaintexts loads persisted plaintexts of the captured deployment
func (s *Session) cachedPlaintexts(fc flowContext) map[uint64]plaintext {
	out := make(map[uint64]plaintext)
	if s.cache == nil || !fc.descriptor.IsDeployed() {
		return out
	}
	rows, err := s.cache.ListDecrypted(fc.chainID, fc.descriptor.Address.Hex())
	if err != nil {
		s.log.Warn().Err(err).Msg("reading plaintext cache")
		return out
	}
	for _, r := range rows {
		out[r.RecordID] = plaintext{consumption: r.Consumption, peak: r.Peak}
	}
	return out
}

func applyPlaintext(r *models.ConsumptionRecord, pt *models.ConsumptionDataPoint, p plaintext) {
	r.Consumption = p.consumption
	r.Peak = p.peak
	r.Reason = models.ReasonDecrypted
	r.IsDecrypted = true
	if pt != nil {
		pt.Consumption = p.consumption
	}
}

func countDecrypted(records []models.ConsumptionRecord) int {
	n := 0
	for _, r := range records {
		if r.IsDecrypted {
			n++
		}
	}
	return n
}
