package peakdata

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/metrics"
	"github.com/jgoulah/securepeak/pkg/models"
)

// writeStep builds and sends one transaction. It reports stale when the
// session context changed before submission.
type writeStep func(ctx context.Context, fc flowContext, tr *contract.Transactor) (tx *types.Transaction, stale bool, err error)

// UpdateConsumption replaces the encrypted consumption of recordID
func (s *Session) UpdateConsumption(ctx context.Context, recordID uint64, consumption uint32) (TxResult, error) {
	return s.write(ctx, "update_consumption", recordID, msgUpdating, msgUpdated, msgUpdateFailed, true,
		func(ctx context.Context, fc flowContext, tr *contract.Transactor) (*types.Transaction, bool, error) {
			enc, err := encrypt32(ctx, fc.instance, *fc.descriptor.Address, fc.signer.Address(), consumption)
			if err != nil {
				return nil, false, err
			}
			if s.isStale(fc) {
				return nil, true, nil
			}
			tx, err := tr.UpdateConsumption(ctx, recordID, enc.Handles[0], enc.InputProof)
			return tx, false, err
		})
}

// UpdatePeak replaces the encrypted peak flag of recordID
func (s *Session) UpdatePeak(ctx context.Context, recordID uint64, peak bool) (TxResult, error) {
	var value uint32
	if peak {
		value = 1
	}
	return s.write(ctx, "update_peak", recordID, msgUpdating, msgUpdated, msgUpdateFailed, true,
		func(ctx context.Context, fc flowContext, tr *contract.Transactor) (*types.Transaction, bool, error) {
			enc, err := encrypt32(ctx, fc.instance, *fc.descriptor.Address, fc.signer.Address(), value)
			if err != nil {
				return nil, false, err
			}
			if s.isStale(fc) {
				return nil, true, nil
			}
			tx, err := tr.UpdateIsPeak(ctx, recordID, enc.Handles[0], enc.InputProof)
			return tx, false, err
		})
}

// GrantAccess allows auditor to decrypt recordID
func (s *Session) GrantAccess(ctx context.Context, recordID uint64, auditor common.Address) (TxResult, error) {
	return s.write(ctx, "grant", recordID, msgGranting, msgGranted, msgGrantFailed, false,
		func(ctx context.Context, _ flowContext, tr *contract.Transactor) (*types.Transaction, bool, error) {
			tx, err := tr.GrantAccess(ctx, recordID, auditor)
			return tx, false, err
		})
}

// write runs the shared update/grant pipeline guarded by the updating flag.
// When changesCiphertext is set the record's decrypted view is dropped and the
// session refreshed after the receipt.
func (s *Session) write(
	ctx context.Context,
	flow string,
	recordID uint64,
	startMsg, doneMsg, failMsg string,
	changesCiphertext bool,
	step writeStep,
) (TxResult, error) {
	if !s.updating.CompareAndSwap(false, true) {
		metrics.FlowTotal.WithLabelValues(flow, OutcomeBusy.String()).Inc()
		return TxResult{Outcome: OutcomeBusy, RecordID: recordID}, nil
	}
	defer s.updating.Store(false)

	start := time.Now()
	metrics.FlowInFlight.WithLabelValues(flow).Set(1)
	defer metrics.FlowInFlight.WithLabelValues(flow).Set(0)

	res, err := s.runWrite(ctx, flow, recordID, startMsg, doneMsg, failMsg, changesCiphertext, step)
	res.RecordID = recordID
	res.HasRecordID = true
	if err != nil {
		res.Outcome = OutcomeFailed
	}
	metrics.FlowTotal.WithLabelValues(flow, res.Outcome.String()).Inc()
	metrics.FlowDuration.WithLabelValues(flow).Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Session) runWrite(
	ctx context.Context,
	flow string,
	recordID uint64,
	startMsg, doneMsg, failMsg string,
	changesCiphertext bool,
	step writeStep,
) (TxResult, error) {
	fc := s.capture()
	if err := fc.checkWritable(); err != nil {
		s.setMessage(preconditionMessage(err))
		return TxResult{}, err
	}

	log := s.log.With().
		Str("op", flow).
		Str("op_id", uuid.NewString()).
		Uint64("record_id", recordID).
		Logger()
	fail := func(err error) (TxResult, error) {
		log.Error().Err(err).Msg("write failed")
		s.setMessage(fmt.Sprintf(failMsg, err))
		return TxResult{}, fmt.Errorf("%s record %d: %w", flow, recordID, err)
	}

	s.setMessage(startMsg)
	tr, err := s.transactor(fc)
	if err != nil {
		return fail(err)
	}
	tx, stale, err := step(ctx, fc, tr)
	if err != nil {
		return fail(err)
	}
	if stale {
		return s.stale(log)
	}

	receipt, err := s.waitMined(ctx, log, tr, tx)
	if err != nil {
		return fail(err)
	}
	s.setMessage(fmt.Sprintf(doneMsg, receipt.Status))
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(fmt.Errorf("transaction %s reverted", tx.Hash().Hex()))
	}
	log.Info().Str("tx", tx.Hash().Hex()).Msg("transaction mined")

	res := TxResult{Outcome: OutcomeCompleted, TxHash: tx.Hash(), Status: receipt.Status}
	if s.isStale(fc) {
		return res, nil
	}
	if changesCiphertext {
		s.forget(log, fc, recordID)
		s.Refresh(ctx)
	}
	return res, nil
}

// forget drops the decrypted view of a record whose ciphertext was replaced
func (s *Session) forget(log zerolog.Logger, fc flowContext, recordID uint64) {
	s.mu.Lock()
	for i := range s.records {
		if s.records[i].ID != recordID {
			continue
		}
		s.records[i].Consumption = models.EncryptedPlaceholder
		s.records[i].Peak = false
		s.records[i].Reason = models.ReasonEncrypted
		s.records[i].IsDecrypted = false
	}
	for i := range s.graph {
		if s.graph[i].RecordID == recordID {
			s.graph[i].Consumption = 0
		}
	}
	s.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.DeleteDecrypted(fc.chainID, fc.descriptor.Address.Hex(), recordID); err != nil {
			log.Warn().Err(err).Msg("dropping cached plaintext")
		}
	}
}

// UserRecordIDs lists the ids of records submitted by user
func (s *Session) UserRecordIDs(ctx context.Context, user common.Address) ([]uint64, error) {
	fc := s.capture()
	if !fc.descriptor.IsDeployed() {
		return nil, ErrNotDeployed
	}
	reader, err := contract.NewReader(fc.descriptor, fc.backend)
	if err != nil {
		return nil, err
	}
	ids, err := reader.UserRecordIDs(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("listing records of %s: %w", user.Hex(), err)
	}
	return ids, nil
}
