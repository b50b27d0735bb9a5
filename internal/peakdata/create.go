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
	"github.com/jgoulah/securepeak/internal/fhe"
	"github.com/jgoulah/securepeak/internal/metrics"
)

// TxResult describes a mined write
type TxResult struct {
	Outcome  Outcome
	TxHash   common.Hash
	Status   uint64
	RecordID uint64
	// HasRecordID is false when the receipt carried no RecordCreated event
	HasRecordID bool
}

// Create encrypts consumption and peak, submits createRecord and waits for the
// receipt. It returns OutcomeBusy without side effects while another Create is
// running, and OutcomeStale if the chain, contract or signer changed mid-flight.
func (s *Session) Create(ctx context.Context, consumption uint32, peak bool) (TxResult, error) {
	if !s.creating.CompareAndSwap(false, true) {
		metrics.FlowTotal.WithLabelValues("create", OutcomeBusy.String()).Inc()
		return TxResult{Outcome: OutcomeBusy}, nil
	}
	defer s.creating.Store(false)

	start := time.Now()
	metrics.FlowInFlight.WithLabelValues("create").Set(1)
	defer metrics.FlowInFlight.WithLabelValues("create").Set(0)

	res, err := s.create(ctx, consumption, peak)
	if err != nil {
		res.Outcome = OutcomeFailed
	}
	metrics.FlowTotal.WithLabelValues("create", res.Outcome.String()).Inc()
	metrics.FlowDuration.WithLabelValues("create").Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Session) create(ctx context.Context, consumption uint32, peak bool) (TxResult, error) {
	fc := s.capture()
	if err := fc.checkWritable(); err != nil {
		s.setMessage(preconditionMessage(err))
		return TxResult{}, err
	}

	log := s.log.With().Str("op", "create").Str("op_id", uuid.NewString()).Logger()
	fail := func(err error) (TxResult, error) {
		log.Error().Err(err).Msg("create failed")
		s.setMessage(fmt.Sprintf(msgCreateFailed, err))
		return TxResult{}, fmt.Errorf("creating record: %w", err)
	}

	s.setMessage(msgCreating)
	addr := *fc.descriptor.Address
	user := fc.signer.Address()

	encConsumption, err := encrypt32(ctx, fc.instance, addr, user, consumption)
	if err != nil {
		return fail(err)
	}
	if s.isStale(fc) {
		return s.stale(log)
	}

	var peakValue uint32
	if peak {
		peakValue = 1
	}
	encPeak, err := encrypt32(ctx, fc.instance, addr, user, peakValue)
	if err != nil {
		return fail(err)
	}
	if s.isStale(fc) {
		return s.stale(log)
	}

	s.setMessage(msgSending)
	tr, err := s.transactor(fc)
	if err != nil {
		return fail(err)
	}
	tx, err := tr.CreateRecord(ctx, encConsumption.Handles[0], encConsumption.InputProof, encPeak.Handles[0], encPeak.InputProof)
	if err != nil {
		return fail(err)
	}

	receipt, err := s.waitMined(ctx, log, tr, tx)
	if err != nil {
		return fail(err)
	}

	res := TxResult{Outcome: OutcomeCompleted, TxHash: tx.Hash(), Status: receipt.Status}
	res.RecordID, res.HasRecordID = contract.RecordIDFromReceipt(receipt)
	s.setMessage(fmt.Sprintf(msgCreated, receipt.Status))
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fail(fmt.Errorf("transaction %s reverted", tx.Hash().Hex()))
	}
	log.Info().Str("tx", tx.Hash().Hex()).Uint64("record_id", res.RecordID).Msg("record created")

	if !s.isStale(fc) {
		s.Refresh(ctx)
	}
	return res, nil
}

// encrypt32 encrypts a single 32-bit value bound to contract and user
func encrypt32(ctx context.Context, inst fhe.Instance, contractAddr, user common.Address, value uint32) (fhe.EncryptedInput, error) {
	enc, err := inst.CreateEncryptedInput(contractAddr, user).Add32(value).Encrypt(ctx)
	if err != nil {
		return fhe.EncryptedInput{}, fmt.Errorf("encrypting input: %w", err)
	}
	if len(enc.Handles) == 0 {
		return fhe.EncryptedInput{}, fmt.Errorf("encrypting input: no handle returned")
	}
	return enc, nil
}

func (s *Session) transactor(fc flowContext) (*contract.Transactor, error) {
	tr, err := contract.NewTransactor(fc.descriptor, fc.backend, fc.signer)
	if err != nil {
		return nil, err
	}
	tr.SetPollInterval(s.receiptPoll)
	return tr, nil
}

func (s *Session) waitMined(ctx context.Context, log zerolog.Logger, tr *contract.Transactor, tx *types.Transaction) (*types.Receipt, error) {
	s.setMessage(fmt.Sprintf(msgWaiting, tx.Hash().Hex()))
	log.Debug().Str("tx", tx.Hash().Hex()).Msg("waiting for receipt")
	return tr.WaitMined(ctx, tx)
}

func (s *Session) stale(log zerolog.Logger) (TxResult, error) {
	log.Info().Msg("context changed, discarding result")
	s.setMessage(msgStale)
	return TxResult{Outcome: OutcomeStale}, nil
}
