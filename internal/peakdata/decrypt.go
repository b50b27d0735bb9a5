package peakdata

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/fhe"
	"github.com/jgoulah/securepeak/internal/metrics"
	"github.com/jgoulah/securepeak/pkg/models"
)

// DecryptResult holds the plaintexts of one record
type DecryptResult struct {
	Outcome     Outcome
	RecordID    uint64
	Consumption uint32
	Peak        bool
}

// Decrypt obtains (or reuses) a decryption signature, reads the record's
// ciphertext handles and asks the FHE service for their plaintexts. The
// matching record and graph point are updated in place.
func (s *Session) Decrypt(ctx context.Context, recordID uint64) (DecryptResult, error) {
	if !s.decrypting.CompareAndSwap(false, true) {
		metrics.FlowTotal.WithLabelValues("decrypt", OutcomeBusy.String()).Inc()
		return DecryptResult{Outcome: OutcomeBusy, RecordID: recordID}, nil
	}
	defer s.decrypting.Store(false)

	start := time.Now()
	metrics.FlowInFlight.WithLabelValues("decrypt").Set(1)
	defer metrics.FlowInFlight.WithLabelValues("decrypt").Set(0)

	res, err := s.decrypt(ctx, recordID)
	res.RecordID = recordID
	if err != nil {
		res.Outcome = OutcomeFailed
	}
	metrics.FlowTotal.WithLabelValues("decrypt", res.Outcome.String()).Inc()
	metrics.FlowDuration.WithLabelValues("decrypt").Observe(time.Since(start).Seconds())
	return res, err
}

func (s *Session) decrypt(ctx context.Context, recordID uint64) (DecryptResult, error) {
	fc := s.capture()
	if err := fc.checkWritable(); err != nil {
		s.setMessage(preconditionMessage(err))
		return DecryptResult{}, err
	}

	log := s.log.With().
		Str("op", "decrypt").
		Str("op_id", uuid.NewString()).
		Uint64("record_id", recordID).
		Logger()
	fail := func(err error) (DecryptResult, error) {
		log.Error().Err(err).Msg("decrypt failed")
		s.setMessage(fmt.Sprintf(msgDecryptFailed, err))
		return DecryptResult{}, fmt.Errorf("decrypting record %d: %w", recordID, err)
	}
	stale := func() (DecryptResult, error) {
		log.Info().Msg("context changed, discarding result")
		s.setMessage(msgStale)
		return DecryptResult{Outcome: OutcomeStale}, nil
	}

	s.setMessage(msgDecrypting)
	addr := *fc.descriptor.Address
	contracts := []common.Address{addr}

	sig, err := fhe.LoadOrSign(ctx, fc.instance, contracts, fc.signer, s.storage, fhe.SignOptions{
		ChainID:      fc.chainID,
		DurationDays: s.decryptionDays,
		Logger:       log,
	})
	if err != nil || sig == nil {
		log.Error().Err(err).Msg("building decryption signature")
		s.setMessage(msgSignatureFailed)
		if err == nil {
			return DecryptResult{}, ErrSignatureUnavailable
		}
		return DecryptResult{}, fmt.Errorf("%w: %v", ErrSignatureUnavailable, err)
	}
	if s.isStale(fc) {
		return stale()
	}

	reader, err := contract.NewReader(fc.descriptor, fc.backend)
	if err != nil {
		return fail(err)
	}
	rawConsumption, err := reader.ConsumptionHandle(ctx, recordID)
	if err != nil {
		return fail(err)
	}
	rawPeak, err := reader.IsPeakHandle(ctx, recordID)
	if err != nil {
		return fail(err)
	}
	consumptionHandle := contract.HandleHex(rawConsumption)
	peakHandle := contract.HandleHex(rawPeak)
	if s.isStale(fc) {
		return stale()
	}

	s.setMessage(msgDecryptingValues)
	consumption, err := userDecrypt(ctx, fc.instance, sig, consumptionHandle, addr)
	if err != nil {
		return fail(err)
	}
	peak, err := userDecrypt(ctx, fc.instance, sig, peakHandle, addr)
	if err != nil {
		return fail(err)
	}
	if s.isStale(fc) {
		return stale()
	}

	if !consumption.IsUint64() || consumption.Uint64() > math.MaxUint32 {
		return fail(fmt.Errorf("decrypted consumption %s does not fit in 32 bits", consumption))
	}

	p := plaintext{consumption: uint32(consumption.Uint64()), peak: peak.Sign() != 0}
	recordedAt := s.mergePlaintext(recordID, p)
	s.persist(fc, recordID, p, recordedAt)

	s.setMessage(msgDecrypted)
	log.Info().Msg("record decrypted")
	return DecryptResult{Outcome: OutcomeCompleted, Consumption: p.consumption, Peak: p.peak}, nil
}

// userDecrypt runs one decryption request for a single handle
func userDecrypt(ctx context.Context, inst fhe.Instance, sig *fhe.DecryptionSignature, handle string, addr common.Address) (*big.Int, error) {
	values, err := inst.UserDecrypt(
		ctx,
		[]fhe.HandleContractPair{{Handle: handle, ContractAddress: addr}},
		sig.PrivateKey,
		sig.PublicKey,
		sig.Signature,
		sig.ContractAddresses,
		sig.UserAddress,
		sig.StartTimestamp,
		sig.DurationDays,
	)
	if err != nil {
		return nil, err
	}
	v, ok := values[handle]
	if !ok || v == nil {
		return nil, fmt.Errorf("no plaintext returned for handle %s", handle)
	}
	return v, nil
}

// mergePlaintext applies p to the record and graph point with id recordID and
// returns the record's on-chain time when it is known
func (s *Session) mergePlaintext(recordID uint64, p plaintext) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recordedAt time.Time
	for i := range s.records {
		if s.records[i].ID != recordID {
			continue
		}
		var point *models.ConsumptionDataPoint
		for j := range s.graph {
			if s.graph[j].RecordID == recordID {
				point = &s.graph[j]
				break
			}
		}
		applyPlaintext(&s.records[i], point, p)
		recordedAt = s.records[i].RecordedAt
	}
	metrics.RecordsDecrypted.Set(float64(countDecrypted(s.records)))
	return recordedAt
}

func (s *Session) persist(fc flowContext, recordID uint64, p plaintext, recordedAt time.Time) {
	if s.cache == nil {
		return
	}
	err := s.cache.SaveDecrypted(&models.DecryptedReading{
		ChainID:     fc.chainID,
		Contract:    fc.descriptor.Address.Hex(),
		RecordID:    recordID,
		Consumption: p.consumption,
		Peak:        p.peak,
		RecordedAt:  recordedAt,
		DecryptedAt: time.Now(),
	})
	if err != nil {
		s.log.Warn().Err(err).Uint64("record_id", recordID).Msg("caching plaintext")
	}
}
