package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrNoAddress is returned when a client is built from a descriptor without deployment
var ErrNoAddress = errors.New("contract address not resolved")

// Caller is the read-only provider used for view calls. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Backend is a transaction-capable provider. *ethclient.Client satisfies it.
type Backend interface {
	Caller
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// TxSigner signs transactions on behalf of one account
type TxSigner interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Metadata is the plaintext part of an on-chain record
type Metadata struct {
	Timestamp time.Time
	Submitter common.Address
	Exists    bool
}

// Reader performs view calls against a SecurePeakData deployment
type Reader struct {
	address common.Address
	caller  Caller
}

// NewReader binds a read-only client to the descriptor's address
func NewReader(d Descriptor, caller Caller) (*Reader, error) {
	if !d.IsDeployed() {
		return nil, ErrNoAddress
	}
	if caller == nil {
		return nil, fmt.Errorf("no provider available")
	}
	return &Reader{address: *d.Address, caller: caller}, nil
}

// Address returns the bound contract address
func (r *Reader) Address() common.Address {
	return r.address
}

// call packs, executes and unpacks a view method
func (r *Reader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	result, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", method, err)
	}

	unpacked, err := parsedABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	if len(unpacked) == 0 {
		return nil, fmt.Errorf("empty result from %s", method)
	}
	return unpacked, nil
}

// RecordCount returns the total number of records ever created
func (r *Reader) RecordCount(ctx context.Context) (uint64, error) {
	out, err := r.call(ctx, MethodGetRecordCount)
	if err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected type %T for record count", out[0])
	}
	if !count.IsUint64() {
		return 0, fmt.Errorf("record count out of range: %s", count)
	}
	return count.Uint64(), nil
}

// RecordMetadata returns timestamp, submitter and existence of a record
func (r *Reader) RecordMetadata(ctx context.Context, recordID uint64) (Metadata, error) {
	out, err := r.call(ctx, MethodGetRecordMetadata, new(big.Int).SetUint64(recordID))
	if err != nil {
		return Metadata{}, err
	}
	if len(out) != 3 {
		return Metadata{}, fmt.Errorf("unexpected metadata arity %d", len(out))
	}

	ts, ok1 := out[0].(*big.Int)
	submitter, ok2 := out[1].(common.Address)
	exists, ok3 := out[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		return Metadata{}, fmt.Errorf("unexpected metadata types %T, %T, %T", out[0], out[1], out[2])
	}

	return Metadata{
		Timestamp: time.Unix(ts.Int64(), 0),
		Submitter: submitter,
		Exists:    exists,
	}, nil
}

// ConsumptionHandle returns the ciphertext handle of a record's consumption
func (r *Reader) ConsumptionHandle(ctx context.Context, recordID uint64) (*big.Int, error) {
	return r.handle(ctx, MethodGetRecordConsumption, recordID)
}

// IsPeakHandle returns the ciphertext handle of a record's peak flag
func (r *Reader) IsPeakHandle(ctx context.Context, recordID uint64) (*big.Int, error) {
	return r.handle(ctx, MethodGetRecordIsPeak, recordID)
}

func (r *Reader) handle(ctx context.Context, method string, recordID uint64) (*big.Int, error) {
	out, err := r.call(ctx, method, new(big.Int).SetUint64(recordID))
	if err != nil {
		return nil, err
	}
	h, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T for %s", out[0], method)
	}
	return h, nil
}

// UserRecordIDs returns the ids of records submitted by user
func (r *Reader) UserRecordIDs(ctx context.Context, user common.Address) ([]uint64, error) {
	out, err := r.call(ctx, MethodGetUserRecordIDs, user)
	if err != nil {
		return nil, err
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected type %T for record ids", out[0])
	}
	ids := make([]uint64, 0, len(raw))
	for _, v := range raw {
		if !v.IsUint64() {
			return nil, fmt.Errorf("record id out of range: %s", v)
		}
		ids = append(ids, v.Uint64())
	}
	return ids, nil
}

// Transactor sends signed transactions to a SecurePeakData deployment
type Transactor struct {
	address      common.Address
	backend      Backend
	signer       TxSigner
	pollInterval time.Duration
}

// NewTransactor binds a signing client to the descriptor's address
func NewTransactor(d Descriptor, backend Backend, signer TxSigner) (*Transactor, error) {
	if !d.IsDeployed() {
		return nil, ErrNoAddress
	}
	if backend == nil || signer == nil {
		return nil, fmt.Errorf("transactor requires a backend and a signer")
	}
	return &Transactor{
		address:      *d.Address,
		backend:      backend,
		signer:       signer,
		pollInterval: time.Second,
	}, nil
}

// SetPollInterval changes how often WaitMined polls for a receipt
func (t *Transactor) SetPollInterval(d time.Duration) {
	t.pollInterval = d
}

// CreateRecord submits two encrypted inputs and their proofs
func (t *Transactor) CreateRecord(ctx context.Context, consumption [32]byte, consumptionProof []byte, isPeak [32]byte, isPeakProof []byte) (*types.Transaction, error) {
	return t.transact(ctx, MethodCreateRecord, consumption, consumptionProof, isPeak, isPeakProof)
}

// UpdateConsumption replaces the encrypted consumption of a record
func (t *Transactor) UpdateConsumption(ctx context.Context, recordID uint64, consumption [32]byte, proof []byte) (*types.Transaction, error) {
	return t.transact(ctx, MethodUpdateConsumption, new(big.Int).SetUint64(recordID), consumption, proof)
}

// UpdateIsPeak replaces the encrypted peak flag of a record
func (t *Transactor) UpdateIsPeak(ctx context.Context, recordID uint64, isPeak [32]byte, proof []byte) (*types.Transaction, error) {
	return t.transact(ctx, MethodUpdateIsPeak, new(big.Int).SetUint64(recordID), isPeak, proof)
}

// GrantAccess allows auditor to decrypt a record
func (t *Transactor) GrantAccess(ctx context.Context, recordID uint64, auditor common.Address) (*types.Transaction, error) {
	return t.transact(ctx, MethodGrantAccess, new(big.Int).SetUint64(recordID), auditor)
}

func (t *Transactor) transact(ctx context.Context, method string, args ...interface{}) (*types.Transaction, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}

	from := t.signer.Address()

	chainID, err := t.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting chain id: %w", err)
	}

	nonce, err := t.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("getting nonce: %w", err)
	}

	gasPrice, err := t.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting gas price: %w", err)
	}

	gas, err := t.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:     from,
		To:       &t.address,
		GasPrice: gasPrice,
		Data:     data,
	})
	if err != nil {
		return nil, fmt.Errorf("estimating gas for %s: %w", method, err)
	}
	// FHE precompile costs vary between estimation and inclusion
	gas = gas * 12 / 10

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &t.address,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := t.signer.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("signing %s: %w", method, err)
	}

	if err := t.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("sending %s: %w", method, err)
	}
	return signed, nil
}

// WaitMined blocks until the transaction has a receipt or ctx is done
func (t *Transactor) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(ctx, tx.Hash())
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("getting receipt for %s: %w", tx.Hash().Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", tx.Hash().Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
