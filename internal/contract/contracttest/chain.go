// Package contracttest provides an in-memory SecurePeakData chain for tests.
package contracttest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/jgoulah/securepeak/internal/contract"
)

// Record is one simulated on-chain record
type Record struct {
	Timestamp         time.Time
	Submitter         common.Address
	Exists            bool
	ConsumptionHandle *big.Int
	IsPeakHandle      *big.Int
}

// Chain simulates a JSON-RPC provider hosting one SecurePeakData deployment.
// It satisfies contract.Backend and contract.LogFilterer.
type Chain struct {
	mu sync.Mutex

	Address  common.Address
	ID       uint64
	Records  []Record
	Auditors map[uint64][]common.Address

	// BeforeCall runs (without the lock held) before every view call and
	// transaction; tests use it to block or to change context mid-flight.
	BeforeCall func(method string)
	// Errors forces a method to fail
	Errors map[string]error
	// Overrides replaces the outputs of a view method, ignoring storage
	Overrides map[string][]interface{}

	calls    map[string]int
	nonces   map[common.Address]uint64
	receipts map[common.Hash]*types.Receipt
	logs     []types.Log
	block    uint64
}

// NewChain creates an empty chain with the contract deployed at address
func NewChain(chainID uint64, address common.Address) *Chain {
	return &Chain{
		Address:   address,
		ID:        chainID,
		Auditors:  make(map[uint64][]common.Address),
		Errors:    make(map[string]error),
		Overrides: make(map[string][]interface{}),
		calls:     make(map[string]int),
		nonces:    make(map[common.Address]uint64),
		receipts:  make(map[common.Hash]*types.Receipt),
		block:     1,
	}
}

// AddRecord appends a record directly to contract storage
func (c *Chain) AddRecord(r Record) uint64 {
	if r.ConsumptionHandle == nil {
		r.ConsumptionHandle = new(big.Int)
	}
	if r.IsPeakHandle == nil {
		r.IsPeakHandle = new(big.Int)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Records = append(c.Records, r)
	return uint64(len(c.Records) - 1)
}

// Calls returns how many times method was invoked
func (c *Chain) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

func (c *Chain) enter(method string) error {
	c.mu.Lock()
	c.calls[method]++
	hook := c.BeforeCall
	err := c.Errors[method]
	c.mu.Unlock()

	if hook != nil {
		hook(method)
	}
	return err
}

// CallContract dispatches a view call on the ABI selector
func (c *Chain) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil || *call.To != c.Address {
		return nil, nil
	}
	abi := contract.ABI()
	method, err := abi.MethodById(call.Data)
	if err != nil {
		return nil, err
	}
	if err := c.enter(method.Name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if out, ok := c.Overrides[method.Name]; ok {
		return method.Outputs.Pack(out...)
	}

	switch method.Name {
	case contract.MethodGetRecordCount:
		return method.Outputs.Pack(big.NewInt(int64(len(c.Records))))
	case contract.MethodGetUserRecordIDs:
		user := args[0].(common.Address)
		ids := []*big.Int{}
		for i, r := range c.Records {
			if r.Exists && r.Submitter == user {
				ids = append(ids, big.NewInt(int64(i)))
			}
		}
		return method.Outputs.Pack(ids)
	}

	r, err := c.record(args[0].(*big.Int))
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case contract.MethodGetRecordMetadata:
		return method.Outputs.Pack(big.NewInt(r.Timestamp.Unix()), r.Submitter, r.Exists)
	case contract.MethodGetRecordConsumption:
		return method.Outputs.Pack(r.ConsumptionHandle)
	case contract.MethodGetRecordIsPeak:
		return method.Outputs.Pack(r.IsPeakHandle)
	}
	return nil, fmt.Errorf("unsupported view %s", method.Name)
}

func (c *Chain) record(id *big.Int) (*Record, error) {
	if !id.IsUint64() || id.Uint64() >= uint64(len(c.Records)) {
		return nil, errors.New("execution reverted: record does not exist")
	}
	return &c.Records[id.Uint64()], nil
}

// ChainID returns the simulated chain id
func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).SetUint64(c.ID), nil
}

// PendingNonceAt returns the next nonce for account
func (c *Chain) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// SuggestGasPrice returns 1 gwei
func (c *Chain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

// EstimateGas returns a fixed estimate
func (c *Chain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 500_000, nil
}

// SendTransaction executes a signed transaction immediately and records its receipt
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	abi := contract.ABI()
	method, err := abi.MethodById(tx.Data())
	if err != nil {
		return err
	}
	if err := c.enter(method.Name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	from, err := types.Sender(types.LatestSignerForChainID(new(big.Int).SetUint64(c.ID)), tx)
	if err != nil {
		return fmt.Errorf("recovering sender: %w", err)
	}
	c.nonces[from]++
	c.block++
	now := time.Now()

	var logs []*types.Log
	switch method.Name {
	case contract.MethodCreateRecord:
		consumption := args[0].([32]byte)
		isPeak := args[2].([32]byte)
		c.Records = append(c.Records, Record{
			Timestamp:         now,
			Submitter:         from,
			Exists:            true,
			ConsumptionHandle: new(big.Int).SetBytes(consumption[:]),
			IsPeakHandle:      new(big.Int).SetBytes(isPeak[:]),
		})
		logs = append(logs, c.eventLog(contract.EventRecordCreated, uint64(len(c.Records)-1), from, now, tx.Hash()))
	case contract.MethodUpdateConsumption, contract.MethodUpdateIsPeak:
		r, err := c.record(args[0].(*big.Int))
		if err != nil {
			return err
		}
		handle := args[1].([32]byte)
		if method.Name == contract.MethodUpdateConsumption {
			r.ConsumptionHandle = new(big.Int).SetBytes(handle[:])
		} else {
			r.IsPeakHandle = new(big.Int).SetBytes(handle[:])
		}
		logs = append(logs, c.eventLog(contract.EventRecordUpdated, args[0].(*big.Int).Uint64(), from, now, tx.Hash()))
	case contract.MethodGrantAccess:
		id := args[0].(*big.Int)
		if _, err := c.record(id); err != nil {
			return err
		}
		c.Auditors[id.Uint64()] = append(c.Auditors[id.Uint64()], args[1].(common.Address))
	default:
		return fmt.Errorf("unsupported transaction %s", method.Name)
	}

	for _, l := range logs {
		c.logs = append(c.logs, *l)
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		BlockNumber: new(big.Int).SetUint64(c.block),
		Logs:        logs,
	}
	return nil
}

func (c *Chain) eventLog(name string, recordID uint64, actor common.Address, at time.Time, txHash common.Hash) *types.Log {
	event := contract.ABI().Events[name]
	data, _ := event.Inputs.NonIndexed().Pack(big.NewInt(at.Unix()))
	return &types.Log{
		Address: c.Address,
		Topics: []common.Hash{
			event.ID,
			common.BigToHash(new(big.Int).SetUint64(recordID)),
			common.BytesToHash(actor.Bytes()),
		},
		Data:        data,
		BlockNumber: c.block,
		TxHash:      txHash,
	}
}

// TransactionReceipt returns the receipt of an executed transaction
func (c *Chain) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.enter("eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// BlockNumber returns the current head
func (c *Chain) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, nil
}

// FilterLogs returns emitted logs within the query's block range
func (c *Chain) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []types.Log
	for _, l := range c.logs {
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// SetChainID simulates the provider switching networks
func (c *Chain) SetChainID(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ID = id
}
