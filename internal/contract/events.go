package contract

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogFilterer is the subset of a provider needed to poll contract events
type LogFilterer interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// RecordEvent is a decoded RecordCreated or RecordUpdated log
type RecordEvent struct {
	Kind        string         `json:"kind"`
	RecordID    uint64         `json:"record_id"`
	Actor       common.Address `json:"actor"`
	Timestamp   time.Time      `json:"timestamp"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
}

// EventTopics returns the topic ids of the events this client understands
func EventTopics() []common.Hash {
	return []common.Hash{
		parsedABI.Events[EventRecordCreated].ID,
		parsedABI.Events[EventRecordUpdated].ID,
	}
}

// FilterQuery builds a log query for the contract's record events
func FilterQuery(address common.Address, fromBlock, toBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
		Topics:    [][]common.Hash{EventTopics()},
	}
}

// ParseRecordEvent decodes a RecordCreated or RecordUpdated log.
// It returns nil, nil for logs of other events.
func ParseRecordEvent(log types.Log) (*RecordEvent, error) {
	if len(log.Topics) == 0 {
		return nil, nil
	}

	event, err := parsedABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, nil
	}
	if event.Name != EventRecordCreated && event.Name != EventRecordUpdated {
		return nil, nil
	}
	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("%s: expected 3 topics, got %d", event.Name, len(log.Topics))
	}

	values, err := parsedABI.Unpack(event.Name, log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", event.Name, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: expected 1 data field, got %d", event.Name, len(values))
	}
	ts, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: unexpected timestamp type %T", event.Name, values[0])
	}

	return &RecordEvent{
		Kind:        event.Name,
		RecordID:    new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(),
		Actor:       common.BytesToAddress(log.Topics[2].Bytes()),
		Timestamp:   time.Unix(ts.Int64(), 0),
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}, nil
}

// RecordIDFromReceipt returns the id emitted by RecordCreated in receipt, if any
func RecordIDFromReceipt(receipt *types.Receipt) (uint64, bool) {
	if receipt == nil {
		return 0, false
	}
	for _, l := range receipt.Logs {
		if l == nil {
			continue
		}
		ev, err := ParseRecordEvent(*l)
		if err == nil && ev != nil && ev.Kind == EventRecordCreated {
			return ev.RecordID, true
		}
	}
	return 0, false
}
