package contract_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/wallet"
)

func TestRecordEventsFromChain(t *testing.T) {
	ctx := context.Background()
	chain, d := newChain(t)
	signer, err := wallet.FromHex(hardhatKey)
	require.NoError(t, err)

	tr, err := contract.NewTransactor(d, chain, signer)
	require.NoError(t, err)

	var h [32]byte
	_, err = tr.CreateRecord(ctx, h, nil, h, nil)
	require.NoError(t, err)
	_, err = tr.UpdateIsPeak(ctx, 0, h, nil)
	require.NoError(t, err)

	head, err := chain.BlockNumber(ctx)
	require.NoError(t, err)

	logs, err := chain.FilterLogs(ctx, contract.FilterQuery(deployed, 0, head))
	require.NoError(t, err)
	require.Len(t, logs, 2)

	created, err := contract.ParseRecordEvent(logs[0])
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, contract.EventRecordCreated, created.Kind)
	assert.Equal(t, uint64(0), created.RecordID)
	assert.Equal(t, signer.Address(), created.Actor)
	assert.False(t, created.Timestamp.IsZero())

	updated, err := contract.ParseRecordEvent(logs[1])
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, contract.EventRecordUpdated, updated.Kind)
	assert.Greater(t, updated.BlockNumber, created.BlockNumber)
}

func TestParseRecordEventIgnoresForeignLogs(t *testing.T) {
	ev, err := contract.ParseRecordEvent(types.Log{})
	require.NoError(t, err)
	assert.Nil(t, ev)

	ev, err = contract.ParseRecordEvent(types.Log{Topics: []common.Hash{common.HexToHash("0xdeadbeef")}})
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseRecordEventRejectsMalformedLogs(t *testing.T) {
	topic := contract.ABI().Events[contract.EventRecordCreated].ID
	_, err := contract.ParseRecordEvent(types.Log{Topics: []common.Hash{topic}})
	require.Error(t, err)
}

func TestFilterQuery(t *testing.T) {
	q := contract.FilterQuery(deployed, 10, 20)
	assert.Equal(t, big.NewInt(10), q.FromBlock)
	assert.Equal(t, big.NewInt(20), q.ToBlock)
	assert.Equal(t, []common.Address{deployed}, q.Addresses)
	require.Len(t, q.Topics, 1)
	assert.ElementsMatch(t, contract.EventTopics(), q.Topics[0])
}

func TestRecordIDFromReceipt(t *testing.T) {
	_, ok := contract.RecordIDFromReceipt(nil)
	assert.False(t, ok)

	_, ok = contract.RecordIDFromReceipt(&types.Receipt{Logs: []*types.Log{nil}})
	assert.False(t, ok)
}
