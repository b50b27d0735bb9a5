package fhe_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/fhe"
	"github.com/jgoulah/securepeak/internal/fhe/fhetest"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testUser     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

func newTestRelayer(t *testing.T) (*fhe.Relayer, *fhetest.RelayerServer) {
	t.Helper()
	srv := fhetest.NewRelayerServer()
	t.Cleanup(srv.Close)

	r, err := fhe.NewRelayer(fhe.RelayerOptions{URL: srv.URL + "/", ContractChainID: 31337})
	require.NoError(t, err)
	return r, srv
}

func TestNewRelayerRequiresURL(t *testing.T) {
	_, err := fhe.NewRelayer(fhe.RelayerOptions{})
	require.Error(t, err)
}

func TestRelayerEncryptAndDecrypt(t *testing.T) {
	ctx := context.Background()
	r, srv := newTestRelayer(t)

	enc, err := r.CreateEncryptedInput(testContract, testUser).Add32(1234).Encrypt(ctx)
	require.NoError(t, err)
	require.Len(t, enc.Handles, 1)
	assert.Equal(t, []byte{0x01, 0x02}, enc.InputProof)
	assert.Equal(t, 1, srv.Requests("/v1/input-proof"))

	kp, err := r.GenerateKeypair()
	require.NoError(t, err)

	handle := contract.HandleHex(new(big.Int).SetBytes(enc.Handles[0][:]))
	values, err := r.UserDecrypt(ctx,
		[]fhe.HandleContractPair{{Handle: handle, ContractAddress: testContract}},
		kp.PrivateKey, kp.PublicKey, "0xdeadbeef",
		[]common.Address{testContract}, testUser, 1700000000, 365,
	)
	require.NoError(t, err)
	require.Contains(t, values, handle)
	assert.Equal(t, int64(1234), values[handle].Int64())

	// Signature and public key travel without the 0x prefix
	assert.Equal(t, "deadbeef", srv.LastDecrypt["signature"])
	assert.Equal(t, kp.PublicKey[2:], srv.LastDecrypt["publicKey"])
}

func TestRelayerEncryptRequiresValues(t *testing.T) {
	r, srv := newTestRelayer(t)

	_, err := r.CreateEncryptedInput(testContract, testUser).Encrypt(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, srv.Requests("/v1/input-proof"))
}

func TestRelayerUserDecryptUnknownHandle(t *testing.T) {
	r, _ := newTestRelayer(t)
	kp, err := r.GenerateKeypair()
	require.NoError(t, err)

	_, err = r.UserDecrypt(context.Background(),
		[]fhe.HandleContractPair{{Handle: contract.HandleHex(big.NewInt(99)), ContractAddress: testContract}},
		kp.PrivateKey, kp.PublicKey, "0x00",
		[]common.Address{testContract}, testUser, 0, 1,
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestRelayerUserDecryptWrongKeyFails(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRelayer(t)

	enc, err := r.CreateEncryptedInput(testContract, testUser).Add32(7).Encrypt(ctx)
	require.NoError(t, err)

	kp, err := r.GenerateKeypair()
	require.NoError(t, err)
	other, err := r.GenerateKeypair()
	require.NoError(t, err)

	handle := contract.HandleHex(new(big.Int).SetBytes(enc.Handles[0][:]))
	_, err = r.UserDecrypt(ctx,
		[]fhe.HandleContractPair{{Handle: handle, ContractAddress: testContract}},
		other.PrivateKey, kp.PublicKey, "0x00",
		[]common.Address{testContract}, testUser, 0, 1,
	)
	require.Error(t, err)
}
