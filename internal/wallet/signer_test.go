package wallet

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Hardhat account #0
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestFromHex(t *testing.T) {
	s, err := FromHex(testKey)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())

	_, err = FromHex("not-a-key")
	require.Error(t, err)
}

func TestSignTx(t *testing.T) {
	s, err := FromHex(testKey)
	require.NoError(t, err)

	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})
	chainID := big.NewInt(31337)

	signed, err := s.SignTx(tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestSignTypedData(t *testing.T) {
	s, err := FromHex(testKey)
	require.NoError(t, err)

	chainID := math.HexOrDecimal256(*big.NewInt(31337))
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "chainId", Type: "uint256"},
			},
			"Ping": {{Name: "value", Type: "uint256"}},
		},
		PrimaryType: "Ping",
		Domain:      apitypes.TypedDataDomain{Name: "Test", ChainId: &chainID},
		Message:     apitypes.TypedDataMessage{"value": "7"},
	}

	sig, err := s.SignTypedData(td)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	hash, _, err := apitypes.TypedDataAndHash(td)
	require.NoError(t, err)
	recovered := append([]byte(nil), sig...)
	recovered[64] -= 27
	pub, err := crypto.SigToPub(hash, recovered)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), crypto.PubkeyToAddress(*pub))
}
