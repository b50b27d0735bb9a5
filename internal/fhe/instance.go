// Package fhe talks to the external FHE coprocessor: it encrypts inputs for
// the contract and requests user decryptions of ciphertext handles.
package fhe

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// HandleContractPair names a ciphertext handle and the contract that owns it
type HandleContractPair struct {
	Handle          string         `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

// EncryptedInput is the result of encrypting an input accumulator
type EncryptedInput struct {
	Handles    [][32]byte
	InputProof []byte
}

// Input accumulates plaintext values bound to one contract and user
type Input interface {
	Add32(value uint32) Input
	Encrypt(ctx context.Context) (EncryptedInput, error)
}

// Keypair is the ephemeral key pair plaintexts are re-encrypted to
type Keypair struct {
	PublicKey  string
	PrivateKey string
}

// Instance is the FHE service as seen by the client
type Instance interface {
	CreateEncryptedInput(contractAddress, userAddress common.Address) Input
	GenerateKeypair() (Keypair, error)
	CreateEIP712(publicKey string, contractAddresses []common.Address, startTimestamp int64, durationDays int) apitypes.TypedData
	UserDecrypt(
		ctx context.Context,
		handles []HandleContractPair,
		privateKey, publicKey, signature string,
		contractAddresses []common.Address,
		userAddress common.Address,
		startTimestamp int64,
		durationDays int,
	) (map[string]*big.Int, error)
}
