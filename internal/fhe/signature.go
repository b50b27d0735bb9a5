package fhe

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"
)

const secondsPerDay = 24 * 60 * 60

// TypedDataSigner signs EIP-712 payloads for one account
type TypedDataSigner interface {
	Address() common.Address
	SignTypedData(typedData apitypes.TypedData) ([]byte, error)
}

// DecryptionSignature authorizes UserAddress to decrypt values of
// ContractAddresses for DurationDays starting at StartTimestamp.
type DecryptionSignature struct {
	PublicKey         string           `json:"publicKey"`
	PrivateKey        string           `json:"privateKey"`
	Signature         string           `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      int              `json:"durationDays"`
	ChainID           uint64           `json:"chainId"`
}

// ExpiresAt returns the end of the validity window
func (s *DecryptionSignature) ExpiresAt() time.Time {
	return time.Unix(s.StartTimestamp+int64(s.DurationDays)*secondsPerDay, 0)
}

// IsValid reports whether the signature is still inside its validity window
func (s *DecryptionSignature) IsValid(now time.Time) bool {
	return now.Before(s.ExpiresAt())
}

// Covers reports whether the signature authorizes every address in contracts
func (s *DecryptionSignature) Covers(contracts []common.Address) bool {
	have := make(map[common.Address]struct{}, len(s.ContractAddresses))
	for _, a := range s.ContractAddresses {
		have[a] = struct{}{}
	}
	for _, a := range contracts {
		if _, ok := have[a]; !ok {
			return false
		}
	}
	return true
}

// SignOptions parameterizes LoadOrSign
type SignOptions struct {
	ChainID      uint64
	DurationDays int
	Now          func() time.Time
	// Logger reports storage failures; a failed read or write only costs a new signature
	Logger zerolog.Logger
}

// StorageKey is the cache key of a signature bound to user, contract set and chain
func StorageKey(chainID uint64, user common.Address, contracts []common.Address) string {
	sorted := make([]string, 0, len(contracts))
	for _, a := range contracts {
		sorted = append(sorted, strings.ToLower(a.Hex()))
	}
	sort.Strings(sorted)
	digest := crypto.Keccak256Hash([]byte(strings.Join(sorted, ",")))
	return fmt.Sprintf("fhevm-decryption-signature:%d:%s:%s", chainID, strings.ToLower(user.Hex()), digest.Hex())
}

// LoadOrSign returns a cached signature for (signer, contracts, chain) while it
// is valid; otherwise it generates a keypair, signs the EIP-712 request and
// stores the result.
func LoadOrSign(
	ctx context.Context,
	instance Instance,
	contracts []common.Address,
	signer TypedDataSigner,
	storage StringStorage,
	opts SignOptions,
) (*DecryptionSignature, error) {
	if instance == nil || signer == nil {
		return nil, fmt.Errorf("instance and signer are required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	days := opts.DurationDays
	if days <= 0 {
		days = 365
	}

	user := signer.Address()
	key := StorageKey(opts.ChainID, user, contracts)

	if storage != nil {
		if cached, ok := load(ctx, storage, key, opts.Logger); ok &&
			cached.UserAddress == user &&
			cached.Covers(contracts) &&
			cached.IsValid(now()) {
			return cached, nil
		}
	}

	keypair, err := instance.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generating keypair: %w", err)
	}

	start := now().Unix()
	typedData := instance.CreateEIP712(keypair.PublicKey, contracts, start, days)
	sig, err := signer.SignTypedData(typedData)
	if err != nil {
		return nil, fmt.Errorf("signing decryption request: %w", err)
	}

	result := &DecryptionSignature{
		PublicKey:         keypair.PublicKey,
		PrivateKey:        keypair.PrivateKey,
		Signature:         hexutil.Encode(sig),
		ContractAddresses: append([]common.Address(nil), contracts...),
		UserAddress:       user,
		StartTimestamp:    start,
		DurationDays:      days,
		ChainID:           opts.ChainID,
	}

	if storage != nil {
		data, err := json.Marshal(result)
		if err == nil {
			err = storage.SetItem(ctx, key, string(data))
		}
		if err != nil {
			opts.Logger.Warn().Err(err).Str("key", key).Msg("storing decryption signature")
		}
	}
	return result, nil
}

func load(ctx context.Context, storage StringStorage, key string, log zerolog.Logger) (*DecryptionSignature, bool) {
	raw, ok, err := storage.GetItem(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("reading cached decryption signature")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var sig DecryptionSignature
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding malformed decryption signature")
		return nil, false
	}
	return &sig, true
}
