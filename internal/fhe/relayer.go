package fhe

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/nacl/box"
)

// RelayerOptions configures a Relayer
type RelayerOptions struct {
	URL               string
	APIKey            string
	ContractChainID   uint64
	GatewayChainID    uint64
	VerifyingContract common.Address
	Timeout           time.Duration
}

// Relayer is an Instance backed by the FHE relayer HTTP API
type Relayer struct {
	opts   RelayerOptions
	client *http.Client
}

// NewRelayer creates a relayer client
func NewRelayer(opts RelayerOptions) (*Relayer, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("relayer URL is required")
	}
	opts.URL = strings.TrimRight(opts.URL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.GatewayChainID == 0 {
		opts.GatewayChainID = opts.ContractChainID
	}
	return &Relayer{
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
	}, nil
}

type inputValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type inputProofRequest struct {
	ContractAddress string       `json:"contractAddress"`
	UserAddress     string       `json:"userAddress"`
	ContractChainID uint64       `json:"contractChainId"`
	Values          []inputValue `json:"values"`
}

type inputProofResponse struct {
	Handles    []string `json:"handles"`
	InputProof string   `json:"inputProof"`
}

type relayerInput struct {
	r        *Relayer
	contract common.Address
	user     common.Address
	values   []uint32
}

// CreateEncryptedInput starts an input accumulator bound to contract and user
func (r *Relayer) CreateEncryptedInput(contractAddress, userAddress common.Address) Input {
	return &relayerInput{r: r, contract: contractAddress, user: userAddress}
}

func (in *relayerInput) Add32(value uint32) Input {
	in.values = append(in.values, value)
	return in
}

func (in *relayerInput) Encrypt(ctx context.Context) (EncryptedInput, error) {
	if len(in.values) == 0 {
		return EncryptedInput{}, fmt.Errorf("no values added to encrypted input")
	}

	req := inputProofRequest{
		ContractAddress: in.contract.Hex(),
		UserAddress:     in.user.Hex(),
		ContractChainID: in.r.opts.ContractChainID,
	}
	for _, v := range in.values {
		req.Values = append(req.Values, inputValue{Type: "euint32", Value: strconv.FormatUint(uint64(v), 10)})
	}

	var resp inputProofResponse
	if err := in.r.post(ctx, "/v1/input-proof", req, &resp); err != nil {
		return EncryptedInput{}, fmt.Errorf("encrypting input: %w", err)
	}
	if len(resp.Handles) != len(in.values) {
		return EncryptedInput{}, fmt.Errorf("relayer returned %d handles for %d values", len(resp.Handles), len(in.values))
	}

	out := EncryptedInput{Handles: make([][32]byte, 0, len(resp.Handles))}
	for _, h := range resp.Handles {
		raw, err := hexutil.Decode(h)
		if err != nil || len(raw) != 32 {
			return EncryptedInput{}, fmt.Errorf("invalid handle %q from relayer", h)
		}
		var handle [32]byte
		copy(handle[:], raw)
		out.Handles = append(out.Handles, handle)
	}

	proof, err := hexutil.Decode(resp.InputProof)
	if err != nil {
		return EncryptedInput{}, fmt.Errorf("invalid input proof from relayer: %w", err)
	}
	out.InputProof = proof
	return out, nil
}

// GenerateKeypair creates the Curve25519 key pair decryption results are sealed to
func (r *Relayer) GenerateKeypair() (Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("generating keypair: %w", err)
	}
	return Keypair{
		PublicKey:  hexutil.Encode(pub[:]),
		PrivateKey: hexutil.Encode(priv[:]),
	}, nil
}

// CreateEIP712 builds the user-decryption request the wallet signs
func (r *Relayer) CreateEIP712(publicKey string, contractAddresses []common.Address, startTimestamp int64, durationDays int) apitypes.TypedData {
	return UserDecryptTypedData(r.opts.GatewayChainID, r.opts.VerifyingContract, publicKey, contractAddresses, startTimestamp, durationDays)
}

// UserDecryptTypedData is the EIP-712 payload authorizing a user decryption
func UserDecryptTypedData(chainID uint64, verifyingContract common.Address, publicKey string, contractAddresses []common.Address, startTimestamp int64, durationDays int) apitypes.TypedData {
	cid := math.HexOrDecimal256(*new(big.Int).SetUint64(chainID))
	addrs := make([]interface{}, 0, len(contractAddresses))
	for _, a := range contractAddresses {
		addrs = append(addrs, a.Hex())
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"UserDecryptRequestVerification": {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: "UserDecryptRequestVerification",
		Domain: apitypes.TypedDataDomain{
			Name:              "Decryption",
			Version:           "1",
			ChainId:           &cid,
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         publicKey,
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(startTimestamp, 10),
			"durationDays":      strconv.Itoa(durationDays),
		},
	}
}

type userDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     struct {
		StartTimestamp string `json:"startTimestamp"`
		DurationDays   string `json:"durationDays"`
	} `json:"requestValidity"`
	ContractsChainID  uint64   `json:"contractsChainId"`
	ContractAddresses []string `json:"contractAddresses"`
	UserAddress       string   `json:"userAddress"`
	Signature         string   `json:"signature"`
	PublicKey         string   `json:"publicKey"`
}

type userDecryptResponse struct {
	Results []struct {
		Handle     string `json:"handle"`
		Ciphertext string `json:"ciphertext"`
	} `json:"results"`
}

// UserDecrypt asks the relayer to re-encrypt handles to publicKey and opens
// the sealed results with privateKey. The map is keyed by the handles as given.
func (r *Relayer) UserDecrypt(
	ctx context.Context,
	handles []HandleContractPair,
	privateKey, publicKey, signature string,
	contractAddresses []common.Address,
	userAddress common.Address,
	startTimestamp int64,
	durationDays int,
) (map[string]*big.Int, error) {
	pub, err := decodeKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	priv, err := decodeKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}

	req := userDecryptRequest{
		HandleContractPairs: handles,
		ContractsChainID:    r.opts.ContractChainID,
		UserAddress:         userAddress.Hex(),
		Signature:           strings.TrimPrefix(signature, "0x"),
		PublicKey:           strings.TrimPrefix(publicKey, "0x"),
	}
	req.RequestValidity.StartTimestamp = strconv.FormatInt(startTimestamp, 10)
	req.RequestValidity.DurationDays = strconv.Itoa(durationDays)
	for _, a := range contractAddresses {
		req.ContractAddresses = append(req.ContractAddresses, a.Hex())
	}

	var resp userDecryptResponse
	if err := r.post(ctx, "/v1/user-decrypt", req, &resp); err != nil {
		return nil, fmt.Errorf("user decrypt: %w", err)
	}

	requested := make(map[string]string, len(handles))
	for _, h := range handles {
		requested[strings.ToLower(h.Handle)] = h.Handle
	}

	out := make(map[string]*big.Int, len(resp.Results))
	for _, res := range resp.Results {
		key, ok := requested[strings.ToLower(res.Handle)]
		if !ok {
			return nil, fmt.Errorf("relayer returned unrequested handle %s", res.Handle)
		}
		sealed, err := hexutil.Decode(res.Ciphertext)
		if err != nil {
			return nil, fmt.Errorf("decoding ciphertext for %s: %w", res.Handle, err)
		}
		plain, ok := box.OpenAnonymous(nil, sealed, pub, priv)
		if !ok {
			return nil, fmt.Errorf("opening ciphertext for %s failed", res.Handle)
		}
		out[key] = new(big.Int).SetBytes(plain)
	}

	for _, h := range handles {
		if _, ok := out[h.Handle]; !ok {
			return nil, fmt.Errorf("relayer did not return handle %s", h.Handle)
		}
	}
	return out, nil
}

func decodeKey(s string) (*[32]byte, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	var k [32]byte
	copy(k[:], raw)
	return &k, nil
}

func (r *Relayer) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.opts.URL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.opts.APIKey != "" {
		req.Header.Set("x-api-key", r.opts.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	return nil
}
