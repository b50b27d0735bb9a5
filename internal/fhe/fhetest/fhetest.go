// Package fhetest provides in-memory and HTTP fakes of the FHE service.
package fhetest

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/nacl/box"

	"github.com/jgoulah/securepeak/internal/fhe"
)

// Vault maps ciphertext handles to plaintexts
type Vault struct {
	mu     sync.Mutex
	values map[string]*big.Int
	next   uint64
}

func newVault() *Vault {
	return &Vault{values: make(map[string]*big.Int)}
}

// Seed stores value under a fresh handle and returns the handle
func (v *Vault) Seed(value uint64) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seedLocked(value)
}

func (v *Vault) seedLocked(value uint64) *big.Int {
	v.next++
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], v.next)
	h := crypto.Keccak256Hash([]byte("securepeak-handle"), counter[:])
	v.values[strings.ToLower(h.Hex())] = new(big.Int).SetUint64(value)
	return h.Big()
}

// Lookup returns the plaintext stored for a 0x-prefixed handle
func (v *Vault) Lookup(handle string) (*big.Int, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.values[strings.ToLower(handle)]
	return val, ok
}

// Instance is an in-process fhe.Instance
type Instance struct {
	*Vault

	mu sync.Mutex
	// BeforeEncrypt and BeforeDecrypt run before each service round trip
	BeforeEncrypt func()
	BeforeDecrypt func()
	EncryptErr    error
	DecryptErr    error
	KeypairErr    error

	encryptCalls int
	decryptCalls int
	keypairs     int
}

// NewInstance creates an empty in-memory FHE service
func NewInstance() *Instance {
	return &Instance{Vault: newVault()}
}

// EncryptCalls returns the number of Encrypt round trips
func (i *Instance) EncryptCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.encryptCalls
}

// DecryptCalls returns the number of UserDecrypt round trips
func (i *Instance) DecryptCalls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.decryptCalls
}

// Keypairs returns how many keypairs were generated
func (i *Instance) Keypairs() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.keypairs
}

type input struct {
	inst   *Instance
	values []uint32
}

func (i *Instance) CreateEncryptedInput(_, _ common.Address) fhe.Input {
	return &input{inst: i}
}

func (in *input) Add32(value uint32) fhe.Input {
	in.values = append(in.values, value)
	return in
}

func (in *input) Encrypt(ctx context.Context) (fhe.EncryptedInput, error) {
	in.inst.mu.Lock()
	in.inst.encryptCalls++
	hook, err := in.inst.BeforeEncrypt, in.inst.EncryptErr
	in.inst.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return fhe.EncryptedInput{}, err
	}
	if err := ctx.Err(); err != nil {
		return fhe.EncryptedInput{}, err
	}

	out := fhe.EncryptedInput{InputProof: []byte{0x01, byte(len(in.values))}}
	for _, v := range in.values {
		h := in.inst.Seed(uint64(v))
		var handle [32]byte
		h.FillBytes(handle[:])
		out.Handles = append(out.Handles, handle)
	}
	return out, nil
}

func (i *Instance) GenerateKeypair() (fhe.Keypair, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.KeypairErr != nil {
		return fhe.Keypair{}, i.KeypairErr
	}
	i.keypairs++
	return fhe.Keypair{
		PublicKey:  fmt.Sprintf("0x%064x", i.keypairs),
		PrivateKey: fmt.Sprintf("0x%064x", 1000+i.keypairs),
	}, nil
}

func (i *Instance) CreateEIP712(publicKey string, contracts []common.Address, start int64, days int) apitypes.TypedData {
	return fhe.UserDecryptTypedData(31337, common.Address{}, publicKey, contracts, start, days)
}

func (i *Instance) UserDecrypt(
	ctx context.Context,
	handles []fhe.HandleContractPair,
	_, _, _ string,
	_ []common.Address,
	_ common.Address,
	_ int64,
	_ int,
) (map[string]*big.Int, error) {
	i.mu.Lock()
	i.decryptCalls++
	hook, err := i.BeforeDecrypt, i.DecryptErr
	i.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(map[string]*big.Int, len(handles))
	for _, h := range handles {
		v, ok := i.Lookup(h.Handle)
		if !ok {
			return nil, fmt.Errorf("unknown handle %s", h.Handle)
		}
		out[h.Handle] = v
	}
	return out, nil
}

// RelayerServer is an httptest server speaking the relayer wire protocol
type RelayerServer struct {
	*httptest.Server
	*Vault

	mu       sync.Mutex
	requests map[string]int
	// LastDecrypt is the most recent user-decrypt request body
	LastDecrypt map[string]interface{}
}

// NewRelayerServer starts a fake relayer; call Close when done
func NewRelayerServer() *RelayerServer {
	rs := &RelayerServer{Vault: newVault(), requests: make(map[string]int)}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/input-proof", rs.handleInputProof)
	mux.HandleFunc("/v1/user-decrypt", rs.handleUserDecrypt)
	rs.Server = httptest.NewServer(mux)
	return rs
}

// Requests returns how many times path was hit
func (rs *RelayerServer) Requests(path string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.requests[path]
}

func (rs *RelayerServer) count(path string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.requests[path]++
}

func (rs *RelayerServer) handleInputProof(w http.ResponseWriter, r *http.Request) {
	rs.count(r.URL.Path)

	var req struct {
		Values []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := struct {
		Handles    []string `json:"handles"`
		InputProof string   `json:"inputProof"`
	}{InputProof: "0x0102"}
	for _, v := range req.Values {
		n, ok := new(big.Int).SetString(v.Value, 10)
		if !ok || v.Type != "euint32" {
			http.Error(w, "bad value", http.StatusBadRequest)
			return
		}
		h := rs.Seed(n.Uint64())
		resp.Handles = append(resp.Handles, fmt.Sprintf("0x%064x", h))
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (rs *RelayerServer) handleUserDecrypt(w http.ResponseWriter, r *http.Request) {
	rs.count(r.URL.Path)

	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rs.mu.Lock()
	rs.LastDecrypt = raw
	rs.mu.Unlock()

	pubHex, _ := raw["publicKey"].(string)
	pubRaw, err := hexutil.Decode("0x" + pubHex)
	if err != nil || len(pubRaw) != 32 {
		http.Error(w, "bad public key", http.StatusBadRequest)
		return
	}
	var pub [32]byte
	copy(pub[:], pubRaw)

	type result struct {
		Handle     string `json:"handle"`
		Ciphertext string `json:"ciphertext"`
	}
	var results []result
	pairs, _ := raw["handleContractPairs"].([]interface{})
	for _, p := range pairs {
		pair, _ := p.(map[string]interface{})
		handle, _ := pair["handle"].(string)
		v, ok := rs.Lookup(handle)
		if !ok {
			http.Error(w, "unknown handle "+handle, http.StatusNotFound)
			return
		}
		var plain [32]byte
		v.FillBytes(plain[:])
		sealed, err := box.SealAnonymous(nil, plain[:], &pub, rand.Reader)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		results = append(results, result{Handle: handle, Ciphertext: hexutil.Encode(sealed)})
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": results})
}
