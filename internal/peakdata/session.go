// Package peakdata owns the client-side view of a SecurePeakData deployment:
// the record list, its chart data and the refresh, create, decrypt and update
// flows that keep them in sync with the chain.
package peakdata

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/fhe"
	"github.com/jgoulah/securepeak/pkg/models"
)

const (
	displayTimeLayout = "2006-01-02 15:04"
	graphTimeLayout   = "15:04"
)

// Signer signs transactions and decryption requests for one account
type Signer interface {
	contract.TxSigner
	fhe.TypedDataSigner
}

// PlaintextCache persists decrypted values across sessions. *database.DB satisfies it.
type PlaintextCache interface {
	SaveDecrypted(r *models.DecryptedReading) error
	DeleteDecrypted(chainID uint64, contract string, recordID uint64) error
	ListDecrypted(chainID uint64, contract string) ([]models.DecryptedReading, error)
}

// Options configures a Session
type Options struct {
	Backend        contract.Backend
	Instance       fhe.Instance
	Signer         Signer
	Storage        fhe.StringStorage
	Cache          PlaintextCache
	Deployments    contract.Deployments
	DecryptionDays int
	ReceiptPoll    time.Duration
	Location       *time.Location
	Logger         zerolog.Logger
}

// Status is a snapshot of the session for display
type Status struct {
	ChainID      uint64          `json:"chain_id"`
	ChainName    string          `json:"chain_name,omitempty"`
	Contract     *common.Address `json:"contract"`
	Deployed     bool            `json:"deployed"`
	Signer       *common.Address `json:"signer"`
	InstanceUp   bool            `json:"instance_ready"`
	Refreshing   bool            `json:"refreshing"`
	Creating     bool            `json:"creating"`
	Decrypting   bool            `json:"decrypting"`
	Updating     bool            `json:"updating"`
	Message      string          `json:"message"`
	RecordCount  int             `json:"record_count"`
	DecryptCount int             `json:"decrypted_count"`
}

// Session holds the shared state read by the CLI and API and mutated by the flows.
// Flows never hold mu across a network call.
type Session struct {
	mu         sync.RWMutex
	chainID    uint64
	descriptor contract.Descriptor
	backend    contract.Backend
	instance   fhe.Instance
	signer     Signer
	records    []models.ConsumptionRecord
	graph      []models.ConsumptionDataPoint
	message    string

	refreshing atomic.Bool
	creating   atomic.Bool
	decrypting atomic.Bool
	updating   atomic.Bool

	deployments    contract.Deployments
	storage        fhe.StringStorage
	cache          PlaintextCache
	decryptionDays int
	receiptPoll    time.Duration
	loc            *time.Location
	log            zerolog.Logger
}

// NewSession creates a session bound to chainID (0 when unknown)
func NewSession(chainID uint64, opts Options) *Session {
	deployments := opts.Deployments
	if deployments == nil {
		deployments = contract.DefaultDeployments
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	poll := opts.ReceiptPoll
	if poll <= 0 {
		poll = time.Second
	}

	s := &Session{
		backend:        opts.Backend,
		instance:       opts.Instance,
		signer:         opts.Signer,
		deployments:    deployments,
		storage:        opts.Storage,
		cache:          opts.Cache,
		decryptionDays: opts.DecryptionDays,
		receiptPoll:    poll,
		loc:            loc,
		log:            opts.Logger.With().Str("component", "peakdata").Logger(),
	}
	s.SwitchChain(chainID)
	return s
}

// SwitchChain re-resolves the contract descriptor for chainID. Records of the
// previous deployment are dropped; callers refresh afterwards.
func (s *Session) SwitchChain(chainID uint64) {
	d := contract.Resolve(chainID, s.deployments)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.chainID == chainID && s.descriptor.ABI.Methods != nil {
		return
	}
	s.chainID = chainID
	s.descriptor = d
	s.records = nil
	s.graph = nil
	s.message = ""
	if !d.IsDeployed() && chainID != 0 {
		s.message = fmt.Sprintf(msgDeploymentNotFound, chainID)
	}
	s.log.Info().Uint64("chain_id", chainID).Bool("deployed", d.IsDeployed()).Msg("active chain changed")
}

// SetBackend replaces the RPC provider
func (s *Session) SetBackend(b contract.Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backend = b
}

// SetInstance replaces the FHE instance; nil marks it as not ready
func (s *Session) SetInstance(inst fhe.Instance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instance = inst
}

// SetSigner connects or (with nil) disconnects the wallet signer
func (s *Session) SetSigner(signer Signer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signer = signer
}

// ChainID returns the active chain
func (s *Session) ChainID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

// Descriptor returns the resolved contract descriptor of the active chain
func (s *Session) Descriptor() contract.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.descriptor
}

// IsDeployed reports whether the active chain has a usable deployment
func (s *Session) IsDeployed() bool {
	return s.Descriptor().IsDeployed()
}

// Records returns a copy of the current record list
func (s *Session) Records() []models.ConsumptionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ConsumptionRecord(nil), s.records...)
}

// RecordsOf returns copies of the records whose ids are in ids, in list order
func (s *Session) RecordsOf(ids []uint64) []models.ConsumptionRecord {
	keep := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ConsumptionRecord, 0, len(ids))
	for _, r := range s.records {
		if _, ok := keep[r.ID]; ok {
			out = append(out, r)
		}
	}
	return out
}

// GraphData returns a copy of the chart points
func (s *Session) GraphData() []models.ConsumptionDataPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ConsumptionDataPoint(nil), s.graph...)
}

// Message returns the latest diagnostic
func (s *Session) Message() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.message
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		ChainID:     s.chainID,
		ChainName:   s.descriptor.ChainName,
		Contract:    s.descriptor.Address,
		Deployed:    s.descriptor.IsDeployed(),
		InstanceUp:  s.instance != nil,
		Refreshing:  s.refreshing.Load(),
		Creating:    s.creating.Load(),
		Decrypting:  s.decrypting.Load(),
		Updating:    s.updating.Load(),
		Message:     s.message,
		RecordCount: len(s.records),
	}
	if s.signer != nil {
		addr := s.signer.Address()
		st.Signer = &addr
	}
	for _, r := range s.records {
		if r.IsDecrypted {
			st.DecryptCount++
		}
	}
	return st
}

func (s *Session) setMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// flowContext is what a flow captured at entry; it is compared against the
// live session after every suspension point.
type flowContext struct {
	chainID    uint64
	descriptor contract.Descriptor
	backend    contract.Backend
	instance   fhe.Instance
	signer     Signer
}

func (s *Session) capture() flowContext {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return flowContext{
		chainID:    s.chainID,
		descriptor: s.descriptor,
		backend:    s.backend,
		instance:   s.instance,
		signer:     s.signer,
	}
}

// isStale reports whether the active chain, contract address or signer
// differ from those captured in fc
func (s *Session) isStale(fc flowContext) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.chainID != fc.chainID {
		return true
	}
	if !sameAddress(s.descriptor.Address, fc.descriptor.Address) {
		return true
	}
	return !sameSigner(s.signer, fc.signer)
}

func sameAddress(a, b *common.Address) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameSigner(a, b Signer) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Address() == b.Address()
}

// checkWritable validates the preconditions shared by create, decrypt and update
func (fc flowContext) checkWritable() error {
	if !fc.descriptor.IsDeployed() {
		return ErrNotDeployed
	}
	if fc.instance == nil {
		return ErrInstanceNotReady
	}
	if fc.signer == nil || fc.backend == nil {
		return ErrSignerUnavailable
	}
	return nil
}

func (s *Session) formatTimestamp(t time.Time) string {
	return t.In(s.loc).Format(displayTimeLayout)
}

func (s *Session) formatGraphTime(t time.Time) string {
	return t.In(s.loc).Format(graphTimeLayout)
}
