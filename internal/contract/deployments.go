package contract

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Deployment is a SecurePeakData address on one chain
type Deployment struct {
	Address   common.Address
	ChainID   uint64
	ChainName string
}

// Deployments maps a chain id to its deployment
type Deployments map[uint64]Deployment

// DefaultDeployments is the static chain-to-deployment table. A zero address
// means the contract is known for that chain but not deployed there yet.
var DefaultDeployments = Deployments{
	31337: {
		Address:   common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		ChainID:   31337,
		ChainName: "hardhat",
	},
	11155111: {
		Address:   common.Address{},
		ChainID:   11155111,
		ChainName: "sepolia",
	},
}

// Merge returns a copy of d with overrides applied on top
func (d Deployments) Merge(overrides Deployments) Deployments {
	merged := make(Deployments, len(d)+len(overrides))
	for id, dep := range d {
		merged[id] = dep
	}
	for id, dep := range overrides {
		merged[id] = dep
	}
	return merged
}

// Descriptor is the resolved contract information for one chain.
// Address is nil when no usable deployment exists; callers must check it
// before issuing any contract call.
type Descriptor struct {
	ABI       abi.ABI
	Address   *common.Address
	ChainID   uint64
	ChainName string
}

// IsDeployed reports whether the descriptor points at a non-zero address
func (d Descriptor) IsDeployed() bool {
	return d.Address != nil && *d.Address != (common.Address{})
}

// Resolve maps chainID (0 when unknown) to a descriptor using table. It never
// fails: a missing entry or a zero address yields a descriptor without address.
func Resolve(chainID uint64, table Deployments) Descriptor {
	if chainID == 0 {
		return Descriptor{ABI: parsedABI}
	}

	entry, ok := table[chainID]
	if !ok || entry.Address == (common.Address{}) {
		return Descriptor{ABI: parsedABI, ChainID: chainID}
	}

	addr := entry.Address
	resolvedChain := entry.ChainID
	if resolvedChain == 0 {
		resolvedChain = chainID
	}
	return Descriptor{
		ABI:       parsedABI,
		Address:   &addr,
		ChainID:   resolvedChain,
		ChainName: entry.ChainName,
	}
}
