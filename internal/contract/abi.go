package contract

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// SecurePeakDataABIJSON is the interface of the SecurePeakData contract.
// euint32/ebool handles are ABI-encoded as uint256, external inputs as bytes32.
const SecurePeakDataABIJSON = `[
	{"type":"function","name":"getRecordCount","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getUserRecordIds","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"getRecordConsumption","stateMutability":"view",
	 "inputs":[{"name":"recordId","type":"uint256"}],
	 "outputs":[{"internalType":"euint32","name":"","type":"uint256"}]},
	{"type":"function","name":"getRecordIsPeak","stateMutability":"view",
	 "inputs":[{"name":"recordId","type":"uint256"}],
	 "outputs":[{"internalType":"ebool","name":"","type":"uint256"}]},
	{"type":"function","name":"getRecordMetadata","stateMutability":"view",
	 "inputs":[{"name":"recordId","type":"uint256"}],
	 "outputs":[
		{"name":"timestamp","type":"uint256"},
		{"name":"submitter","type":"address"},
		{"name":"exists","type":"bool"}]},
	{"type":"function","name":"createRecord","stateMutability":"nonpayable",
	 "inputs":[
		{"internalType":"externalEuint32","name":"encryptedConsumption","type":"bytes32"},
		{"name":"consumptionProof","type":"bytes"},
		{"internalType":"externalEuint32","name":"encryptedIsPeak","type":"bytes32"},
		{"name":"isPeakProof","type":"bytes"}],
	 "outputs":[{"name":"recordId","type":"uint256"}]},
	{"type":"function","name":"updateConsumption","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"recordId","type":"uint256"},
		{"internalType":"externalEuint32","name":"encryptedConsumption","type":"bytes32"},
		{"name":"consumptionProof","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"updateIsPeak","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"recordId","type":"uint256"},
		{"internalType":"externalEuint32","name":"encryptedIsPeak","type":"bytes32"},
		{"name":"isPeakProof","type":"bytes"}],
	 "outputs":[]},
	{"type":"function","name":"grantAccess","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"recordId","type":"uint256"},
		{"name":"auditor","type":"address"}],
	 "outputs":[]},
	{"type":"event","name":"RecordCreated","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"recordId","type":"uint256"},
		{"indexed":true,"name":"submitter","type":"address"},
		{"indexed":false,"name":"timestamp","type":"uint256"}]},
	{"type":"event","name":"RecordUpdated","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"recordId","type":"uint256"},
		{"indexed":true,"name":"updater","type":"address"},
		{"indexed":false,"name":"timestamp","type":"uint256"}]}
]`

// Method and event names used by this client
const (
	MethodGetRecordCount       = "getRecordCount"
	MethodGetUserRecordIDs     = "getUserRecordIds"
	MethodGetRecordConsumption = "getRecordConsumption"
	MethodGetRecordIsPeak      = "getRecordIsPeak"
	MethodGetRecordMetadata    = "getRecordMetadata"
	MethodCreateRecord         = "createRecord"
	MethodUpdateConsumption    = "updateConsumption"
	MethodUpdateIsPeak         = "updateIsPeak"
	MethodGrantAccess          = "grantAccess"

	EventRecordCreated = "RecordCreated"
	EventRecordUpdated = "RecordUpdated"
)

var parsedABI abi.ABI

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(SecurePeakDataABIJSON))
	if err != nil {
		panic(fmt.Sprintf("parsing SecurePeakData ABI: %v", err))
	}
}

// ABI returns the parsed SecurePeakData ABI
func ABI() abi.ABI {
	return parsedABI
}
