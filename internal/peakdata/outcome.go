package peakdata

import "errors"

// Outcome describes how a flow ended when it did not return an error
type Outcome int

const (
	// OutcomeCompleted means the flow ran to the end and committed its results
	OutcomeCompleted Outcome = iota
	// OutcomeBusy means another call of the same flow was in flight; nothing happened
	OutcomeBusy
	// OutcomeStale means chain, contract or signer changed mid-flight; results were discarded
	OutcomeStale
	// OutcomeFailed means the flow recorded a diagnostic and gave up
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeBusy:
		return "busy"
	case OutcomeStale:
		return "stale"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Precondition failures. They are returned before any network call.
var (
	ErrNotDeployed          = errors.New("contract not deployed on this network")
	ErrInstanceNotReady     = errors.New("FHEVM instance not ready, please wait for initialization")
	ErrSignerUnavailable    = errors.New("wallet signer not available, please connect your wallet")
	ErrSignatureUnavailable = errors.New("unable to build FHEVM decryption signature")
)

// Diagnostic messages shown to the user
const (
	msgNotDeployed        = "Contract not deployed on this network"
	msgInstanceNotReady   = "FHEVM instance not ready. Please wait for initialization."
	msgSignerUnavailable  = "Wallet signer not available. Please connect your wallet."
	msgSignatureFailed    = "Unable to build FHEVM decryption signature"
	msgStale              = "Operation cancelled - context changed"
	msgDeploymentNotFound = "SecurePeakData deployment not found for chainId=%d."
	msgFetchFailed        = "Failed to fetch records: %v"
	msgCreateFailed       = "Failed to create record: %v"
	msgDecryptFailed      = "Failed to decrypt record: %v"
	msgUpdateFailed       = "Failed to update record: %v"
	msgGrantFailed        = "Failed to grant access: %v"
	msgCreating           = "Creating encrypted record..."
	msgSending            = "Sending transaction..."
	msgWaiting            = "Waiting for tx: %s..."
	msgCreated            = "Record created! Status: %d"
	msgDecrypting         = "Decrypting record..."
	msgDecryptingValues   = "Decrypting values..."
	msgDecrypted          = "Record decrypted successfully!"
	msgUpdating           = "Updating encrypted record..."
	msgUpdated            = "Record updated! Status: %d"
	msgGranting           = "Granting access..."
	msgGranted            = "Access granted! Status: %d"
)

// preconditionMessage maps a sentinel error to its user-facing diagnostic
func preconditionMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotDeployed):
		return msgNotDeployed
	case errors.Is(err, ErrInstanceNotReady):
		return msgInstanceNotReady
	case errors.Is(err, ErrSignerUnavailable):
		return msgSignerUnavailable
	case errors.Is(err, ErrSignatureUnavailable):
		return msgSignatureFailed
	}
	return err.Error()
}
