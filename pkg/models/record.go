package models

import "time"

// EncryptedPlaceholder is shown in place of a consumption value that has not been decrypted
const EncryptedPlaceholder = "******"

// Reasons attached to records depending on their decryption state
const (
	ReasonEncrypted = "Encrypted data"
	ReasonDecrypted = "Decrypted data"
)

// ConsumptionRecord represents a single on-chain consumption entry as seen by this client
type ConsumptionRecord struct {
	ID          uint64    `json:"id"`
	Timestamp   string    `json:"timestamp"`   // Local "2006-01-02 15:04"
	RecordedAt  time.Time `json:"recorded_at"` // On-chain block time
	Submitter   string    `json:"submitter,omitempty"`
	Consumption any       `json:"consumption"` // uint32 once decrypted, placeholder string otherwise
	Peak        bool      `json:"peak"`
	Reason      string    `json:"reason"`
	Encrypted   bool      `json:"encrypted"`
	IsDecrypted bool      `json:"is_decrypted"`
}

// ConsumptionKWh returns the plaintext consumption and whether it is known
func (r ConsumptionRecord) ConsumptionKWh() (uint32, bool) {
	v, ok := r.Consumption.(uint32)
	return v, ok
}

// ConsumptionDataPoint is a chart point derived 1:1 from a ConsumptionRecord
type ConsumptionDataPoint struct {
	RecordID    uint64 `json:"record_id"`
	Time        string `json:"time"` // "15:04"
	Consumption uint32 `json:"consumption"`
	Encrypted   bool   `json:"encrypted"`
}

// DecryptedReading is a persisted plaintext for one record
type DecryptedReading struct {
	ChainID     uint64    `json:"chain_id"`
	Contract    string    `json:"contract"`
	RecordID    uint64    `json:"record_id"`
	Consumption uint32    `json:"consumption"`
	Peak        bool      `json:"peak"`
	RecordedAt  time.Time `json:"recorded_at"`
	DecryptedAt time.Time `json:"decrypted_at"`
	Published   bool      `json:"published"`
}
