package contract

import (
	"fmt"
	"math/big"
)

// HandleHex renders a ciphertext handle as 0x followed by 64 lowercase hex
// digits (32-byte big-endian), the encoding the decryption service expects.
func HandleHex(h *big.Int) string {
	if h == nil {
		return fmt.Sprintf("0x%064x", 0)
	}
	return fmt.Sprintf("0x%064x", h)
}
