package invoices

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// uidLength is the random suffix length of an invoice uid. Twelve base58
// characters give ~70 bits of entropy, collision-resistant well past 10^14
// invoices.
const uidLength = 12

// NewUID generates an invoice uid of the form "inv_<12 base58 chars>".
func NewUID() (string, error) {
	// 16 bytes encode to at least 21 base58 characters
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate uid: %w", err)
	}
	return "inv_" + base58.Encode(buf)[:uidLength], nil
}
