package checkout

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"time"
)

var numberEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// OrderNumber renders MRC-<yyyymmdd>-<6 random base32 chars>.
func OrderNumber(now time.Time) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("order number entropy: %w", err)
	}
	return fmt.Sprintf("MRC-%s-%s", now.UTC().Format("20060102"), numberEncoding.EncodeToString(buf)[:6]), nil
}

// SubOrderNumber appends the 1-based seller index to the order number.
func SubOrderNumber(orderNumber string, n int) string {
	return fmt.Sprintf("%s-%d", orderNumber, n)
}
