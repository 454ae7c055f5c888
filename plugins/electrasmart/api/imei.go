package api

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const imeiPrefix = "2b950000"

// GenerateIMEI returns a device identifier for the OTP handshake: a fixed
// prefix followed by eight random digits.
func GenerateIMEI() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100_000_000))
	if err != nil {
		return "", fmt.Errorf("generate imei: %w", err)
	}
	return fmt.Sprintf("%s%08d", imeiPrefix, n.Int64()), nil
}
