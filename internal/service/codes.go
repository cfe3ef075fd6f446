package service

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	defaultCodeDigits = 4
	maxCodeDigits     = 9
	maxCodeDraws      = 16
)

// codePair draws two distinct n-digit codes with no leading zero.
func codePair(random io.Reader, digits int) (string, string, error) {
	if digits < 2 || digits > maxCodeDigits {
		return "", "", fmt.Errorf("code length must be between 2 and %d digits, got %d", maxCodeDigits, digits)
	}

	low := int64(1)
	for i := 1; i < digits; i++ {
		low *= 10
	}
	span := big.NewInt(low*10 - low)

	draw := func() (string, error) {
		n, err := rand.Int(random, span)
		if err != nil {
			return "", fmt.Errorf("failed to draw feedback code: %w", err)
		}
		return fmt.Sprintf("%d", n.Int64()+low), nil
	}

	happy, err := draw()
	if err != nil {
		return "", "", err
	}
	for i := 0; i < maxCodeDraws; i++ {
		unhappy, err := draw()
		if err != nil {
			return "", "", err
		}
		if unhappy != happy {
			return happy, unhappy, nil
		}
	}
	return "", "", fmt.Errorf("failed to draw two distinct feedback codes")
}
