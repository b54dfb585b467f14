package httpapi

import (
	"errors"
	"fmt"
	"strings"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// Base58 account keys encode 32 bytes in 32 to 44 characters.
const (
	minAddressLen = 32
	maxAddressLen = 44
)

var errEmptyAddress = errors.New("address is required")

// ValidateAddress checks that s looks like a base58 account key.
func ValidateAddress(s string) error {
	if s == "" {
		return errEmptyAddress
	}
	if len(s) < minAddressLen || len(s) > maxAddressLen {
		return fmt.Errorf("address %q: length %d outside %d-%d", s, len(s), minAddressLen, maxAddressLen)
	}
	for i, r := range s {
		if !strings.ContainsRune(base58Alphabet, r) {
			return fmt.Errorf("address %q: invalid base58 character %q at %d", s, r, i)
		}
	}
	return nil
}
