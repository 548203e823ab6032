package utils

import (
	"github.com/ethereum/go-ethereum/crypto"
)

// Keccak256 returns the 0x-prefixed hex keccak256 of s.
func Keccak256(s string) string {
	return crypto.Keccak256Hash([]byte(s)).Hex()
}
