package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"

	"captable-indexer/internal/domain"
)

// PublicKeySize is the length of a decoded Solana address.
const PublicKeySize = 32

// PDA seed prefixes used by the gated token program.
const (
	SeedTokenConfig = "token_config"
	SeedAllowlist   = "allowlist"
)

// DecodePublicKey decodes a base58 address and checks its length.
func DecodePublicKey(addr string) ([]byte, error) {
	if addr == "" {
		return nil, domain.Validationf("empty address")
	}
	b, err := base58.Decode(addr)
	if err != nil {
		return nil, domain.Validationf("address %q is not base58: %v", addr, err)
	}
	if len(b) != PublicKeySize {
		return nil, domain.Validationf("address %q decodes to %d bytes, want %d", addr, len(b), PublicKeySize)
	}
	return b, nil
}

// ValidatePublicKey reports whether addr is a well-formed Solana address.
func ValidatePublicKey(addr string) error {
	_, err := DecodePublicKey(addr)
	return err
}

// FindProgramAddress derives a Program Derived Address and its bump seed.
func FindProgramAddress(seeds [][]byte, programID string) (string, uint8, error) {
	program, err := DecodePublicKey(programID)
	if err != nil {
		return "", 0, err
	}

	// Try bumps from 255 down; the first hash off the ed25519 curve wins.
	for bump := 255; bump >= 0; bump-- {
		h := sha256.New()
		for _, seed := range seeds {
			h.Write(seed)
		}
		h.Write([]byte{byte(bump)})
		h.Write(program)
		h.Write([]byte("ProgramDerivedAddress"))
		sum := h.Sum(nil)

		if !isOnCurve(sum) {
			return base58.Encode(sum), uint8(bump), nil
		}
	}
	return "", 0, fmt.Errorf("no viable bump seed for program %s", programID)
}

// TokenConfigAddress derives the token_config PDA of a security.
func TokenConfigAddress(programID, mint string) (string, error) {
	m, err := DecodePublicKey(mint)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{[]byte(SeedTokenConfig), m}, programID)
	return addr, err
}

// AllowlistAddress derives the allowlist entry PDA of a wallet.
func AllowlistAddress(programID, mint, wallet string) (string, error) {
	m, err := DecodePublicKey(mint)
	if err != nil {
		return "", err
	}
	w, err := DecodePublicKey(wallet)
	if err != nil {
		return "", err
	}
	addr, _, err := FindProgramAddress([][]byte{[]byte(SeedAllowlist), m, w}, programID)
	return addr, err
}

func isOnCurve(point []byte) bool {
	if len(point) != PublicKeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}
