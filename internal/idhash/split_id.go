package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// actionNamespace scopes deterministic corporate action ids.
var actionNamespace = uuid.MustParse("6f1c2a4e-8d3b-5a7f-9c0e-2b4d6f8a1c3e")

// ComputeSplitMint computes the deterministic mint of a split's successor security.
// Formula: base58(SHA256(split|source_mint|ratio))
// The result is 32 bytes and therefore a well-formed address.
func ComputeSplitMint(sourceMint string, ratio int64) string {
	data := fmt.Sprintf("split|%s|%d", sourceMint, ratio)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeSplitActionID computes the corporate action id of a split.
// Formula: UUIDv5(namespace, stock_split|source_mint|ratio)
// Re-running the same split yields the same id so a failed run can be resumed.
func ComputeSplitActionID(sourceMint string, ratio int64) string {
	data := fmt.Sprintf("stock_split|%s|%d", sourceMint, ratio)
	return uuid.NewSHA1(actionNamespace, []byte(data)).String()
}

// MigrationSignature is the pseudo signature that keys balance deltas written
// by a corporate action instead of a ledger transaction.
func MigrationSignature(actionID string) string {
	return "corporate-action:" + actionID
}
