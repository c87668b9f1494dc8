package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/dvloznov/invoice-verifier/internal/domain"
)

const genesisInput = "invoice-verifier-genesis"

// GenesisHash is the PrevHash of the first entry.
func GenesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return fmt.Sprintf("%x", h)
}

// ComputeHash hashes the entry's JSON encoding with Hash left empty.
func ComputeHash(e domain.AuditEntry) string {
	e.Hash = ""
	data, _ := json.Marshal(e)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h)
}

// ChainError describes the first broken link found by VerifyChain.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d: %s", e.Seq, e.Reason)
}

// VerifyChain walks entries in order and checks sequence numbers, links,
// hashes and timestamp ordering. It returns the number of entries checked.
func VerifyChain(entries iter.Seq2[domain.AuditEntry, error]) (int, error) {
	expectedPrev := GenesisHash()
	var prev domain.AuditEntry
	n := 0

	for e, err := range entries {
		if err != nil {
			return n, err
		}
		if e.Seq != prev.Seq+1 {
			return n, &ChainError{Seq: e.Seq, Reason: fmt.Sprintf("sequence gap: expected %d", prev.Seq+1)}
		}
		if e.PrevHash != expectedPrev {
			return n, &ChainError{Seq: e.Seq, Reason: "prev_hash does not match previous entry"}
		}
		if computed := ComputeHash(e); e.Hash != computed {
			return n, &ChainError{Seq: e.Seq, Reason: "hash mismatch"}
		}
		if n > 0 && e.CommittedAt.Before(prev.CommittedAt) {
			return n, &ChainError{Seq: e.Seq, Reason: "commit timestamp goes backwards"}
		}
		expectedPrev = e.Hash
		prev = e
		n++
	}
	return n, nil
}
