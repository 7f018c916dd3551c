package reasoning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
)

// GenesisHash seeds the per-workspace trace chain.
const GenesisHash = "genesis"

// ChainHash computes the entry hash for a trace given the previous entry's
// hash. The digest covers the previous hash and the entry body, so any
// retroactive edit or reorder of the trail breaks verification.
func ChainHash(prevHash string, tr ReasoningTrace) string {
	meta, _ := json.Marshal(tr.Metadata)
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte{0})
	h.Write([]byte(tr.WorkspaceID))
	h.Write([]byte{0})
	h.Write([]byte(tr.Step))
	h.Write([]byte{0})
	h.Write([]byte(tr.Explanation))
	h.Write([]byte{0})
	h.Write(meta)
	h.Write([]byte{0})
	h.Write([]byte(tr.CreatedBy))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(tr.CreatedAt.UTC().UnixNano(), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain recomputes the hash chain over traces in insertion order and
// reports the first broken link, if any.
func VerifyChain(traces []ReasoningTrace) error {
	prev := GenesisHash
	for i, tr := range traces {
		if tr.PrevHash != prev {
			return fmt.Errorf("trace %d (%s): prev hash mismatch", i, tr.ID)
		}
		if got := ChainHash(prev, tr); got != tr.EntryHash {
			return fmt.Errorf("trace %d (%s): entry hash mismatch", i, tr.ID)
		}
		prev = tr.EntryHash
	}
	return nil
}
