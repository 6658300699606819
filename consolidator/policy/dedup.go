package policy

import (
	"strings"

	"github.com/pannadata/consolidator/dataset"
)

const keySeparator = "\x1f"

// IdentityOf renders the identity of record i of b under key.
func IdentityOf(b *dataset.Batch, i int, key []string) string {
	parts := make([]string, len(key))
	for j, f := range key {
		parts[j] = dataset.FormatValue(b.Value(i, f))
	}
	return strings.Join(parts, keySeparator)
}

// Dedup keeps one record per identity key. Survivors keep the position of
// the occurrence the tie-break picks, so the relative order of distinct
// identities is stable. An empty key keeps every record.
func Dedup(b *dataset.Batch, key []string, tb TieBreak) (out *dataset.Batch, removed int) {
	if len(key) == 0 || b.Len() == 0 {
		return b, 0
	}

	winner := make(map[string]int, b.Len())
	identities := make([]string, b.Len())
	for i := 0; i < b.Len(); i++ {
		id := IdentityOf(b, i, key)
		identities[i] = id
		if _, seen := winner[id]; seen && tb == KeepFirst {
			continue
		}
		winner[id] = i
	}

	keep := make([]int, 0, len(winner))
	for i, id := range identities {
		if winner[id] == i {
			keep = append(keep, i)
		}
	}
	return b.Subset(keep), b.Len() - len(keep)
}
