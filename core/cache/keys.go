package cache

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Key sections for the per-query memo entries.
const (
	SectionAnalysis  = "analysis"
	SectionEmbedding = "embedding"
	SectionResults   = "results"
)

// HashHex collapses the given parts into a short hex fingerprint. FNV-1a is
// enough here: keys are namespaced and collisions only cost a stale-miss.
func HashHex(parts ...string) string {
	h := fnv.New64a()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// QueryKey builds the cross-instance key for one query+filters memo section:
// query:{hex(hash(query+filters))}:{analysis|embedding|results}.
func QueryKey(queryHash, section string) string {
	return strings.Join([]string{"query", queryHash, section}, ":")
}
