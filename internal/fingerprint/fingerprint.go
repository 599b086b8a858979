package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint is a deterministic content-derived identity, hex encoded.
type Fingerprint string

// File digests raw file content. Filename and upload time are deliberately
// excluded so re-uploading identical bytes under a different name still
// deduplicates.
func File(content []byte) Fingerprint {
	sum := sha256.Sum256(content)
	return Fingerprint(hex.EncodeToString(sum[:]))
}

// Set derives the identity of a file set from its member fingerprints. The
// input is treated as a set: duplicates are dropped and order is ignored, so
// any permutation of the same files hashes identically.
func Set(fps []Fingerprint) Fingerprint {
	uniq := make(map[Fingerprint]struct{}, len(fps))
	for _, fp := range fps {
		uniq[fp] = struct{}{}
	}
	members := make([]string, 0, len(uniq))
	for fp := range uniq {
		members = append(members, string(fp))
	}
	sort.Strings(members)

	sum := sha256.Sum256([]byte(strings.Join(members, "\n")))
	return Fingerprint(hex.EncodeToString(sum[:]))
}
