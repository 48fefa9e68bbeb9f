package util

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ContentHash returns a fast non-cryptographic digest of file content.
// Registries compare it to decide whether a change notification carries
// new bytes; collisions only cost a stale skip, so xxhash64 is plenty.
func ContentHash(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}
