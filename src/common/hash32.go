package common

import "hash/fnv"

// Hash32 returns the fnv-1a 32-bit hash of data. It is used to derive compact
// node identifiers from public keys.
func Hash32(data []byte) uint32 {
	h := fnv.New32a()

	h.Write(data)

	return h.Sum32()
}
