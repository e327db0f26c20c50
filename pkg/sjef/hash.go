package sjef

import "hash/fnv"

// fnv64a stands in for the original's std::hash<std::string>: both are
// non-cryptographic string hashes used only for opaque identity/change
// detection (project_hash, input_hash), never for anything
// security-sensitive, so the standard library's FNV-1a is a faithful,
// dependency-free substitute.
func fnv64a(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
