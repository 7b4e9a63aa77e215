package hash

const (
	// FNVOffset64 is the 64-bit FNV offset basis.
	FNVOffset64 uint64 = 14695981039346656037
	// FNVPrime64 is the 64-bit FNV prime.
	FNVPrime64 uint64 = 1099511628211
)

// FNV1a64 returns the 64-bit FNV-1a hash of data.
func FNV1a64(data []byte) uint64 {
	return FNV1a64Continue(FNVOffset64, data)
}

// FNV1a64Continue folds data into a running FNV-1a state h.
func FNV1a64Continue(h uint64, data []byte) uint64 {
	for _, b := range data {
		h ^= uint64(b)
		h *= FNVPrime64
	}
	return h
}
