package wcdb

import (
	"crypto/sha1"
	"crypto/sha512"
	"hash"
)

// Layout constants shared by both cipher versions.
const (
	PageSize     = 4096
	SaltSize     = 16
	IVSize       = 16
	KeySize      = 32 // AES-256
	AESBlockSize = 16

	// SQLiteHeader replaces the salt prefix in decrypted output.
	SQLiteHeader = "SQLite format 3\x00"

	// macSaltXor turns the file salt into the HMAC-key salt.
	macSaltXor = 0x3a

	// macKeyIterations is the fixed iteration count for the HMAC key,
	// derived from the cipher key rather than the passphrase.
	macKeyIterations = 2
)

// CipherParams describes one supported page cipher parameter set.
// Instances are immutable; only the two canonical variants below are
// ever constructed.
type CipherParams struct {
	Version       string
	PageSize      int
	SaltSize      int
	IVSize        int
	HMACSize      int
	ReserveSize   int
	KDFIterations int
	Hash          func() hash.Hash
}

// V3Params is the legacy parameter set: PBKDF2-SHA1 with HMAC-SHA1.
// The reserve trailer is rounded up to the AES block size.
func V3Params() CipherParams {
	return CipherParams{
		Version:       "v3",
		PageSize:      PageSize,
		SaltSize:      SaltSize,
		IVSize:        IVSize,
		HMACSize:      sha1.Size,
		ReserveSize:   roundToBlock(IVSize + sha1.Size), // 48
		KDFIterations: 64000,
		Hash:          sha1.New,
	}
}

// V4Params is the current parameter set: PBKDF2-SHA512 with HMAC-SHA512.
func V4Params() CipherParams {
	return CipherParams{
		Version:       "v4",
		PageSize:      PageSize,
		SaltSize:      SaltSize,
		IVSize:        IVSize,
		HMACSize:      sha512.Size,
		ReserveSize:   IVSize + sha512.Size, // 80, already block aligned
		KDFIterations: 256000,
		Hash:          sha512.New,
	}
}

// Candidates returns the parameter sets in detection priority order.
func Candidates() []CipherParams {
	return []CipherParams{V3Params(), V4Params()}
}

func roundToBlock(n int) int {
	if n%AESBlockSize == 0 {
		return n
	}
	return ((n / AESBlockSize) + 1) * AESBlockSize
}
