package media

import "bytes"

// signature pairs a container extension with its leading magic bytes.
type signature struct {
	ext   string
	magic []byte
}

// Known media container signatures, checked against decoded prefixes.
// The shortest prefix that uniquely identifies the container is enough;
// decoding is verified structurally, never guessed.
var signatures = []signature{
	{".jpg", []byte{0xFF, 0xD8}},
	{".png", []byte{0x89, 0x50, 0x4E, 0x47}},
	{".gif", []byte("GIF87a")},
	{".gif", []byte("GIF89a")},
	{".bmp", []byte("BM")},
	{".tif", []byte{0x49, 0x49, 0x2A, 0x00}},
	{".tif", []byte{0x4D, 0x4D, 0x00, 0x2A}},
}

// MaxSignatureLen is the longest prefix any signature needs.
const MaxSignatureLen = 6

// MatchSignature reports the container extension whose magic bytes
// prefix b, or false when none match.
func MatchSignature(b []byte) (string, bool) {
	for _, sig := range signatures {
		if len(b) >= len(sig.magic) && bytes.Equal(b[:len(sig.magic)], sig.magic) {
			return sig.ext, true
		}
	}
	return "", false
}
