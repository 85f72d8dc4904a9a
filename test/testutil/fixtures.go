// Package testutil builds encrypted test fixtures by running the
// container formats forward: page-cipher databases and obfuscated media
// files that the production code can decrypt back.
package testutil

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ycccccccy/echotrace-sub001/internal/events"
	"github.com/ycccccccy/echotrace-sub001/internal/wcdb"
)

// TestLogger returns a quiet logger for tests.
func TestLogger() *events.Logger {
	return events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
}

// PlainDatabase builds deterministic plaintext content of totalPages
// pages, starting with the SQLite signature. The body is pseudo-random
// from seed so round trips are checkable byte for byte.
func PlainDatabase(totalPages int, seed int64) []byte {
	plain := make([]byte, totalPages*wcdb.PageSize)
	rng := rand.New(rand.NewSource(seed))
	rng.Read(plain)
	copy(plain, []byte(wcdb.SQLiteHeader))
	return plain
}

// EncryptDatabase runs the page cipher forward over plaintext produced
// by PlainDatabase, yielding a file image the decryptor must reverse.
// The reserve trailer of each page carries the IV and authentication
// tag; the decryptor preserves trailers, so round-trip comparisons use
// PlainBody on both sides.
func EncryptDatabase(t *testing.T, plain []byte, passphrase string, salt []byte, params wcdb.CipherParams) []byte {
	t.Helper()

	require.Equal(t, 0, len(plain)%wcdb.PageSize, "plaintext must be page aligned")
	require.Len(t, salt, wcdb.SaltSize)

	secret, err := wcdb.NormalizeSecret(passphrase)
	require.NoError(t, err)

	keys := wcdb.DeriveKeys(secret, salt, params)
	defer keys.Zero()

	block, err := aes.NewCipher(keys.Enc)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(int64(len(plain))))
	totalPages := len(plain) / wcdb.PageSize
	out := make([]byte, 0, len(plain))

	for pageNo := 1; pageNo <= totalPages; pageNo++ {
		pageStart := (pageNo - 1) * wcdb.PageSize
		offset := 0
		if pageNo == 1 {
			offset = wcdb.SaltSize
		}

		body := plain[pageStart+offset : pageStart+wcdb.PageSize-params.ReserveSize]

		iv := make([]byte, wcdb.IVSize)
		rng.Read(iv)

		encrypted := make([]byte, len(body))
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, body)

		page := make([]byte, 0, wcdb.PageSize)
		if pageNo == 1 {
			page = append(page, salt...)
		}
		page = append(page, encrypted...)
		page = append(page, iv...)

		mac := hmac.New(params.Hash, keys.MAC)
		mac.Write(encrypted)
		mac.Write(iv)
		var pageNoLE [4]byte
		binary.LittleEndian.PutUint32(pageNoLE[:], uint32(pageNo))
		mac.Write(pageNoLE[:])
		page = append(page, mac.Sum(nil)...)

		// Pad the trailer out to the full reserve size.
		page = append(page, make([]byte, wcdb.PageSize-len(page))...)
		out = append(out, page...)
	}

	return out
}

// PlainBody strips the reserve trailer regions (and the 16-byte header
// area of page 1) from page-aligned content, leaving only the bytes the
// cipher covers. Apply to both sides of a round-trip comparison.
func PlainBody(content []byte, params wcdb.CipherParams) []byte {
	var body []byte
	totalPages := len(content) / wcdb.PageSize

	for pageNo := 1; pageNo <= totalPages; pageNo++ {
		pageStart := (pageNo - 1) * wcdb.PageSize
		offset := 0
		if pageNo == 1 {
			offset = wcdb.SaltSize
		}
		body = append(body, content[pageStart+offset:pageStart+wcdb.PageSize-params.ReserveSize]...)
	}

	return body
}

// WriteFile drops content into dir under name and returns the path.
func WriteFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path
}

// EncodeSubstitution obfuscates data with the repeating XOR key, the
// single-stage media cache format.
func EncodeSubstitution(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}

// EncodeLayered obfuscates data with the two-stage format: substitution
// first, then AES-CBC under the batch IV derived from the block key.
func EncodeLayered(t *testing.T, data, xorKey, aesKey []byte) []byte {
	t.Helper()

	substituted := EncodeSubstitution(data, xorKey)

	pad := aes.BlockSize - len(substituted)%aes.BlockSize
	padded := append(substituted, bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(aesKey)
	require.NoError(t, err)

	sum := sha256.Sum256(aesKey)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, sum[:aes.BlockSize]).CryptBlocks(out, padded)
	return out
}

// JPEGStub returns bytes that look like a small JPEG.
func JPEGStub(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	data[0], data[1] = 0xFF, 0xD8
	return data
}

// PNGStub returns bytes that look like a small PNG.
func PNGStub(size int) []byte {
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	copy(data, []byte{0x89, 0x50, 0x4E, 0x47})
	return data
}
