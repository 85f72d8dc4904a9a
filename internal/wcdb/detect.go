package wcdb

import (
	"bytes"
	"crypto/hmac"
	"encoding/binary"
	"fmt"

	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

// IsPlaintext reports whether the page already carries the SQLite
// container signature, meaning the file needs no decryption.
func IsPlaintext(page []byte) bool {
	return len(page) >= len(SQLiteHeader) &&
		bytes.Equal(page[:len(SQLiteHeader)], []byte(SQLiteHeader))
}

// Detect trial-verifies the first page under each candidate parameter
// set and returns the one whose authentication tag matches, along with
// the key set derived for it. Detection depends only on the first page.
//
// The caller owns the returned KeySet and must Zero it. Key sets for
// losing candidates are zeroed here.
func Detect(page1, secret []byte) (CipherParams, KeySet, error) {
	if len(page1) < PageSize {
		return CipherParams{}, KeySet{}, fmt.Errorf("first page truncated: %d bytes", len(page1))
	}

	salt := page1[:SaltSize]

	for _, params := range Candidates() {
		keys := DeriveKeys(secret, salt, params)
		if verifyPage(page1, 1, keys.MAC, params) {
			return params, keys, nil
		}
		keys.Zero()
	}

	return CipherParams{}, KeySet{}, models.ErrUnsupportedFormat
}

// verifyPage recomputes the page's authentication tag over the
// ciphertext and IV plus the little-endian page number, and compares it
// to the stored tag in the reserve trailer.
func verifyPage(page []byte, pageNo int64, macKey []byte, params CipherParams) bool {
	offset := 0
	if pageNo == 1 {
		offset = params.SaltSize
	}

	dataEnd := params.PageSize - params.ReserveSize + params.IVSize

	mac := hmac.New(params.Hash, macKey)
	mac.Write(page[offset:dataEnd])

	var pageNoLE [4]byte
	binary.LittleEndian.PutUint32(pageNoLE[:], uint32(pageNo))
	mac.Write(pageNoLE[:])

	stored := page[dataEnd : dataEnd+params.HMACSize]
	return hmac.Equal(mac.Sum(nil), stored)
}
