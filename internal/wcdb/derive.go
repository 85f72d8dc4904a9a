package wcdb

import (
	"encoding/hex"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"

	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

// KeySet holds the cipher and HMAC keys derived for one file under one
// parameter set. It is owned by the task that derived it and must be
// zeroed when that task no longer needs it.
type KeySet struct {
	Enc []byte
	MAC []byte
}

// Zero wipes both keys.
func (k *KeySet) Zero() {
	for i := range k.Enc {
		k.Enc[i] = 0
	}
	for i := range k.MAC {
		k.MAC[i] = 0
	}
	runtime.KeepAlive(k.Enc)
	runtime.KeepAlive(k.MAC)
}

// NormalizeSecret converts a user-supplied passphrase into raw key
// material. A 64-character hex string is treated as an extracted raw
// key; anything else is NFKC-normalized passphrase text.
func NormalizeSecret(passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, models.ErrInvalidPassphrase
	}

	if len(passphrase) == 2*KeySize {
		if raw, err := hex.DecodeString(passphrase); err == nil {
			return raw, nil
		}
	}

	return []byte(norm.NFKC.String(passphrase)), nil
}

// DeriveKeys computes the cipher/HMAC key pair for one file salt under
// one parameter set. The HMAC key is derived from the cipher key with
// the salt XOR-folded, matching the container format.
func DeriveKeys(secret, salt []byte, params CipherParams) KeySet {
	encKey := pbkdf2.Key(secret, salt, params.KDFIterations, KeySize, params.Hash)

	macSalt := make([]byte, len(salt))
	for i, b := range salt {
		macSalt[i] = b ^ macSaltXor
	}
	macKey := pbkdf2.Key(encKey, macSalt, macKeyIterations, KeySize, params.Hash)

	return KeySet{Enc: encKey, MAC: macKey}
}
