package media

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ycccccccy/echotrace-sub001/internal/events"
	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

// Keys holds the obfuscation keys for one media batch. The substitution
// key is a short repeating key; the block cipher key is optional and
// only needed for caches that layer AES on top of the substitution.
// Keys are shared read-only across all tasks of a batch.
type Keys struct {
	Substitution []byte
	BlockCipher  []byte
}

// Result describes one decoded media file.
type Result struct {
	TempPath string
	Ext      string

	// Layered marks files that needed the block-cipher stage before the
	// substitution decode.
	Layered bool
}

// Decoder reverses the cache obfuscation formats.
type Decoder struct {
	keys   Keys
	iv     []byte
	logger *events.Logger
}

// NewDecoder creates a media decoder for one batch.
func NewDecoder(keys Keys, logger *events.Logger) (*Decoder, error) {
	if len(keys.Substitution) == 0 {
		return nil, fmt.Errorf("substitution key is empty")
	}
	if n := len(keys.BlockCipher); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("block cipher key must be 16, 24 or 32 bytes, got %d", n)
	}

	d := &Decoder{
		keys:   keys,
		logger: logger.WithField("component", "media_decoder"),
	}

	// The layered format uses one deterministic IV for every file of a
	// batch, folded from the block key.
	if len(keys.BlockCipher) > 0 {
		sum := sha256.Sum256(keys.BlockCipher)
		d.iv = sum[:aes.BlockSize]
	}

	return d, nil
}

// DecodeAuto distinguishes the two known encodings by trial: first a
// bare substitution decode of the leading bytes checked against the
// container signature table, then the block-cipher stage followed by
// the substitution decode and a re-check. A file matching neither is
// reported, never guessed at.
func (d *Decoder) DecodeAuto(srcPath, tempDir string) (*Result, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "read source", Err: err}
	}
	if len(data) == 0 {
		return nil, &models.DecryptError{Path: srcPath, Reason: "decode",
			Err: fmt.Errorf("empty file")}
	}

	// Encoding (1): byte-wise substitution only.
	prefix := make([]byte, min(MaxSignatureLen, len(data)))
	copy(prefix, data[:len(prefix)])
	d.substitute(prefix, 0)

	if ext, ok := MatchSignature(prefix); ok {
		plain := make([]byte, len(data))
		copy(plain, data)
		d.substitute(plain, 0)

		tempPath, err := d.writeTemp(srcPath, tempDir, plain)
		if err != nil {
			return nil, err
		}
		return &Result{TempPath: tempPath, Ext: ext}, nil
	}

	// Encoding (2): block cipher over the substituted body.
	if len(d.keys.BlockCipher) == 0 {
		return nil, models.ErrUnknownImageFormat
	}

	plain, err := d.blockDecrypt(data)
	if err != nil {
		d.logger.WithError(err).WithField("path", srcPath).Debug("Block stage failed")
		return nil, models.ErrUnknownImageFormat
	}
	d.substitute(plain, 0)

	ext, ok := MatchSignature(plain)
	if !ok {
		return nil, models.ErrUnknownImageFormat
	}

	tempPath, err := d.writeTemp(srcPath, tempDir, plain)
	if err != nil {
		return nil, err
	}
	return &Result{TempPath: tempPath, Ext: ext, Layered: true}, nil
}

// substitute XORs b in place against the repeating substitution key,
// starting at key offset from (for body continuation).
func (d *Decoder) substitute(b []byte, from int) {
	key := d.keys.Substitution
	for i := range b {
		b[i] ^= key[(from+i)%len(key)]
	}
}

// blockDecrypt reverses the AES-CBC layer using the batch IV and strips
// the padding.
func (d *Decoder) blockDecrypt(data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("body not block aligned: %d bytes", len(data))
	}

	block, err := aes.NewCipher(d.keys.BlockCipher)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, d.iv).CryptBlocks(plain, data)

	return unpadPKCS7(plain)
}

func unpadPKCS7(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("bad padding length %d", n)
	}
	for _, v := range b[len(b)-n:] {
		if int(v) != n {
			return nil, fmt.Errorf("bad padding byte")
		}
	}
	return b[:len(b)-n], nil
}

func (d *Decoder) writeTemp(srcPath, tempDir string, plain []byte) (string, error) {
	out, err := os.CreateTemp(tempDir, filepath.Base(srcPath)+".tmp-*")
	if err != nil {
		return "", &models.DecryptError{Path: srcPath, Reason: "create temp output", Err: err}
	}

	if _, err := out.Write(plain); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", &models.DecryptError{Path: srcPath, Reason: "write output", Err: err}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", &models.DecryptError{Path: srcPath, Reason: "sync output", Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", &models.DecryptError{Path: srcPath, Reason: "close output", Err: err}
	}

	return out.Name(), nil
}
