package wcdb

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ycccccccy/echotrace-sub001/internal/events"
	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

// ProgressFunc receives page-level progress for one file. done is
// monotonically non-decreasing and reaches total on completion.
type ProgressFunc func(done, total int64)

// Result describes a completed database decryption.
type Result struct {
	TempPath string
	Version  string
	Pages    int64

	// PageErrors holds per-page tag mismatches that did not abort the
	// file. The output is best-effort for those pages.
	PageErrors []*models.PageIntegrityError

	// Plaintext marks input that already carried the SQLite signature
	// and was copied through unchanged.
	Plaintext bool
}

// Decryptor streams cipher-paged databases into plaintext SQLite files.
type Decryptor struct {
	logger *events.Logger
}

// NewDecryptor creates a database decryptor.
func NewDecryptor(logger *events.Logger) *Decryptor {
	return &Decryptor{
		logger: logger.WithField("component", "db_decryptor"),
	}
}

// Decrypt detects the cipher version of srcPath, decrypts it page by
// page and writes the plaintext to a fresh temporary file in tempDir.
// tempDir should live on the destination volume so installation is a
// same-volume move.
//
// A tag mismatch on a page after the first is recorded in the result
// and decryption continues; later pages are independent units. A file
// that has started decrypting always runs to completion; callers stop
// between files, not inside one.
func (d *Decryptor) Decrypt(ctx context.Context, srcPath, tempDir, passphrase string, onProgress ProgressFunc) (*Result, error) {
	secret, err := NormalizeSecret(passphrase)
	if err != nil {
		return nil, err
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "open source", Err: err}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "stat source", Err: err}
	}
	if info.Size() < PageSize {
		return nil, &models.DecryptError{Path: srcPath, Reason: "source shorter than one page",
			Err: fmt.Errorf("%d bytes", info.Size())}
	}

	totalPages := info.Size() / PageSize
	if info.Size()%PageSize != 0 {
		d.logger.WithFields(map[string]interface{}{
			"path":  srcPath,
			"extra": info.Size() % PageSize,
		}).Warn("Source not page aligned, trailing bytes ignored")
	}

	page := make([]byte, PageSize)
	if _, err := io.ReadFull(src, page); err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "read first page", Err: err}
	}

	out, err := os.CreateTemp(tempDir, filepath.Base(srcPath)+".tmp-*")
	if err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "create temp output", Err: err}
	}

	success := false
	defer func() {
		out.Close()
		if !success {
			os.Remove(out.Name())
		}
	}()

	result := &Result{TempPath: out.Name(), Pages: totalPages}

	// Already-plaintext input is copied through unchanged.
	if IsPlaintext(page) {
		if _, err := out.Write(page); err != nil {
			return nil, &models.DecryptError{Path: srcPath, Reason: "write output", Err: err}
		}
		if _, err := io.Copy(out, src); err != nil {
			return nil, &models.DecryptError{Path: srcPath, Reason: "copy plaintext source", Err: err}
		}
		if err := out.Sync(); err != nil {
			return nil, &models.DecryptError{Path: srcPath, Reason: "sync output", Err: err}
		}
		result.Plaintext = true
		if onProgress != nil {
			onProgress(totalPages, totalPages)
		}
		success = true
		d.logger.WithField("path", srcPath).Debug("Source already plaintext, copied through")
		return result, nil
	}

	params, keys, err := Detect(page, secret)
	if err != nil {
		return nil, err
	}
	defer keys.Zero()
	result.Version = params.Version

	block, err := aes.NewCipher(keys.Enc)
	if err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "init cipher", Err: err}
	}

	d.logger.WithFields(map[string]interface{}{
		"path":    srcPath,
		"version": params.Version,
		"pages":   totalPages,
	}).Debug("Decrypting database")

	// The canonical header replaces the salt prefix, preserving page
	// geometry in the output.
	if _, err := out.Write([]byte(SQLiteHeader)); err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "write output", Err: err}
	}
	if err := d.writePage(out, block, page, 1, params); err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "decrypt first page", Err: err}
	}
	if onProgress != nil {
		onProgress(1, totalPages)
	}

	for pageNo := int64(2); pageNo <= totalPages; pageNo++ {
		if _, err := io.ReadFull(src, page); err != nil {
			return nil, &models.DecryptError{Path: srcPath,
				Reason: fmt.Sprintf("read page %d", pageNo), Err: err}
		}

		// Pre-allocated empty pages carry no tag and pass through.
		if allZero(page) {
			if _, err := out.Write(page); err != nil {
				return nil, &models.DecryptError{Path: srcPath, Reason: "write output", Err: err}
			}
			if onProgress != nil {
				onProgress(pageNo, totalPages)
			}
			continue
		}

		if !verifyPage(page, pageNo, keys.MAC, params) {
			pageErr := &models.PageIntegrityError{Path: srcPath, Page: pageNo}
			result.PageErrors = append(result.PageErrors, pageErr)
			d.logger.WithFields(map[string]interface{}{
				"path": srcPath,
				"page": pageNo,
			}).Warn("Page tag mismatch, emitting best-effort plaintext")
		}

		if err := d.writePage(out, block, page, pageNo, params); err != nil {
			return nil, &models.DecryptError{Path: srcPath,
				Reason: fmt.Sprintf("decrypt page %d", pageNo), Err: err}
		}
		if onProgress != nil {
			onProgress(pageNo, totalPages)
		}
	}

	if err := out.Sync(); err != nil {
		return nil, &models.DecryptError{Path: srcPath, Reason: "sync output", Err: err}
	}

	success = true
	return result, nil
}

// writePage CBC-decrypts one page and writes plaintext plus the reserve
// trailer, so output pages keep the input geometry.
func (d *Decryptor) writePage(out io.Writer, block cipher.Block, page []byte, pageNo int64, params CipherParams) error {
	offset := 0
	if pageNo == 1 {
		offset = params.SaltSize
	}

	body := page[offset : params.PageSize-params.ReserveSize]
	if len(body)%AESBlockSize != 0 {
		return fmt.Errorf("ciphertext not block aligned: %d bytes", len(body))
	}

	iv := page[params.PageSize-params.ReserveSize : params.PageSize-params.ReserveSize+params.IVSize]

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	if _, err := out.Write(plain); err != nil {
		return err
	}
	_, err := out.Write(page[params.PageSize-params.ReserveSize:])
	return err
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
