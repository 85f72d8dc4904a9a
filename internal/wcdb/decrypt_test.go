package wcdb_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ycccccccy/echotrace-sub001/internal/models"
	"github.com/ycccccccy/echotrace-sub001/internal/wcdb"
	"github.com/ycccccccy/echotrace-sub001/test/testutil"
)

var testSalt = []byte("0123456789abcdef")

func TestDetectVersions(t *testing.T) {
	tests := []struct {
		name   string
		params wcdb.CipherParams
	}{
		{"legacy sha1", wcdb.V3Params()},
		{"current sha512", wcdb.V4Params()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := testutil.PlainDatabase(2, 42)
			encrypted := testutil.EncryptDatabase(t, plain, "secret", testSalt, tt.params)

			secret, err := wcdb.NormalizeSecret("secret")
			require.NoError(t, err)

			params, keys, err := wcdb.Detect(encrypted[:wcdb.PageSize], secret)
			require.NoError(t, err)
			defer keys.Zero()

			assert.Equal(t, tt.params.Version, params.Version)
			assert.Len(t, keys.Enc, wcdb.KeySize)
			assert.Len(t, keys.MAC, wcdb.KeySize)
		})
	}
}

func TestDetectWrongSecret(t *testing.T) {
	plain := testutil.PlainDatabase(1, 1)
	encrypted := testutil.EncryptDatabase(t, plain, "right", testSalt, wcdb.V4Params())

	secret, err := wcdb.NormalizeSecret("wrong")
	require.NoError(t, err)

	_, _, err = wcdb.Detect(encrypted[:wcdb.PageSize], secret)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)
}

func TestDecryptRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		params wcdb.CipherParams
		pages  int
	}{
		{"legacy sha1", wcdb.V3Params(), 3},
		{"current sha512", wcdb.V4Params(), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			plain := testutil.PlainDatabase(tt.pages, 7)
			encrypted := testutil.EncryptDatabase(t, plain, "round-trip", testSalt, tt.params)
			srcPath := testutil.WriteFile(t, dir, "enc.db", encrypted)

			d := wcdb.NewDecryptor(testutil.TestLogger())
			result, err := d.Decrypt(context.Background(), srcPath, dir, "round-trip", nil)
			require.NoError(t, err)

			assert.Equal(t, tt.params.Version, result.Version)
			assert.Equal(t, int64(tt.pages), result.Pages)
			assert.Empty(t, result.PageErrors)
			assert.False(t, result.Plaintext)

			output, err := os.ReadFile(result.TempPath)
			require.NoError(t, err)

			assert.Len(t, output, len(plain))
			assert.True(t, bytes.HasPrefix(output, []byte(wcdb.SQLiteHeader)))
			assert.Equal(t,
				testutil.PlainBody(plain, tt.params),
				testutil.PlainBody(output, tt.params))
		})
	}
}

func TestDecryptDeterministic(t *testing.T) {
	dir := t.TempDir()
	plain := testutil.PlainDatabase(2, 99)
	encrypted := testutil.EncryptDatabase(t, plain, "stable", testSalt, wcdb.V3Params())
	srcPath := testutil.WriteFile(t, dir, "enc.db", encrypted)

	d := wcdb.NewDecryptor(testutil.TestLogger())

	first, err := d.Decrypt(context.Background(), srcPath, dir, "stable", nil)
	require.NoError(t, err)
	second, err := d.Decrypt(context.Background(), srcPath, dir, "stable", nil)
	require.NoError(t, err)

	a, err := os.ReadFile(first.TempPath)
	require.NoError(t, err)
	b, err := os.ReadFile(second.TempPath)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecryptWrongPassphrase(t *testing.T) {
	srcDir := t.TempDir()
	tempDir := t.TempDir()
	plain := testutil.PlainDatabase(1, 3)
	encrypted := testutil.EncryptDatabase(t, plain, "right", testSalt, wcdb.V4Params())
	srcPath := testutil.WriteFile(t, srcDir, "enc.db", encrypted)

	d := wcdb.NewDecryptor(testutil.TestLogger())
	_, err := d.Decrypt(context.Background(), srcPath, tempDir, "wrong", nil)
	assert.ErrorIs(t, err, models.ErrUnsupportedFormat)

	// The failed attempt must not leave a partial artifact behind.
	entries, err := os.ReadDir(tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDecryptEmptyPassphrase(t *testing.T) {
	d := wcdb.NewDecryptor(testutil.TestLogger())
	_, err := d.Decrypt(context.Background(), "irrelevant", t.TempDir(), "", nil)
	assert.ErrorIs(t, err, models.ErrInvalidPassphrase)
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	dir := t.TempDir()
	plain := testutil.PlainDatabase(2, 11)
	srcPath := testutil.WriteFile(t, dir, "plain.db", plain)

	d := wcdb.NewDecryptor(testutil.TestLogger())
	result, err := d.Decrypt(context.Background(), srcPath, dir, "ignored", nil)
	require.NoError(t, err)

	assert.True(t, result.Plaintext)

	output, err := os.ReadFile(result.TempPath)
	require.NoError(t, err)
	assert.Equal(t, plain, output)
}

func TestDecryptZeroPagePassthrough(t *testing.T) {
	dir := t.TempDir()
	params := wcdb.V4Params()
	plain := testutil.PlainDatabase(3, 5)
	encrypted := testutil.EncryptDatabase(t, plain, "zeroes", testSalt, params)

	// Pre-allocated empty pages are stored as raw zeroes.
	zeroStart := wcdb.PageSize
	for i := zeroStart; i < 2*wcdb.PageSize; i++ {
		encrypted[i] = 0
	}
	srcPath := testutil.WriteFile(t, dir, "enc.db", encrypted)

	d := wcdb.NewDecryptor(testutil.TestLogger())
	result, err := d.Decrypt(context.Background(), srcPath, dir, "zeroes", nil)
	require.NoError(t, err)
	assert.Empty(t, result.PageErrors)

	output, err := os.ReadFile(result.TempPath)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, wcdb.PageSize), output[zeroStart:2*wcdb.PageSize])
}

func TestDecryptPageTagMismatch(t *testing.T) {
	dir := t.TempDir()
	params := wcdb.V3Params()
	plain := testutil.PlainDatabase(3, 8)
	encrypted := testutil.EncryptDatabase(t, plain, "damaged", testSalt, params)

	// Flip one ciphertext byte in page 2.
	encrypted[wcdb.PageSize+100] ^= 0xFF
	srcPath := testutil.WriteFile(t, dir, "enc.db", encrypted)

	d := wcdb.NewDecryptor(testutil.TestLogger())
	result, err := d.Decrypt(context.Background(), srcPath, dir, "damaged", nil)
	require.NoError(t, err)

	require.Len(t, result.PageErrors, 1)
	assert.Equal(t, int64(2), result.PageErrors[0].Page)

	// The rest of the file still decrypts correctly.
	output, err := os.ReadFile(result.TempPath)
	require.NoError(t, err)
	assert.Equal(t,
		testutil.PlainBody(plain, params)[:wcdb.PageSize-wcdb.SaltSize-params.ReserveSize],
		testutil.PlainBody(output, params)[:wcdb.PageSize-wcdb.SaltSize-params.ReserveSize])
}

func TestDecryptProgress(t *testing.T) {
	dir := t.TempDir()
	plain := testutil.PlainDatabase(4, 6)
	encrypted := testutil.EncryptDatabase(t, plain, "progress", testSalt, wcdb.V4Params())
	srcPath := testutil.WriteFile(t, dir, "enc.db", encrypted)

	var calls []int64
	var total int64
	d := wcdb.NewDecryptor(testutil.TestLogger())
	_, err := d.Decrypt(context.Background(), srcPath, dir, "progress", func(done, t int64) {
		calls = append(calls, done)
		total = t
	})
	require.NoError(t, err)

	assert.Equal(t, int64(4), total)
	require.NotEmpty(t, calls)
	assert.Equal(t, int64(4), calls[len(calls)-1])
	for i := 1; i < len(calls); i++ {
		assert.GreaterOrEqual(t, calls[i], calls[i-1])
	}
}

func TestDecryptRunsToCompletionWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	plain := testutil.PlainDatabase(4, 13)
	encrypted := testutil.EncryptDatabase(t, plain, "finish", testSalt, wcdb.V4Params())
	srcPath := testutil.WriteFile(t, dir, "enc.db", encrypted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A file that has started decrypting is never cut off mid-way;
	// cancellation only stops new files from starting.
	d := wcdb.NewDecryptor(testutil.TestLogger())
	result, err := d.Decrypt(ctx, srcPath, dir, "finish", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), result.Pages)

	output, err := os.ReadFile(result.TempPath)
	require.NoError(t, err)
	assert.Len(t, output, len(plain))
}

func TestDecryptTruncatedSource(t *testing.T) {
	dir := t.TempDir()
	srcPath := testutil.WriteFile(t, dir, "short.db", make([]byte, 100))

	d := wcdb.NewDecryptor(testutil.TestLogger())
	_, err := d.Decrypt(context.Background(), srcPath, dir, "any", nil)

	var decErr *models.DecryptError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, srcPath, decErr.Path)
}

func TestNormalizeSecret(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		wantLen    int
		wantErr    error
	}{
		{"empty", "", 0, models.ErrInvalidPassphrase},
		{"plain text", "hunter2", 7, nil},
		{"hex raw key", "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff", 32, nil},
		{"hex length but not hex", "zz112233445566778899aabbccddeeff00112233445566778899aabbccddeexx", 64, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, err := wcdb.NormalizeSecret(tt.passphrase)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, secret, tt.wantLen)
		})
	}
}

func TestKeySetZero(t *testing.T) {
	secret, err := wcdb.NormalizeSecret("wipe-me")
	require.NoError(t, err)

	keys := wcdb.DeriveKeys(secret, testSalt, wcdb.V3Params())
	keys.Zero()

	assert.Equal(t, make([]byte, wcdb.KeySize), keys.Enc)
	assert.Equal(t, make([]byte, wcdb.KeySize), keys.MAC)
}

func TestTempFileNaming(t *testing.T) {
	dir := t.TempDir()
	plain := testutil.PlainDatabase(1, 2)
	encrypted := testutil.EncryptDatabase(t, plain, "name", testSalt, wcdb.V3Params())
	srcPath := testutil.WriteFile(t, dir, "MSG0.db", encrypted)

	d := wcdb.NewDecryptor(testutil.TestLogger())
	result, err := d.Decrypt(context.Background(), srcPath, dir, "name", nil)
	require.NoError(t, err)

	assert.Contains(t, filepath.Base(result.TempPath), "MSG0.db.tmp-")
}
