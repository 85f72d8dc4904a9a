package wcdb

import (
	"database/sql"
	"fmt"
	"io"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ycccccccy/echotrace-sub001/internal/models"
)

// VerifyDatabase checks that a decrypted file is an internally
// self-consistent SQLite container: correct signature, and a clean
// quick_check pass over a read-only connection.
func VerifyDatabase(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return &models.DecryptError{Path: path, Reason: "open for verification", Err: err}
	}
	header := make([]byte, len(SQLiteHeader))
	_, err = io.ReadFull(f, header)
	f.Close()
	if err != nil {
		return &models.DecryptError{Path: path, Reason: "read header", Err: err}
	}
	if !IsPlaintext(header) {
		return &models.DecryptError{Path: path, Reason: "verification",
			Err: fmt.Errorf("missing SQLite signature")}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return &models.DecryptError{Path: path, Reason: "open database", Err: err}
	}
	defer db.Close()

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil {
		return &models.DecryptError{Path: path, Reason: "quick_check", Err: err}
	}
	if check != "ok" {
		return &models.DecryptError{Path: path, Reason: "quick_check",
			Err: fmt.Errorf("%s", check)}
	}

	return nil
}
