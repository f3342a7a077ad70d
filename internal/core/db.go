// Package core provides the durable offline store for field data and the
// reconciler that pushes it to the remote service.
//
// INVARIANTS:
// - The store is encrypted at rest via SQLCipher when a passphrase is given
// - Every write is durable before the call returns (WAL, synchronous=FULL)
// - Storage failures are returned wrapped in ErrStorage, never swallowed
package core

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mutecomm/go-sqlcipher/v4"
)

// ErrStorage marks failures of the underlying durable store.
var ErrStorage = errors.New("storage failure")

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorage, op, err)
}

// EncryptedDB wraps a SQLCipher-encrypted SQLite database.
type EncryptedDB struct {
	db        *sql.DB
	dbPath    string
	encrypted bool
}

// OpenEncryptedDB opens a SQLCipher-encrypted database.
// If passphrase is empty, opens without encryption.
// If the database exists and passphrase is wrong, returns an error.
func OpenEncryptedDB(dbPath string, passphrase string) (*EncryptedDB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, storageErr("create directory", err)
	}

	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_synchronous", "FULL")
	params.Set("_busy_timeout", "5000")
	if passphrase != "" {
		params.Set("_pragma_key", passphrase)
	}
	dsn := fmt.Sprintf("file:%s?%s", dbPath, params.Encode())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, storageErr("open database", err)
	}

	// With a wrong key the first read of the schema fails.
	var n int
	if err := db.QueryRow("SELECT count(*) FROM sqlite_master").Scan(&n); err != nil {
		db.Close()
		if passphrase != "" {
			return nil, storageErr("open database (invalid passphrase or corrupted file)", err)
		}
		return nil, storageErr("read database", err)
	}

	return &EncryptedDB{
		db:        db,
		dbPath:    dbPath,
		encrypted: passphrase != "",
	}, nil
}

// DB returns the underlying database connection.
func (edb *EncryptedDB) DB() *sql.DB {
	return edb.db
}

// Close closes the database connection.
func (edb *EncryptedDB) Close() error {
	return edb.db.Close()
}

// IsEncrypted returns whether the database is encrypted.
func (edb *EncryptedDB) IsEncrypted() bool {
	return edb.encrypted
}

// Path returns the database file path.
func (edb *EncryptedDB) Path() string {
	return edb.dbPath
}

// ChangePassphrase re-encrypts the database with a new key.
func (edb *EncryptedDB) ChangePassphrase(ctx context.Context, newPassphrase string) error {
	if !edb.encrypted {
		return fmt.Errorf("database is not encrypted")
	}
	if newPassphrase == "" {
		return fmt.Errorf("new passphrase must not be empty")
	}

	if _, err := edb.db.ExecContext(ctx, "PRAGMA rekey = "+quoteLiteral(newPassphrase)); err != nil {
		return storageErr("change passphrase", err)
	}
	return nil
}

// Backup writes a consistent copy of the database to dst. The copy keeps
// the source encryption key.
func (edb *EncryptedDB) Backup(ctx context.Context, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return storageErr("create backup directory", err)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("backup target already exists: %s", dst)
	}

	if _, err := edb.db.ExecContext(ctx, "VACUUM INTO "+quoteLiteral(dst)); err != nil {
		return storageErr("write backup", err)
	}
	return nil
}

// GenerateRandomKey generates a cryptographically secure random hex key of
// length bytes.
func GenerateRandomKey(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
