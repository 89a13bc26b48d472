package infra

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mutecomm/go-sqlcipher/v4" // registers the "sqlite3" (SQLCipher) driver
	_ "modernc.org/sqlite"
)

const (
	encryptedStoreDBName = "store.db"
	plainStoreDBName     = "store-plain.db"
)

// sqlBackend stores snapshots in a single kv table. The same schema serves
// the encrypted (SQLCipher) and the plain (pure Go SQLite) databases.
type sqlBackend struct {
	db     *sql.DB
	dbPath string
}

// newSQLCipherBackend opens (or creates) an encrypted store database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func newSQLCipherBackend(dataDir string, key []byte) (*sqlBackend, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, encryptedStoreDBName)
	keyHex := hex.EncodeToString(key)

	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, keyHex)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// Wrong key shows up on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	return openSQLBackend(db, dbPath)
}

// newSQLiteBackend opens (or creates) an unencrypted store database.
func newSQLiteBackend(dataDir string) (*sqlBackend, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, plainStoreDBName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return openSQLBackend(db, dbPath)
}

func openSQLBackend(db *sql.DB, dbPath string) (*sqlBackend, error) {
	// One connection: the store queue already serialises access
	db.SetMaxOpenConns(1)

	b := &sqlBackend{db: db, dbPath: dbPath}
	if err := b.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return b, nil
}

func (b *sqlBackend) createTables() error {
	schema := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

func (b *sqlBackend) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := b.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (b *sqlBackend) Put(key string, value []byte) error {
	_, err := b.db.Exec(`INSERT OR REPLACE INTO kv (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UnixNano())
	return err
}

func (b *sqlBackend) Delete(key string) error {
	_, err := b.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}

func (b *sqlBackend) WatchTargets() (string, []string) {
	base := filepath.Base(b.dbPath)
	return filepath.Dir(b.dbPath), []string{base, base + "-wal", base + "-journal"}
}

// Close releases the database connection.
func (b *sqlBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

var _ kvBackend = (*sqlBackend)(nil)
