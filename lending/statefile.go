package lending

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// StateFile persists the session credential (and the last-seen
// principal) across CLI invocations. It is the external collaborator
// the Session Store's contract allows for: the in-memory store is
// seeded from here at startup and this file is rewritten on login and
// wiped on logout or server-side expiry.
type StateFile struct {
	db *sql.DB

	saveStmt *sql.Stmt
}

// NewStateFile opens (or creates) the SQLite state file at path and
// applies schema migrations.
func NewStateFile(path string) (*StateFile, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	sf := &StateFile{db: db}
	if sf.saveStmt, err = db.Prepare(`INSERT INTO session(id,token,user_id,username,email,is_staff,saved_at)
        VALUES(1,?,?,?,?,?,?)
        ON CONFLICT(id) DO UPDATE SET token=excluded.token, user_id=excluded.user_id,
            username=excluded.username, email=excluded.email, is_staff=excluded.is_staff,
            saved_at=excluded.saved_at`); err != nil {
		db.Close()
		return nil, err
	}
	return sf, nil
}

// Close releases the prepared statement and closes the DB.
func (sf *StateFile) Close() error {
	if sf.saveStmt != nil {
		sf.saveStmt.Close()
	}
	return sf.db.Close()
}

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		// Single-row table: one credential at a time, by construction.
		`CREATE TABLE IF NOT EXISTS session (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            token TEXT NOT NULL,
            user_id INTEGER,
            username TEXT,
            email TEXT,
            is_staff BOOLEAN NOT NULL DEFAULT 0,
            saved_at DATETIME NOT NULL
        );`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, schemaVersion); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	return tx.Commit()
}

// SaveSession stores the token, replacing whatever was there. principal
// may be nil when the login response did not include the user.
func (sf *StateFile) SaveSession(token string, principal *Principal) error {
	if token == "" {
		return fmt.Errorf("refusing to save an empty token")
	}
	var (
		userID   int64
		username string
		email    string
		isStaff  bool
	)
	if principal != nil {
		userID = principal.ID
		username = principal.Username
		email = principal.Email
		isStaff = principal.IsStaff
	}
	_, err := sf.saveStmt.Exec(token, userID, username, email, isStaff, time.Now())
	return err
}

// LoadSession returns the persisted token and principal, or ("", nil)
// when no session is stored.
func (sf *StateFile) LoadSession() (string, *Principal, error) {
	var (
		token string
		p     Principal
	)
	err := sf.db.QueryRow(`SELECT token, COALESCE(user_id,0), COALESCE(username,''), COALESCE(email,''), is_staff FROM session WHERE id=1`).
		Scan(&token, &p.ID, &p.Username, &p.Email, &p.IsStaff)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if p.Username == "" && p.ID == 0 {
		return token, nil, nil
	}
	return token, &p, nil
}

// ClearSession removes the persisted credential. Idempotent: clearing
// an empty state file is a no-op, never an error.
func (sf *StateFile) ClearSession() error {
	_, err := sf.db.Exec(`DELETE FROM session WHERE id=1`)
	return err
}
