// Package postgres stores virtual directories and users in PostgreSQL.
// Each user row carries its directory as JSONB and a version used for
// optimistic concurrency control.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/internal/store"
)

// Store is a PostgreSQL directory and user store.
type Store struct {
	db *sql.DB
}

// New connects to PostgreSQL.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Type returns "postgres".
func (s *Store) Type() string { return "postgres" }

// Migrate runs SQL migration files.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, "*.up.sql"))
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", logging.String("file", filepath.Base(f)))
		content, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
	}
	return nil
}

// Load implements store.DirectoryStore.
func (s *Store) Load(ctx context.Context, user string) (*store.Document, error) {
	start := time.Now()
	doc, err := s.load(ctx, user)
	metrics.RecordStoreOperation(s.Type(), "load", time.Since(start), err == nil)
	return doc, err
}

func (s *Store) load(ctx context.Context, user string) (*store.Document, error) {
	var raw []byte
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT virtual_directory, version FROM users WHERE username = $1`,
		user).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return store.NewDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("query virtual directory: %w", err)
	}

	if raw == nil {
		doc := store.NewDocument()
		doc.Version = version
		return doc, nil
	}
	root, err := store.Decode(raw)
	if err != nil {
		return nil, err
	}
	return &store.Document{Root: root, Version: version}, nil
}

// Save implements store.DirectoryStore.
func (s *Store) Save(ctx context.Context, user string, doc *store.Document) error {
	start := time.Now()
	err := s.save(ctx, user, doc)
	metrics.RecordStoreOperation(s.Type(), "save", time.Since(start), err == nil)
	return err
}

func (s *Store) save(ctx context.Context, user string, doc *store.Document) error {
	data, err := store.Encode(doc.Root)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET virtual_directory = $2, version = version + 1, updated_at = NOW()
		 WHERE username = $1 AND version = $3`,
		user, data, doc.Version)
	if err != nil {
		return fmt.Errorf("update virtual directory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if n == 0 && doc.Version == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO users (username, virtual_directory, version) VALUES ($1, $2, 1)
			 ON CONFLICT (username) DO NOTHING`,
			user, data)
		if err != nil {
			return fmt.Errorf("insert virtual directory: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
	}
	if n == 0 {
		return store.ErrVersionConflict
	}

	doc.Version++
	return nil
}

// CreateUser creates a user with a bcrypt-hashed password.
func (s *Store) CreateUser(ctx context.Context, username, email, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	var emailArg any
	if email != "" {
		emailArg = email
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash) VALUES ($1, $2, $3)`,
		username, emailArg, string(hashed))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserExists reports whether a user row exists.
func (s *Store) UserExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query user: %w", err)
	}
	return exists, nil
}

// VerifyPassword checks a user's password. The user may be given by username or email.
func (s *Store) VerifyPassword(ctx context.Context, identifier, password string) (string, error) {
	var username string
	var hash sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash FROM users WHERE username = $1 OR email = $1 LIMIT 1`,
		identifier).Scan(&username, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}
	if !hash.Valid {
		return "", store.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash.String), []byte(password)); err != nil {
		return "", store.ErrInvalidCredentials
	}
	return username, nil
}

// EnsureUser creates the user if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, username, password string) error {
	exists, err := s.UserExists(ctx, username)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	logging.Info("creating default user", logging.User(username))
	return s.CreateUser(ctx, username, "", password)
}
