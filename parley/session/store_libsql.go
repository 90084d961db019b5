package session

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var migrations embed.FS

// LibSQLProfileStore implements ProfileStore on an embedded libSQL database.
type LibSQLProfileStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenLibSQLProfileStore opens dsn, creating the parent directory of a
// file: DSN when needed, and applies pending migrations.
func OpenLibSQLProfileStore(ctx context.Context, dsn string, logger zerolog.Logger) (*LibSQLProfileStore, error) {
	if path, ok := strings.CutPrefix(dsn, "file:"); ok && !strings.Contains(path, ":memory:") {
		path, _, _ = strings.Cut(path, "?")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory: %w", err)
		}
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach profile database: %w", err)
	}

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug().Str("dsn", dsn).Msg("Profile store ready")
	return &LibSQLProfileStore{db: db, logger: logger}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectTurso, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	for _, r := range results {
		logger.Debug().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("Applied migration")
	}
	return nil
}

// LoadProfile returns the stored profile for email.
func (s *LibSQLProfileStore) LoadProfile(ctx context.Context, email string) (User, bool, error) {
	query := `SELECT email, name, profile_picture FROM profiles WHERE email = ?`

	var u User
	err := s.db.QueryRowContext(ctx, query, email).Scan(&u.Email, &u.Name, &u.ProfilePicture)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("failed to load profile: %w", err)
	}
	return u, true, nil
}

// SaveProfile inserts or replaces the profile for u.Email.
func (s *LibSQLProfileStore) SaveProfile(ctx context.Context, u User) error {
	query := `
		INSERT INTO profiles (email, name, profile_picture, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(email) DO UPDATE SET
			name = excluded.name,
			profile_picture = excluded.profile_picture,
			updated_at = excluded.updated_at
	`

	if _, err := s.db.ExecContext(ctx, query, u.Email, u.Name, u.ProfilePicture, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// RememberedLogin returns the email restored on startup, if any.
func (s *LibSQLProfileStore) RememberedLogin(ctx context.Context) (string, bool, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT email FROM remembered_login WHERE id = 1`).Scan(&email)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load remembered login: %w", err)
	}
	return email, true, nil
}

// RememberLogin records email as the login to restore. The profile must exist.
func (s *LibSQLProfileStore) RememberLogin(ctx context.Context, email string) error {
	query := `INSERT OR REPLACE INTO remembered_login (id, email, created_at) VALUES (1, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, email, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to remember login: %w", err)
	}
	return nil
}

// ForgetLogin clears the remembered login.
func (s *LibSQLProfileStore) ForgetLogin(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM remembered_login`); err != nil {
		return fmt.Errorf("failed to forget login: %w", err)
	}
	return nil
}

func (s *LibSQLProfileStore) Close() error {
	return s.db.Close()
}

// Ensure LibSQLProfileStore implements the ProfileStore interface.
var _ ProfileStore = (*LibSQLProfileStore)(nil)
