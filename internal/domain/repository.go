package domain

import (
	"context"
	"errors"
	"time"
)

// ProgramStore defines the interface for program document persistence.
// All methods require merchantID for strict merchant isolation.
type ProgramStore interface {
	// SaveProgram creates or replaces the document. CreatedAt is preserved
	// on update and UpdatedAt is set by the store; the stored document is returned.
	SaveProgram(ctx context.Context, merchantID string, programID string, doc *PersistedProgram) (*PersistedProgram, error)
	GetProgram(ctx context.Context, merchantID string, programID string) (*PersistedProgram, error)
	ListPrograms(ctx context.Context, merchantID string) ([]*ProgramRecord, error)
	DeleteProgram(ctx context.Context, merchantID string, programID string) error

	// AppendRewards reads the stored reward array, concatenates rewards and
	// writes the whole document back.
	AppendRewards(ctx context.Context, merchantID string, programID string, rewards []PersistedReward) (*PersistedProgram, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ErrProgramNotFound is returned by a ProgramStore when no document exists
// for the (merchantID, programID) key.
var ErrProgramNotFound = errors.New("program not found")
