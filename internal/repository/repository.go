// Package repository persists program documents on database/sql.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/ladder/internal/domain"
)

var (
	ErrNotFound     = domain.ErrProgramNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.ProgramStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a repository based on configuration and runs migrations.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.Driver == "postgres" {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

func validateKey(merchantID, programID string) error {
	if merchantID == "" {
		return fmt.Errorf("%w: merchantID is required", ErrInvalidInput)
	}
	if programID == "" {
		return fmt.Errorf("%w: programID is required", ErrInvalidInput)
	}
	return nil
}

// SaveProgram creates or replaces a program document. On update the stored
// CreatedAt and CreatedBy are kept; UpdatedAt is always set to now.
func (r *SQLRepository) SaveProgram(ctx context.Context, merchantID string, programID string, doc *domain.PersistedProgram) (*domain.PersistedProgram, error) {
	if err := validateKey(merchantID, programID); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: document is required", ErrInvalidInput)
	}

	stored := *doc
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.load(ctx, tx, merchantID, programID, false)
		switch {
		case errors.Is(err, ErrNotFound):
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = r.now()
			}
		case err != nil:
			return err
		default:
			stored.CreatedAt = existing.CreatedAt
			stored.CreatedBy = existing.CreatedBy
		}
		stored.UpdatedAt = r.now()
		stored.TotalRewards = len(stored.Rewards)

		return r.upsert(ctx, tx, merchantID, programID, &stored)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetProgram retrieves a program document.
func (r *SQLRepository) GetProgram(ctx context.Context, merchantID string, programID string) (*domain.PersistedProgram, error) {
	if err := validateKey(merchantID, programID); err != nil {
		return nil, err
	}
	return r.load(ctx, r.db, merchantID, programID, false)
}

// ListPrograms returns every program of a merchant, oldest first.
func (r *SQLRepository) ListPrograms(ctx context.Context, merchantID string) ([]*domain.ProgramRecord, error) {
	if merchantID == "" {
		return nil, fmt.Errorf("%w: merchantID is required", ErrInvalidInput)
	}

	query := `
		SELECT program_id, document
		FROM programs
		WHERE merchant_id = ?
		ORDER BY created_at, program_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), merchantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.ProgramRecord
	for rows.Next() {
		rec := &domain.ProgramRecord{MerchantID: merchantID}
		var document string
		if err := rows.Scan(&rec.ProgramID, &document); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(document), &rec.Document); err != nil {
			return nil, fmt.Errorf("failed to decode program %s: %w", rec.ProgramID, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// DeleteProgram removes a program document.
func (r *SQLRepository) DeleteProgram(ctx context.Context, merchantID string, programID string) error {
	if err := validateKey(merchantID, programID); err != nil {
		return err
	}

	query := `DELETE FROM programs WHERE merchant_id = ? AND program_id = ?`

	result, err := r.db.ExecContext(ctx, r.rebind(query), merchantID, programID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendRewards reads the stored reward array, appends rewards (ordered after
// the stored ones) and writes the whole document back in one transaction.
func (r *SQLRepository) AppendRewards(ctx context.Context, merchantID string, programID string, rewards []domain.PersistedReward) (*domain.PersistedProgram, error) {
	if err := validateKey(merchantID, programID); err != nil {
		return nil, err
	}

	var stored *domain.PersistedProgram
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		doc, err := r.load(ctx, tx, merchantID, programID, true)
		if err != nil {
			return err
		}

		next := 0
		for _, existing := range doc.Rewards {
			next = max(next, existing.Order+1)
		}

		merged := make([]domain.PersistedReward, 0, len(doc.Rewards)+len(rewards))
		merged = append(merged, doc.Rewards...)
		for i, reward := range rewards {
			reward.Order = next + i
			merged = append(merged, reward)
		}

		doc.Rewards = merged
		doc.TotalRewards = len(merged)
		doc.UpdatedAt = r.now()
		stored = doc

		return r.upsert(ctx, tx, merchantID, programID, doc)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLRepository) load(ctx context.Context, q querier, merchantID, programID string, forUpdate bool) (*domain.PersistedProgram, error) {
	query := `SELECT document FROM programs WHERE merchant_id = ? AND program_id = ?`
	if forUpdate && r.driver == "postgres" {
		query += " FOR UPDATE"
	}

	var document string
	err := q.QueryRowContext(ctx, r.rebind(query), merchantID, programID).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var doc domain.PersistedProgram
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode program %s: %w", programID, err)
	}
	return &doc, nil
}

func (r *SQLRepository) upsert(ctx context.Context, tx *sql.Tx, merchantID, programID string, doc *domain.PersistedProgram) error {
	document, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode program %s: %w", programID, err)
	}

	query := `
		INSERT INTO programs (
			merchant_id, program_id, name, status, document,
			created_by, total_rewards, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (merchant_id, program_id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			document = excluded.document,
			total_rewards = excluded.total_rewards,
			updated_at = excluded.updated_at
	`

	_, err = tx.ExecContext(ctx, r.rebind(query),
		merchantID, programID, doc.Name, doc.Status, string(document),
		doc.CreatedBy, doc.TotalRewards, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

func (r *SQLRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
