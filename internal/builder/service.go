package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/ladder/internal/codec"
	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/opensource-finance/ladder/internal/rules"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("ladder-builder")

// Service persists sessions and runs the two-step delete.
type Service struct {
	store         domain.ProgramStore
	cache         domain.Cache
	bus           domain.EventBus
	preconditions *rules.PreconditionEngine
	cfg           domain.ValidationConfig
	strategy      rules.Strategy
	programTTL    time.Duration
	now           func() time.Time
}

// Options configures a Service. Store, Cache and Preconditions are required;
// Bus may be nil.
type Options struct {
	Store         domain.ProgramStore
	Cache         domain.Cache
	Bus           domain.EventBus
	Preconditions *rules.PreconditionEngine
	Validation    domain.ValidationConfig
	ProgramTTL    time.Duration
}

// SaveResult describes a successful save.
type SaveResult struct {
	ProgramID string                   `json:"programId"`
	Created   bool                     `json:"created"`
	Document  *domain.PersistedProgram `json:"document"`
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Cache == nil || opts.Preconditions == nil {
		return nil, errors.New("builder: store, cache and preconditions are required")
	}
	strategy, err := rules.ParseStrategy(opts.Validation.Strategy)
	if err != nil {
		return nil, err
	}
	cfg := opts.Validation
	if cfg.DeleteConfirmTTL <= 0 {
		cfg.DeleteConfirmTTL = 2 * time.Minute
	}
	if cfg.MaxDeleteAttempts <= 0 {
		cfg.MaxDeleteAttempts = 5
	}
	ttl := opts.ProgramTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &Service{
		store:         opts.Store,
		cache:         opts.Cache,
		bus:           opts.Bus,
		preconditions: opts.Preconditions,
		cfg:           cfg,
		strategy:      strategy,
		programTTL:    ttl,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Strategy returns the configured sequence strategy.
func (svc *Service) Strategy() rules.Strategy {
	return svc.strategy
}

// NewSession starts an unsaved program using the configured strategy.
func (svc *Service) NewSession() *Session {
	return NewSession(svc.strategy)
}

// Check evaluates every save precondition for the session without saving.
func (svc *Service) Check(s *Session) []rules.Violation {
	return svc.preconditions.Evaluate(rules.PreconditionInput{
		Program:        s.program,
		SequenceErrors: s.errs,
	})
}

// Save creates or updates the session's program. The session only changes
// (to record the program ID) when the store write succeeds.
func (svc *Service) Save(ctx context.Context, merchantID, actor string, s *Session) (*SaveResult, error) {
	ctx, span := tracer.Start(ctx, "builder.Save", trace.WithAttributes(
		attribute.String("merchant.id", merchantID),
	))
	defer span.End()

	if violations := svc.Check(s); len(violations) > 0 {
		span.SetStatus(codes.Error, "preconditions failed")
		return nil, &PreconditionError{Reasons: violations, Sequence: s.Errors()}
	}

	programID := s.program.ID
	created := !s.persisted || programID == ""
	if programID == "" {
		programID = "program_" + uuid.New().String()
	}
	span.SetAttributes(attribute.String("program.id", programID))

	now := svc.now()
	doc := codec.ToPersisted(s.program, codec.Metadata{CreatedBy: actor, CreatedAt: now, UpdatedAt: now})

	stored, err := svc.store.SaveProgram(ctx, merchantID, programID, &doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
		slog.Error("program save failed",
			"merchant_id", merchantID,
			"program_id", programID,
			"error", err,
		)
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	s.markSaved(programID)

	if err := svc.cache.SetProgram(ctx, merchantID, programID, stored, svc.programTTL); err != nil {
		slog.Warn("failed to cache program", "program_id", programID, "error", err)
	}
	svc.publish(ctx, domain.TopicProgramSaved, domain.ProgramEvent{
		MerchantID:   merchantID,
		ProgramID:    programID,
		Name:         stored.Name,
		TotalRewards: stored.TotalRewards,
		Actor:        actor,
		Created:      created,
	})

	slog.Info("program saved",
		"merchant_id", merchantID,
		"program_id", programID,
		"created", created,
		"total_rewards", stored.TotalRewards,
	)

	return &SaveResult{ProgramID: programID, Created: created, Document: stored}, nil
}

// Get returns a stored program, preferring the cache.
func (svc *Service) Get(ctx context.Context, merchantID, programID string) (domain.Program, error) {
	doc, err := svc.document(ctx, merchantID, programID)
	if err != nil {
		return domain.Program{}, err
	}
	return codec.FromPersisted(programID, *doc), nil
}

// Edit opens a session over a stored program.
func (svc *Service) Edit(ctx context.Context, merchantID, programID string) (*Session, error) {
	p, err := svc.Get(ctx, merchantID, programID)
	if err != nil {
		return nil, err
	}
	return EditSession(p, svc.strategy), nil
}

// List returns every stored program of a merchant.
func (svc *Service) List(ctx context.Context, merchantID string) ([]domain.Program, error) {
	records, err := svc.store.ListPrograms(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Program, 0, len(records))
	for _, rec := range records {
		out = append(out, codec.FromPersisted(rec.ProgramID, rec.Document))
	}
	return out, nil
}

func (svc *Service) document(ctx context.Context, merchantID, programID string) (*domain.PersistedProgram, error) {
	if doc, err := svc.cache.GetProgram(ctx, merchantID, programID); err == nil && doc != nil {
		return doc, nil
	}

	doc, err := svc.store.GetProgram(ctx, merchantID, programID)
	if err != nil {
		return nil, err
	}
	if err := svc.cache.SetProgram(ctx, merchantID, programID, doc, svc.programTTL); err != nil {
		slog.Warn("failed to cache program", "program_id", programID, "error", err)
	}
	return doc, nil
}

// AppendRewards adds rewards to a stored program with a read-modify-write
// merge of the reward array. Appended rewards are ordered after the stored
// ones and the merged chain must pass sequence validation.
func (svc *Service) AppendRewards(ctx context.Context, merchantID, programID string, rewards []domain.Reward) (*domain.PersistedProgram, error) {
	ctx, span := tracer.Start(ctx, "builder.AppendRewards", trace.WithAttributes(
		attribute.String("merchant.id", merchantID),
		attribute.String("program.id", programID),
		attribute.Int("rewards.count", len(rewards)),
	))
	defer span.End()

	current, err := svc.store.GetProgram(ctx, merchantID, programID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	persisted := make([]domain.PersistedReward, len(rewards))
	for i, r := range rewards {
		if r.ID == "" {
			r.ID = "reward-" + uuid.New().String()
		}
		persisted[i] = codec.RewardToPersisted(r)
	}

	if errs := svc.mergedSequenceErrors(*current, persisted); len(errs) > 0 {
		span.SetStatus(codes.Error, "sequence invalid")
		return nil, &PreconditionError{
			Reasons:  []rules.Violation{sequenceViolation()},
			Sequence: errs,
		}
	}

	doc, err := svc.store.AppendRewards(ctx, merchantID, programID, persisted)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrProgramNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	if err := svc.cache.Delete(ctx, merchantID, domain.ProgramCacheKey(programID)); err != nil {
		slog.Warn("failed to invalidate cached program", "program_id", programID, "error", err)
	}
	svc.publish(ctx, domain.TopicProgramSaved, domain.ProgramEvent{
		MerchantID:   merchantID,
		ProgramID:    programID,
		Name:         doc.Name,
		TotalRewards: doc.TotalRewards,
	})

	return doc, nil
}

// mergedSequenceErrors validates the stored rewards followed by batch. Both
// sides are decoded from their stored form so conditions compare in the same
// vocabulary, and batch takes the orders the store will assign it.
func (svc *Service) mergedSequenceErrors(doc domain.PersistedProgram, batch []domain.PersistedReward) rules.ValidationErrors {
	chain := codec.FromPersisted("", doc).Rewards
	next := 0
	for _, r := range doc.Rewards {
		next = max(next, r.Order+1)
	}
	for i, pr := range batch {
		r := codec.RewardFromPersisted(pr)
		r.Order = next + i
		chain = append(chain, r)
	}
	return rules.NewSequenceValidator(svc.strategy).Validate(chain)
}

func sequenceViolation() rules.Violation {
	for _, c := range rules.DefaultChecks() {
		if c.ID == rules.CheckSequence {
			return rules.Violation{CheckID: c.ID, Title: c.Title, Message: c.Message}
		}
	}
	return rules.Violation{CheckID: rules.CheckSequence}
}

// RequestDelete is the first step of a delete. It returns a confirmation
// token valid for the configured TTL; nothing is deleted.
func (svc *Service) RequestDelete(ctx context.Context, merchantID, programID string) (string, error) {
	if _, err := svc.store.GetProgram(ctx, merchantID, programID); err != nil {
		return "", err
	}

	if err := svc.cache.ResetCounter(ctx, merchantID, deleteAttemptsKey(programID)); err != nil {
		slog.Warn("failed to reset delete attempts", "program_id", programID, "error", err)
	}

	token := uuid.New().String()
	if err := svc.cache.Set(ctx, merchantID, deleteTokenKey(programID), []byte(token), svc.cfg.DeleteConfirmTTL); err != nil {
		return "", fmt.Errorf("failed to store delete confirmation: %w", err)
	}

	slog.Info("program delete requested",
		"merchant_id", merchantID,
		"program_id", programID,
		"expires_in", svc.cfg.DeleteConfirmTTL.String(),
	)
	return token, nil
}

// ConfirmDelete is the second step of a delete. Without the token issued by
// RequestDelete it returns ErrDeleteNotConfirmed and leaves the document
// untouched. Too many wrong tokens revoke the pending request.
func (svc *Service) ConfirmDelete(ctx context.Context, merchantID, programID, token string) error {
	ctx, span := tracer.Start(ctx, "builder.ConfirmDelete", trace.WithAttributes(
		attribute.String("merchant.id", merchantID),
		attribute.String("program.id", programID),
	))
	defer span.End()

	key := deleteTokenKey(programID)
	expected, err := svc.cache.Get(ctx, merchantID, key)
	if err != nil {
		return fmt.Errorf("failed to read delete confirmation: %w", err)
	}
	if expected == nil || token == "" {
		return ErrDeleteNotConfirmed
	}

	if string(expected) != token {
		attempts, err := svc.cache.IncrementCounter(ctx, merchantID, deleteAttemptsKey(programID), svc.cfg.DeleteConfirmTTL)
		if err == nil && attempts >= int64(svc.cfg.MaxDeleteAttempts) {
			if err := svc.cache.Delete(ctx, merchantID, key); err != nil {
				slog.Warn("failed to revoke delete confirmation", "program_id", programID, "error", err)
			}
			slog.Warn("delete confirmation revoked",
				"merchant_id", merchantID,
				"program_id", programID,
				"attempts", attempts,
			)
		}
		return ErrDeleteNotConfirmed
	}

	if err := svc.store.DeleteProgram(ctx, merchantID, programID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store delete failed")
		slog.Error("program delete failed",
			"merchant_id", merchantID,
			"program_id", programID,
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrDeleteFailed, err)
	}

	if err := svc.cache.Delete(ctx, merchantID, key); err != nil {
		slog.Warn("failed to clear delete confirmation", "program_id", programID, "error", err)
	}
	if err := svc.cache.ResetCounter(ctx, merchantID, deleteAttemptsKey(programID)); err != nil {
		slog.Warn("failed to reset delete attempts", "program_id", programID, "error", err)
	}
	if err := svc.cache.Delete(ctx, merchantID, domain.ProgramCacheKey(programID)); err != nil {
		slog.Warn("failed to invalidate cached program", "program_id", programID, "error", err)
	}
	svc.publish(ctx, domain.TopicProgramDeleted, domain.ProgramEvent{
		MerchantID: merchantID,
		ProgramID:  programID,
	})

	slog.Info("program deleted",
		"merchant_id", merchantID,
		"program_id", programID,
	)
	return nil
}

func deleteTokenKey(programID string) string {
	return "delete-confirm:" + programID
}

func deleteAttemptsKey(programID string) string {
	return "delete-attempts:" + programID
}

func (svc *Service) publish(ctx context.Context, topic string, event domain.ProgramEvent) {
	if svc.bus == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal program event", "topic", topic, "error", err)
		return
	}
	if err := svc.bus.Publish(ctx, event.MerchantID, topic, payload); err != nil {
		slog.Warn("failed to publish program event",
			"topic", topic,
			"program_id", event.ProgramID,
			"error", err,
		)
	}
}
