// Package worker reacts to program lifecycle events from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/ladder/internal/domain"
)

// Worker keeps cached program documents in line with the store. A saved
// event refreshes the cached document; a deleted event evicts it.
type Worker struct {
	bus   domain.EventBus
	cache domain.Cache
	store domain.ProgramStore
	ttl   time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc

	refreshed atomic.Int64
	evicted   atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// MerchantIDs limits the worker to these merchants (empty = all merchants)
	MerchantIDs []string

	// ProgramTTL is the TTL used when refreshing a cached document
	ProgramTTL time.Duration
}

// NewWorker creates a worker. store may be nil, in which case saved events
// only evict the cached document.
func NewWorker(bus domain.EventBus, cache domain.Cache, store domain.ProgramStore) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		cache:  cache,
		store:  store,
		ttl:    10 * time.Minute,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to program events for the configured merchants.
func (w *Worker) Start(cfg Config) error {
	if cfg.ProgramTTL > 0 {
		w.ttl = cfg.ProgramTTL
	}

	merchants := cfg.MerchantIDs
	if len(merchants) == 0 {
		merchants = []string{domain.GlobalMerchantID}
	}

	for _, merchantID := range merchants {
		for _, topic := range []string{domain.TopicProgramSaved, domain.TopicProgramDeleted} {
			sub, err := w.bus.Subscribe(w.ctx, merchantID, topic, w.handleMessage)
			if err != nil {
				return fmt.Errorf("failed to subscribe to %s for %s: %w", topic, merchantID, err)
			}
			w.mu.Lock()
			w.subscriptions = append(w.subscriptions, sub)
			w.mu.Unlock()
		}
	}

	slog.Info("program event worker started",
		"merchant_count", len(cfg.MerchantIDs),
		"global", len(cfg.MerchantIDs) == 0,
	)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var event domain.ProgramEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.failed.Add(1)
		slog.Error("failed to parse program event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}
	if event.MerchantID == "" {
		event.MerchantID = msg.MerchantID
	}
	if event.ProgramID == "" || event.MerchantID == "" {
		w.failed.Add(1)
		return errors.New("program event without merchant or program id")
	}

	var err error
	switch msg.Topic {
	case domain.TopicProgramSaved:
		err = w.refresh(ctx, event)
	case domain.TopicProgramDeleted:
		err = w.evict(ctx, event)
	default:
		return nil
	}
	if err != nil {
		w.failed.Add(1)
		slog.Error("program event handling failed",
			"topic", msg.Topic,
			"merchant_id", event.MerchantID,
			"program_id", event.ProgramID,
			"error", err,
		)
		return err
	}

	slog.Debug("program event handled",
		"topic", msg.Topic,
		"merchant_id", event.MerchantID,
		"program_id", event.ProgramID,
	)
	return nil
}

func (w *Worker) refresh(ctx context.Context, event domain.ProgramEvent) error {
	if w.store == nil {
		return w.evict(ctx, event)
	}

	doc, err := w.store.GetProgram(ctx, event.MerchantID, event.ProgramID)
	if errors.Is(err, domain.ErrProgramNotFound) {
		return w.evict(ctx, event)
	}
	if err != nil {
		return err
	}
	if err := w.cache.SetProgram(ctx, event.MerchantID, event.ProgramID, doc, w.ttl); err != nil {
		return err
	}
	w.refreshed.Add(1)
	return nil
}

func (w *Worker) evict(ctx context.Context, event domain.ProgramEvent) error {
	if err := w.cache.Delete(ctx, event.MerchantID, domain.ProgramCacheKey(event.ProgramID)); err != nil {
		return err
	}
	w.evicted.Add(1)
	return nil
}

// Stop unsubscribes and stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("program event worker stopped")
	return nil
}

// Stats reports worker activity.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Refreshed         int64    `json:"refreshed"`
	Evicted           int64    `json:"evicted"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	w.mu.Unlock()

	return Stats{
		SubscriptionCount: len(topics),
		Topics:            topics,
		Refreshed:         w.refreshed.Load(),
		Evicted:           w.evicted.Load(),
		Failed:            w.failed.Load(),
	}
}
