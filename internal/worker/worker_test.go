package worker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/ladder/internal/bus"
	"github.com/opensource-finance/ladder/internal/cache"
	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/opensource-finance/ladder/internal/repository"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func publish(t *testing.T, b domain.EventBus, topic string, event domain.ProgramEvent) {
	t.Helper()
	payload, _ := json.Marshal(event)
	if err := b.Publish(context.Background(), event.MerchantID, topic, payload); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "worker.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	programCache := cache.NewLRUCache(100)
	ctx := context.Background()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, programCache, repo)
		if err := w.Start(Config{MerchantIDs: []string{"merchant-001", "merchant-002"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 4 {
			t.Errorf("expected 4 subscriptions, got %d", stats.SubscriptionCount)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	w := NewWorker(eventBus, programCache, repo)
	if err := w.Start(Config{ProgramTTL: time.Minute}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	t.Run("SavedRefreshesCache", func(t *testing.T) {
		doc := &domain.PersistedProgram{
			Name:   "Coffee Loyalty Program",
			Type:   domain.PersistedProgramType,
			Status: domain.ProgramStatusActive,
		}
		if _, err := repo.SaveProgram(ctx, "merchant-001", "program_1", doc); err != nil {
			t.Fatalf("SaveProgram failed: %v", err)
		}

		publish(t, eventBus, domain.TopicProgramSaved, domain.ProgramEvent{MerchantID: "merchant-001", ProgramID: "program_1"})

		waitFor(t, func() bool {
			cached, _ := programCache.GetProgram(ctx, "merchant-001", "program_1")
			return cached != nil && cached.Name == "Coffee Loyalty Program"
		})
		if w.GetStats().Refreshed != 1 {
			t.Errorf("expected 1 refresh, got %d", w.GetStats().Refreshed)
		}
	})

	t.Run("DeletedEvicts", func(t *testing.T) {
		publish(t, eventBus, domain.TopicProgramDeleted, domain.ProgramEvent{MerchantID: "merchant-001", ProgramID: "program_1"})

		waitFor(t, func() bool {
			cached, _ := programCache.GetProgram(ctx, "merchant-001", "program_1")
			return cached == nil
		})
	})

	t.Run("SavedButGoneEvicts", func(t *testing.T) {
		stale := &domain.PersistedProgram{Name: "stale"}
		if err := programCache.SetProgram(ctx, "merchant-002", "program_9", stale, time.Minute); err != nil {
			t.Fatal(err)
		}

		publish(t, eventBus, domain.TopicProgramSaved, domain.ProgramEvent{MerchantID: "merchant-002", ProgramID: "program_9"})

		waitFor(t, func() bool {
			cached, _ := programCache.GetProgram(ctx, "merchant-002", "program_9")
			return cached == nil
		})
	})

	t.Run("MalformedEvent", func(t *testing.T) {
		before := w.GetStats().Failed
		if err := eventBus.Publish(ctx, "merchant-001", domain.TopicProgramSaved, []byte("{not json")); err != nil {
			t.Fatal(err)
		}
		waitFor(t, func() bool { return w.GetStats().Failed > before })
	})
}

func TestWorkerWithoutStore(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	programCache := cache.NewLRUCache(10)
	ctx := context.Background()
	if err := programCache.SetProgram(ctx, "merchant-001", "program_1", &domain.PersistedProgram{Name: "x"}, time.Minute); err != nil {
		t.Fatal(err)
	}

	w := NewWorker(eventBus, programCache, nil)
	if err := w.Start(Config{MerchantIDs: []string{"merchant-001"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	publish(t, eventBus, domain.TopicProgramSaved, domain.ProgramEvent{MerchantID: "merchant-001", ProgramID: "program_1"})

	waitFor(t, func() bool { return w.GetStats().Evicted == 1 })
	if cached, _ := programCache.GetProgram(ctx, "merchant-001", "program_1"); cached != nil {
		t.Error("expected cached document to be evicted")
	}
}
