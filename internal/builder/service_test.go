package builder

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/ladder/internal/bus"
	"github.com/opensource-finance/ladder/internal/cache"
	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/opensource-finance/ladder/internal/repository"
	"github.com/opensource-finance/ladder/internal/rules"
	"github.com/opensource-finance/ladder/internal/templates"
)

const merchantID = "merchant-001"

// failingStore wraps a real store and fails the selected writes.
type failingStore struct {
	domain.ProgramStore
	failSave   bool
	failDelete bool
}

var errStoreDown = errors.New("store unavailable")

func (f *failingStore) SaveProgram(ctx context.Context, m, id string, doc *domain.PersistedProgram) (*domain.PersistedProgram, error) {
	if f.failSave {
		return nil, errStoreDown
	}
	return f.ProgramStore.SaveProgram(ctx, m, id, doc)
}

func (f *failingStore) DeleteProgram(ctx context.Context, m, id string) error {
	if f.failDelete {
		return errStoreDown
	}
	return f.ProgramStore.DeleteProgram(ctx, m, id)
}

type testEnv struct {
	svc   *Service
	store *failingStore
	cache *cache.LRUCache
	bus   *bus.ChannelBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "builder.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewPreconditionEngine(nil)
	if err != nil {
		t.Fatalf("failed to create precondition engine: %v", err)
	}

	env := &testEnv{
		store: &failingStore{ProgramStore: repo},
		cache: cache.NewLRUCache(100),
		bus:   bus.NewChannelBus(16),
	}
	t.Cleanup(func() { env.bus.Close() })

	env.svc, err = NewService(Options{
		Store:         env.store,
		Cache:         env.cache,
		Bus:           env.bus,
		Preconditions: engine,
		Validation: domain.ValidationConfig{
			Strategy:          "cumulative",
			DeleteConfirmTTL:  time.Minute,
			MaxDeleteAttempts: 3,
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return env
}

func cafeSession(svc *Service) *Session {
	tpl, _ := templates.Lookup("cafe")
	s := svc.NewSession()
	s.ApplyTemplate(tpl)
	return s
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	if _, err := NewService(Options{}); err == nil {
		t.Error("expected error without store, cache and preconditions")
	}

	engine, _ := rules.NewPreconditionEngine(nil)
	_, err := NewService(Options{
		Store:         &failingStore{},
		Cache:         cache.NewLRUCache(1),
		Preconditions: engine,
		Validation:    domain.ValidationConfig{Strategy: "strict"},
	})
	if err == nil {
		t.Error("expected error for unknown strategy")
	}
}

func TestSavePreconditions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("EmptyProgram", func(t *testing.T) {
		_, err := env.svc.Save(ctx, merchantID, "owner", env.svc.NewSession())

		var pe *PreconditionError
		if !errors.As(err, &pe) {
			t.Fatalf("expected PreconditionError, got %v", err)
		}
		want := []string{rules.CheckRewards, rules.CheckName, rules.CheckDescription, rules.CheckPIN}
		if len(pe.Reasons) != len(want) {
			t.Fatalf("expected %d reasons, got %v", len(want), pe.Reasons)
		}
		for i, id := range want {
			if pe.Reasons[i].CheckID != id {
				t.Errorf("reason %d = %s, want %s", i, pe.Reasons[i].CheckID, id)
			}
		}
		if errors.Is(err, ErrSequenceInvalid) {
			t.Error("an empty program has no sequence errors")
		}
	})

	t.Run("SequenceErrors", func(t *testing.T) {
		s := cafeSession(env.svc)
		r := s.Program().Rewards[2]
		if err := s.RemoveCondition(r.ID, r.Conditions[0].ID); err != nil {
			t.Fatal(err)
		}

		_, err := env.svc.Save(ctx, merchantID, "owner", s)
		if !errors.Is(err, ErrSequenceInvalid) {
			t.Fatalf("expected ErrSequenceInvalid, got %v", err)
		}
		var pe *PreconditionError
		errors.As(err, &pe)
		if pe.Reasons[0].CheckID != rules.CheckSequence {
			t.Errorf("sequence check must be reported first, got %s", pe.Reasons[0].CheckID)
		}
		if _, ok := pe.Sequence[r.ID]; !ok {
			t.Errorf("expected sequence errors for %s, got %v", r.ID, pe.Sequence)
		}
		if !s.IsNew() {
			t.Error("a rejected save must not mark the session saved")
		}
	})

	t.Run("PlaceholderName", func(t *testing.T) {
		s := cafeSession(env.svc)
		s.SetName(domain.DefaultProgramName)

		_, err := env.svc.Save(ctx, merchantID, "owner", s)
		var pe *PreconditionError
		if !errors.As(err, &pe) || pe.Reasons[0].CheckID != rules.CheckName {
			t.Errorf("expected name precondition, got %v", err)
		}
	})
}

func TestSaveAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	s := cafeSession(env.svc)
	res, err := env.svc.Save(ctx, merchantID, "owner-1", s)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !res.Created {
		t.Error("first save should create")
	}
	if res.Document.TotalRewards != 3 || res.Document.CreatedBy != "owner-1" {
		t.Errorf("unexpected document %+v", res.Document)
	}
	if s.IsNew() || s.Program().ID != res.ProgramID {
		t.Error("session should record the stored program ID")
	}

	cached, err := env.cache.GetProgram(ctx, merchantID, res.ProgramID)
	if err != nil || cached == nil {
		t.Errorf("expected cached document, got %v, %v", cached, err)
	}

	s.SetName("Coffee Rewards")
	again, err := env.svc.Save(ctx, merchantID, "owner-2", s)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if again.Created || again.ProgramID != res.ProgramID {
		t.Errorf("expected update of %s, got %+v", res.ProgramID, again)
	}
	if again.Document.CreatedBy != "owner-1" {
		t.Errorf("CreatedBy changed to %s", again.Document.CreatedBy)
	}

	programs, err := env.svc.List(ctx, merchantID)
	if err != nil {
		t.Fatal(err)
	}
	if len(programs) != 1 || programs[0].Name != "Coffee Rewards" {
		t.Errorf("expected one updated program, got %+v", programs)
	}

	edit, err := env.svc.Edit(ctx, merchantID, res.ProgramID)
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if edit.IsNew() || !edit.Valid() {
		t.Errorf("reloaded program should be a valid stored session, errors %v", edit.Errors())
	}
}

func TestSaveFailureLeavesSession(t *testing.T) {
	env := newTestEnv(t)
	env.store.failSave = true

	s := cafeSession(env.svc)
	before := s.Program()

	_, err := env.svc.Save(context.Background(), merchantID, "owner", s)
	if !errors.Is(err, ErrSaveFailed) || !errors.Is(err, errStoreDown) {
		t.Fatalf("expected ErrSaveFailed wrapping the store error, got %v", err)
	}
	if !s.IsNew() || s.Program().ID != "" {
		t.Error("session changed after a failed save")
	}
	if len(s.Program().Rewards) != len(before.Rewards) {
		t.Error("rewards changed after a failed save")
	}
}

func TestTwoStepDelete(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.Save(ctx, merchantID, "owner", cafeSession(env.svc))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	id := res.ProgramID

	t.Run("WithoutToken", func(t *testing.T) {
		if err := env.svc.ConfirmDelete(ctx, merchantID, id, ""); !errors.Is(err, ErrDeleteNotConfirmed) {
			t.Errorf("expected ErrDeleteNotConfirmed, got %v", err)
		}
		if _, err := env.svc.Get(ctx, merchantID, id); err != nil {
			t.Errorf("program must survive an unconfirmed delete: %v", err)
		}
	})

	t.Run("RequestUnknownProgram", func(t *testing.T) {
		if _, err := env.svc.RequestDelete(ctx, merchantID, "missing"); !errors.Is(err, domain.ErrProgramNotFound) {
			t.Errorf("expected ErrProgramNotFound, got %v", err)
		}
	})

	t.Run("WrongTokensRevoke", func(t *testing.T) {
		token, err := env.svc.RequestDelete(ctx, merchantID, id)
		if err != nil {
			t.Fatalf("RequestDelete failed: %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := env.svc.ConfirmDelete(ctx, merchantID, id, "wrong"); !errors.Is(err, ErrDeleteNotConfirmed) {
				t.Fatalf("attempt %d: expected ErrDeleteNotConfirmed, got %v", i, err)
			}
		}
		if err := env.svc.ConfirmDelete(ctx, merchantID, id, token); !errors.Is(err, ErrDeleteNotConfirmed) {
			t.Errorf("revoked token must not delete, got %v", err)
		}
		if _, err := env.svc.Get(ctx, merchantID, id); err != nil {
			t.Errorf("program must survive: %v", err)
		}
	})

	t.Run("FreshRequestResetsAttempts", func(t *testing.T) {
		if _, err := env.svc.RequestDelete(ctx, merchantID, id); err != nil {
			t.Fatalf("RequestDelete failed: %v", err)
		}
		if err := env.svc.ConfirmDelete(ctx, merchantID, id, "wrong"); !errors.Is(err, ErrDeleteNotConfirmed) {
			t.Fatalf("expected ErrDeleteNotConfirmed, got %v", err)
		}
		pending, _ := env.cache.Get(ctx, merchantID, deleteTokenKey(id))
		if pending == nil {
			t.Error("one wrong token after a new request must not revoke it")
		}
	})

	t.Run("StoreFailure", func(t *testing.T) {
		token, _ := env.svc.RequestDelete(ctx, merchantID, id)
		env.store.failDelete = true
		defer func() { env.store.failDelete = false }()

		if err := env.svc.ConfirmDelete(ctx, merchantID, id, token); !errors.Is(err, ErrDeleteFailed) {
			t.Errorf("expected ErrDeleteFailed, got %v", err)
		}
	})

	t.Run("Confirmed", func(t *testing.T) {
		token, err := env.svc.RequestDelete(ctx, merchantID, id)
		if err != nil {
			t.Fatalf("RequestDelete failed: %v", err)
		}
		if err := env.svc.ConfirmDelete(ctx, merchantID, id, token); err != nil {
			t.Fatalf("ConfirmDelete failed: %v", err)
		}

		if _, err := env.svc.Get(ctx, merchantID, id); !errors.Is(err, domain.ErrProgramNotFound) {
			t.Errorf("expected program to be gone, got %v", err)
		}
		programs, _ := env.svc.List(ctx, merchantID)
		if len(programs) != 0 {
			t.Errorf("expected empty list, got %d", len(programs))
		}
		if err := env.svc.ConfirmDelete(ctx, merchantID, id, token); !errors.Is(err, ErrDeleteNotConfirmed) {
			t.Errorf("token must be single use, got %v", err)
		}
	})
}

func TestAppendRewards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	got := make(chan domain.ProgramEvent, 4)
	sub, err := env.bus.Subscribe(ctx, merchantID, domain.TopicProgramSaved, func(_ context.Context, msg *domain.Message) error {
		var ev domain.ProgramEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		got <- ev
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	res, err := env.svc.Save(ctx, merchantID, "owner", cafeSession(env.svc))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	extra := domain.NewReward("", "Free Sandwich", 0, domain.FreeItem{ItemName: "Sandwich"})
	extra.Conditions = []domain.Condition{{Type: domain.ConditionTransactionCount, Value: 15}}

	doc, err := env.svc.AppendRewards(ctx, merchantID, res.ProgramID, []domain.Reward{extra})
	if err != nil {
		t.Fatalf("AppendRewards failed: %v", err)
	}
	if doc.TotalRewards != 4 {
		t.Errorf("expected 4 rewards, got %d", doc.TotalRewards)
	}
	last := doc.Rewards[3]
	if last.Order != 3 || last.ID == "" {
		t.Errorf("unexpected appended reward %+v", last)
	}

	p, err := env.svc.Get(ctx, merchantID, res.ProgramID)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Rewards) != 4 {
		t.Errorf("cache served a stale document with %d rewards", len(p.Rewards))
	}

	for i := 0; i < 2; i++ {
		select {
		case ev := <-got:
			if ev.ProgramID != res.ProgramID {
				t.Errorf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for saved event")
		}
	}

	t.Run("InvalidBatch", func(t *testing.T) {
		a := domain.NewReward("a", "A", 0, domain.FreeItem{ItemName: "x"})
		a.Conditions = []domain.Condition{{Type: domain.ConditionSpendAmount, Value: 50}}
		b := domain.NewReward("b", "B", 1, domain.FreeItem{ItemName: "y"})

		_, err := env.svc.AppendRewards(ctx, merchantID, res.ProgramID, []domain.Reward{a, b})
		if !errors.Is(err, ErrSequenceInvalid) {
			t.Errorf("expected ErrSequenceInvalid, got %v", err)
		}
	})

	t.Run("UnknownProgram", func(t *testing.T) {
		_, err := env.svc.AppendRewards(ctx, merchantID, "missing", []domain.Reward{extra})
		if !errors.Is(err, domain.ErrProgramNotFound) {
			t.Errorf("expected ErrProgramNotFound, got %v", err)
		}
	})

	t.Run("BelowStoredThreshold", func(t *testing.T) {
		low := domain.NewReward("", "Free Cookie", 0, domain.FreeItem{ItemName: "Cookie"})
		low.Conditions = []domain.Condition{{Type: domain.ConditionTransactionCount, Value: 1}}

		_, err := env.svc.AppendRewards(ctx, merchantID, res.ProgramID, []domain.Reward{low})
		if !errors.Is(err, ErrSequenceInvalid) {
			t.Fatalf("expected ErrSequenceInvalid, got %v", err)
		}

		s, err := env.svc.Edit(ctx, merchantID, res.ProgramID)
		if err != nil {
			t.Fatal(err)
		}
		if len(s.Program().Rewards) != 4 || !s.Valid() {
			t.Errorf("stored program changed: %d rewards, errors %v", len(s.Program().Rewards), s.Errors())
		}
	})

	t.Run("VisitsCompareAsStoredTransactions", func(t *testing.T) {
		visits := domain.NewReward("", "Free Lunch", 0, domain.FreeItem{ItemName: "Lunch"})
		visits.Conditions = []domain.Condition{{Type: domain.ConditionVisitCount, Value: 20}}

		doc, err := env.svc.AppendRewards(ctx, merchantID, res.ProgramID, []domain.Reward{visits})
		if err != nil {
			t.Fatalf("AppendRewards failed: %v", err)
		}
		if doc.TotalRewards != 5 {
			t.Errorf("expected 5 rewards, got %d", doc.TotalRewards)
		}

		s, err := env.svc.Edit(ctx, merchantID, res.ProgramID)
		if err != nil {
			t.Fatal(err)
		}
		if !s.Valid() {
			t.Errorf("stored chain should stay valid, got %v", s.Errors())
		}
	})
}
