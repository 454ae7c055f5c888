package flow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joshp123/gohome-electra/internal/entry"
)

type twoStepHandler struct {
	name string
}

func (h *twoStepHandler) Step(_ context.Context, stepID string, input map[string]string) (Result, error) {
	switch stepID {
	case StepUser:
		if input == nil {
			return Form(StepUser, []Field{{Name: "name", Required: true}}, nil), nil
		}
		if input["name"] == "" {
			return Form(StepUser, []Field{{Name: "name", Required: true}}, map[string]string{"name": "required"}), nil
		}
		h.name = input["name"]
		return Form("code", []Field{{Name: "code", Required: true}}, nil), nil
	case "code":
		if input["code"] != "1234" {
			return Form("code", []Field{{Name: "code", Required: true}}, map[string]string{"code": "invalid_auth"}), nil
		}
		return CreateEntry(h.name, h.name, map[string]string{"name": h.name}), nil
	}
	return Result{}, errors.New("unknown step")
}

type intervalHandler struct{}

func (intervalHandler) Step(_ context.Context, _ string, input map[string]string) (Result, error) {
	if input == nil {
		return Form(StepInit, []Field{{Name: "interval"}}, nil), nil
	}
	return CreateOptions(map[string]int{"interval": len(input["interval"])}), nil
}

func newTestManager(t *testing.T) (*Manager, *entry.Store) {
	t.Helper()
	store := entry.NewStore(t.TempDir(), nil)
	manager := NewManager(store)
	manager.RegisterConfigFlow("demo", func() Handler { return &twoStepHandler{} })
	manager.RegisterOptionsFlow("demo", func(entry.Entry) Handler { return intervalHandler{} })
	return manager, store
}

func TestConfigFlowCreatesEntry(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	res, err := manager.Start(ctx, "demo")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Type != ResultForm || res.StepID != StepUser || res.FlowID == "" {
		t.Fatalf("unexpected start result: %+v", res)
	}

	res, err = manager.Submit(ctx, res.FlowID, map[string]string{"name": "alice"})
	if err != nil {
		t.Fatalf("Submit name: %v", err)
	}
	if res.StepID != "code" {
		t.Fatalf("expected code step, got %+v", res)
	}

	res, err = manager.Submit(ctx, res.FlowID, map[string]string{"code": "0000"})
	if err != nil {
		t.Fatalf("Submit bad code: %v", err)
	}
	if res.Type != ResultForm || res.Errors["code"] != "invalid_auth" {
		t.Fatalf("expected invalid_auth, got %+v", res)
	}

	res, err = manager.Submit(ctx, res.FlowID, map[string]string{"code": "1234"})
	if err != nil {
		t.Fatalf("Submit code: %v", err)
	}
	if res.Type != ResultCreateEntry || res.EntryID == "" {
		t.Fatalf("expected created entry, got %+v", res)
	}

	entries, err := store.Entries(ctx, "demo")
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Data["name"] != "alice" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	if _, err := manager.Submit(ctx, res.FlowID, nil); !errors.Is(err, ErrUnknownFlow) {
		t.Fatalf("expected finished flow to be gone, got %v", err)
	}
}

func TestConfigFlowAbortsDuplicateUniqueID(t *testing.T) {
	manager, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := manager.Start(ctx, "demo")
		if err != nil {
			t.Fatalf("Start: %v", err)
		}
		res, err = manager.Submit(ctx, res.FlowID, map[string]string{"name": "bob"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		res, err = manager.Submit(ctx, res.FlowID, map[string]string{"code": "1234"})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if i == 1 && (res.Type != ResultAbort || res.Reason != AbortAlreadyConfigured) {
			t.Fatalf("expected already_configured abort, got %+v", res)
		}
	}
}

func TestOptionsFlowUpdatesEntry(t *testing.T) {
	manager, store := newTestManager(t)
	ctx := context.Background()

	created, err := store.Create(ctx, entry.Entry{Domain: "demo", Title: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := manager.StartOptions(ctx, "demo", created.EntryID)
	if err != nil {
		t.Fatalf("StartOptions: %v", err)
	}
	if res.StepID != StepInit {
		t.Fatalf("unexpected step: %s", res.StepID)
	}
	if _, err := manager.Submit(ctx, res.FlowID, map[string]string{"interval": "abc"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	updated, err := store.Get(ctx, "demo", created.EntryID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Option("interval", 0) != 3 {
		t.Fatalf("unexpected options: %+v", updated.Options)
	}
}

func TestExpiredSessionsArePruned(t *testing.T) {
	manager, _ := newTestManager(t)
	now := time.Now()
	manager.now = func() time.Time { return now }

	res, err := manager.Start(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	now = now.Add(DefaultSessionTTL + time.Minute)
	if _, err := manager.Submit(context.Background(), res.FlowID, map[string]string{"name": "x"}); !errors.Is(err, ErrUnknownFlow) {
		t.Fatalf("expected expired flow, got %v", err)
	}
}

func TestStartUnknownDomain(t *testing.T) {
	manager, _ := newTestManager(t)
	if _, err := manager.Start(context.Background(), "nope"); !errors.Is(err, ErrUnknownHandler) {
		t.Fatalf("expected ErrUnknownHandler, got %v", err)
	}
}
