package db_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/wuwenbin0122/roomchat/internal/db"
	"github.com/wuwenbin0122/roomchat/internal/models"
)

// exerciseStore runs the append-only log contract against any backend.
func exerciseStore(t *testing.T, store db.Store) {
	t.Helper()
	ctx := context.Background()

	session := "contract-" + uuid.NewString()
	other := "contract-other-" + uuid.NewString()

	user, err := store.Append(ctx, session, models.RoleUser, "hello")
	if err != nil {
		t.Fatalf("append user turn: %v", err)
	}
	if user.ID == "" || user.CreatedAt == nil {
		t.Fatalf("expected store-assigned id and createdAt, got %+v", user)
	}
	if user.State != models.StateConfirmed {
		t.Fatalf("expected confirmed state, got %s", user.State)
	}

	assistant, err := store.Append(ctx, session, models.RoleAssistant, "Hi there! ✨")
	if err != nil {
		t.Fatalf("append assistant turn: %v", err)
	}
	if assistant.ID == user.ID {
		t.Fatalf("expected distinct ids, both were %s", user.ID)
	}

	if _, err := store.Append(ctx, other, models.RoleUser, "elsewhere"); err != nil {
		t.Fatalf("append to other session: %v", err)
	}

	if _, err := store.Append(ctx, session, models.RoleSystem, "preamble"); !errors.Is(err, db.ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole for system turn, got %v", err)
	}

	first, err := store.ListTurns(ctx, session)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(first))
	}
	if first[0].ID != user.ID || first[1].ID != assistant.ID {
		t.Fatalf("unexpected order: %s, %s", first[0].ID, first[1].ID)
	}
	if first[1].Content != "Hi there! ✨" || first[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected assistant turn %+v", first[1])
	}
	if first[0].CreatedAt.After(*first[1].CreatedAt) {
		t.Fatalf("createdAt must be non-decreasing")
	}
	if !first[0].CreatedAt.Equal(*user.CreatedAt) {
		t.Fatalf("listed createdAt %s differs from appended %s", first[0].CreatedAt, user.CreatedAt)
	}

	second, err := store.ListTurns(ctx, session)
	if err != nil {
		t.Fatalf("list turns again: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("hydration is not idempotent:\n%+v\n%+v", first, second)
	}

	empty, err := store.ListTurns(ctx, "missing-"+uuid.NewString())
	if err != nil {
		t.Fatalf("list unknown session: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no turns for unknown session, got %d", len(empty))
	}
}
