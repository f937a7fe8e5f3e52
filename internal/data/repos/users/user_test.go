package users

import (
	"context"
	"testing"

	"github.com/engramlabs/engram-backend/internal/data/repos/testutil"
	types "github.com/engramlabs/engram-backend/internal/domain"
	"github.com/engramlabs/engram-backend/internal/platform/dbctx"
)

func TestEnsureUserIdempotent(t *testing.T) {
	db := testutil.DB(t)
	repo := NewUserRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	first, err := repo.EnsureUser(dbc, "user-ensure")
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	second, err := repo.EnsureUser(dbc, "user-ensure")
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if first.ID != second.ID || !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("ensure rewrote the row: %#v vs %#v", first, second)
	}

	var count int64
	if err := db.Model(&types.User{}).Where("id = ?", "user-ensure").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 user row, got %d", count)
	}
}

func TestEnsureUserRejectsEmptyID(t *testing.T) {
	db := testutil.DB(t)
	repo := NewUserRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	if _, err := repo.EnsureUser(dbc, ""); err == nil {
		t.Fatal("expected validation error for empty user id")
	}
}

func TestUpsertProfileReplacesContent(t *testing.T) {
	db := testutil.DB(t)
	users := NewUserRepo(db, testutil.Logger(t))
	profiles := NewProfileRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	if _, err := users.EnsureUser(dbc, "user-profile"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	first, err := profiles.UpsertProfile(dbc, "user-profile", "likes hiking")
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	second, err := profiles.UpsertProfile(dbc, "user-profile", "likes hiking and jazz")
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("profile duplicated: %s vs %s", first.ID, second.ID)
	}
	if second.Content != "likes hiking and jazz" {
		t.Fatalf("content not replaced: %q", second.Content)
	}
	if second.LastUpdatedAt.Before(first.LastUpdatedAt) {
		t.Fatalf("last_updated_at went backwards: %v < %v", second.LastUpdatedAt, first.LastUpdatedAt)
	}

	got, err := profiles.GetProfile(dbc, "user-profile")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Content != second.Content {
		t.Fatalf("reload mismatch: %#v", got)
	}
}

func TestGetProfileMissingIsNil(t *testing.T) {
	db := testutil.DB(t)
	profiles := NewProfileRepo(db, testutil.Logger(t))
	dbc := dbctx.New(context.Background())

	got, err := profiles.GetProfile(dbc, "user-nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing profile, got %#v", got)
	}
}
