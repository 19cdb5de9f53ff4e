package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/tutorquota/adapters/sqlite"
	"github.com/artpar/tutorquota/domain/auth"
)

func TestSessionStore_PutAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewSessionStore(db)
	ctx := context.Background()

	session := auth.Session{
		ID:        "sess_test1234567890abcdef",
		UserID:    "user_123",
		Email:     "student@example.com",
		ExpiresAt: time.Now().Add(24 * time.Hour).Truncate(time.Second),
		CreatedAt: time.Now().Truncate(time.Second),
	}

	if err := store.Put(ctx, session); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != session.UserID {
		t.Errorf("UserID = %s, want %s", got.UserID, session.UserID)
	}
	if got.Email != session.Email {
		t.Errorf("Email = %s, want %s", got.Email, session.Email)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, session.ExpiresAt)
	}
}

func TestSessionStore_GetUnknown(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := sqlite.NewSessionStore(db)

	_, err := store.Get(context.Background(), "sess_missing")
	if !errors.Is(err, auth.ErrNoSession) {
		t.Errorf("Get() error = %v, want ErrNoSession", err)
	}
}
