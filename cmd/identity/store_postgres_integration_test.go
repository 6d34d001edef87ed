package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"teamsync/cmd/identity/ids"
	"teamsync/cmd/internal/pgtest"
	"teamsync/cmd/security/password"
)

func newIntegrationStore(t *testing.T) *PostgresStore {
	t.Helper()
	pool := pgtest.Open(t)
	schema := pgtest.Schema(t, pool)
	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	return s
}

func mustInsert(t *testing.T, s Store, email string) Identity {
	t.Helper()
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	u, err := s.Insert(context.Background(), InsertInput{
		ID:     id,
		Name:   "Integration",
		Email:  email,
		Digest: password.Digest("$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"),
		Now:    now,
	})
	if err != nil {
		t.Fatalf("Insert(%s): %v", email, err)
	}
	return u
}

func TestPostgresStore_Insert_DuplicateEmail(t *testing.T) {
	t.Parallel()
	s := newIntegrationStore(t)

	mustInsert(t, s, "dup@example.com")

	id, _ := ids.NewULID(time.Now().UTC())
	_, err := s.Insert(context.Background(), InsertInput{
		ID: id, Name: "Other", Email: "dup@example.com", Digest: "x", Now: time.Now().UTC(),
	})
	if !IsDuplicateEmail(err) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestPostgresStore_ConcurrentInsert_OneWins(t *testing.T) {
	t.Parallel()
	s := newIntegrationStore(t)

	const n = 6
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		wins  int
		dups  int
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := ids.NewULID(time.Now().UTC())
			if err != nil {
				t.Errorf("ulid: %v", err)
				return
			}
			<-start
			_, err = s.Insert(context.Background(), InsertInput{
				ID: id, Name: "Racer", Email: "race@example.com", Digest: "x", Now: time.Now().UTC(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case IsDuplicateEmail(err):
				dups++
			default:
				t.Errorf("unexpected: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || dups != n-1 {
		t.Fatalf("wins=%d dups=%d", wins, dups)
	}
}

func TestPostgresStore_UpdateProfile_SelfExclusion(t *testing.T) {
	t.Parallel()
	s := newIntegrationStore(t)
	ctx := context.Background()

	a := mustInsert(t, s, "a@example.com")
	mustInsert(t, s, "b@example.com")

	own := "a@example.com"
	if _, err := s.UpdateProfile(ctx, a.ID, ProfilePatch{Email: &own, Now: time.Now().UTC()}); err != nil {
		t.Fatalf("keeping own email: %v", err)
	}
	taken := "b@example.com"
	if _, err := s.UpdateProfile(ctx, a.ID, ProfilePatch{Email: &taken, Now: time.Now().UTC()}); !IsDuplicateEmail(err) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
	if _, err := s.UpdateProfile(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", ProfilePatch{Email: &own}); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPostgresStore_PresenceAndWorkspaces(t *testing.T) {
	t.Parallel()
	s := newIntegrationStore(t)
	ctx := context.Background()

	u := mustInsert(t, s, "presence@example.com")

	if err := s.UpdatePresence(ctx, u.ID, StatusOnline, time.Now().UTC()); err != nil {
		t.Fatalf("UpdatePresence: %v", err)
	}
	for _, ws := range []string{"ws-1", "ws-2", "ws-1"} {
		if err := s.AddWorkspace(ctx, u.ID, ws, time.Now().UTC()); err != nil {
			t.Fatalf("AddWorkspace: %v", err)
		}
	}

	got, err := s.FindByEmail(ctx, "presence@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if got.Identity.Status != StatusOnline {
		t.Fatalf("status = %q", got.Identity.Status)
	}
	if len(got.Identity.Workspaces) != 2 {
		t.Fatalf("workspaces = %v", got.Identity.Workspaces)
	}

	if err := s.RemoveWorkspace(ctx, u.ID, "ws-1"); err != nil {
		t.Fatalf("RemoveWorkspace: %v", err)
	}
	after, err := s.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(after.Workspaces) != 1 || after.Workspaces[0] != "ws-2" {
		t.Fatalf("workspaces after remove = %v", after.Workspaces)
	}

	if err := s.AddWorkspace(ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV", "ws-1", time.Now().UTC()); !IsNotFound(err) {
		t.Fatalf("expected not found for unknown user, got %v", err)
	}
}
