package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"teamsync/cmd/internal/validation"
	"teamsync/cmd/security/password"

	"golang.org/x/crypto/bcrypt"
)

func testHasher(t *testing.T) *password.Hasher {
	t.Helper()
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	cfg.Workers = 4
	h, err := password.NewHasher(cfg)
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	return h
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	st := NewMemoryStore()
	svc, err := NewService(st, testHasher(t), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, st
}

func mustSignup(t *testing.T, svc *Service, name, email, pw string) Identity {
	t.Helper()
	u, err := svc.CreateIdentity(context.Background(), SignupInput{Name: name, Email: email, Password: pw})
	if err != nil {
		t.Fatalf("CreateIdentity(%s): %v", email, err)
	}
	return u
}

func TestCreateIdentity_FindByEmailAnyCase(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	u := mustSignup(t, svc, "  Ada Lovelace ", "Ada@Example.COM ", "analytical")
	if u.Name != "Ada Lovelace" || u.Email != "ada@example.com" {
		t.Fatalf("normalization failed: %+v", u)
	}
	if u.Status != StatusOffline {
		t.Fatalf("new identities start offline, got %q", u.Status)
	}

	for _, variant := range []string{"ada@example.com", "ADA@EXAMPLE.COM", " aDa@eXample.com"} {
		got, err := svc.FindByEmail(ctx, variant)
		if err != nil {
			t.Fatalf("FindByEmail(%q): %v", variant, err)
		}
		if got.ID != u.ID {
			t.Fatalf("FindByEmail(%q) returned %s, want %s", variant, got.ID, u.ID)
		}
	}

	byID, err := svc.FindByID(ctx, u.ID)
	if err != nil || byID.Email != u.Email {
		t.Fatalf("FindByID: %+v %v", byID, err)
	}
}

func TestCreateIdentity_StoresDigestNotPassword(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)

	u := mustSignup(t, svc, "Grace", "grace@example.com", "cobol-rules")
	cred, err := st.FindCredentialsByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("FindCredentialsByID: %v", err)
	}
	if string(cred.Digest) == "cobol-rules" || len(cred.Digest) < 20 {
		t.Fatalf("digest looks like a raw password: %q", cred.Digest)
	}
	ok, err := testHasher(t).Config().Verify(cred.Digest, "cobol-rules")
	if err != nil || !ok {
		t.Fatalf("stored digest does not verify: ok=%v err=%v", ok, err)
	}
}

func TestCreateIdentity_Validation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.CreateIdentity(context.Background(), SignupInput{Name: "A", Email: "nope", Password: "123"})
	if !IsInvalidInput(err) || !errors.Is(err, validation.ErrInvalid) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	fields, ok := validation.Fields(err)
	if !ok || len(fields) != 3 {
		t.Fatalf("expected three field errors, got %+v", fields)
	}
	want := map[string]string{
		"name":     "Name must be between 2 and 50 characters",
		"email":    "Please provide a valid email",
		"password": "Password must be at least 6 characters",
	}
	for _, f := range fields {
		if want[f.Field] != f.Message {
			t.Fatalf("field %s: got %q want %q", f.Field, f.Message, want[f.Field])
		}
	}
}

func TestCreateIdentity_DuplicateEmail(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	mustSignup(t, svc, "First", "dup@example.com", "secret1")
	_, err := svc.CreateIdentity(context.Background(), SignupInput{Name: "Second", Email: "DUP@example.com", Password: "secret2"})
	if !IsDuplicateEmail(err) {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestCreateIdentity_ConcurrentDuplicate_ExactlyOneWins(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dups      int
		start     = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.CreateIdentity(context.Background(), SignupInput{
				Name:     "Racer",
				Email:    "race@example.com",
				Password: "racing-secret",
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case IsDuplicateEmail(err):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || dups != n-1 {
		t.Fatalf("successes=%d dups=%d", successes, dups)
	}
}

func TestLogin_PresenceLifecycle(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	u := mustSignup(t, svc, "Linus", "linus@example.com", "kernel-hacker")

	for i := 0; i < 2; i++ {
		got, err := svc.Login(ctx, "LINUS@example.com", "kernel-hacker")
		if err != nil {
			t.Fatalf("Login #%d: %v", i, err)
		}
		if got.Status != StatusOnline {
			t.Fatalf("expected online after login, got %q", got.Status)
		}
	}

	for i := 0; i < 2; i++ {
		if err := svc.Logout(ctx, u.ID); err != nil {
			t.Fatalf("Logout #%d: %v", i, err)
		}
	}
	after, err := svc.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if after.Status != StatusOffline {
		t.Fatalf("expected offline after logout, got %q", after.Status)
	}
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	mustSignup(t, svc, "Barbara", "barbara@example.com", "liskov-sub")

	_, errWrong := svc.Login(ctx, "barbara@example.com", "wrong-pass")
	_, errMissing := svc.Login(ctx, "nobody@example.com", "wrong-pass")

	if !IsInvalidCredentials(errWrong) || !IsInvalidCredentials(errMissing) {
		t.Fatalf("expected invalid credentials, got %v / %v", errWrong, errMissing)
	}
	if errWrong.Error() != errMissing.Error() {
		t.Fatalf("messages differ: %q vs %q", errWrong, errMissing)
	}

	if _, err := svc.Login(ctx, "", ""); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty credentials, got %v", err)
	}
}

func TestLogin_CorruptDigestIsInternal(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	u := mustSignup(t, svc, "Corrupt", "corrupt@example.com", "whatever1")
	if err := st.UpdateDigest(ctx, u.ID, "garbage", time.Now()); err != nil {
		t.Fatalf("UpdateDigest: %v", err)
	}

	_, err := svc.Login(ctx, "corrupt@example.com", "whatever1")
	if !errors.Is(err, password.ErrInvalidHash) || IsInvalidCredentials(err) {
		t.Fatalf("expected internal ErrInvalidHash, got %v", err)
	}
}

func TestLogin_UpgradesLegacyDigest(t *testing.T) {
	t.Parallel()
	svc, st := newTestService(t)
	ctx := context.Background()

	u := mustSignup(t, svc, "Legacy", "legacy@example.com", "placeholder")
	legacy, err := bcrypt.GenerateFromPassword([]byte("old-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	if err := st.UpdateDigest(ctx, u.ID, password.Digest(legacy), time.Now()); err != nil {
		t.Fatalf("UpdateDigest: %v", err)
	}

	if _, err := svc.Login(ctx, "legacy@example.com", "old-secret"); err != nil {
		t.Fatalf("Login with legacy digest: %v", err)
	}

	cred, err := st.FindCredentialsByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindCredentialsByID: %v", err)
	}
	if string(cred.Digest) == string(legacy) {
		t.Fatalf("expected digest to be upgraded")
	}
	if _, err := svc.Login(ctx, "legacy@example.com", "old-secret"); err != nil {
		t.Fatalf("Login after upgrade: %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := mustSignup(t, svc, "Alice", "alice@example.com", "secret-a")
	mustSignup(t, svc, "Bob", "bob@example.com", "secret-b")

	if _, err := svc.UpdateProfile(ctx, a.ID, ProfileUpdate{}); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input for empty update, got %v", err)
	}

	taken := "BOB@example.com"
	if _, err := svc.UpdateProfile(ctx, a.ID, ProfileUpdate{Email: &taken}); !IsDuplicateEmail(err) {
		t.Fatalf("expected duplicate email, got %v", err)
	}

	own := "Alice@Example.com"
	name := "Alice Liddell"
	got, err := svc.UpdateProfile(ctx, a.ID, ProfileUpdate{Name: &name, Email: &own})
	if err != nil {
		t.Fatalf("keeping own email must succeed: %v", err)
	}
	if got.Name != "Alice Liddell" || got.Email != "alice@example.com" {
		t.Fatalf("unexpected profile: %+v", got)
	}

	fresh := "wonderland@example.com"
	got, err = svc.UpdateProfile(ctx, a.ID, ProfileUpdate{Email: &fresh})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if got.Email != fresh {
		t.Fatalf("email not updated: %+v", got)
	}
	if _, err := svc.FindByEmail(ctx, "alice@example.com"); !IsNotFound(err) {
		t.Fatalf("old email must be released, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	u := mustSignup(t, svc, "Ken", "ken@example.com", "unix-v1")

	if err := svc.ChangePassword(ctx, u.ID, "wrong", "plan9-rocks"); !IsInvalidCredentials(err) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "unix-v1", "abc"); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "unix-v1", "plan9-rocks"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Login(ctx, "ken@example.com", "unix-v1"); !IsInvalidCredentials(err) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := svc.Login(ctx, "ken@example.com", "plan9-rocks"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestWorkspaceReferences_OrderedSet(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	ctx := context.Background()

	u := mustSignup(t, svc, "Member", "member@example.com", "member-pass")
	for _, ws := range []string{"w1", "w2", "w1", "w3"} {
		if err := svc.AddWorkspace(ctx, u.ID, ws); err != nil {
			t.Fatalf("AddWorkspace(%s): %v", ws, err)
		}
	}
	if err := svc.RemoveWorkspace(ctx, u.ID, "w2"); err != nil {
		t.Fatalf("RemoveWorkspace: %v", err)
	}

	got, err := svc.FindByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(got.Workspaces) != 2 || got.Workspaces[0] != "w1" || got.Workspaces[1] != "w3" {
		t.Fatalf("unexpected workspaces: %v", got.Workspaces)
	}
	if err := svc.AddWorkspace(ctx, "missing", "w1"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdatePresence_RejectsUnknownStatus(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	u := mustSignup(t, svc, "Status", "status@example.com", "status-pass")
	if err := svc.UpdatePresence(context.Background(), u.ID, Status("away")); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
