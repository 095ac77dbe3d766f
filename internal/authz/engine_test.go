package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"message-feed/backend/internal/autherr"
	identitydomain "message-feed/backend/internal/identity/domain"
	"message-feed/backend/internal/role"
	"message-feed/backend/internal/security"
)

type fakeIdentities struct {
	byID map[string]*identitydomain.Identity
	err  error
}

func (f *fakeIdentities) GetByID(_ context.Context, id string) (*identitydomain.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byID[id], nil
}

type fakeOwners struct {
	owners map[string]string
	err    error
}

func (f *fakeOwners) OwnerOf(_ context.Context, id string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	o, ok := f.owners[id]
	return o, ok, nil
}

type fakeMetrics struct {
	decisions []string
}

func (f *fakeMetrics) AuthzDecision(action, decision string) {
	f.decisions = append(f.decisions, action+":"+decision)
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *fakeIdentities, *fakeOwners) {
	t.Helper()
	ids := &fakeIdentities{byID: map[string]*identitydomain.Identity{
		"A":  {ID: "A", Handle: "admin", Roles: []role.Name{role.Admin}},
		"U1": {ID: "U1", Handle: "u1", Roles: []role.Name{role.User}},
		"U2": {ID: "U2", Handle: "u2", Roles: []role.Name{role.User}},
	}}
	owners := &fakeOwners{owners: map[string]string{"M1": "U1"}}
	log, _ := test.NewNullLogger()
	opts = append([]Option{WithLogger(log)}, opts...)
	e, err := NewEngine(context.Background(), ids, owners, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, ids, owners
}

func claimFor(subject string, roles ...role.Name) *security.Claim {
	return &security.Claim{Subject: subject, Roles: roles, Purpose: security.PurposeAccess}
}

func TestAuthorize_Delete(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		claim   *security.Claim
		id      string
		wantErr error
	}{
		{"admin not owner", claimFor("A", role.Admin), "M1", nil},
		{"owner without admin", claimFor("U1", role.User), "M1", nil},
		{"owner with no roles", claimFor("U1"), "M1", nil},
		{"unrelated user", claimFor("U2", role.User), "M1", autherr.ErrForbidden},
		{"stale admin claim", claimFor("U2", role.Admin), "M1", autherr.ErrForbidden},
		{"nonexistent as user", claimFor("U2", role.User), "M404", autherr.ErrNotFound},
		{"nonexistent as admin", claimFor("A", role.Admin), "M404", autherr.ErrNotFound},
		{"empty resource id", claimFor("A", role.Admin), "", autherr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Authorize(ctx, tt.claim, Action{Kind: Delete, ResourceID: tt.id})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Authorize = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthorize_ReadCreateAnyIdentity(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	for _, kind := range []Kind{Read, Create} {
		for _, c := range []*security.Claim{claimFor("U2"), claimFor("U1", role.User), claimFor("A", role.Admin)} {
			if err := e.Authorize(ctx, c, Action{Kind: kind}); err != nil {
				t.Errorf("%s by %s: %v", kind, c.Subject, err)
			}
		}
	}
}

func TestAuthorize_UnknownIdentity(t *testing.T) {
	e, ids, _ := newTestEngine(t)
	ctx := context.Background()
	delete(ids.byID, "U1")

	for _, a := range []Action{{Kind: Read}, {Kind: Create}, {Kind: Delete, ResourceID: "M1"}} {
		err := e.Authorize(ctx, claimFor("U1", role.User), a)
		if !errors.Is(err, autherr.ErrUnknownIdentity) {
			t.Errorf("%s: err = %v, want ErrUnknownIdentity", a.Kind, err)
		}
	}
	if err := e.Authorize(ctx, nil, Action{Kind: Read}); !errors.Is(err, autherr.ErrUnknownIdentity) {
		t.Errorf("nil claim: err = %v, want ErrUnknownIdentity", err)
	}
}

func TestAuthorize_UnknownIdentityCheckedBeforeExistence(t *testing.T) {
	e, _, _ := newTestEngine(t)

	err := e.Authorize(context.Background(), claimFor("ghost", role.Admin), Action{Kind: Delete, ResourceID: "M404"})
	if !errors.Is(err, autherr.ErrUnknownIdentity) {
		t.Errorf("err = %v, want ErrUnknownIdentity", err)
	}
}

func TestAuthorize_LookupErrors(t *testing.T) {
	e, ids, owners := newTestEngine(t)
	ctx := context.Background()
	boom := errors.New("db down")

	owners.err = boom
	err := e.Authorize(ctx, claimFor("A", role.Admin), Action{Kind: Delete, ResourceID: "M1"})
	if !errors.Is(err, boom) {
		t.Errorf("owner lookup: err = %v, want wrapped %v", err, boom)
	}

	ids.err = boom
	err = e.Authorize(ctx, claimFor("A", role.Admin), Action{Kind: Read})
	if !errors.Is(err, boom) {
		t.Errorf("identity lookup: err = %v, want wrapped %v", err, boom)
	}
}

func TestAuthorize_ReadAuditAdminOnly(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()
	if err := e.Authorize(ctx, claimFor("A", role.Admin), Action{Kind: ReadAudit}); err != nil {
		t.Errorf("admin: %v", err)
	}
	if err := e.Authorize(ctx, claimFor("U1", role.User), Action{Kind: ReadAudit}); !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("user: err = %v, want ErrForbidden", err)
	}
	// A token claiming admin does not help when the stored identity is not one.
	if err := e.Authorize(ctx, claimFor("U2", role.Admin), Action{Kind: ReadAudit}); !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("stale admin claim: err = %v, want ErrForbidden", err)
	}
}

func TestAuthorize_StaleAdminClaimLogged(t *testing.T) {
	log, hook := test.NewNullLogger()
	e, _, _ := newTestEngine(t, WithLogger(log))
	ctx := context.Background()

	if err := e.Authorize(ctx, claimFor("A", role.Admin), Action{Kind: Read}); err != nil {
		t.Fatalf("admin read: %v", err)
	}
	if n := len(hook.AllEntries()); n != 0 {
		t.Fatalf("held admin role logged %d entries", n)
	}

	_ = e.Authorize(ctx, claimFor("U2", role.Admin), Action{Kind: ReadAudit})
	entry := hook.LastEntry()
	if entry == nil || entry.Data["identity_id"] != "U2" || entry.Data["action"] != ReadAudit.String() {
		t.Fatalf("stale admin claim not logged: %+v", entry)
	}
}

func TestAuthorize_UnknownKindDenied(t *testing.T) {
	e, _, _ := newTestEngine(t)

	err := e.Authorize(context.Background(), claimFor("A", role.Admin), Action{Kind: Kind(99)})
	if !errors.Is(err, autherr.ErrForbidden) {
		t.Errorf("err = %v, want ErrForbidden", err)
	}
}

func TestAuthorize_Metrics(t *testing.T) {
	m := &fakeMetrics{}
	e, _, _ := newTestEngine(t, WithMetrics(m))
	ctx := context.Background()

	_ = e.Authorize(ctx, claimFor("U1"), Action{Kind: Delete, ResourceID: "M1"})
	_ = e.Authorize(ctx, claimFor("U2"), Action{Kind: Delete, ResourceID: "M1"})
	_ = e.Authorize(ctx, claimFor("U2"), Action{Kind: Delete, ResourceID: "M9"})
	_ = e.Authorize(ctx, claimFor("nobody"), Action{Kind: Read})

	want := []string{"delete:allow", "delete:deny", "delete:not_found", "read:unknown_identity"}
	if len(m.decisions) != len(want) {
		t.Fatalf("decisions = %v, want %v", m.decisions, want)
	}
	for i := range want {
		if m.decisions[i] != want[i] {
			t.Errorf("decisions[%d] = %q, want %q", i, m.decisions[i], want[i])
		}
	}
}

func TestNewEngine_InvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), &fakeIdentities{}, &fakeOwners{}, WithPolicy("package feed.authz\nallow if {"))
	if err == nil {
		t.Fatal("expected compile error")
	}
}

func TestEngine_HealthCheck(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	deny := "package feed.authz\n\ndefault allow := false\n"
	e, _, _ = newTestEngine(t, WithPolicy(deny))
	if err := e.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck should fail when the policy denies reads")
	}
}
