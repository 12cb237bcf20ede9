package federation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/florenceegi/egi-hub/migrations"
	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/florenceegi/egi-hub/pkg/repository"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *Service
	clock   *clock.Mock
	repo    *repository.TenantsRepository
	execSQL func(t *testing.T, query string)
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "hub.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := repository.ApplyMigrations(ctx, db, repository.DialectSQLite, migrations.FS); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}

	mock := clock.NewMock()
	mock.Set(testEpoch)

	config := Config{
		Clock:  mock,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range configure {
		fn(&config)
	}

	dialect := repository.DialectSQLite
	tenants := repository.NewTenantsRepository(db, dialect)
	svc := NewService(config, db,
		repository.NewAggregationsRepository(db, dialect),
		repository.NewMembershipsRepository(db, dialect),
		tenants,
	)

	return &fixture{
		svc:   svc,
		clock: mock,
		repo:  tenants,
		execSQL: func(t *testing.T, query string) {
			t.Helper()
			if _, err := db.ExecContext(ctx, query); err != nil {
				t.Fatalf("exec %q: %v", query, err)
			}
		},
	}
}

func (f *fixture) create(t *testing.T, creator uuid.UUID, name string, opts CreateOptions) *domain.Aggregation {
	t.Helper()
	agg, _, err := f.svc.CreateAggregation(context.Background(), creator, name, opts)
	if err != nil {
		t.Fatalf("CreateAggregation(%q) error = %v", name, err)
	}
	return agg
}

func (f *fixture) invite(t *testing.T, agg *domain.Aggregation, tenant, actor uuid.UUID) *domain.Membership {
	t.Helper()
	m, err := f.svc.Invite(context.Background(), agg.ID, tenant, actor, "")
	if err != nil {
		t.Fatalf("Invite() error = %v", err)
	}
	return m
}

func (f *fixture) join(t *testing.T, agg *domain.Aggregation, tenant uuid.UUID) *domain.Membership {
	t.Helper()
	m := f.invite(t, agg, tenant, agg.CreatedByTenantID)
	accepted, err := f.svc.Accept(context.Background(), m.ID, tenant, "")
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	return accepted
}

func (f *fixture) accessible(t *testing.T, tenant uuid.UUID) []uuid.UUID {
	t.Helper()
	ids, err := f.svc.AccessibleTenantIDs(context.Background(), tenant)
	if err != nil {
		t.Fatalf("AccessibleTenantIDs() error = %v", err)
	}
	return ids
}

func idSet(in ...uuid.UUID) []uuid.UUID {
	out := append([]uuid.UUID(nil), in...)
	sortIDs(out)
	return out
}

func intPtr(n int) *int    { return &n }
func boolPtr(b bool) *bool { return &b }

func TestCreateAggregation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	agg, founder, err := f.svc.CreateAggregation(ctx, creator, "  Città Aperta ", CreateOptions{
		Description: "Consorzio",
		MaxMembers:  intPtr(5),
		Settings:    map[string]any{"region": "calabria"},
	})
	if err != nil {
		t.Fatalf("CreateAggregation() error = %v", err)
	}

	if agg.Name != "Città Aperta" {
		t.Errorf("Name = %q, want %q", agg.Name, "Città Aperta")
	}
	if agg.Slug != "citta-aperta" {
		t.Errorf("Slug = %q, want %q", agg.Slug, "citta-aperta")
	}
	if agg.Status != domain.AggregationStatusActive {
		t.Errorf("Status = %v, want active", agg.Status)
	}
	if diff := cmp.Diff(domain.DefaultSharingPolicy(true), agg.Sharing); diff != "" {
		t.Errorf("Sharing mismatch (-want +got):\n%s", diff)
	}

	if founder.TenantID != creator || founder.Status != domain.MembershipStatusAccepted || founder.Role != domain.RoleAdmin {
		t.Errorf("founding membership = %+v, want accepted admin of creator", founder)
	}

	stored, err := f.svc.GetAggregationBySlug(ctx, "citta-aperta")
	if err != nil {
		t.Fatalf("GetAggregationBySlug() error = %v", err)
	}
	if stored.ID != agg.ID || *stored.MaxMembers != 5 || stored.Settings["region"] != "calabria" {
		t.Errorf("stored aggregation = %+v", stored)
	}
	if stored.Description == nil || *stored.Description != "Consorzio" {
		t.Errorf("Description = %v, want Consorzio", stored.Description)
	}

	count, err := f.svc.AcceptedCount(ctx, agg.ID)
	if err != nil {
		t.Fatalf("AcceptedCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("AcceptedCount() = %d, want 1", count)
	}
}

func TestCreateAggregation_SlugCollision(t *testing.T) {
	f := newFixture(t)

	var slugs []string
	for i := 0; i < 3; i++ {
		slugs = append(slugs, f.create(t, uuid.New(), "Piana di Sibari", CreateOptions{}).Slug)
	}

	want := []string{"piana-di-sibari", "piana-di-sibari-1", "piana-di-sibari-2"}
	if diff := cmp.Diff(want, slugs); diff != "" {
		t.Errorf("slugs mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateAggregation_Validation(t *testing.T) {
	f := newFixture(t)
	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name    string
		creator uuid.UUID
		aggName string
		opts    CreateOptions
		wantErr error
	}{
		{"missing creator", uuid.Nil, "Group", CreateOptions{}, domain.ErrInvalidTenantID},
		{"blank name", uuid.New(), "   ", CreateOptions{}, domain.ErrNameRequired},
		{"name too long", uuid.New(), string(long), CreateOptions{}, domain.ErrNameTooLong},
		{"zero max members", uuid.New(), "Group", CreateOptions{MaxMembers: intPtr(0)}, domain.ErrInvalidMaxMembers},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := f.svc.CreateAggregation(context.Background(), tt.creator, tt.aggName, tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateAggregation() error = %v, want %v", err, tt.wantErr)
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Errorf("CreateAggregation() error = %v, want validation category", err)
			}
		})
	}
}

func TestCreateAggregation_DefaultMaxMembers(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.DefaultMaxMembers = 10 })

	agg := f.create(t, uuid.New(), "Capped", CreateOptions{})
	if agg.MaxMembers == nil || *agg.MaxMembers != 10 {
		t.Errorf("MaxMembers = %v, want 10", agg.MaxMembers)
	}

	own := f.create(t, uuid.New(), "Own cap", CreateOptions{MaxMembers: intPtr(3)})
	if *own.MaxMembers != 3 {
		t.Errorf("MaxMembers = %d, want 3", *own.MaxMembers)
	}
}

func TestCreateAggregation_IsAtomic(t *testing.T) {
	f := newFixture(t)
	f.execSQL(t, `DROP TABLE aggregation_members`)

	_, _, err := f.svc.CreateAggregation(context.Background(), uuid.New(), "Orphan", CreateOptions{})
	if err == nil {
		t.Fatal("CreateAggregation() error = nil, want failure without membership table")
	}
	if domain.IsBusinessError(err) {
		t.Errorf("CreateAggregation() error = %v, want infrastructure error", err)
	}

	if _, err := f.svc.GetAggregationBySlug(context.Background(), "orphan"); !errors.Is(err, domain.ErrAggregationNotFound) {
		t.Errorf("GetAggregationBySlug() error = %v, want not found after rollback", err)
	}
}

func TestPianaScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	t1, t2, t3 := uuid.New(), uuid.New(), uuid.New()

	agg := f.create(t, t1, "Piana", CreateOptions{MaxMembers: intPtr(2), ShareDocuments: boolPtr(true)})
	m2 := f.join(t, agg, t2)

	if diff := cmp.Diff(idSet(t1, t2), f.accessible(t, t1)); diff != "" {
		t.Errorf("accessible(t1) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(idSet(t1, t2), f.accessible(t, t2)); diff != "" {
		t.Errorf("accessible(t2) mismatch (-want +got):\n%s", diff)
	}
	if !HasPermission(agg, m2, string(domain.PermissionShareDocuments)) {
		t.Error("HasPermission(share_documents) = false, want true")
	}

	m3 := f.invite(t, agg, t3, t1)
	_, err := f.svc.Accept(ctx, m3.ID, t3, "")
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("Accept() error = %v, want capacity exceeded", err)
	}

	count, _ := f.svc.AcceptedCount(ctx, agg.ID)
	if count != 2 {
		t.Errorf("AcceptedCount() = %d, want 2", count)
	}
	still, _ := f.svc.GetMembership(ctx, m3.ID)
	if still.Status != domain.MembershipStatusPending {
		t.Errorf("rejected acceptance left status %v, want pending", still.Status)
	}
	if diff := cmp.Diff(idSet(t3), f.accessible(t, t3)); diff != "" {
		t.Errorf("accessible(t3) mismatch (-want +got):\n%s", diff)
	}
}

func TestAccept_ConcurrentLastSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	agg := f.create(t, creator, "Last slot", CreateOptions{MaxMembers: intPtr(2)})
	a := f.invite(t, agg, uuid.New(), creator)
	b := f.invite(t, agg, uuid.New(), creator)

	var (
		mu      sync.Mutex
		results []error
	)
	var g errgroup.Group
	for _, m := range []*domain.Membership{a, b} {
		m := m
		g.Go(func() error {
			_, err := f.svc.Accept(ctx, m.ID, m.TenantID, "")
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
			if err != nil && !domain.IsBusinessError(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Accept() infrastructure error = %v", err)
	}

	var ok, full int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrCapacityExceeded):
			full++
		default:
			t.Errorf("Accept() unexpected error = %v", err)
		}
	}
	if ok != 1 || full != 1 {
		t.Errorf("got %d successes and %d capacity errors, want 1 and 1", ok, full)
	}

	count, _ := f.svc.AcceptedCount(ctx, agg.ID)
	if count != 2 {
		t.Errorf("AcceptedCount() = %d, want 2", count)
	}
}

func TestCreateAggregation_Concurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const creates = 8
	slugs := make([]string, creates)
	var g errgroup.Group
	for i := 0; i < creates; i++ {
		i := i
		g.Go(func() error {
			agg, _, err := f.svc.CreateAggregation(ctx, uuid.New(), "Città Aperta", CreateOptions{})
			if err != nil {
				return err
			}
			slugs[i] = agg.Slug
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("CreateAggregation() error = %v", err)
	}

	seen := make(map[string]bool)
	for _, slug := range slugs {
		if !strings.HasPrefix(slug, "citta-aperta") {
			t.Errorf("slug = %q, want citta-aperta prefix", slug)
		}
		if seen[slug] {
			t.Errorf("slug %q allocated twice", slug)
		}
		seen[slug] = true
	}
}

func TestAccept_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, tenant := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Twice", CreateOptions{})
	first := f.join(t, agg, tenant)

	_, err := f.svc.Accept(ctx, first.ID, tenant, "again")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second Accept() error = %v, want conflict", err)
	}

	stored, _ := f.svc.GetMembership(ctx, first.ID)
	if stored.Status != domain.MembershipStatusAccepted || stored.ResponseMessage != nil {
		t.Errorf("membership changed by rejected accept: %+v", stored)
	}
	if !stored.JoinedAt.Equal(*first.JoinedAt) {
		t.Errorf("JoinedAt = %v, want %v", stored.JoinedAt, first.JoinedAt)
	}
}

func TestAccept_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, tenant := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Lapsed", CreateOptions{})
	m := f.invite(t, agg, tenant, creator)

	if !m.ExpiresAt.Equal(testEpoch.Add(DefaultInvitationExpiry)) {
		t.Errorf("ExpiresAt = %v, want %v", m.ExpiresAt, testEpoch.Add(DefaultInvitationExpiry))
	}

	f.clock.Add(DefaultInvitationExpiry + time.Second)

	_, err := f.svc.Accept(ctx, m.ID, tenant, "")
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Accept() error = %v, want expired", err)
	}

	stored, _ := f.svc.GetMembership(ctx, m.ID)
	if stored.Status != domain.MembershipStatusExpired {
		t.Errorf("Status = %v, want expired", stored.Status)
	}

	// The tenant can be invited again once the old row is history.
	if _, err := f.svc.Invite(ctx, agg.ID, tenant, creator, ""); err != nil {
		t.Errorf("re-Invite() error = %v", err)
	}
}

func TestAccept_AtExpiryInstant(t *testing.T) {
	f := newFixture(t)
	creator, tenant := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Boundary", CreateOptions{})
	m := f.invite(t, agg, tenant, creator)
	f.clock.Add(DefaultInvitationExpiry)

	if _, err := f.svc.Accept(context.Background(), m.ID, tenant, ""); err != nil {
		t.Errorf("Accept() at expires_at error = %v, want success", err)
	}
}

func TestAccept_WrongActor(t *testing.T) {
	f := newFixture(t)
	creator, tenant := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Owner only", CreateOptions{})
	m := f.invite(t, agg, tenant, creator)

	_, err := f.svc.Accept(context.Background(), m.ID, creator, "")
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("Accept() by another tenant error = %v, want permission denied", err)
	}
}

func TestAccept_SuspendedAggregation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, tenant := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Paused", CreateOptions{})
	m := f.invite(t, agg, tenant, creator)
	if _, err := f.svc.SuspendAggregation(ctx, agg.ID, creator); err != nil {
		t.Fatalf("SuspendAggregation() error = %v", err)
	}

	_, err := f.svc.Accept(ctx, m.ID, tenant, "")
	if !errors.Is(err, domain.ErrAggregationClosed) || !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Errorf("Accept() error = %v, want closed aggregation", err)
	}
}

func TestInviteAcceptLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, tenant := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Round trip", CreateOptions{})
	m := f.join(t, agg, tenant)

	if diff := cmp.Diff(idSet(creator, tenant), f.accessible(t, creator)); diff != "" {
		t.Errorf("accessible(creator) before leave (-want +got):\n%s", diff)
	}

	left, err := f.svc.Leave(ctx, m.ID, tenant, "moving on")
	if err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if left.Status != domain.MembershipStatusLeft || left.LeftAt == nil {
		t.Errorf("Leave() = %+v, want left with left_at", left)
	}
	if left.LeaveReason == nil || *left.LeaveReason != "moving on" {
		t.Errorf("LeaveReason = %v, want %q", left.LeaveReason, "moving on")
	}

	if diff := cmp.Diff(idSet(creator), f.accessible(t, creator)); diff != "" {
		t.Errorf("accessible(creator) after leave (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(idSet(tenant), f.accessible(t, tenant)); diff != "" {
		t.Errorf("accessible(tenant) after leave (-want +got):\n%s", diff)
	}

	if _, err := f.svc.Leave(ctx, m.ID, tenant, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second Leave() error = %v, want conflict", err)
	}
}

func TestLeave_Creator(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	agg, founder, err := f.svc.CreateAggregation(ctx, creator, "Founder", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateAggregation() error = %v", err)
	}

	_, err = f.svc.Leave(ctx, founder.ID, creator, "")
	if !errors.Is(err, domain.ErrCreatorCannotLeave) || !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Leave() error = %v, want creator conflict", err)
	}

	admin, err := f.svc.IsAdmin(ctx, agg.ID, creator)
	if err != nil || !admin {
		t.Errorf("IsAdmin(creator) = %v, %v; want true", admin, err)
	}
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, tenant := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Declined", CreateOptions{})
	m := f.invite(t, agg, tenant, creator)

	rejected, err := f.svc.Reject(ctx, m.ID, tenant, "no thanks")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	if rejected.Status != domain.MembershipStatusRejected || rejected.RespondedAt == nil {
		t.Errorf("Reject() = %+v, want rejected with responded_at", rejected)
	}

	if _, err := f.svc.Accept(ctx, m.ID, tenant, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Accept() after reject error = %v, want conflict", err)
	}
	if _, err := f.svc.Reject(ctx, m.ID, tenant, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second Reject() error = %v, want conflict", err)
	}

	history, err := f.svc.ListMembers(ctx, agg.ID, domain.MembershipStatusRejected)
	if err != nil {
		t.Fatalf("ListMembers() error = %v", err)
	}
	if len(history) != 1 || history[0].ID != m.ID {
		t.Errorf("ListMembers(rejected) = %v, want the rejected row", history)
	}
}

func TestInvite(t *testing.T) {
	creator, member, outsider, target := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	tests := []struct {
		name    string
		opts    CreateOptions
		setup   func(t *testing.T, f *fixture, agg *domain.Aggregation)
		actor   uuid.UUID
		tenant  uuid.UUID
		wantErr error
	}{
		{name: "creator invites", actor: creator, tenant: target},
		{name: "member invites by default", actor: member, tenant: target},
		{
			name:    "member blocked by policy",
			opts:    CreateOptions{MembersCanInvite: boolPtr(false)},
			actor:   member,
			tenant:  target,
			wantErr: domain.ErrInviteNotAllowed,
		},
		{
			name: "override grants invite",
			opts: CreateOptions{MembersCanInvite: boolPtr(false)},
			setup: func(t *testing.T, f *fixture, agg *domain.Aggregation) {
				m, _ := f.svc.memberships.GetLive(context.Background(), agg.ID, member)
				if _, err := f.svc.SetPermissions(context.Background(), m.ID, creator, map[string]bool{"invite_members": true}); err != nil {
					t.Fatalf("SetPermissions() error = %v", err)
				}
			},
			actor:  member,
			tenant: target,
		},
		{name: "outsider", actor: outsider, tenant: target, wantErr: domain.ErrInviteNotAllowed},
		{name: "self invitation", actor: creator, tenant: creator, wantErr: domain.ErrSelfInvitation},
		{name: "already member", actor: creator, tenant: member, wantErr: domain.ErrDuplicateMembership},
		{
			name: "already invited",
			setup: func(t *testing.T, f *fixture, agg *domain.Aggregation) {
				f.invite(t, agg, target, creator)
			},
			actor:   creator,
			tenant:  target,
			wantErr: domain.ErrDuplicateMembership,
		},
		{
			name: "archived aggregation",
			setup: func(t *testing.T, f *fixture, agg *domain.Aggregation) {
				if _, err := f.svc.ArchiveAggregation(context.Background(), agg.ID, creator); err != nil {
					t.Fatalf("ArchiveAggregation() error = %v", err)
				}
			},
			actor:   creator,
			tenant:  target,
			wantErr: domain.ErrAggregationArchived,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			agg := f.create(t, creator, "Invites", tt.opts)
			f.join(t, agg, member)
			if tt.setup != nil {
				tt.setup(t, f, agg)
			}

			m, err := f.svc.Invite(context.Background(), agg.ID, tt.tenant, tt.actor, "  benvenuti\x00 ")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Invite() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Invite() error = %v", err)
			}
			if m.Status != domain.MembershipStatusPending || m.Role != domain.RoleMember {
				t.Errorf("Invite() = %+v, want pending member", m)
			}
			if m.InvitedByTenantID == nil || *m.InvitedByTenantID != tt.actor {
				t.Errorf("InvitedByTenantID = %v, want %v", m.InvitedByTenantID, tt.actor)
			}
			if m.InvitationMessage == nil || *m.InvitationMessage != "benvenuti" {
				t.Errorf("InvitationMessage = %v, want %q", m.InvitationMessage, "benvenuti")
			}
		})
	}
}

func TestInvite_MessageTooLong(t *testing.T) {
	f := newFixture(t)
	creator := uuid.New()
	agg := f.create(t, creator, "Verbose", CreateOptions{})

	msg := make([]rune, MaxMessageLength+1)
	for i := range msg {
		msg[i] = 'è'
	}
	_, err := f.svc.Invite(context.Background(), agg.ID, uuid.New(), creator, string(msg))
	if !errors.Is(err, domain.ErrMessageTooLong) {
		t.Errorf("Invite() error = %v, want message too long", err)
	}
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, admin, member, other := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	agg, founder, err := f.svc.CreateAggregation(ctx, creator, "Removals", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateAggregation() error = %v", err)
	}
	adminMembership := f.join(t, agg, admin)
	target := f.join(t, agg, member)
	f.join(t, agg, other)

	if _, err := f.svc.ChangeRole(ctx, adminMembership.ID, creator, domain.RoleAdmin); err != nil {
		t.Fatalf("ChangeRole() error = %v", err)
	}

	if _, err := f.svc.Remove(ctx, target.ID, other, ""); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("Remove() by member error = %v, want permission denied", err)
	}
	if _, err := f.svc.Remove(ctx, founder.ID, admin, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Remove(creator) error = %v, want conflict", err)
	}

	removed, err := f.svc.Remove(ctx, target.ID, admin, "inactive")
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed.Status != domain.MembershipStatusRemoved || removed.LeftAt == nil {
		t.Errorf("Remove() = %+v, want removed with left_at", removed)
	}

	if _, err := f.svc.Remove(ctx, target.ID, admin, ""); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("second Remove() error = %v, want conflict", err)
	}
	if diff := cmp.Diff(idSet(creator, admin, other), f.accessible(t, creator)); diff != "" {
		t.Errorf("accessible(creator) mismatch (-want +got):\n%s", diff)
	}
}

func TestChangeRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, member := uuid.New(), uuid.New()

	agg, founder, err := f.svc.CreateAggregation(ctx, creator, "Roles", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateAggregation() error = %v", err)
	}
	m := f.join(t, agg, member)

	if _, err := f.svc.ChangeRole(ctx, founder.ID, creator, domain.RoleMember); !errors.Is(err, domain.ErrCreatorRoleLocked) {
		t.Errorf("ChangeRole(creator) error = %v, want creator role locked", err)
	}
	if _, err := f.svc.ChangeRole(ctx, m.ID, creator, "owner"); !errors.Is(err, domain.ErrInvalidRole) {
		t.Errorf("ChangeRole(owner) error = %v, want invalid role", err)
	}
	if _, err := f.svc.ChangeRole(ctx, m.ID, member, domain.RoleAdmin); !errors.Is(err, domain.ErrNotAggregationAdmin) {
		t.Errorf("ChangeRole() by member error = %v, want not admin", err)
	}

	updated, err := f.svc.ChangeRole(ctx, m.ID, creator, domain.RoleReadonly)
	if err != nil {
		t.Fatalf("ChangeRole() error = %v", err)
	}
	stored, _ := f.svc.GetMembership(ctx, m.ID)
	if updated.Role != domain.RoleReadonly || stored.Role != domain.RoleReadonly {
		t.Errorf("Role = %v (stored %v), want readonly", updated.Role, stored.Role)
	}
}

func TestHasPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, member, other := uuid.New(), uuid.New(), uuid.New()

	agg := f.create(t, creator, "Analytics", CreateOptions{})
	overridden := f.join(t, agg, member)
	plain := f.join(t, agg, other)

	if _, err := f.svc.SetPermissions(ctx, overridden.ID, creator, map[string]bool{"share_analytics": true}); err != nil {
		t.Fatalf("SetPermissions() error = %v", err)
	}

	tests := []struct {
		name       string
		membership uuid.UUID
		key        string
		want       bool
	}{
		{"override wins over default", overridden.ID, "share_analytics", true},
		{"no override inherits default", plain.ID, "share_analytics", false},
		{"default documents", plain.ID, "share_documents", true},
		{"default templates", overridden.ID, "share_templates", true},
		{"invite maps to members_can_invite", plain.ID, "invite_members", true},
		{"unknown key denied", overridden.ID, "share_everything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.HasPermission(ctx, tt.membership, tt.key)
			if err != nil {
				t.Fatalf("HasPermission() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("HasPermission(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}

	if _, err := f.svc.HasPermission(ctx, uuid.New(), "share_documents"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("HasPermission(unknown membership) error = %v, want not found", err)
	}
}

func TestSetPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, member := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Overrides", CreateOptions{})
	m := f.join(t, agg, member)

	if _, err := f.svc.SetPermissions(ctx, m.ID, creator, map[string]bool{"share_secrets": true}); !errors.Is(err, domain.ErrUnknownPermission) {
		t.Errorf("SetPermissions(unknown key) error = %v, want unknown permission", err)
	}
	if _, err := f.svc.SetPermissions(ctx, m.ID, member, map[string]bool{"share_analytics": true}); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("SetPermissions() by member error = %v, want permission denied", err)
	}

	if _, err := f.svc.SetPermissions(ctx, m.ID, creator, map[string]bool{"share_documents": false}); err != nil {
		t.Fatalf("SetPermissions() error = %v", err)
	}
	stored, _ := f.svc.GetMembership(ctx, m.ID)
	want := domain.PermissionOverrides{domain.PermissionShareDocuments: false}
	if diff := cmp.Diff(want, stored.Permissions); diff != "" {
		t.Errorf("Permissions mismatch (-want +got):\n%s", diff)
	}

	if _, err := f.svc.SetPermissions(ctx, m.ID, creator, nil); err != nil {
		t.Fatalf("SetPermissions(nil) error = %v", err)
	}
	stored, _ = f.svc.GetMembership(ctx, m.ID)
	if stored.Permissions != nil {
		t.Errorf("Permissions = %v, want cleared", stored.Permissions)
	}
}

func TestArchiveAggregation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, member := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Archive", CreateOptions{})
	m := f.join(t, agg, member)

	if _, err := f.svc.ArchiveAggregation(ctx, agg.ID, member); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("ArchiveAggregation() by member error = %v, want permission denied", err)
	}
	if _, err := f.svc.ArchiveAggregation(ctx, agg.ID, uuid.New()); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("ArchiveAggregation() by outsider error = %v, want permission denied", err)
	}

	archived, err := f.svc.ArchiveAggregation(ctx, agg.ID, creator)
	if err != nil {
		t.Fatalf("ArchiveAggregation() error = %v", err)
	}
	if archived.Status != domain.AggregationStatusArchived {
		t.Errorf("Status = %v, want archived", archived.Status)
	}

	if _, err := f.svc.ArchiveAggregation(ctx, agg.ID, creator); !errors.Is(err, domain.ErrAggregationArchived) {
		t.Errorf("second ArchiveAggregation() error = %v, want archived conflict", err)
	}
	if _, err := f.svc.SuspendAggregation(ctx, agg.ID, creator); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("SuspendAggregation() after archive error = %v, want conflict", err)
	}
	if _, err := f.svc.Leave(ctx, m.ID, member, ""); !errors.Is(err, domain.ErrAggregationArchived) {
		t.Errorf("Leave() after archive error = %v, want archived conflict", err)
	}

	stored, _ := f.svc.GetMembership(ctx, m.ID)
	if stored.Status != domain.MembershipStatusAccepted {
		t.Errorf("membership status = %v, want accepted after archive", stored.Status)
	}
	if diff := cmp.Diff(idSet(member), f.accessible(t, member)); diff != "" {
		t.Errorf("accessible(member) after archive (-want +got):\n%s", diff)
	}

	list, err := f.svc.ListAggregations(ctx, member)
	if err != nil || len(list) != 1 {
		t.Errorf("ListAggregations() = %v, %v; want the archived aggregation", list, err)
	}
}

func TestSuspendAggregation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, member := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Suspend", CreateOptions{})
	f.join(t, agg, member)

	if _, err := f.svc.SuspendAggregation(ctx, agg.ID, member); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("SuspendAggregation() by member error = %v, want permission denied", err)
	}
	if _, err := f.svc.SuspendAggregation(ctx, agg.ID, creator); err != nil {
		t.Fatalf("SuspendAggregation() error = %v", err)
	}
	if _, err := f.svc.SuspendAggregation(ctx, agg.ID, creator); !errors.Is(err, domain.ErrAggregationNotActive) {
		t.Errorf("second SuspendAggregation() error = %v, want not active", err)
	}

	if diff := cmp.Diff(idSet(creator), f.accessible(t, creator)); diff != "" {
		t.Errorf("accessible(creator) while suspended (-want +got):\n%s", diff)
	}
	if _, err := f.svc.Invite(ctx, agg.ID, uuid.New(), creator, ""); !errors.Is(err, domain.ErrAggregationNotActive) {
		t.Errorf("Invite() while suspended error = %v, want not active", err)
	}

	can, err := f.svc.CanAcceptMoreMembers(ctx, agg.ID)
	if err != nil || can {
		t.Errorf("CanAcceptMoreMembers() = %v, %v; want false", can, err)
	}

	if _, err := f.svc.ArchiveAggregation(ctx, agg.ID, creator); err != nil {
		t.Errorf("ArchiveAggregation() from suspended error = %v", err)
	}
}

func TestAccessibleTenantIDs_NoSecondHop(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	ab := f.create(t, a, "A and B", CreateOptions{})
	f.join(t, ab, b)
	bc := f.create(t, b, "B and C", CreateOptions{})
	f.join(t, bc, c)

	tests := []struct {
		tenant uuid.UUID
		want   []uuid.UUID
	}{
		{a, idSet(a, b)},
		{b, idSet(a, b, c)},
		{c, idSet(b, c)},
		{uuid.New(), nil},
	}

	for _, tt := range tests {
		got := f.accessible(t, tt.tenant)
		want := tt.want
		if want == nil {
			want = idSet(tt.tenant)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("accessible(%v) mismatch (-want +got):\n%s", tt.tenant, diff)
		}
	}

	ok, err := f.svc.CanAccessTenant(context.Background(), a, c)
	if err != nil || ok {
		t.Errorf("CanAccessTenant(a, c) = %v, %v; want false", ok, err)
	}
	ok, err = f.svc.CanAccessTenant(context.Background(), a, b)
	if err != nil || !ok {
		t.Errorf("CanAccessTenant(a, b) = %v, %v; want true", ok, err)
	}
	ok, err = f.svc.CanAccessTenant(context.Background(), c, c)
	if err != nil || !ok {
		t.Errorf("CanAccessTenant(c, c) = %v, %v; want true", ok, err)
	}
}

func TestAccessibleTenantIDs_PendingGrantsNothing(t *testing.T) {
	f := newFixture(t)
	creator, invitee := uuid.New(), uuid.New()

	agg := f.create(t, creator, "Pending", CreateOptions{})
	f.invite(t, agg, invitee, creator)

	if diff := cmp.Diff(idSet(creator), f.accessible(t, creator)); diff != "" {
		t.Errorf("accessible(creator) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(idSet(invitee), f.accessible(t, invitee)); diff != "" {
		t.Errorf("accessible(invitee) mismatch (-want +got):\n%s", diff)
	}
}

func TestAccessibleTenantsByAggregation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, member := uuid.New(), uuid.New()

	if err := f.repo.Create(ctx, &domain.Tenant{
		ID: creator, Name: "Comune di Corigliano", Slug: "corigliano",
		CreatedAt: testEpoch, UpdatedAt: testEpoch,
	}); err != nil {
		t.Fatalf("Create tenant error = %v", err)
	}

	agg := f.create(t, creator, "Grouped", CreateOptions{})
	f.clock.Add(time.Minute)
	f.join(t, agg, member)
	suspended := f.create(t, creator, "Hidden", CreateOptions{})
	if _, err := f.svc.SuspendAggregation(ctx, suspended.ID, creator); err != nil {
		t.Fatalf("SuspendAggregation() error = %v", err)
	}

	got, err := f.svc.AccessibleTenantsByAggregation(ctx, creator)
	if err != nil {
		t.Fatalf("AccessibleTenantsByAggregation() error = %v", err)
	}

	if diff := cmp.Diff(TenantRef{ID: creator, Name: "Comune di Corigliano"}, got.Own); diff != "" {
		t.Errorf("Own mismatch (-want +got):\n%s", diff)
	}
	if len(got.Aggregations) != 1 || got.Aggregations[0].Aggregation.ID != agg.ID {
		t.Fatalf("Aggregations = %+v, want only the active one", got.Aggregations)
	}
	wantMembers := []TenantRef{
		{ID: creator, Name: "Comune di Corigliano", Role: domain.RoleAdmin},
		{ID: member, Name: domain.FallbackTenantName(member), Role: domain.RoleMember},
	}
	if diff := cmp.Diff(wantMembers, got.Aggregations[0].Members); diff != "" {
		t.Errorf("Members mismatch (-want +got):\n%s", diff)
	}
}

func TestSweepExpiredInvitations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator := uuid.New()

	agg := f.create(t, creator, "Sweep", CreateOptions{})
	old1 := f.invite(t, agg, uuid.New(), creator)
	old2 := f.invite(t, agg, uuid.New(), creator)

	f.clock.Add(24 * time.Hour)
	fresh := f.invite(t, agg, uuid.New(), creator)
	f.clock.Add(DefaultInvitationExpiry)

	n, err := f.svc.SweepExpiredInvitations(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredInvitations() error = %v", err)
	}
	if n != 2 {
		t.Errorf("SweepExpiredInvitations() = %d, want 2", n)
	}

	n, err = f.svc.SweepExpiredInvitations(ctx)
	if err != nil || n != 0 {
		t.Errorf("second SweepExpiredInvitations() = %d, %v; want 0", n, err)
	}

	for _, tc := range []struct {
		m    *domain.Membership
		want domain.MembershipStatus
	}{
		{old1, domain.MembershipStatusExpired},
		{old2, domain.MembershipStatusExpired},
		{fresh, domain.MembershipStatusPending},
	} {
		stored, _ := f.svc.GetMembership(ctx, tc.m.ID)
		if stored.Status != tc.want {
			t.Errorf("membership %v status = %v, want %v", tc.m.ID, stored.Status, tc.want)
		}
	}

	pending, err := f.svc.PendingInvitations(ctx, fresh.TenantID)
	if err != nil || len(pending) != 1 {
		t.Errorf("PendingInvitations() = %v, %v; want the fresh invitation", pending, err)
	}
}

func TestSweeper(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.InvitationExpiry = time.Hour })
	creator := uuid.New()
	agg := f.create(t, creator, "Ticker", CreateOptions{})

	first := f.invite(t, agg, uuid.New(), creator)
	f.clock.Add(2 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(f.svc, 2*time.Hour).Run(ctx) }()

	// The first run happens right away, after the ticker is registered.
	waitStatus(t, f, first.ID, domain.MembershipStatusExpired)

	second := f.invite(t, agg, uuid.New(), creator)
	f.clock.Add(2 * time.Hour)
	waitStatus(t, f, second.ID, domain.MembershipStatusExpired)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}

func waitStatus(t *testing.T, f *fixture, id uuid.UUID, want domain.MembershipStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		m, err := f.svc.GetMembership(context.Background(), id)
		if err != nil {
			t.Fatalf("GetMembership() error = %v", err)
		}
		if m.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("membership %v status = %v, want %v", id, m.Status, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []EventKind
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event.Kind)
	return r.err
}

func TestNotifications(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	f := newFixture(t, func(c *Config) { c.Notifier = notifier })
	ctx := context.Background()
	creator, a, b, c := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	agg := f.create(t, creator, "Notify", CreateOptions{})
	ma := f.join(t, agg, a)
	mb := f.invite(t, agg, b, creator)
	if _, err := f.svc.Reject(ctx, mb.ID, b, ""); err != nil {
		t.Fatalf("Reject() error = %v", err)
	}
	mc := f.join(t, agg, c)
	if _, err := f.svc.Leave(ctx, ma.ID, a, ""); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if _, err := f.svc.Remove(ctx, mc.ID, creator, ""); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	want := []EventKind{
		EventInvitationSent, EventInvitationAccepted,
		EventInvitationSent, EventInvitationRejected,
		EventInvitationSent, EventInvitationAccepted,
		EventMemberLeft, EventMemberRemoved,
	}
	if diff := cmp.Diff(want, notifier.events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestNotifications_BoundedWait(t *testing.T) {
	blocked := make(chan struct{}, 1)
	hanging := NotifierFunc(func(ctx context.Context, _ Event) error {
		blocked <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	})
	f := newFixture(t, func(c *Config) {
		c.Notifier = hanging
		c.NotifyTimeout = 100 * time.Millisecond
	})
	creator, invitee := uuid.New(), uuid.New()
	agg := f.create(t, creator, "Slow mail", CreateOptions{})

	result := make(chan error, 1)
	go func() {
		_, err := f.svc.Invite(context.Background(), agg.ID, invitee, creator, "")
		result <- err
	}()

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Invite() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Invite() still blocked on its notifier")
	}
	select {
	case <-blocked:
	default:
		t.Error("notifier was not called")
	}

	pending, err := f.svc.PendingInvitations(context.Background(), invitee)
	if err != nil || len(pending) != 1 {
		t.Errorf("PendingInvitations() = %d, %v; want the committed invitation", len(pending), err)
	}
}

func TestVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	creator, member, invited, outsider := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	agg := f.create(t, creator, "Visibility", CreateOptions{})
	m := f.join(t, agg, member)
	f.invite(t, agg, invited, creator)

	if _, err := f.svc.GetAggregationFor(ctx, agg.ID, invited); err != nil {
		t.Errorf("GetAggregationFor(invited) error = %v", err)
	}
	if _, err := f.svc.GetAggregationBySlugFor(ctx, agg.Slug, outsider); !errors.Is(err, domain.ErrNotAggregationMember) {
		t.Errorf("GetAggregationBySlugFor(outsider) error = %v, want not a member", err)
	}
	if _, err := f.svc.ListMembersFor(ctx, agg.ID, invited); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Errorf("ListMembersFor(invited) error = %v, want permission denied", err)
	}
	members, err := f.svc.ListMembersFor(ctx, agg.ID, member)
	if err != nil || len(members) != 3 {
		t.Errorf("ListMembersFor(member) = %d, %v; want 3 rows", len(members), err)
	}

	if _, err := f.svc.HasPermissionFor(ctx, m.ID, outsider, "share_documents"); !errors.Is(err, domain.ErrNotMembershipOwner) {
		t.Errorf("HasPermissionFor(outsider) error = %v, want not owner", err)
	}
	granted, err := f.svc.HasPermissionFor(ctx, m.ID, creator, "share_documents")
	if err != nil || !granted {
		t.Errorf("HasPermissionFor(admin) = %v, %v; want true", granted, err)
	}
}

func TestNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	missing := uuid.New()

	checks := map[string]error{}
	_, checks["Accept"] = f.svc.Accept(ctx, missing, missing, "")
	_, checks["Reject"] = f.svc.Reject(ctx, missing, missing, "")
	_, checks["Leave"] = f.svc.Leave(ctx, missing, missing, "")
	_, checks["Invite"] = f.svc.Invite(ctx, missing, uuid.New(), uuid.New(), "")
	_, checks["ArchiveAggregation"] = f.svc.ArchiveAggregation(ctx, missing, missing)
	_, checks["ListMembers"] = f.svc.ListMembers(ctx, missing)

	for name, err := range checks {
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("%s() error = %v, want not found", name, err)
		}
	}
}
