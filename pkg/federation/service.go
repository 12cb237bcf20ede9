// Package federation implements the aggregation federation core: the
// aggregation manager, the membership state machine, and the permission and
// accessibility resolvers that decide which tenants may read whose data.
//
// Every command takes the acting tenant explicitly. Business-rule failures
// are returned as errors wrapping one of the domain categories
// (domain.ErrConflict, domain.ErrCapacityExceeded, ...); any other error is
// an infrastructure failure and the enclosing transaction has been rolled
// back.
package federation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/florenceegi/egi-hub/pkg/repository"
	"github.com/google/uuid"
)

const (
	// DefaultInvitationExpiry is how long an invitation stays answerable.
	DefaultInvitationExpiry = 30 * 24 * time.Hour

	// DefaultNotifyTimeout bounds how long a transition waits on its notifier.
	DefaultNotifyTimeout = 10 * time.Second

	// maxCreateAttempts bounds retries when a concurrent create takes the
	// slug between probing and inserting.
	maxCreateAttempts = 3
)

// TenantDirectory resolves tenant ids to display attributes. The hub does not
// own tenants; unknown ids are simply missing from the result.
type TenantDirectory interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Tenant, error)
}

// Config holds federation policy and collaborators.
type Config struct {
	// InvitationExpiry is added to the invitation time to compute expires_at
	// (default: 30 days).
	InvitationExpiry time.Duration

	// MembersCanInvite is the members_can_invite default for new
	// aggregations (default: true).
	MembersCanInvite *bool

	// DefaultMaxMembers caps new aggregations that do not set their own
	// limit. Zero leaves them unlimited.
	DefaultMaxMembers int

	// Clock is the time source (default: wall clock).
	Clock clock.Clock

	// Logger is the structured logger (default: JSON to stdout).
	Logger *slog.Logger

	// Notifier receives membership events after commit (optional).
	Notifier Notifier

	// NotifyTimeout caps each notifier call (default: 10 seconds).
	NotifyTimeout time.Duration
}

// Service exposes the federation operations.
type Service struct {
	config       Config
	db           *sql.DB
	aggregations *repository.AggregationsRepository
	memberships  *repository.MembershipsRepository
	tenants      TenantDirectory
	clock        clock.Clock
	logger       *slog.Logger
	notifier     Notifier
}

// NewService creates a new federation service.
func NewService(
	config Config,
	db *sql.DB,
	aggregations *repository.AggregationsRepository,
	memberships *repository.MembershipsRepository,
	tenants TenantDirectory,
) *Service {
	if config.InvitationExpiry == 0 {
		config.InvitationExpiry = DefaultInvitationExpiry
	}
	if config.MembersCanInvite == nil {
		membersCanInvite := true
		config.MembersCanInvite = &membersCanInvite
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = DefaultNotifyTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	notifier := config.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Service{
		config:       config,
		db:           db,
		aggregations: aggregations,
		memberships:  memberships,
		tenants:      tenants,
		clock:        config.Clock,
		logger:       config.Logger,
		notifier:     notifier,
	}
}

// InvitationExpiry returns the configured invitation lifetime.
func (s *Service) InvitationExpiry() time.Duration {
	return s.config.InvitationExpiry
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

// inTx runs fn in a transaction that commits only if fn returns nil.
func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// fail logs infrastructure errors and passes every error through unchanged.
func (s *Service) fail(op string, err error, attrs ...any) error {
	if err == nil {
		return nil
	}
	if domain.IsBusinessError(err) {
		s.logger.Debug(op+" rejected", append(attrs, "reason", err.Error())...)
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.logger.Error(op+" failed", append(attrs, "error", err)...)
	return err
}

// isAdminTx reports whether tenantID administers agg: the creator always
// does, otherwise an accepted membership with the admin role is required.
func (s *Service) isAdminTx(ctx context.Context, q repository.Querier, agg *domain.Aggregation, tenantID uuid.UUID) (bool, error) {
	if agg.IsCreator(tenantID) {
		return true, nil
	}
	m, err := s.memberships.GetLiveTx(ctx, q, agg.ID, tenantID)
	if errors.Is(err, domain.ErrMembershipNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return m.IsActive() && m.IsAdmin(), nil
}

// IsAdmin reports whether tenantID administers the aggregation.
func (s *Service) IsAdmin(ctx context.Context, aggregationID, tenantID uuid.UUID) (bool, error) {
	agg, err := s.aggregations.GetByID(ctx, aggregationID)
	if err != nil {
		return false, err
	}
	return s.isAdminTx(ctx, s.db, agg, tenantID)
}
