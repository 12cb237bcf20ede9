package federation

import (
	"context"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/google/uuid"
)

// EventKind names a membership event.
type EventKind string

const (
	EventInvitationSent     EventKind = "invitation_sent"
	EventInvitationAccepted EventKind = "invitation_accepted"
	EventInvitationRejected EventKind = "invitation_rejected"
	EventMemberLeft         EventKind = "member_left"
	EventMemberRemoved      EventKind = "member_removed"
)

// Event describes a committed membership transition.
type Event struct {
	Kind          EventKind
	Aggregation   *domain.Aggregation
	Membership    *domain.Membership
	ActorTenantID uuid.UUID
}

// Notifier is told about membership events once they are committed. A
// notifier error is logged and never undoes the transition. Notify must
// return once ctx is done.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }

func (s *Service) notify(ctx context.Context, kind EventKind, agg *domain.Aggregation, m *domain.Membership, actor uuid.UUID) {
	ctx, cancel := context.WithTimeout(ctx, s.config.NotifyTimeout)
	defer cancel()

	event := Event{Kind: kind, Aggregation: agg, Membership: m, ActorTenantID: actor}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.Warn("membership notification failed",
			"event", kind,
			"membership_id", m.ID,
			"aggregation_id", agg.ID,
			"error", err,
		)
	}
}
