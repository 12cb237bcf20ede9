package notification

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/florenceegi/egi-hub/pkg/domain"
	"github.com/florenceegi/egi-hub/pkg/federation"
	"github.com/google/uuid"
)

var templates = template.Must(template.New("events").Parse(`
{{define "invitation_sent"}}<html><body>
	<h2>You have been invited to {{.Aggregation}}</h2>
	<p>{{.Actor}} invited {{.Tenant}} to join the aggregation <strong>{{.Aggregation}}</strong>.</p>
	{{if .Note}}<blockquote>{{.Note}}</blockquote>{{end}}
	{{if .ExpiresAt}}<p>The invitation expires on {{.ExpiresAt}}.</p>{{end}}
</body></html>{{end}}
{{define "invitation_accepted"}}<html><body>
	<h2>{{.Tenant}} joined {{.Aggregation}}</h2>
	<p>Your invitation was accepted.</p>
	{{if .Note}}<blockquote>{{.Note}}</blockquote>{{end}}
</body></html>{{end}}
{{define "invitation_rejected"}}<html><body>
	<h2>{{.Tenant}} declined to join {{.Aggregation}}</h2>
	{{if .Note}}<blockquote>{{.Note}}</blockquote>{{end}}
</body></html>{{end}}
{{define "member_left"}}<html><body>
	<h2>{{.Tenant}} left {{.Aggregation}}</h2>
	{{if .Note}}<blockquote>{{.Note}}</blockquote>{{end}}
</body></html>{{end}}
{{define "member_removed"}}<html><body>
	<h2>{{.Tenant}} was removed from {{.Aggregation}}</h2>
	<p>Data shared through this aggregation is no longer visible to you.</p>
	{{if .Note}}<blockquote>{{.Note}}</blockquote>{{end}}
</body></html>{{end}}
`))

var subjects = map[federation.EventKind]string{
	federation.EventInvitationSent:     "Invitation to join %s",
	federation.EventInvitationAccepted: "Invitation to %s accepted",
	federation.EventInvitationRejected: "Invitation to %s declined",
	federation.EventMemberLeft:         "A member left %s",
	federation.EventMemberRemoved:      "Removed from %s",
}

type emailData struct {
	Aggregation string
	Tenant      string
	Actor       string
	Note        string
	ExpiresAt   string
}

// InvitationNotifier emails membership events to the contact address the
// tenant directory holds for the affected tenant.
type InvitationNotifier struct {
	email   *EmailService
	tenants federation.TenantDirectory
	logger  *slog.Logger
}

// NewInvitationNotifier creates a notifier sending through email.
func NewInvitationNotifier(email *EmailService, tenants federation.TenantDirectory, logger *slog.Logger) *InvitationNotifier {
	return &InvitationNotifier{email: email, tenants: tenants, logger: logger}
}

// recipient picks the tenant told about an event: the invitee for new
// invitations and removals, the inviter for answers, the creator for departures.
func recipient(event federation.Event) (uuid.UUID, bool) {
	m := event.Membership
	switch event.Kind {
	case federation.EventInvitationSent, federation.EventMemberRemoved:
		return m.TenantID, true
	case federation.EventInvitationAccepted, federation.EventInvitationRejected:
		if m.InvitedByTenantID == nil {
			return uuid.Nil, false
		}
		return *m.InvitedByTenantID, true
	case federation.EventMemberLeft:
		return event.Aggregation.CreatedByTenantID, true
	}
	return uuid.Nil, false
}

func note(event federation.Event) string {
	m := event.Membership
	var s *string
	switch event.Kind {
	case federation.EventInvitationSent:
		s = m.InvitationMessage
	case federation.EventInvitationAccepted, federation.EventInvitationRejected:
		s = m.ResponseMessage
	case federation.EventMemberLeft, federation.EventMemberRemoved:
		s = m.LeaveReason
	}
	if s == nil {
		return ""
	}
	return *s
}

// Notify implements federation.Notifier.
func (n *InvitationNotifier) Notify(ctx context.Context, event federation.Event) error {
	to, ok := recipient(event)
	if !ok {
		return nil
	}

	tenants, err := n.tenants.GetByIDs(ctx, []uuid.UUID{to, event.Membership.TenantID, event.ActorTenantID})
	if err != nil {
		return fmt.Errorf("failed to look up tenants: %w", err)
	}
	target := tenants[to]
	if target == nil || target.ContactEmail == nil || *target.ContactEmail == "" {
		n.logger.Debug("no contact email for notification", "event", event.Kind, "tenant_id", to)
		return nil
	}

	data := emailData{
		Aggregation: event.Aggregation.Name,
		Tenant:      displayName(tenants, event.Membership.TenantID),
		Actor:       displayName(tenants, event.ActorTenantID),
		Note:        note(event),
	}
	if event.Membership.ExpiresAt != nil {
		data.ExpiresAt = event.Membership.ExpiresAt.UTC().Format("2 January 2006 15:04 MST")
	}

	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, string(event.Kind), data); err != nil {
		return fmt.Errorf("failed to render %s email: %w", event.Kind, err)
	}
	subject := fmt.Sprintf(subjects[event.Kind], event.Aggregation.Name)

	if err := n.email.Send(ctx, *target.ContactEmail, subject, body.String()); err != nil {
		return fmt.Errorf("failed to send %s email: %w", event.Kind, err)
	}
	n.logger.Info("notification sent", "event", event.Kind, "tenant_id", to, "membership_id", event.Membership.ID)
	return nil
}

func displayName(tenants map[uuid.UUID]*domain.Tenant, id uuid.UUID) string {
	if t, ok := tenants[id]; ok {
		return t.DisplayName()
	}
	return domain.FallbackTenantName(id)
}
