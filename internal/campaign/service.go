// Package campaign implements the campaign lifecycle: creation, queueing
// with audience resolution, cancellation and test sends.
package campaign

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ostrix/blastd/internal/audience"
	"github.com/ostrix/blastd/internal/models"
	"github.com/ostrix/blastd/internal/phone"
	"github.com/ostrix/blastd/internal/provider"
	"github.com/ostrix/blastd/internal/store"
	"github.com/ostrix/blastd/internal/template"
)

// CancelReason marks recipients failed by campaign cancellation
const CancelReason = "campaign cancelled"

// ValidationError carries structural violations back to the caller before
// any state change happens.
type ValidationError struct {
	Message    string               `json:"message"`
	Violations []template.Violation `json:"violations,omitempty"`
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return e.Message
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// Params describes campaign creation and update input
type Params struct {
	Name        string
	AccountID   string
	MessageType models.MessageType
	Body        string             // free_text body
	Template    *template.Template // template campaigns
	Variables   []string           // field name per placeholder index
	Target      *models.TargetQuery
	ScheduleAt  *time.Time
	Actor       string
}

type Service struct {
	db         *store.DB
	campaigns  *store.CampaignRepository
	recipients *store.RecipientRepository
	accounts   *store.AccountRepository
	audit      *store.AuditRepository
	resolver   *audience.Resolver
	sender     provider.Provider
	logger     *slog.Logger
}

func NewService(db *store.DB, resolver *audience.Resolver, sender provider.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:         db,
		campaigns:  store.NewCampaignRepository(db),
		recipients: store.NewRecipientRepository(db),
		accounts:   store.NewAccountRepository(db),
		audit:      store.NewAuditRepository(db),
		resolver:   resolver,
		sender:     sender,
		logger:     logger,
	}
}

// Create persists a new draft campaign
func (s *Service) Create(p Params) (*models.Campaign, error) {
	c, err := s.build(p)
	if err != nil {
		return nil, err
	}

	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.campaigns.WithTx(tx).Create(c); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:     models.AuditCampaignCreate,
			Actor:      p.Actor,
			AccountID:  c.AccountID,
			CampaignID: c.ID,
			Details:    c.Name,
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Update replaces the mutable fields of a draft campaign
func (s *Service) Update(id string, p Params) (*models.Campaign, error) {
	existing, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if existing.Status != models.CampaignDraft {
		return nil, fmt.Errorf("only draft campaigns can be edited, %s is %s: %w", id, existing.Status, store.ErrStateConflict)
	}

	c, err := s.build(p)
	if err != nil {
		return nil, err
	}
	c.ID = existing.ID
	c.Status = existing.Status
	c.CreatedBy = existing.CreatedBy
	c.CreatedAt = existing.CreatedAt

	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.campaigns.WithTx(tx).Update(c); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:     models.AuditCampaignUpdate,
			Actor:      p.Actor,
			AccountID:  c.AccountID,
			CampaignID: c.ID,
		})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Delete removes a campaign and, by cascade, its recipients. Campaigns that
// are actively sending cannot be deleted.
func (s *Service) Delete(id, actor string) error {
	c, err := s.get(id)
	if err != nil {
		return err
	}
	if c.Status == models.CampaignSending {
		return fmt.Errorf("campaign %s is sending, cancel it first: %w", id, store.ErrStateConflict)
	}

	return s.db.InTx(func(tx *sql.Tx) error {
		if err := s.campaigns.WithTx(tx).Delete(id); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:     models.AuditCampaignDelete,
			Actor:      actor,
			AccountID:  c.AccountID,
			CampaignID: c.ID,
			Details:    c.Name,
		})
	})
}

// Send queues a draft campaign: the message is validated, the audience
// resolved and recipients created, all in one transaction with the status
// change and the audit entry. Calling Send on a campaign that is already
// queued or sending is a no-op, not an error.
func (s *Service) Send(ctx context.Context, id, actor string) (*models.Campaign, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}

	switch c.Status {
	case models.CampaignQueued, models.CampaignSending:
		return c, nil // idempotent re-trigger
	case models.CampaignDraft:
	default:
		return nil, fmt.Errorf("campaign %s is %s and cannot be sent: %w", id, c.Status, store.ErrStateConflict)
	}

	if err := s.validateMessage(c); err != nil {
		return nil, err
	}

	acc, err := s.accounts.GetByID(c.AccountID)
	if err != nil {
		return nil, err
	}
	if acc == nil || !acc.Usable() {
		return nil, fmt.Errorf("account %s is not usable: %w", c.AccountID, store.ErrStateConflict)
	}

	target, err := models.ParseTargetQuery(c.Target)
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	candidates, err := s.resolver.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, &ValidationError{Message: "campaign resolved to an empty recipient set"}
	}

	recipients := make([]models.CampaignRecipient, 0, len(candidates))
	for _, cand := range candidates {
		msg, err := s.Personalize(c, cand)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, models.CampaignRecipient{
			CampaignID: c.ID,
			ContactID:  cand.ContactID,
			Phone:      cand.Phone,
			Name:       cand.Name,
			Message:    msg,
		})
	}

	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.recipients.WithTx(tx).BulkCreate(recipients); err != nil {
			return err
		}
		if err := s.campaigns.WithTx(tx).Transition(c.ID, models.CampaignDraft, models.CampaignQueued); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:     models.AuditCampaignSend,
			Actor:      actor,
			AccountID:  c.AccountID,
			CampaignID: c.ID,
			Details:    fmt.Sprintf("%d recipients", len(recipients)),
		})
	})
	if err != nil {
		return nil, err
	}

	c.Status = models.CampaignQueued
	s.logger.Info("campaign queued",
		"campaign_id", c.ID,
		"recipients", len(recipients),
		"schedule_at", c.ScheduleAt,
	)
	return c, nil
}

// Cancel stops a campaign. Recipients already attempted keep their state;
// untried recipients are failed with a cancellation marker.
func (s *Service) Cancel(id, actor string) (*models.Campaign, error) {
	c, err := s.get(id)
	if err != nil {
		return nil, err
	}
	if !c.Status.CanTransition(models.CampaignCancelled) {
		return nil, fmt.Errorf("campaign %s is %s and cannot be cancelled: %w", id, c.Status, store.ErrStateConflict)
	}

	var failed int
	err = s.db.InTx(func(tx *sql.Tx) error {
		if err := s.campaigns.WithTx(tx).Transition(c.ID, c.Status, models.CampaignCancelled); err != nil {
			return err
		}
		n, err := s.recipients.WithTx(tx).FailPending(c.ID, CancelReason)
		if err != nil {
			return err
		}
		failed = n
		return s.audit.WithTx(tx).Add(&models.AuditEntry{
			Action:     models.AuditCampaignCancel,
			Actor:      actor,
			AccountID:  c.AccountID,
			CampaignID: c.ID,
			Details:    fmt.Sprintf("%d pending recipients failed", n),
		})
	})
	if err != nil {
		return nil, err
	}

	c.Status = models.CampaignCancelled
	s.logger.Info("campaign cancelled", "campaign_id", c.ID, "failed_pending", failed)
	return c, nil
}

// SendTest validates and personalizes the campaign message against a probe
// phone and sends it through the provider without creating recipients.
func (s *Service) SendTest(ctx context.Context, id, rawPhone, actor string) error {
	c, err := s.get(id)
	if err != nil {
		return err
	}
	if err := s.validateMessage(c); err != nil {
		return err
	}

	to, err := phone.Normalize(rawPhone)
	if err != nil {
		return &ValidationError{Message: fmt.Sprintf("invalid test phone: %v", err)}
	}

	msg, err := s.Personalize(c, audience.Candidate{Phone: to, Name: "Test"})
	if err != nil {
		return err
	}

	if _, err := s.sender.Send(ctx, c.AccountID, provider.Message{To: to, Body: msg}); err != nil {
		return fmt.Errorf("test send failed: %w", err)
	}

	return s.audit.Add(&models.AuditEntry{
		Action:     models.AuditTestSend,
		Actor:      actor,
		AccountID:  c.AccountID,
		CampaignID: c.ID,
		Details:    to,
	})
}

// Get returns a campaign by id
func (s *Service) Get(id string) (*models.Campaign, error) {
	return s.get(id)
}

// List returns campaigns matching the filter with the total count
func (s *Service) List(filter models.CampaignListFilter) ([]models.Campaign, int, error) {
	return s.campaigns.List(filter)
}

// Stats recomputes live aggregate counts from the campaign's recipients
func (s *Service) Stats(id string) (*models.CampaignStats, error) {
	return s.recipients.Stats(id)
}

// Recipients lists a campaign's recipients
func (s *Service) Recipients(filter models.RecipientFilter) ([]models.CampaignRecipient, error) {
	return s.recipients.List(filter)
}

// Personalize renders the campaign message for one candidate, substituting
// each declared variable with the candidate's field value and falling back
// to an empty string for unmapped fields.
func (s *Service) Personalize(c *models.Campaign, cand audience.Candidate) (string, error) {
	body := c.Body
	if c.MessageType == models.MessageTemplate {
		tpl, err := template.Parse(c.Template)
		if err != nil {
			return "", err
		}
		bodyComp := tpl.Body()
		if bodyComp == nil {
			return "", fmt.Errorf("template has no body component")
		}
		body = bodyComp.Text
	}

	var fields []string
	if c.Variables != "" {
		if err := json.Unmarshal([]byte(c.Variables), &fields); err != nil {
			return "", fmt.Errorf("failed to parse campaign variables: %w", err)
		}
	}

	values := make([]string, len(fields))
	for i, f := range fields {
		values[i] = fieldValue(cand, f)
	}
	return template.RenderBody(body, values), nil
}

func fieldValue(cand audience.Candidate, field string) string {
	switch field {
	case "name":
		return cand.Name
	case "phone":
		return cand.Phone
	case "email":
		return cand.Email
	}
	if cand.Contact != nil {
		return cand.Contact.FieldMap()[field]
	}
	return ""
}

// validateMessage checks the campaign message is sendable: a validated
// template, or a non-empty free-text body.
func (s *Service) validateMessage(c *models.Campaign) error {
	switch c.MessageType {
	case models.MessageFreeText:
		if strings.TrimSpace(c.Body) == "" {
			return &ValidationError{Message: "free-text campaign requires a non-empty body"}
		}
	case models.MessageTemplate:
		tpl, err := template.Parse(c.Template)
		if err != nil {
			return &ValidationError{Message: err.Error()}
		}
		if violations := tpl.Validate(); len(violations) > 0 {
			return &ValidationError{Message: "template validation failed", Violations: violations}
		}
	default:
		return &ValidationError{Message: fmt.Sprintf("unknown message type: %s", c.MessageType)}
	}
	return nil
}

// build assembles a campaign model from params, validating the message and
// the target query up front.
func (s *Service) build(p Params) (*models.Campaign, error) {
	c := &models.Campaign{
		Name:        p.Name,
		AccountID:   p.AccountID,
		MessageType: p.MessageType,
		Body:        p.Body,
		ScheduleAt:  p.ScheduleAt,
		CreatedBy:   p.Actor,
	}
	if c.Name == "" {
		return nil, &ValidationError{Message: "campaign name is required"}
	}
	if c.AccountID == "" {
		return nil, &ValidationError{Message: "campaign account is required"}
	}

	if p.Template != nil {
		encoded, err := p.Template.Encode()
		if err != nil {
			return nil, err
		}
		c.Template = encoded
	}
	if len(p.Variables) > 0 {
		data, err := json.Marshal(p.Variables)
		if err != nil {
			return nil, err
		}
		c.Variables = string(data)
	}

	if p.Target == nil {
		return nil, &ValidationError{Message: "campaign target is required"}
	}
	target, err := p.Target.Encode()
	if err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}
	c.Target = target

	if err := s.validateMessage(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) get(id string) (*models.Campaign, error) {
	c, err := s.campaigns.GetByID(id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("campaign %s: %w", id, store.ErrNotFound)
	}
	return c, nil
}
