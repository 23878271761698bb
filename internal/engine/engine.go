package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"combinados/internal/config"
	"combinados/internal/domain"
	"combinados/internal/feed"
	"combinados/internal/notify"
	"combinados/internal/repo"
	"combinados/internal/storage"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Notify notify.Dispatcher
	Feed   *feed.Hub
	Store  storage.Store
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Notify: notify.Dispatcher{Repo: r},
		Feed:   feed.NewHub(),
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) publish(ev feed.Event) {
	if e.Feed != nil {
		e.Feed.Publish(ev)
	}
}

// actorLabel resolves the display name used in notification messages.
func (e Engine) actorLabel(ctx context.Context, userID string) string {
	p, err := e.Repo.GetProfile(ctx, userID)
	if err != nil || p.FullName == "" {
		return userID
	}
	return p.FullName
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// loadAgreementFor enforces the visibility rule: creators, invited
// participants and admins see an agreement, everyone else gets not-found.
func (e Engine) loadAgreementFor(ctx context.Context, actorID string, roles []string, id string) (domain.Agreement, error) {
	ag, err := e.Repo.GetAgreement(ctx, id)
	if err != nil {
		return domain.Agreement{}, err
	}
	if hasRole(roles, domain.RoleAdmin) {
		return ag, nil
	}
	ok, err := e.Repo.CanAccessAgreement(ctx, id, actorID)
	if err != nil {
		return domain.Agreement{}, err
	}
	if !ok {
		return domain.Agreement{}, repo.ErrNotFound
	}
	return ag, nil
}

func (e Engine) audit(ctx context.Context, tx *sql.Tx, agreementID, userID, action, entityType string, entityID, oldValue, newValue *string) error {
	return e.Repo.InsertAuditLog(ctx, tx, domain.AuditLog{
		ID:          uuid.New().String(),
		AgreementID: agreementID,
		UserID:      userID,
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		OldValue:    oldValue,
		NewValue:    newValue,
		CreatedAt:   e.nowRFC(),
	})
}

// recipients lists everyone involved in the agreement, creator included.
func recipients(ag domain.Agreement, participants []domain.Participant) []string {
	out := []string{ag.CreatorID}
	for _, p := range participants {
		if p.UserID != ag.CreatorID {
			out = append(out, p.UserID)
		}
	}
	return out
}

// ChecklistItemInput describes one item of a new agreement's checklist.
type ChecklistItemInput struct {
	Description  string
	AssignedToID string
	DueDate      string
}

// CreateAgreementOptions are parameters for creating an agreement.
type CreateAgreementOptions struct {
	Title          string
	Description    string
	Category       string
	MeetingDate    string
	DueDate        string
	Priority       string
	Tags           []string
	ParticipantIDs []string
	Checklist      []ChecklistItemInput
	Draft          bool
	ActorID        string
	ActorRoles     []string
}

// CreateResult reports the stored agreement plus any follow-up steps that
// failed. Creation is deliberately best-effort after the core row exists: a
// failed participant or notification write degrades the result instead of
// discarding the agreement.
type CreateResult struct {
	Agreement domain.Agreement
	Degraded  []string
}

func (e Engine) CreateAgreement(ctx context.Context, opts CreateAgreementOptions) (CreateResult, error) {
	if e.Config != nil && !e.Config.CanCreateAgreements(opts.ActorRoles) {
		return CreateResult{}, AuthorizationError{Reason: "creating agreements requires one of the configured roles"}
	}
	if opts.Title == "" {
		return CreateResult{}, ValidationError{Field: "title", Reason: "required"}
	}
	if opts.MeetingDate == "" {
		return CreateResult{}, ValidationError{Field: "meeting_date", Reason: "required"}
	}
	if opts.DueDate == "" {
		return CreateResult{}, ValidationError{Field: "due_date", Reason: "required"}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !domain.ValidPriority(opts.Priority) {
		return CreateResult{}, ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %s", opts.Priority)}
	}
	for i, item := range opts.Checklist {
		if item.Description == "" {
			return CreateResult{}, ValidationError{Field: "checklist", Reason: fmt.Sprintf("item %d has empty description", i)}
		}
	}
	seen := map[string]bool{}
	for _, userID := range opts.ParticipantIDs {
		if userID == "" {
			return CreateResult{}, ValidationError{Field: "participants", Reason: "empty participant id"}
		}
		if seen[userID] {
			return CreateResult{}, ValidationError{Field: "participants", Reason: fmt.Sprintf("duplicate participant %s", userID)}
		}
		seen[userID] = true
	}

	now := e.nowRFC()
	status := domain.StatusPending
	if opts.Draft {
		status = domain.StatusDraft
	}
	ag := domain.Agreement{
		ID:          uuid.New().String(),
		Title:       opts.Title,
		Description: opts.Description,
		MeetingDate: opts.MeetingDate,
		DueDate:     opts.DueDate,
		Priority:    opts.Priority,
		Status:      status,
		Tags:        opts.Tags,
		CreatorID:   opts.ActorID,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Category != "" {
		ag.Category = &opts.Category
	}

	// The agreement row is the only fatal step.
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return CreateResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgreement(ctx, tx, ag); err != nil {
		return CreateResult{}, fmt.Errorf("insert agreement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return CreateResult{}, err
	}

	res := CreateResult{Agreement: ag}
	degrade := func(step string) { res.Degraded = append(res.Degraded, step) }

	if len(opts.ParticipantIDs) > 0 {
		if err := e.insertParticipants(ctx, ag, opts.ParticipantIDs, now); err != nil {
			degrade("participants")
		}
	}
	if len(opts.Checklist) > 0 {
		if err := e.insertChecklist(ctx, ag, opts.Checklist, now); err != nil {
			degrade("checklist")
		}
	}
	if len(opts.ParticipantIDs) > 0 && !opts.Draft {
		if err := e.notifyCreated(ctx, ag, opts.ParticipantIDs); err != nil {
			degrade("notifications")
		}
	}
	if err := e.auditCreated(ctx, ag); err != nil {
		degrade("audit")
	}

	e.publish(feed.Event{Table: "agreements", Action: "INSERT", EntityID: ag.ID, AgreementID: ag.ID})
	return res, nil
}

func (e Engine) insertParticipants(ctx context.Context, ag domain.Agreement, userIDs []string, now string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, userID := range userIDs {
		p := domain.Participant{
			ID:          uuid.New().String(),
			AgreementID: ag.ID,
			UserID:      userID,
			Status:      domain.ParticipantPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := e.Repo.InsertParticipant(ctx, tx, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e Engine) insertChecklist(ctx context.Context, ag domain.Agreement, items []ChecklistItemInput, now string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, in := range items {
		it := domain.ChecklistItem{
			ID:          uuid.New().String(),
			AgreementID: ag.ID,
			Description: in.Description,
			OrderIndex:  i,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if in.AssignedToID != "" {
			assigned := in.AssignedToID
			it.AssignedToID = &assigned
		}
		if in.DueDate != "" {
			due := in.DueDate
			it.DueDate = &due
		}
		if err := e.Repo.InsertChecklistItem(ctx, tx, it); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e Engine) notifyCreated(ctx context.Context, ag domain.Agreement, participantIDs []string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Notify.AgreementCreated(ctx, tx, e.actorLabel(ctx, ag.CreatorID), ag, participantIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, userID := range participantIDs {
		if userID != ag.CreatorID {
			e.publish(feed.Event{Table: "notifications", Action: "INSERT", AgreementID: ag.ID, RecipientID: userID})
		}
	}
	return nil
}

func (e Engine) auditCreated(ctx context.Context, ag domain.Agreement) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	newValue := ag.Status
	if err := e.audit(ctx, tx, ag.ID, ag.CreatorID, "agreement.created", "agreement", &ag.ID, nil, &newValue); err != nil {
		return err
	}
	return tx.Commit()
}

// AgreementView bundles everything the detail page shows.
type AgreementView struct {
	Agreement    domain.Agreement       `json:"agreement"`
	Participants []domain.Participant   `json:"participants"`
	Checklist    []domain.ChecklistItem `json:"checklist"`
	Comments     []domain.Comment       `json:"comments"`
	Attachments  []domain.Attachment    `json:"attachments"`
}

func (e Engine) GetAgreementView(ctx context.Context, actorID string, roles []string, id string) (AgreementView, error) {
	ag, err := e.loadAgreementFor(ctx, actorID, roles, id)
	if err != nil {
		return AgreementView{}, err
	}
	view := AgreementView{Agreement: ag}
	if view.Participants, err = e.Repo.ListParticipants(ctx, id); err != nil {
		return AgreementView{}, err
	}
	if view.Checklist, err = e.Repo.ListChecklistItems(ctx, id); err != nil {
		return AgreementView{}, err
	}
	if view.Comments, err = e.Repo.ListComments(ctx, id); err != nil {
		return AgreementView{}, err
	}
	if view.Attachments, err = e.Repo.ListAttachments(ctx, id); err != nil {
		return AgreementView{}, err
	}
	return view, nil
}

// ListAgreements returns agreements visible to the actor. Admins see the
// whole workspace; everyone else sees what they created or participate in.
func (e Engine) ListAgreements(ctx context.Context, actorID string, roles []string, f repo.AgreementFilters) ([]domain.Agreement, error) {
	if !hasRole(roles, domain.RoleAdmin) {
		f.ParticipantID = actorID
	}
	return e.Repo.ListAgreements(ctx, f)
}

// UpdateAgreementOptions carry the editable agreement fields. Nil pointers
// leave the stored value untouched.
type UpdateAgreementOptions struct {
	Title       *string
	Description *string
	Category    *string
	MeetingDate *string
	DueDate     *string
	Priority    *string
	Tags        []string
	ActorID     string
	ActorRoles  []string
}

// UpdateAgreement edits agreement terms. Only the creator (or an admin) may
// edit; each successful edit bumps the version so clients can spot stale data.
func (e Engine) UpdateAgreement(ctx context.Context, id string, opts UpdateAgreementOptions) (domain.Agreement, error) {
	ag, err := e.loadAgreementFor(ctx, opts.ActorID, opts.ActorRoles, id)
	if err != nil {
		return domain.Agreement{}, err
	}
	if ag.CreatorID != opts.ActorID && !hasRole(opts.ActorRoles, domain.RoleAdmin) {
		return domain.Agreement{}, AuthorizationError{Reason: "only the creator can edit an agreement"}
	}
	if opts.Priority != nil && !domain.ValidPriority(*opts.Priority) {
		return domain.Agreement{}, ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %s", *opts.Priority)}
	}
	if opts.Title != nil {
		if *opts.Title == "" {
			return domain.Agreement{}, ValidationError{Field: "title", Reason: "required"}
		}
		ag.Title = *opts.Title
	}
	if opts.Description != nil {
		ag.Description = *opts.Description
	}
	if opts.Category != nil {
		if *opts.Category == "" {
			ag.Category = nil
		} else {
			ag.Category = opts.Category
		}
	}
	if opts.MeetingDate != nil {
		ag.MeetingDate = *opts.MeetingDate
	}
	if opts.DueDate != nil {
		ag.DueDate = *opts.DueDate
	}
	if opts.Priority != nil {
		ag.Priority = *opts.Priority
	}
	if opts.Tags != nil {
		ag.Tags = opts.Tags
	}
	ag.Version++
	ag.UpdatedAt = e.nowRFC()

	participants, err := e.Repo.ListParticipants(ctx, id)
	if err != nil {
		return domain.Agreement{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agreement{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgreement(ctx, tx, ag); err != nil {
		return domain.Agreement{}, err
	}
	version := fmt.Sprintf("%d", ag.Version)
	if err := e.audit(ctx, tx, ag.ID, opts.ActorID, "agreement.updated", "agreement", &ag.ID, nil, &version); err != nil {
		return domain.Agreement{}, err
	}
	if err := e.Notify.AgreementUpdated(ctx, tx, opts.ActorID, e.actorLabel(ctx, opts.ActorID), ag, recipients(ag, participants)); err != nil {
		return domain.Agreement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agreement{}, err
	}
	e.publish(feed.Event{Table: "agreements", Action: "UPDATE", EntityID: ag.ID, AgreementID: ag.ID})
	return ag, nil
}

// DeleteAgreement removes the agreement and everything hanging off it.
func (e Engine) DeleteAgreement(ctx context.Context, actorID string, roles []string, id string) error {
	ag, err := e.loadAgreementFor(ctx, actorID, roles, id)
	if err != nil {
		return err
	}
	if ag.CreatorID != actorID && !hasRole(roles, domain.RoleAdmin) {
		return AuthorizationError{Reason: "only the creator can delete an agreement"}
	}
	if err := e.Repo.DeleteAgreement(ctx, id); err != nil {
		return err
	}
	e.publish(feed.Event{Table: "agreements", Action: "DELETE", EntityID: id, AgreementID: id})
	return nil
}

// SetAdministrativeStatus forces a lifecycle state that derivation never
// produces on its own: CANCELLED, OVERDUE, DRAFT, or back to PENDING to
// resume a paused agreement. Admin only.
func (e Engine) SetAdministrativeStatus(ctx context.Context, actorID string, roles []string, id, status string) (domain.Agreement, error) {
	if !hasRole(roles, domain.RoleAdmin) {
		return domain.Agreement{}, AuthorizationError{Reason: "role ADMIN required"}
	}
	switch status {
	case domain.StatusDraft, domain.StatusPending, domain.StatusCancelled, domain.StatusOverdue:
	default:
		return domain.Agreement{}, ValidationError{Field: "status", Reason: fmt.Sprintf("status %s cannot be set directly", status)}
	}
	ag, err := e.Repo.GetAgreement(ctx, id)
	if err != nil {
		return domain.Agreement{}, err
	}
	if ag.Status == status {
		return ag, nil
	}
	old := ag.Status
	now := e.nowRFC()
	participants, err := e.Repo.ListParticipants(ctx, id)
	if err != nil {
		return domain.Agreement{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agreement{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgreementStatus(ctx, tx, id, status, "", now); err != nil {
		return domain.Agreement{}, err
	}
	if err := e.audit(ctx, tx, id, actorID, "agreement.status_forced", "agreement", &id, &old, &status); err != nil {
		return domain.Agreement{}, err
	}
	// Moving a draft to PENDING is the send: participants get their invite now.
	if old == domain.StatusDraft && status == domain.StatusPending {
		ids := make([]string, 0, len(participants))
		for _, p := range participants {
			ids = append(ids, p.UserID)
		}
		if err := e.Notify.AgreementSent(ctx, tx, ag.CreatorID, e.actorLabel(ctx, ag.CreatorID), ag, ids); err != nil {
			return domain.Agreement{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Agreement{}, err
	}
	ag.Status = status
	ag.CompletedAt = nil
	ag.UpdatedAt = now
	e.publish(feed.Event{Table: "agreements", Action: "UPDATE", EntityID: id, AgreementID: id})
	return ag, nil
}

// MarkAllNotificationsRead flips the actor's unread notifications. Calling it
// with nothing unread is a no-op.
func (e Engine) MarkAllNotificationsRead(ctx context.Context, actorID string) (int64, error) {
	n, err := e.Repo.MarkAllNotificationsRead(ctx, actorID, e.nowRFC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.publish(feed.Event{Table: "notifications", Action: "UPDATE", RecipientID: actorID})
	}
	return n, nil
}
