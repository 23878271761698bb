package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"combinados/internal/domain"
	"combinados/internal/feed"
	"combinados/internal/repo"
)

// ToggleChecklistItem checks or unchecks one item. Only the item's assignee
// may toggle it, and only after accepting the agreement; unassigned items can
// not be toggled by anyone. Status derivation runs in the same transaction, so
// checking the last item completes the agreement and unchecking an item on a
// completed agreement reopens it.
func (e Engine) ToggleChecklistItem(ctx context.Context, actorID, itemID string, completed bool) (domain.ChecklistItem, error) {
	it, err := e.Repo.GetChecklistItem(ctx, itemID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if it.AssignedToID == nil || *it.AssignedToID != actorID {
		return domain.ChecklistItem{}, AuthorizationError{Reason: "only the assignee can toggle a checklist item"}
	}
	ag, err := e.Repo.GetAgreement(ctx, it.AgreementID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if administered(ag.Status) {
		return domain.ChecklistItem{}, ConflictError{Reason: fmt.Sprintf("agreement is %s", ag.Status)}
	}
	p, err := e.Repo.GetParticipant(ctx, it.AgreementID, actorID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.ChecklistItem{}, AuthorizationError{Reason: "only invited participants can toggle checklist items"}
	}
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if p.Status != domain.ParticipantAccepted {
		return domain.ChecklistItem{}, AuthorizationError{Reason: "accept the agreement before working its checklist"}
	}
	if it.IsCompleted == completed {
		return it, nil
	}

	now := e.nowRFC()
	it.IsCompleted = completed
	it.UpdatedAt = now
	if completed {
		it.CompletedAt = &now
		it.CompletedByID = &actorID
	} else {
		it.CompletedAt = nil
		it.CompletedByID = nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChecklistCompletion(ctx, tx, it); err != nil {
		return domain.ChecklistItem{}, err
	}

	participants, err := e.Repo.ListParticipantsTx(ctx, tx, it.AgreementID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	items, err := e.Repo.ListChecklistItemsTx(ctx, tx, it.AgreementID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	derived := deriveStatus(ag.Status, participants, items)
	completedAgreement := false
	if derived != ag.Status {
		completedAt := ""
		if derived == domain.StatusCompleted {
			completedAt = now
			completedAgreement = true
		}
		if err := e.Repo.UpdateAgreementStatus(ctx, tx, it.AgreementID, derived, completedAt, now); err != nil {
			return domain.ChecklistItem{}, err
		}
		if err := e.audit(ctx, tx, it.AgreementID, actorID, "agreement.status_changed", "agreement", &it.AgreementID, &ag.Status, &derived); err != nil {
			return domain.ChecklistItem{}, err
		}
	}

	action := "checklist_item.unchecked"
	if completed {
		action = "checklist_item.checked"
	}
	if err := e.audit(ctx, tx, it.AgreementID, actorID, action, "checklist_item", &it.ID, nil, nil); err != nil {
		return domain.ChecklistItem{}, err
	}
	if completed {
		if err := e.Notify.ChecklistItemChecked(ctx, tx, actorID, e.actorLabel(ctx, actorID), ag, it.Description); err != nil {
			return domain.ChecklistItem{}, err
		}
	}
	if completedAgreement {
		if err := e.Notify.AgreementCompleted(ctx, tx, actorID, ag, recipients(ag, participants)); err != nil {
			return domain.ChecklistItem{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}

	e.publish(feed.Event{Table: "checklist_items", Action: "UPDATE", EntityID: it.ID, AgreementID: it.AgreementID})
	if derived != ag.Status {
		e.publish(feed.Event{Table: "agreements", Action: "UPDATE", EntityID: it.AgreementID, AgreementID: it.AgreementID})
	}
	return it, nil
}

// ListAssignedChecklistItems returns the actor's working list for one
// agreement: only items assigned to them, in checklist order. Visibility
// follows the agreement itself.
func (e Engine) ListAssignedChecklistItems(ctx context.Context, actorID string, roles []string, agreementID string) ([]domain.ChecklistItem, error) {
	if _, err := e.loadAgreementFor(ctx, actorID, roles, agreementID); err != nil {
		return nil, err
	}
	return e.Repo.ListAssignedChecklistItems(ctx, agreementID, actorID)
}

// AddChecklistItem appends one item to the agreement's checklist. Creator or
// admin only. Appending an open item to a completed agreement reopens it.
func (e Engine) AddChecklistItem(ctx context.Context, actorID string, roles []string, agreementID string, in ChecklistItemInput) (domain.ChecklistItem, error) {
	if in.Description == "" {
		return domain.ChecklistItem{}, ValidationError{Field: "description", Reason: "required"}
	}
	ag, err := e.loadAgreementFor(ctx, actorID, roles, agreementID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	if ag.CreatorID != actorID && !hasRole(roles, domain.RoleAdmin) {
		return domain.ChecklistItem{}, AuthorizationError{Reason: "only the creator can change the checklist"}
	}

	now := e.nowRFC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	defer tx.Rollback()

	items, err := e.Repo.ListChecklistItemsTx(ctx, tx, agreementID)
	if err != nil {
		return domain.ChecklistItem{}, err
	}
	it := domain.ChecklistItem{
		ID:          uuid.New().String(),
		AgreementID: agreementID,
		Description: in.Description,
		OrderIndex:  len(items),
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
		return domain.ChecklistItem{}, err
	}
	if err := e.rederiveTx(ctx, tx, ag, actorID, now); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := e.audit(ctx, tx, agreementID, actorID, "checklist_item.added", "checklist_item", &it.ID, nil, &it.Description); err != nil {
		return domain.ChecklistItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistItem{}, err
	}
	e.publish(feed.Event{Table: "checklist_items", Action: "INSERT", EntityID: it.ID, AgreementID: agreementID})
	return it, nil
}

// RemoveChecklistItem deletes one item and closes the gap in order_index so
// the sequence stays dense.
func (e Engine) RemoveChecklistItem(ctx context.Context, actorID string, roles []string, itemID string) error {
	it, err := e.Repo.GetChecklistItem(ctx, itemID)
	if err != nil {
		return err
	}
	ag, err := e.loadAgreementFor(ctx, actorID, roles, it.AgreementID)
	if err != nil {
		return err
	}
	if ag.CreatorID != actorID && !hasRole(roles, domain.RoleAdmin) {
		return AuthorizationError{Reason: "only the creator can change the checklist"}
	}

	now := e.nowRFC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteChecklistItem(ctx, tx, itemID); err != nil {
		return err
	}
	if err := e.Repo.ReindexChecklist(ctx, tx, it.AgreementID, now); err != nil {
		return err
	}
	if err := e.rederiveTx(ctx, tx, ag, actorID, now); err != nil {
		return err
	}
	if err := e.audit(ctx, tx, it.AgreementID, actorID, "checklist_item.removed", "checklist_item", &it.ID, &it.Description, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(feed.Event{Table: "checklist_items", Action: "DELETE", EntityID: itemID, AgreementID: it.AgreementID})
	return nil
}
