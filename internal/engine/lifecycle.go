package engine

import (
	"context"
	"database/sql"

	"combinados/internal/domain"
)

// administered reports whether status is set by admins rather than derived
// from responses and checklist progress.
func administered(status string) bool {
	switch status {
	case domain.StatusDraft, domain.StatusCancelled, domain.StatusOverdue:
		return true
	}
	return false
}

// deriveStatus computes the lifecycle status an agreement should hold given
// its participants and checklist. The function is pure and idempotent:
//
//   - a fully completed checklist makes the agreement COMPLETED, whether or
//     not every participant has responded (an empty checklist never completes
//     anything);
//   - unchecking an item while COMPLETED reverts to IN_PROGRESS;
//   - every participant ACCEPTED moves PENDING to IN_PROGRESS;
//   - a rejection leaves the current status untouched, so the creator can see
//     the justification and renegotiate;
//   - administered statuses (DRAFT, CANCELLED, OVERDUE) are never derived over.
func deriveStatus(current string, participants []domain.Participant, items []domain.ChecklistItem) string {
	if administered(current) {
		return current
	}
	allCompleted := len(items) > 0
	for _, it := range items {
		if !it.IsCompleted {
			allCompleted = false
			break
		}
	}
	if allCompleted {
		return domain.StatusCompleted
	}
	if current == domain.StatusCompleted {
		return domain.StatusInProgress
	}
	allAccepted := len(participants) > 0
	for _, p := range participants {
		if p.Status != domain.ParticipantAccepted {
			allAccepted = false
			break
		}
	}
	if allAccepted {
		return domain.StatusInProgress
	}
	return current
}

// rederiveTx re-reads participants and checklist inside the transaction,
// derives the status and persists it when it moved, with an audit row.
func (e Engine) rederiveTx(ctx context.Context, tx *sql.Tx, ag domain.Agreement, actorID, now string) error {
	participants, err := e.Repo.ListParticipantsTx(ctx, tx, ag.ID)
	if err != nil {
		return err
	}
	items, err := e.Repo.ListChecklistItemsTx(ctx, tx, ag.ID)
	if err != nil {
		return err
	}
	derived := deriveStatus(ag.Status, participants, items)
	if derived == ag.Status {
		return nil
	}
	completedAt := ""
	if derived == domain.StatusCompleted {
		completedAt = now
	}
	if err := e.Repo.UpdateAgreementStatus(ctx, tx, ag.ID, derived, completedAt, now); err != nil {
		return err
	}
	return e.audit(ctx, tx, ag.ID, actorID, "agreement.status_changed", "agreement", &ag.ID, &ag.Status, &derived)
}
