package engine

import (
	"context"
	"time"

	"combinados/internal/domain"
	"combinados/internal/feed"
)

// SweepResult summarizes one deadline sweep.
type SweepResult struct {
	Overdue     int `json:"overdue"`
	Approaching int `json:"approaching"`
}

// SweepDeadlines marks past-due agreements OVERDUE and warns about due dates
// inside the configured window. Meant to run periodically; both halves are
// idempotent, so overlapping runs are harmless.
func (e Engine) SweepDeadlines(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	hours := 24
	if e.Config != nil {
		hours = e.Config.ApproachingHours()
	}
	horizon := now.Add(time.Duration(hours) * time.Hour).Format(time.RFC3339)

	due, err := e.Repo.ListDueAgreements(ctx, horizon)
	if err != nil {
		return res, err
	}
	for _, ag := range due {
		if ag.DueDate < nowStr {
			if err := e.markOverdue(ctx, ag, nowStr); err != nil {
				return res, err
			}
			res.Overdue++
			continue
		}
		warned, err := e.warnApproaching(ctx, ag)
		if err != nil {
			return res, err
		}
		if warned {
			res.Approaching++
		}
	}
	return res, nil
}

func (e Engine) markOverdue(ctx context.Context, ag domain.Agreement, now string) error {
	participants, err := e.Repo.ListParticipants(ctx, ag.ID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	status := domain.StatusOverdue
	if err := e.Repo.UpdateAgreementStatus(ctx, tx, ag.ID, status, "", now); err != nil {
		return err
	}
	if err := e.audit(ctx, tx, ag.ID, ag.CreatorID, "agreement.status_changed", "agreement", &ag.ID, &ag.Status, &status); err != nil {
		return err
	}
	if err := e.Notify.DeadlineOverdue(ctx, tx, ag, recipients(ag, participants)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(feed.Event{Table: "agreements", Action: "UPDATE", EntityID: ag.ID, AgreementID: ag.ID})
	return nil
}

func (e Engine) warnApproaching(ctx context.Context, ag domain.Agreement) (bool, error) {
	already, err := e.Repo.HasNotification(ctx, ag.CreatorID, domain.NotifyDeadlineApproaching, ag.ID)
	if err != nil || already {
		return false, err
	}
	participants, err := e.Repo.ListParticipants(ctx, ag.ID)
	if err != nil {
		return false, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if err := e.Notify.DeadlineApproaching(ctx, tx, ag, recipients(ag, participants)); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	for _, userID := range recipients(ag, participants) {
		e.publish(feed.Event{Table: "notifications", Action: "INSERT", AgreementID: ag.ID, RecipientID: userID})
	}
	return true, nil
}
