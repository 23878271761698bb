package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"combinados/internal/config"
	"combinados/internal/db"
	"combinados/internal/domain"
	"combinados/internal/engine"
	"combinados/internal/migrate"
	"combinados/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("default")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// newAgreement seeds one agreement created by "carla" with participants "ana"
// and "bruno" and a three item checklist assigned to ana, ana, bruno.
func newAgreement(t *testing.T, env testEnv) domain.Agreement {
	t.Helper()
	res, err := env.Engine.CreateAgreement(env.Ctx, engine.CreateAgreementOptions{
		Title:          "Entrega do relatório",
		MeetingDate:    "2026-02-01T10:00:00Z",
		DueDate:        "2026-02-20T18:00:00Z",
		ParticipantIDs: []string{"ana", "bruno"},
		Checklist: []engine.ChecklistItemInput{
			{Description: "Levantar dados", AssignedToID: "ana"},
			{Description: "Escrever rascunho", AssignedToID: "ana"},
			{Description: "Revisar texto", AssignedToID: "bruno"},
		},
		ActorID: "carla",
	})
	if err != nil {
		t.Fatalf("create agreement: %v", err)
	}
	if len(res.Degraded) != 0 {
		t.Fatalf("unexpected degraded steps: %v", res.Degraded)
	}
	if res.Agreement.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", res.Agreement.Status)
	}
	return res.Agreement
}

func getAgreement(t *testing.T, env testEnv, id string) domain.Agreement {
	t.Helper()
	ag, err := env.Engine.Repo.GetAgreement(env.Ctx, id)
	if err != nil {
		t.Fatalf("get agreement: %v", err)
	}
	return ag
}

func listItems(t *testing.T, env testEnv, agreementID string) []domain.ChecklistItem {
	t.Helper()
	items, err := env.Engine.Repo.ListChecklistItems(env.Ctx, agreementID)
	if err != nil {
		t.Fatalf("list checklist: %v", err)
	}
	return items
}

func TestLifecycleAcceptCompleteReopen(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)

	// first acceptance alone keeps the agreement PENDING
	if _, err := env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantAccepted, ""); err != nil {
		t.Fatalf("ana accept: %v", err)
	}
	if got := getAgreement(t, env, ag.ID); got.Status != domain.StatusPending {
		t.Fatalf("after first accept expected PENDING, got %s", got.Status)
	}

	// the last acceptance moves it to IN_PROGRESS
	if _, err := env.Engine.Respond(env.Ctx, "bruno", ag.ID, domain.ParticipantAccepted, ""); err != nil {
		t.Fatalf("bruno accept: %v", err)
	}
	if got := getAgreement(t, env, ag.ID); got.Status != domain.StatusInProgress {
		t.Fatalf("after all accepts expected IN_PROGRESS, got %s", got.Status)
	}

	items := listItems(t, env, ag.ID)
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	assignees := []string{"ana", "ana", "bruno"}
	for i, it := range items[:2] {
		if _, err := env.Engine.ToggleChecklistItem(env.Ctx, assignees[i], it.ID, true); err != nil {
			t.Fatalf("check item %d: %v", i, err)
		}
		if got := getAgreement(t, env, ag.ID); got.Status != domain.StatusInProgress {
			t.Fatalf("partial checklist expected IN_PROGRESS, got %s", got.Status)
		}
	}

	// checking the last item completes the agreement
	if _, err := env.Engine.ToggleChecklistItem(env.Ctx, "bruno", items[2].ID, true); err != nil {
		t.Fatalf("check last item: %v", err)
	}
	done := getAgreement(t, env, ag.ID)
	if done.Status != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	// unchecking one reopens it
	if _, err := env.Engine.ToggleChecklistItem(env.Ctx, "ana", items[0].ID, false); err != nil {
		t.Fatalf("uncheck item: %v", err)
	}
	reopened := getAgreement(t, env, ag.ID)
	if reopened.Status != domain.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS after uncheck, got %s", reopened.Status)
	}
	if reopened.CompletedAt != nil {
		t.Fatalf("expected completed_at cleared after uncheck")
	}
}

func TestCompletionDoesNotWaitForEveryResponse(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CreateAgreement(env.Ctx, engine.CreateAgreementOptions{
		Title:          "Ata da diretoria",
		MeetingDate:    "2026-02-01T10:00:00Z",
		DueDate:        "2026-02-20T18:00:00Z",
		ParticipantIDs: []string{"ana", "bruno"},
		Checklist: []engine.ChecklistItemInput{
			{Description: "Registrar decisões", AssignedToID: "ana"},
		},
		ActorID: "carla",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// ana accepts and finishes the whole checklist while bruno never responds
	if _, err := env.Engine.Respond(env.Ctx, "ana", res.Agreement.ID, domain.ParticipantAccepted, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	items := listItems(t, env, res.Agreement.ID)
	if _, err := env.Engine.ToggleChecklistItem(env.Ctx, "ana", items[0].ID, true); err != nil {
		t.Fatalf("toggle: %v", err)
	}

	done := getAgreement(t, env, res.Agreement.ID)
	if done.Status != domain.StatusCompleted {
		t.Fatalf("all checklist items complete, expected COMPLETED, got %s", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}
}

func TestAssignedChecklistScopedToUser(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)

	mine, err := env.Engine.ListAssignedChecklistItems(env.Ctx, "ana", nil, ag.ID)
	if err != nil {
		t.Fatalf("ana list: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected ana's 2 items, got %d", len(mine))
	}
	for _, it := range mine {
		if it.AssignedToID == nil || *it.AssignedToID != "ana" {
			t.Fatalf("foreign item in ana's list: %+v", it)
		}
	}

	theirs, err := env.Engine.ListAssignedChecklistItems(env.Ctx, "bruno", nil, ag.ID)
	if err != nil || len(theirs) != 1 {
		t.Fatalf("bruno list: %v %d", err, len(theirs))
	}

	// outsiders do not even learn the agreement exists
	if _, err := env.Engine.ListAssignedChecklistItems(env.Ctx, "dora", nil, ag.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for outsider, got %v", err)
	}
}

func TestRejectionRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)

	_, err := env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantRejected, "  ")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// a rejection with a justification sticks, but the status stays put
	p, err := env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantRejected, "prazo inviável")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if p.RejectionReason == nil || *p.RejectionReason != "prazo inviável" {
		t.Fatalf("expected stored justification, got %v", p.RejectionReason)
	}
	if got := getAgreement(t, env, ag.ID); got.Status != domain.StatusPending {
		t.Fatalf("rejection must leave status PENDING, got %s", got.Status)
	}

	// accepting with a justification is rejected
	_, err = env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantAccepted, "ok")
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for accept with reason, got %v", err)
	}

	// re-responding overwrites the earlier answer and clears the reason
	p, err = env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantAccepted, "")
	if err != nil {
		t.Fatalf("re-accept: %v", err)
	}
	if p.Status != domain.ParticipantAccepted || p.RejectionReason != nil {
		t.Fatalf("expected ACCEPTED without reason, got %s %v", p.Status, p.RejectionReason)
	}
}

func TestRespondOnlyForParticipants(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)
	_, err := env.Engine.Respond(env.Ctx, "dora", ag.ID, domain.ParticipantAccepted, "")
	var aerr engine.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestToggleChecklistGuards(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)
	items := listItems(t, env, ag.ID)

	var aerr engine.AuthorizationError
	// bruno is a participant but not the assignee of item 0
	_, err := env.Engine.ToggleChecklistItem(env.Ctx, "bruno", items[0].ID, true)
	if !errors.As(err, &aerr) {
		t.Fatalf("expected assignee check, got %v", err)
	}
	// ana is the assignee but has not accepted yet
	_, err = env.Engine.ToggleChecklistItem(env.Ctx, "ana", items[0].ID, true)
	if !errors.As(err, &aerr) {
		t.Fatalf("expected acceptance check, got %v", err)
	}

	if _, err := env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantAccepted, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	it, err := env.Engine.ToggleChecklistItem(env.Ctx, "ana", items[0].ID, true)
	if err != nil {
		t.Fatalf("toggle after accept: %v", err)
	}
	if !it.IsCompleted || it.CompletedByID == nil || *it.CompletedByID != "ana" {
		t.Fatalf("expected completion by ana, got %+v", it)
	}

	// repeating the same state is a no-op
	again, err := env.Engine.ToggleChecklistItem(env.Ctx, "ana", items[0].ID, true)
	if err != nil {
		t.Fatalf("idempotent toggle: %v", err)
	}
	if again.CompletedAt == nil || *again.CompletedAt != *it.CompletedAt {
		t.Fatalf("idempotent toggle must not move completed_at")
	}
}

func TestChecklistReindexAfterRemove(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)
	items := listItems(t, env, ag.ID)

	if err := env.Engine.RemoveChecklistItem(env.Ctx, "carla", nil, items[1].ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	left := listItems(t, env, ag.ID)
	if len(left) != 2 {
		t.Fatalf("expected 2 items, got %d", len(left))
	}
	for i, it := range left {
		if it.OrderIndex != i {
			t.Fatalf("expected dense order_index, got %d at %d", it.OrderIndex, i)
		}
	}

	// only the creator or an admin may edit the checklist
	err := env.Engine.RemoveChecklistItem(env.Ctx, "ana", nil, left[0].ID)
	var aerr engine.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	added, err := env.Engine.AddChecklistItem(env.Ctx, "carla", nil, ag.ID, engine.ChecklistItemInput{Description: "Publicar"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if added.OrderIndex != 2 {
		t.Fatalf("expected appended index 2, got %d", added.OrderIndex)
	}
}

func TestEmptyChecklistNeverCompletes(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.Engine.CreateAgreement(env.Ctx, engine.CreateAgreementOptions{
		Title:          "Sem checklist",
		MeetingDate:    "2026-02-01T10:00:00Z",
		DueDate:        "2026-02-20T18:00:00Z",
		ParticipantIDs: []string{"ana"},
		ActorID:        "carla",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.Respond(env.Ctx, "ana", res.Agreement.ID, domain.ParticipantAccepted, ""); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := getAgreement(t, env, res.Agreement.ID); got.Status != domain.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, not COMPLETED, got %s", got.Status)
	}
}

func TestAdministrativeStatus(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)

	var aerr engine.AuthorizationError
	if _, err := env.Engine.SetAdministrativeStatus(env.Ctx, "carla", nil, ag.ID, domain.StatusCancelled); !errors.As(err, &aerr) {
		t.Fatalf("expected admin gate, got %v", err)
	}

	admin := []string{domain.RoleAdmin}
	var verr engine.ValidationError
	if _, err := env.Engine.SetAdministrativeStatus(env.Ctx, "root", admin, ag.ID, domain.StatusCompleted); !errors.As(err, &verr) {
		t.Fatalf("COMPLETED must not be forceable, got %v", err)
	}

	forced, err := env.Engine.SetAdministrativeStatus(env.Ctx, "root", admin, ag.ID, domain.StatusCancelled)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if forced.Status != domain.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", forced.Status)
	}

	// cancelled agreements accept no responses
	var cerr engine.ConflictError
	if _, err := env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantAccepted, ""); !errors.As(err, &cerr) {
		t.Fatalf("expected conflict on cancelled agreement, got %v", err)
	}

	// resuming goes back through PENDING
	resumed, err := env.Engine.SetAdministrativeStatus(env.Ctx, "root", admin, ag.ID, domain.StatusPending)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != domain.StatusPending {
		t.Fatalf("expected PENDING, got %s", resumed.Status)
	}
}

func TestCreationPolicyRoleGated(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Workspace.CreationPolicy = config.CreationRoleGated
	env.Engine.Config.Workspace.CreationRoles = []string{domain.RoleGestor}

	opts := engine.CreateAgreementOptions{
		Title:       "Restrito",
		MeetingDate: "2026-02-01T10:00:00Z",
		DueDate:     "2026-02-20T18:00:00Z",
		ActorID:     "ana",
		ActorRoles:  []string{domain.RoleColaborador},
	}
	_, err := env.Engine.CreateAgreement(env.Ctx, opts)
	var aerr engine.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected policy rejection, got %v", err)
	}

	opts.ActorRoles = []string{domain.RoleGestor}
	if _, err := env.Engine.CreateAgreement(env.Ctx, opts); err != nil {
		t.Fatalf("gestor create: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	var verr engine.ValidationError
	_, err := env.Engine.CreateAgreement(env.Ctx, engine.CreateAgreementOptions{
		MeetingDate: "2026-02-01T10:00:00Z",
		DueDate:     "2026-02-20T18:00:00Z",
		ActorID:     "carla",
	})
	if !errors.As(err, &verr) || verr.Field != "title" {
		t.Fatalf("expected title validation, got %v", err)
	}
	_, err = env.Engine.CreateAgreement(env.Ctx, engine.CreateAgreementOptions{
		Title:          "Duplicado",
		MeetingDate:    "2026-02-01T10:00:00Z",
		DueDate:        "2026-02-20T18:00:00Z",
		ParticipantIDs: []string{"ana", "ana"},
		ActorID:        "carla",
	})
	if !errors.As(err, &verr) || verr.Field != "participants" {
		t.Fatalf("expected duplicate participant validation, got %v", err)
	}
	_, err = env.Engine.CreateAgreement(env.Ctx, engine.CreateAgreementOptions{
		Title:       "Prioridade",
		MeetingDate: "2026-02-01T10:00:00Z",
		DueDate:     "2026-02-20T18:00:00Z",
		Priority:    "MAXIMUM",
		ActorID:     "carla",
	})
	if !errors.As(err, &verr) || verr.Field != "priority" {
		t.Fatalf("expected priority validation, got %v", err)
	}
}

func TestVisibilityAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)

	// an outsider sees nothing
	if _, err := env.Engine.GetAgreementView(env.Ctx, "dora", nil, ag.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for outsider, got %v", err)
	}
	// an admin sees everything
	if _, err := env.Engine.GetAgreementView(env.Ctx, "root", []string{domain.RoleAdmin}, ag.ID); err != nil {
		t.Fatalf("admin view: %v", err)
	}

	// participants may read but not edit
	_, err := env.Engine.UpdateAgreement(env.Ctx, ag.ID, engine.UpdateAgreementOptions{
		Title:   strPtr("Novo título"),
		ActorID: "ana",
	})
	var aerr engine.AuthorizationError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected edit gate for participant, got %v", err)
	}

	updated, err := env.Engine.UpdateAgreement(env.Ctx, ag.ID, engine.UpdateAgreementOptions{
		Title:   strPtr("Novo título"),
		ActorID: "carla",
	})
	if err != nil {
		t.Fatalf("creator update: %v", err)
	}
	if updated.Title != "Novo título" || updated.Version != 2 {
		t.Fatalf("expected version bump, got %+v", updated)
	}

	// non-admin listings are scoped to the actor
	mine, err := env.Engine.ListAgreements(env.Ctx, "ana", nil, repo.AgreementFilters{})
	if err != nil || len(mine) != 1 {
		t.Fatalf("ana listing: %v %d", err, len(mine))
	}
	none, err := env.Engine.ListAgreements(env.Ctx, "dora", nil, repo.AgreementFilters{})
	if err != nil || len(none) != 0 {
		t.Fatalf("dora listing: %v %d", err, len(none))
	}
}

func TestNotificationsOnRespond(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)

	// invitations land in both inboxes on create
	for _, userID := range []string{"ana", "bruno"} {
		ns, err := env.Engine.Repo.ListNotifications(env.Ctx, userID, 10)
		if err != nil || len(ns) != 1 {
			t.Fatalf("%s inbox: %v %d", userID, err, len(ns))
		}
		if ns[0].Type != domain.NotifyAgreementCreated {
			t.Fatalf("expected creation notice, got %s", ns[0].Type)
		}
	}

	if _, err := env.Engine.Respond(env.Ctx, "ana", ag.ID, domain.ParticipantRejected, "sem tempo"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	ns, err := env.Engine.Repo.ListNotifications(env.Ctx, "carla", 10)
	if err != nil || len(ns) == 0 {
		t.Fatalf("creator inbox: %v %d", err, len(ns))
	}
	if ns[0].Type != domain.NotifyAgreementRejected {
		t.Fatalf("expected rejection notice, got %s", ns[0].Type)
	}

	n, err := env.Engine.MarkAllNotificationsRead(env.Ctx, "carla")
	if err != nil || n == 0 {
		t.Fatalf("mark read: %v %d", err, n)
	}
	again, err := env.Engine.MarkAllNotificationsRead(env.Ctx, "carla")
	if err != nil || again != 0 {
		t.Fatalf("second mark read must be a no-op, got %v %d", err, again)
	}
	unread, err := env.Engine.Repo.CountUnreadNotifications(env.Ctx, "carla")
	if err != nil || unread != 0 {
		t.Fatalf("unread count: %v %d", err, unread)
	}
}

func TestSweepDeadlines(t *testing.T) {
	env := newTestEnv(t)

	mk := func(title, due string) domain.Agreement {
		t.Helper()
		res, err := env.Engine.CreateAgreement(env.Ctx, engine.CreateAgreementOptions{
			Title:          title,
			MeetingDate:    "2026-01-20T10:00:00Z",
			DueDate:        due,
			ParticipantIDs: []string{"ana"},
			ActorID:        "carla",
		})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		return res.Agreement
	}
	// fixed clock is 2026-02-01T12:00:00Z with a 24h warning window
	past := mk("Vencido", "2026-01-30T18:00:00Z")
	soon := mk("Quase", "2026-02-02T10:00:00Z")
	far := mk("Longe", "2026-03-01T10:00:00Z")

	res, err := env.Engine.SweepDeadlines(env.Ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Overdue != 1 || res.Approaching != 1 {
		t.Fatalf("expected 1 overdue and 1 approaching, got %+v", res)
	}
	if got := getAgreement(t, env, past.ID); got.Status != domain.StatusOverdue {
		t.Fatalf("expected OVERDUE, got %s", got.Status)
	}
	if got := getAgreement(t, env, soon.ID); got.Status != domain.StatusPending {
		t.Fatalf("approaching must not change status, got %s", got.Status)
	}
	if got := getAgreement(t, env, far.ID); got.Status != domain.StatusPending {
		t.Fatalf("far deadline untouched, got %s", got.Status)
	}

	// a second run warns nobody twice and skips already-overdue agreements
	res, err = env.Engine.SweepDeadlines(env.Ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if res.Overdue != 0 || res.Approaching != 0 {
		t.Fatalf("expected idempotent sweep, got %+v", res)
	}
}

func TestCommentsAndAudit(t *testing.T) {
	env := newTestEnv(t)
	ag := newAgreement(t, env)

	c, err := env.Engine.AddComment(env.Ctx, "ana", nil, ag.ID, "Podemos antecipar?")
	if err != nil {
		t.Fatalf("comment: %v", err)
	}
	if c.AuthorID != "ana" {
		t.Fatalf("unexpected author %s", c.AuthorID)
	}
	var verr engine.ValidationError
	if _, err := env.Engine.AddComment(env.Ctx, "ana", nil, ag.ID, "   "); !errors.As(err, &verr) {
		t.Fatalf("expected empty comment rejection, got %v", err)
	}

	logs, err := env.Engine.Repo.ListAuditLogs(env.Ctx, ag.ID, 50)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	actions := map[string]bool{}
	for _, l := range logs {
		actions[l.Action] = true
	}
	for _, want := range []string{"agreement.created", "comment.added"} {
		if !actions[want] {
			t.Fatalf("missing audit action %s in %v", want, actions)
		}
	}
}

func TestRoleAdministration(t *testing.T) {
	env := newTestEnv(t)
	admin := []string{domain.RoleAdmin}

	var aerr engine.AuthorizationError
	if err := env.Engine.GrantRole(env.Ctx, "ana", nil, "bruno", domain.RoleGestor); !errors.As(err, &aerr) {
		t.Fatalf("expected admin gate, got %v", err)
	}
	if err := env.Engine.GrantRole(env.Ctx, "root", admin, "bruno", domain.RoleGestor); err != nil {
		t.Fatalf("grant: %v", err)
	}
	// granting twice is harmless
	if err := env.Engine.GrantRole(env.Ctx, "root", admin, "bruno", domain.RoleGestor); err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	roles, err := env.Engine.Repo.GetUserRoles(env.Ctx, "bruno")
	if err != nil || len(roles) != 1 || roles[0] != domain.RoleGestor {
		t.Fatalf("roles: %v %v", err, roles)
	}

	var cerr engine.ConflictError
	if err := env.Engine.RevokeRole(env.Ctx, "root", admin, "root", domain.RoleAdmin); !errors.As(err, &cerr) {
		t.Fatalf("expected self-revocation block, got %v", err)
	}
	if err := env.Engine.RevokeRole(env.Ctx, "root", admin, "bruno", domain.RoleGestor); err != nil {
		t.Fatalf("revoke: %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	id, key, err := env.Engine.MintAPIKey(env.Ctx, "ana", "ci")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	got, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(key))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != id || got.UserID != "ana" {
		t.Fatalf("unexpected key row %+v", got)
	}
	if got.KeyHash == key {
		t.Fatalf("plaintext must not be stored")
	}
	if err := env.Engine.Repo.DeleteAPIKey(env.Ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(key)); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func strPtr(s string) *string { return &s }
