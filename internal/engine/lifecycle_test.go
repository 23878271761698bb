package engine

import (
	"testing"

	"combinados/internal/domain"
)

func participantsWith(statuses ...string) []domain.Participant {
	out := make([]domain.Participant, len(statuses))
	for i, s := range statuses {
		out[i] = domain.Participant{Status: s}
	}
	return out
}

func checklistWith(completed ...bool) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, len(completed))
	for i, c := range completed {
		out[i] = domain.ChecklistItem{IsCompleted: c}
	}
	return out
}

func TestDeriveStatus(t *testing.T) {
	acc := domain.ParticipantAccepted
	pend := domain.ParticipantPending
	rej := domain.ParticipantRejected

	cases := []struct {
		name         string
		current      string
		participants []domain.Participant
		checklist    []domain.ChecklistItem
		want         string
	}{
		{
			name:         "pending stays while responses are open",
			current:      domain.StatusPending,
			participants: participantsWith(acc, pend),
			checklist:    checklistWith(false),
			want:         domain.StatusPending,
		},
		{
			name:         "all accepted starts progress",
			current:      domain.StatusPending,
			participants: participantsWith(acc, acc),
			checklist:    checklistWith(false),
			want:         domain.StatusInProgress,
		},
		{
			name:         "full checklist completes without waiting for every response",
			current:      domain.StatusPending,
			participants: participantsWith(acc, pend),
			checklist:    checklistWith(true),
			want:         domain.StatusCompleted,
		},
		{
			name:         "full checklist completes from in progress",
			current:      domain.StatusInProgress,
			participants: participantsWith(acc, acc),
			checklist:    checklistWith(true, true),
			want:         domain.StatusCompleted,
		},
		{
			name:         "empty checklist never completes",
			current:      domain.StatusPending,
			participants: participantsWith(acc, acc),
			checklist:    nil,
			want:         domain.StatusInProgress,
		},
		{
			name:         "unchecking reopens a completed agreement",
			current:      domain.StatusCompleted,
			participants: participantsWith(acc, pend),
			checklist:    checklistWith(true, false),
			want:         domain.StatusInProgress,
		},
		{
			name:         "rejection leaves the status put",
			current:      domain.StatusPending,
			participants: participantsWith(rej, pend),
			checklist:    checklistWith(false),
			want:         domain.StatusPending,
		},
		{
			name:         "cancelled is never derived over",
			current:      domain.StatusCancelled,
			participants: participantsWith(acc, acc),
			checklist:    checklistWith(true),
			want:         domain.StatusCancelled,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveStatus(tc.current, tc.participants, tc.checklist)
			if got != tc.want {
				t.Fatalf("deriveStatus(%s) = %s, want %s", tc.current, got, tc.want)
			}
			// re-deriving with no intervening writes must not move the status
			if again := deriveStatus(got, tc.participants, tc.checklist); again != got {
				t.Fatalf("re-derivation moved %s to %s", got, again)
			}
		})
	}
}
