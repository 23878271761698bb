package server

import (
	"combinados/internal/domain"
	"combinados/internal/engine"
	"combinados/internal/repo"
)

// Request payloads

type ChecklistItemRequest struct {
	Description  string  `json:"description"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	DueDate      *string `json:"due_date,omitempty" format:"date-time"`
}

type CreateAgreementRequest struct {
	Title          string                 `json:"title"`
	Description    *string                `json:"description,omitempty"`
	Category       *string                `json:"category,omitempty"`
	MeetingDate    string                 `json:"meeting_date" format:"date-time"`
	DueDate        string                 `json:"due_date" format:"date-time"`
	Priority       *string                `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT"`
	Tags           []string               `json:"tags,omitempty"`
	ParticipantIDs []string               `json:"participant_ids,omitempty"`
	Checklist      []ChecklistItemRequest `json:"checklist,omitempty"`
	Draft          bool                   `json:"draft,omitempty"`
}

type UpdateAgreementRequest struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Category    *string  `json:"category,omitempty"`
	MeetingDate *string  `json:"meeting_date,omitempty" format:"date-time"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	Priority    *string  `json:"priority,omitempty" enum:"LOW,MEDIUM,HIGH,URGENT"`
	Tags        []string `json:"tags,omitempty"`
}

type RespondRequest struct {
	Status string  `json:"status" enum:"ACCEPTED,REJECTED"`
	Reason *string `json:"reason,omitempty"`
}

type ToggleChecklistItemRequest struct {
	Completed bool `json:"completed"`
}

type AddCommentRequest struct {
	Content string `json:"content"`
}

type SetStatusRequest struct {
	Status string `json:"status" enum:"DRAFT,PENDING,CANCELLED,OVERDUE"`
}

type GrantRoleRequest struct {
	Role string `json:"role" enum:"COLABORADOR,GESTOR,ADMIN"`
}

type DevLoginRequest struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type CreateAgreementResponse struct {
	Agreement domain.Agreement `json:"agreement"`
	Degraded  []string         `json:"degraded,omitempty"`
}

type paginatedAgreements struct {
	Items      []domain.Agreement `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type notificationsResponse struct {
	Items  []domain.Notification `json:"items"`
	Unread int                   `json:"unread"`
}

type markReadResponse struct {
	Updated int64 `json:"updated"`
}

type signedURLResponse struct {
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

type paginatedAudit struct {
	Items      []repo.AuditEntry `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
	Source string   `json:"source"`
}

type statusReportResponse struct {
	Counts map[string]int `json:"counts"`
}

func mapView(v engine.AgreementView) engine.AgreementView {
	if v.Participants == nil {
		v.Participants = []domain.Participant{}
	}
	if v.Checklist == nil {
		v.Checklist = []domain.ChecklistItem{}
	}
	if v.Comments == nil {
		v.Comments = []domain.Comment{}
	}
	if v.Attachments == nil {
		v.Attachments = []domain.Attachment{}
	}
	return v
}

func nonNilSlice(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
