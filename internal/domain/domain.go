package domain

// Enum value spellings match the existing database and must not change.
const (
	PriorityLow    = "LOW"
	PriorityMedium = "MEDIUM"
	PriorityHigh   = "HIGH"
	PriorityUrgent = "URGENT"
)

const (
	StatusDraft      = "DRAFT"
	StatusPending    = "PENDING"
	StatusAccepted   = "ACCEPTED"
	StatusRejected   = "REJECTED"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusOverdue    = "OVERDUE"
	StatusCancelled  = "CANCELLED"
)

const (
	ParticipantPending  = "PENDING"
	ParticipantAccepted = "ACCEPTED"
	ParticipantRejected = "REJECTED"
)

const (
	RoleColaborador = "COLABORADOR"
	RoleGestor      = "GESTOR"
	RoleAdmin       = "ADMIN"
)

const (
	NotifyAgreementCreated     = "AGREEMENT_CREATED"
	NotifyAgreementSent        = "AGREEMENT_SENT"
	NotifyAgreementAccepted    = "AGREEMENT_ACCEPTED"
	NotifyAgreementRejected    = "AGREEMENT_REJECTED"
	NotifyAgreementUpdated     = "AGREEMENT_UPDATED"
	NotifyAgreementCompleted   = "AGREEMENT_COMPLETED"
	NotifyChecklistItemChecked = "CHECKLIST_ITEM_CHECKED"
	NotifyCommentAdded         = "COMMENT_ADDED"
	NotifyDeadlineApproaching  = "DEADLINE_APPROACHING"
	NotifyDeadlineOverdue      = "DEADLINE_OVERDUE"
)

type Agreement struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    *string  `json:"category,omitempty"`
	MeetingDate string   `json:"meeting_date" format:"date-time"`
	DueDate     string   `json:"due_date" format:"date-time"`
	Priority    string   `json:"priority" enum:"LOW,MEDIUM,HIGH,URGENT"`
	Status      string   `json:"status" enum:"DRAFT,PENDING,ACCEPTED,REJECTED,IN_PROGRESS,COMPLETED,OVERDUE,CANCELLED"`
	Tags        []string `json:"tags"`
	CreatorID   string   `json:"creator_id"`
	Version     int      `json:"version"`
	CompletedAt *string  `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type Participant struct {
	ID              string  `json:"id"`
	AgreementID     string  `json:"agreement_id"`
	UserID          string  `json:"user_id"`
	Status          string  `json:"status" enum:"PENDING,ACCEPTED,REJECTED"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	ResponseDate    *string `json:"response_date,omitempty" format:"date-time"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
	UpdatedAt       string  `json:"updated_at" format:"date-time"`
}

type ChecklistItem struct {
	ID            string  `json:"id"`
	AgreementID   string  `json:"agreement_id"`
	Description   string  `json:"description"`
	OrderIndex    int     `json:"order_index"`
	AssignedToID  *string `json:"assigned_to_id,omitempty"`
	DueDate       *string `json:"due_date,omitempty" format:"date-time"`
	IsCompleted   bool    `json:"is_completed"`
	CompletedAt   *string `json:"completed_at,omitempty" format:"date-time"`
	CompletedByID *string `json:"completed_by_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

type Attachment struct {
	ID           string `json:"id"`
	AgreementID  string `json:"agreement_id"`
	FileName     string `json:"file_name"`
	FileSize     int64  `json:"file_size"`
	MimeType     string `json:"mime_type"`
	StoragePath  string `json:"storage_path"`
	UploadedByID string `json:"uploaded_by_id"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Comment struct {
	ID          string  `json:"id"`
	AgreementID string  `json:"agreement_id"`
	AuthorID    string  `json:"author_id"`
	Content     string  `json:"content"`
	IsEdited    bool    `json:"is_edited"`
	EditedAt    *string `json:"edited_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Notification struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Message     string  `json:"message"`
	RelatedID   *string `json:"related_id,omitempty"`
	RelatedType *string `json:"related_type,omitempty"`
	IsRead      bool    `json:"is_read"`
	ReadAt      *string `json:"read_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type Profile struct {
	ID          string   `json:"id"`
	FullName    string   `json:"full_name"`
	Position    string   `json:"position"`
	Department  *string  `json:"department,omitempty"`
	AvatarURL   *string  `json:"avatar_url,omitempty"`
	IsActive    bool     `json:"is_active"`
	LastLoginAt *string  `json:"last_login_at,omitempty" format:"date-time"`
	Roles       []string `json:"roles,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

type AuditLog struct {
	ID          string  `json:"id"`
	AgreementID string  `json:"agreement_id"`
	UserID      string  `json:"user_id"`
	Action      string  `json:"action"`
	EntityType  string  `json:"entity_type"`
	EntityID    *string `json:"entity_id,omitempty"`
	OldValue    *string `json:"old_value,omitempty"`
	NewValue    *string `json:"new_value,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ValidPriority reports whether p is a known agreement priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidRole reports whether r is a known app role.
func ValidRole(r string) bool {
	switch r {
	case RoleColaborador, RoleGestor, RoleAdmin:
		return true
	}
	return false
}
