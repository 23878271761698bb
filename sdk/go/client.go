package combinadossdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Combinados HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Agreement represents the API agreement model (partial).
type Agreement struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	DueDate     string   `json:"due_date"`
	CreatorID   string   `json:"creator_id"`
	Tags        []string `json:"tags"`
	Version     int      `json:"version"`
	CompletedAt *string  `json:"completed_at,omitempty"`
}

// Participant represents one invitation and its response.
type Participant struct {
	ID              string  `json:"id"`
	AgreementID     string  `json:"agreement_id"`
	UserID          string  `json:"user_id"`
	Status          string  `json:"status"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
	ResponseDate    *string `json:"response_date,omitempty"`
}

// ChecklistItem represents one checklist entry.
type ChecklistItem struct {
	ID           string  `json:"id"`
	AgreementID  string  `json:"agreement_id"`
	Description  string  `json:"description"`
	OrderIndex   int     `json:"order_index"`
	AssignedToID *string `json:"assigned_to_id,omitempty"`
	IsCompleted  bool    `json:"is_completed"`
}

// Notification represents one inbox entry.
type Notification struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at"`
}

// CreateAgreementResult reports the stored agreement plus degraded steps.
type CreateAgreementResult struct {
	Agreement Agreement `json:"agreement"`
	Degraded  []string  `json:"degraded,omitempty"`
}

// Notifications wraps the inbox listing with its unread count.
type Notifications struct {
	Items  []Notification `json:"items"`
	Unread int            `json:"unread"`
}

// PaginatedAgreements wraps list responses with cursors.
type PaginatedAgreements struct {
	Items      []Agreement `json:"items"`
	NextCursor string      `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAgreement creates an agreement with participants and checklist.
func (c *Client) CreateAgreement(ctx context.Context, title, meetingDate, dueDate string, participantIDs []string, checklist []string) (CreateAgreementResult, error) {
	items := make([]map[string]any, 0, len(checklist))
	for _, desc := range checklist {
		items = append(items, map[string]any{"description": desc})
	}
	body := map[string]any{
		"title":           title,
		"meeting_date":    meetingDate,
		"due_date":        dueDate,
		"participant_ids": participantIDs,
		"checklist":       items,
	}
	var resp CreateAgreementResult
	err := c.do(ctx, http.MethodPost, "v0/agreements", body, &resp)
	return resp, err
}

// Agreements returns a paginated agreement listing.
func (c *Client) Agreements(ctx context.Context, status string, limit int, cursor string) (PaginatedAgreements, error) {
	endpoint := "v0/agreements"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedAgreements
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Respond accepts or rejects an agreement on behalf of the caller.
func (c *Client) Respond(ctx context.Context, agreementID, status, reason string) (Participant, error) {
	body := map[string]any{"status": status}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Participant
	endpoint := fmt.Sprintf("v0/agreements/%s/respond", url.PathEscape(agreementID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ToggleChecklistItem checks or unchecks an item.
func (c *Client) ToggleChecklistItem(ctx context.Context, itemID string, completed bool) (ChecklistItem, error) {
	var resp ChecklistItem
	endpoint := fmt.Sprintf("v0/checklist/%s", url.PathEscape(itemID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"completed": completed}, &resp)
	return resp, err
}

// Notifications returns the caller's inbox.
func (c *Client) Notifications(ctx context.Context, limit int) (Notifications, error) {
	endpoint := "v0/notifications"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp Notifications
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MarkAllRead flips every unread notification and reports how many changed.
func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	err := c.do(ctx, http.MethodPost, "v0/notifications/read", nil, &resp)
	return resp.Updated, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
