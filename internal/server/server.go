package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"combinados/internal/app"
	"combinados/internal/domain"
	"combinados/internal/engine"
	"combinados/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"only the creator can edit an agreement"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// Server is the API handler plus its background webhook delivery.
type Server struct {
	http.Handler
	stopWebhooks func()
}

// Close stops webhook delivery. Safe to call more than once.
func (s *Server) Close() {
	if s.stopWebhooks != nil {
		s.stopWebhooks()
	}
}

// New builds the Combinados API server. Close it on shutdown so webhook
// delivery stops with the listener.
func New(cfg Config) (*Server, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Combinados API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAgreements(group, cfg.Engine)
	registerResponses(group, cfg.Engine)
	registerChecklist(group, cfg.Engine)
	registerComments(group, cfg.Engine)
	registerAttachments(group, cfg.Engine)
	registerNotifications(group, cfg.Engine)
	registerTeam(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDeadlines(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth, cfg.Engine)
	registerFeed(router, basePath, cfg.Engine)
	registerDownload(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return &Server{
		Handler:      router,
		stopWebhooks: startWebhookDispatcher(cfg.Engine),
	}, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		details := map[string]any{}
		if ve.Field != "" {
			details["field"] = ve.Field
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var ae engine.AuthorizationError
	if errors.As(err, &ae) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// sessionFromRequest resolves the authenticated principal into a session with
// the roles stored in user_roles, the authorization source of truth.
func sessionFromRequest(ctx context.Context, e engine.Engine) (app.Session, huma.StatusError) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return app.Session{}, authErr
	}
	sess, err := app.ResolveSession(ctx, e.Repo, principal.UserID, principal.FullName)
	if err != nil {
		return app.Session{}, handleError(err)
	}
	return sess, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Combinados API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerAgreements(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agreement",
		Method:        http.MethodPost,
		Path:          "/agreements",
		Summary:       "Create agreement",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAgreementRequest `json:"body"`
	}) (*struct {
		Body CreateAgreementResponse `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateAgreementOptions{
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			Category:       stringOrEmpty(input.Body.Category),
			MeetingDate:    input.Body.MeetingDate,
			DueDate:        input.Body.DueDate,
			Priority:       stringOrEmpty(input.Body.Priority),
			Tags:           input.Body.Tags,
			ParticipantIDs: input.Body.ParticipantIDs,
			Draft:          input.Body.Draft,
			ActorID:        sess.UserID,
			ActorRoles:     sess.Roles,
		}
		for _, item := range input.Body.Checklist {
			opts.Checklist = append(opts.Checklist, engine.ChecklistItemInput{
				Description:  item.Description,
				AssignedToID: stringOrEmpty(item.AssignedToID),
				DueDate:      stringOrEmpty(item.DueDate),
			})
		}
		res, err := e.CreateAgreement(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAgreementResponse `json:"body"`
		}{Body: CreateAgreementResponse{Agreement: res.Agreement, Degraded: res.Degraded}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agreements",
		Method:      http.MethodGet,
		Path:        "/agreements",
		Summary:     "List agreements visible to the caller",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status" enum:"DRAFT,PENDING,ACCEPTED,REJECTED,IN_PROGRESS,COMPLETED,OVERDUE,CANCELLED"`
		Priority string `query:"priority" enum:"LOW,MEDIUM,HIGH,URGENT"`
		Limit    int    `query:"limit" default:"50"`
		Cursor   string `query:"cursor"`
	}) (*struct {
		Body paginatedAgreements `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreatedAt, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListAgreements(ctx, sess.UserID, sess.Roles, repo.AgreementFilters{
			Status:          input.Status,
			Priority:        input.Priority,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreatedAt,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAgreements{Items: []domain.Agreement{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit-1].CreatedAt, items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedAgreements `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-agreement",
		Method:      http.MethodGet,
		Path:        "/agreements/{agreement_id}",
		Summary:     "Agreement detail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string `path:"agreement_id"`
	}) (*struct {
		Body engine.AgreementView `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		view, err := e.GetAgreementView(ctx, sess.UserID, sess.Roles, input.AgreementID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AgreementView `json:"body"`
		}{Body: mapView(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-agreement",
		Method:      http.MethodPatch,
		Path:        "/agreements/{agreement_id}",
		Summary:     "Edit agreement terms",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string                 `path:"agreement_id"`
		Body        UpdateAgreementRequest `json:"body"`
	}) (*struct {
		Body domain.Agreement `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		ag, err := e.UpdateAgreement(ctx, input.AgreementID, engine.UpdateAgreementOptions{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Category:    input.Body.Category,
			MeetingDate: input.Body.MeetingDate,
			DueDate:     input.Body.DueDate,
			Priority:    input.Body.Priority,
			Tags:        input.Body.Tags,
			ActorID:     sess.UserID,
			ActorRoles:  sess.Roles,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agreement `json:"body"`
		}{Body: ag}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-agreement",
		Method:        http.MethodDelete,
		Path:          "/agreements/{agreement_id}",
		Summary:       "Delete agreement",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string `path:"agreement_id"`
	}) (*struct{}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAgreement(ctx, sess.UserID, sess.Roles, input.AgreementID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-agreement-status",
		Method:      http.MethodPut,
		Path:        "/agreements/{agreement_id}/status",
		Summary:     "Force an administrative status",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string           `path:"agreement_id"`
		Body        SetStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Agreement `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		ag, err := e.SetAdministrativeStatus(ctx, sess.UserID, sess.Roles, input.AgreementID, input.Body.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agreement `json:"body"`
		}{Body: ag}, nil
	})
}

func registerResponses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "respond-agreement",
		Method:      http.MethodPost,
		Path:        "/agreements/{agreement_id}/respond",
		Summary:     "Accept or reject an agreement",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AgreementID string         `path:"agreement_id"`
		Body        RespondRequest `json:"body"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.Respond(ctx, sess.UserID, input.AgreementID, input.Body.Status, stringOrEmpty(input.Body.Reason))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})
}

func registerChecklist(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-checklist-item",
		Method:        http.MethodPost,
		Path:          "/agreements/{agreement_id}/checklist",
		Summary:       "Append a checklist item",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string               `path:"agreement_id"`
		Body        ChecklistItemRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AddChecklistItem(ctx, sess.UserID, sess.Roles, input.AgreementID, engine.ChecklistItemInput{
			Description:  input.Body.Description,
			AssignedToID: stringOrEmpty(input.Body.AssignedToID),
			DueDate:      stringOrEmpty(input.Body.DueDate),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-my-checklist",
		Method:      http.MethodGet,
		Path:        "/agreements/{agreement_id}/checklist/mine",
		Summary:     "Checklist items assigned to the caller",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string `path:"agreement_id"`
	}) (*struct {
		Body []domain.ChecklistItem `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAssignedChecklistItems(ctx, sess.UserID, sess.Roles, input.AgreementID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ChecklistItem{}
		}
		return &struct {
			Body []domain.ChecklistItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-checklist-item",
		Method:      http.MethodPut,
		Path:        "/checklist/{item_id}",
		Summary:     "Check or uncheck a checklist item",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ItemID string                     `path:"item_id"`
		Body   ToggleChecklistItemRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.ToggleChecklistItem(ctx, sess.UserID, input.ItemID, input.Body.Completed)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-checklist-item",
		Method:        http.MethodDelete,
		Path:          "/checklist/{item_id}",
		Summary:       "Remove a checklist item",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ItemID string `path:"item_id"`
	}) (*struct{}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RemoveChecklistItem(ctx, sess.UserID, sess.Roles, input.ItemID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerComments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-comment",
		Method:        http.MethodPost,
		Path:          "/agreements/{agreement_id}/comments",
		Summary:       "Comment on an agreement",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string            `path:"agreement_id"`
		Body        AddCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.AddComment(ctx, sess.UserID, sess.Roles, input.AgreementID, input.Body.Content)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})
}

func registerAttachments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "upload-attachment",
		Method:        http.MethodPost,
		Path:          "/agreements/{agreement_id}/attachments",
		Summary:       "Upload an attachment",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string `path:"agreement_id"`
		FileName    string `query:"file_name"`
		ContentType string `header:"Content-Type"`
		RawBody     []byte
	}) (*struct {
		Body domain.Attachment `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		mimeType := input.ContentType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		a, err := e.AddAttachment(ctx, sess.UserID, sess.Roles, input.AgreementID, input.FileName, mimeType, bytes.NewReader(input.RawBody))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Attachment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sign-attachment-url",
		Method:      http.MethodGet,
		Path:        "/attachments/{attachment_id}/url",
		Summary:     "Mint a signed download URL",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AttachmentID string `path:"attachment_id"`
	}) (*struct {
		Body signedURLResponse `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		token, err := e.SignAttachmentURL(ctx, sess.UserID, sess.Roles, input.AttachmentID)
		if err != nil {
			return nil, handleError(err)
		}
		ttl := 3600
		if e.Config != nil {
			ttl = e.Config.SignedURLTTL()
		}
		return &struct {
			Body signedURLResponse `json:"body"`
		}{Body: signedURLResponse{
			URL:       "/attachments/download?token=" + token,
			ExpiresIn: ttl,
		}}, nil
	})
}

// registerDownload serves signed attachment downloads. The token is the only
// credential, so the route lives outside the authenticated base path.
func registerDownload(r chi.Router, basePath string, e engine.Engine) {
	r.Get("/attachments/download", func(w http.ResponseWriter, req *http.Request) {
		token := req.URL.Query().Get("token")
		key, err := e.Store.VerifyToken(token)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusForbidden, "forbidden", "invalid or expired download token", nil))
			return
		}
		f, err := e.Store.Open(key)
		if err != nil {
			respondStatusError(w, newAPIError(http.StatusNotFound, "not_found", "not found", nil))
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.Copy(w, f)
	})
}

func registerNotifications(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List the caller's notifications",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body notificationsResponse `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListNotifications(ctx, sess.UserID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		unread, err := e.Repo.CountUnreadNotifications(ctx, sess.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Notification{}
		}
		return &struct {
			Body notificationsResponse `json:"body"`
		}{Body: notificationsResponse{Items: items, Unread: unread}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-notifications-read",
		Method:      http.MethodPost,
		Path:        "/notifications/read",
		Summary:     "Mark all the caller's notifications read",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body markReadResponse `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkAllNotificationsRead(ctx, sess.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body markReadResponse `json:"body"`
		}{Body: markReadResponse{Updated: n}}, nil
	})
}

func registerTeam(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-team",
		Method:      http.MethodGet,
		Path:        "/team",
		Summary:     "List team profiles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Profile `json:"body"`
	}, error) {
		if _, authErr := sessionFromRequest(ctx, e); authErr != nil {
			return nil, authErr
		}
		profiles, err := e.Repo.ListProfiles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if profiles == nil {
			profiles = []domain.Profile{}
		}
		return &struct {
			Body []domain.Profile `json:"body"`
		}{Body: profiles}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-role",
		Method:        http.MethodPost,
		Path:          "/team/{user_id}/roles",
		Summary:       "Grant a role",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string           `path:"user_id"`
		Body   GrantRoleRequest `json:"body"`
	}) (*struct{}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.GrantRole(ctx, sess.UserID, sess.Roles, input.UserID, input.Body.Role); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-role",
		Method:        http.MethodDelete,
		Path:          "/team/{user_id}/roles/{role}",
		Summary:       "Revoke a role",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Role   string `path:"role" enum:"COLABORADOR,GESTOR,ADMIN"`
	}) (*struct{}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeRole(ctx, sess.UserID, sess.Roles, input.UserID, input.Role); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agreement-audit",
		Method:      http.MethodGet,
		Path:        "/agreements/{agreement_id}/audit",
		Summary:     "Agreement audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgreementID string `path:"agreement_id"`
		Limit       int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.AuditLog `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetAgreementView(ctx, sess.UserID, sess.Roles, input.AgreementID); err != nil {
			return nil, handleError(err)
		}
		logs, err := e.Repo.ListAuditLogs(ctx, input.AgreementID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if logs == nil {
			logs = []domain.AuditLog{}
		}
		return &struct {
			Body []domain.AuditLog `json:"body"`
		}{Body: logs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "audit-feed",
		Method:      http.MethodGet,
		Path:        "/audit/feed",
		Summary:     "Workspace-wide audit feed",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if !hasRoleIn(sess.Roles, domain.RoleAdmin) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "role ADMIN required", nil)
		}
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursor = parsed
		}
		limit := normalizeLimit(input.Limit)
		entries, err := e.Repo.AuditAfter(ctx, cursor, limit+1)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []repo.AuditEntry{}}
		if len(entries) > limit {
			entries = entries[:limit]
			resp.NextCursor = fmt.Sprintf("%d", entries[limit-1].Seq)
		}
		resp.Items = append(resp.Items, entries...)
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: resp}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status-report",
		Method:      http.MethodGet,
		Path:        "/reports/status",
		Summary:     "Agreement counts by status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body statusReportResponse `json:"body"`
	}, error) {
		if _, authErr := sessionFromRequest(ctx, e); authErr != nil {
			return nil, authErr
		}
		counts, err := e.Repo.CountAgreementsByStatus(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body statusReportResponse `json:"body"`
		}{Body: statusReportResponse{Counts: counts}}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Mint an API key for the caller",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body struct {
			Name string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body struct {
			ID  string `json:"id"`
			Key string `json:"key"`
		} `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		id, key, err := e.MintAPIKey(ctx, sess.UserID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				ID  string `json:"id"`
				Key string `json:"key"`
			} `json:"body"`
		}{}
		out.Body.ID = id
		out.Body.Key = key
		return out, nil
	})
}

func registerDeadlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep-deadlines",
		Method:      http.MethodPost,
		Path:        "/deadlines/sweep",
		Summary:     "Run the deadline sweep now",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.SweepResult `json:"body"`
	}, error) {
		sess, authErr := sessionFromRequest(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if !hasRoleIn(sess.Roles, domain.RoleAdmin) {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "role ADMIN required", nil)
		}
		res, err := e.SweepDeadlines(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SweepResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sess, authErr2 := sessionFromRequest(ctx, e)
		if authErr2 != nil {
			return nil, authErr2
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			UserID: sess.UserID,
			Roles:  nonNilSlice(sess.Roles),
			Source: principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, userID, strings.TrimSpace(input.Body.FullName), 24*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		// A dev login is still a login: materialize the profile and stamp
		// last_login_at.
		if _, err := app.ResolveSession(ctx, e.Repo, userID, strings.TrimSpace(input.Body.FullName)); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.TouchLastLogin(ctx, userID, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func hasRoleIn(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
