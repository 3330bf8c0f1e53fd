// Package server exposes the assignment and SLA engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldline/internal/app"
	"fieldline/internal/assign"
	"fieldline/internal/domain"
	"fieldline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_assigned"`
	Message string         `json:"message" example:"complaint already assigned"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fieldline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
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
	// chi requires middlewares before any route. The auth middleware only
	// enforces under basePath, so /metrics stays open.
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(cfg.App.Metrics.Registry, promhttp.HandlerOpts{}))

	hcfg := huma.DefaultConfig("Fieldline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerComplaints(group, cfg.App)
	registerAssignment(group, cfg.App)
	registerAreas(group, cfg.App)
	registerTechnicians(group, cfg.App)
	registerStats(group, cfg.App)
	registerPenalties(group, cfg.App)

	return router, nil
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
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, assign.ErrAlreadyAssigned):
		return newAPIError(http.StatusConflict, "already_assigned", err.Error(), nil)
	case errors.Is(err, repo.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, assign.ErrUnauthorized):
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
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

type complaintBody struct {
	Body domain.Complaint `json:"body"`
}

func registerComplaints(api huma.API, a *app.App) {
	type createComplaintInput struct {
		Body struct {
			CustomerID  string  `json:"customer_id"`
			Title       string  `json:"title" minLength:"1"`
			Description string  `json:"description,omitempty"`
			Address     string  `json:"address,omitempty"`
			District    string  `json:"district,omitempty"`
			AreaID      *string `json:"area_id,omitempty"`
			Priority    string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "create-complaint",
		Method:        http.MethodPost,
		Path:          "/complaints",
		Summary:       "Create complaint",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *createComplaintInput) (*complaintBody, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		now := time.Now().UTC().Format(time.RFC3339)
		priority := input.Body.Priority
		if priority == "" {
			priority = domain.PriorityMedium
		}
		companyID := a.Config.Company.ID
		if p, ok := principalFromContext(ctx); ok && p.CompanyID != "" {
			companyID = p.CompanyID
		}
		c := domain.Complaint{
			ID:          uuid.NewString(),
			CompanyID:   companyID,
			CustomerID:  input.Body.CustomerID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Address:     input.Body.Address,
			District:    input.Body.District,
			AreaID:      input.Body.AreaID,
			Priority:    priority,
			Status:      domain.StatusOpen,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := a.Repo.CreateComplaint(ctx, c); err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})

	type listComplaintsInput struct {
		Status     string `query:"status" enum:"open,in_progress,resolved,closed,"`
		SLAStatus  string `query:"sla_status"`
		AssigneeID string `query:"assignee_id"`
		AreaID     string `query:"area_id"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-complaints",
		Method:      http.MethodGet,
		Path:        "/complaints",
		Summary:     "List complaints",
	}, func(ctx context.Context, input *listComplaintsInput) (*struct {
		Body []domain.Complaint `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := a.Repo.ListComplaints(ctx, repo.ComplaintFilters{
			CompanyID:  a.Config.Company.ID,
			Status:     input.Status,
			SLAStatus:  input.SLAStatus,
			AssigneeID: input.AssigneeID,
			AreaID:     input.AreaID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Complaint `json:"body"`
		}{Body: items}, nil
	})

	type complaintPath struct {
		ComplaintID string `path:"complaint_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-complaint",
		Method:      http.MethodGet,
		Path:        "/complaints/{complaint_id}",
		Summary:     "Get complaint",
	}, func(ctx context.Context, input *complaintPath) (*complaintBody, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		c, err := a.Repo.GetComplaint(ctx, input.ComplaintID)
		if err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})

	type closeComplaintInput struct {
		ComplaintID string `path:"complaint_id"`
		Body        struct {
			Status string `json:"status,omitempty" enum:"resolved,closed,"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "close-complaint",
		Method:      http.MethodPost,
		Path:        "/complaints/{complaint_id}/close",
		Summary:     "Close complaint",
		Description: "Marks the complaint resolved or closed and settles its SLA status.",
	}, func(ctx context.Context, input *closeComplaintInput) (*complaintBody, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		status := input.Body.Status
		if status == "" {
			status = domain.StatusResolved
		}
		c, err := a.Repo.GetComplaint(ctx, input.ComplaintID)
		if err != nil {
			return nil, handleError(err)
		}
		nowStr := time.Now().UTC().Format(time.RFC3339)
		closed, err := a.Repo.CloseComplaint(ctx, c.ID, status, nowStr)
		if err != nil {
			return nil, handleError(err)
		}
		if !closed {
			return nil, newAPIError(http.StatusConflict, "conflict", "complaint is not open", nil)
		}
		if c.AssigneeID != nil {
			a.Workloads.RecordDelta(*c.AssigneeID, -1)
		}
		if c.SLADeadline != nil {
			if err := a.SLA.CheckStatus(ctx, c.ID); err != nil {
				return nil, handleError(err)
			}
		}
		c, err = a.Repo.GetComplaint(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &complaintBody{Body: c}, nil
	})
}

type outcomeBody struct {
	Body assign.Outcome `json:"body"`
}

func registerAssignment(api huma.API, a *app.App) {
	type assignInput struct {
		ComplaintID string `path:"complaint_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "assign-complaint",
		Method:      http.MethodPost,
		Path:        "/complaints/{complaint_id}/assign",
		Summary:     "Assign complaint",
		Description: "Resolves the service area, ranks available technicians, and commits the best one. A capacity shortfall returns requires_manual_assignment rather than an error.",
	}, func(ctx context.Context, input *assignInput) (*outcomeBody, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		out, err := a.Coord.Assign(ctx, input.ComplaintID)
		if err != nil {
			return nil, handleError(err)
		}
		return &outcomeBody{Body: out}, nil
	})

	type reassignInput struct {
		ComplaintID string `path:"complaint_id"`
		Body        struct {
			TechnicianID string `json:"technician_id" minLength:"1"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "reassign-complaint",
		Method:      http.MethodPost,
		Path:        "/complaints/{complaint_id}/reassign",
		Summary:     "Manually assign or reassign complaint",
	}, func(ctx context.Context, input *reassignInput) (*outcomeBody, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := a.Coord.Reassign(ctx, input.ComplaintID, input.Body.TechnicianID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &outcomeBody{Body: out}, nil
	})
}

func registerAreas(api huma.API, a *app.App) {
	type areaPath struct {
		AreaID string `path:"area_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "available-technicians",
		Method:      http.MethodGet,
		Path:        "/areas/{area_id}/technicians/available",
		Summary:     "Available technicians in an area, ranked best first",
	}, func(ctx context.Context, input *areaPath) (*struct {
		Body []assign.Candidate `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		candidates, err := a.Coord.AvailableTechnicians(ctx, a.Config.Company.ID, input.AreaID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []assign.Candidate `json:"body"`
		}{Body: candidates}, nil
	})

	type updateAreaInput struct {
		AreaID string `path:"area_id"`
		Body   struct {
			Name      string   `json:"name,omitempty"`
			Code      string   `json:"code,omitempty"`
			City      string   `json:"city,omitempty"`
			District  string   `json:"district,omitempty"`
			Latitude  *float64 `json:"latitude,omitempty"`
			Longitude *float64 `json:"longitude,omitempty"`
			ManagerID *string  `json:"manager_id,omitempty"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "update-area",
		Method:      http.MethodPut,
		Path:        "/areas/{area_id}",
		Summary:     "Update area",
		Description: "Edits area fields and invalidates the name lookup cache.",
	}, func(ctx context.Context, input *updateAreaInput) (*struct {
		Body domain.Area `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ar, err := a.Repo.GetArea(ctx, input.AreaID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Name != "" {
			ar.Name = input.Body.Name
		}
		if input.Body.Code != "" {
			ar.Code = input.Body.Code
		}
		if input.Body.City != "" {
			ar.City = input.Body.City
		}
		if input.Body.District != "" {
			ar.District = input.Body.District
		}
		if input.Body.Latitude != nil {
			ar.Latitude = input.Body.Latitude
		}
		if input.Body.Longitude != nil {
			ar.Longitude = input.Body.Longitude
		}
		if input.Body.ManagerID != nil {
			ar.ManagerID = input.Body.ManagerID
		}
		if err := a.Repo.UpdateArea(ctx, ar); err != nil {
			return nil, handleError(err)
		}
		a.Areas.InvalidateAll()
		return &struct {
			Body domain.Area `json:"body"`
		}{Body: ar}, nil
	})
}

func registerTechnicians(api huma.API, a *app.App) {
	type technicianPath struct {
		TechnicianID string `path:"technician_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "technician-workload",
		Method:      http.MethodGet,
		Path:        "/technicians/{technician_id}/workload",
		Summary:     "Technician workload snapshot",
	}, func(ctx context.Context, input *technicianPath) (*struct {
		Body domain.WorkloadSnapshot `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := a.Repo.GetTechnician(ctx, input.TechnicianID); err != nil {
			return nil, handleError(err)
		}
		w, err := a.Workloads.GetWorkload(ctx, input.TechnicianID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkloadSnapshot `json:"body"`
		}{Body: w}, nil
	})
}

func registerStats(api huma.API, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "assignment-stats",
		Method:      http.MethodGet,
		Path:        "/stats/assignments",
		Summary:     "Assignment statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body repo.AssignmentStats `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		stats, err := a.Repo.GetAssignmentStats(ctx, a.Config.Company.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.AssignmentStats `json:"body"`
		}{Body: stats}, nil
	})

	type slaStatsInput struct {
		AreaID string `query:"area_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "sla-stats",
		Method:      http.MethodGet,
		Path:        "/stats/sla",
		Summary:     "SLA compliance statistics",
	}, func(ctx context.Context, input *slaStatsInput) (*struct {
		Body domain.ComplianceReport `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		report, err := a.Repo.GetSLAStats(ctx, a.Config.Company.ID, input.AreaID)
		if err != nil {
			return nil, handleError(err)
		}
		report.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
		return &struct {
			Body domain.ComplianceReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerPenalties(api huma.API, a *app.App) {
	type listPenaltiesInput struct {
		Status      string `query:"status" enum:"pending,applied,waived,"`
		ComplaintID string `query:"complaint_id"`
		Limit       int    `query:"limit" minimum:"0" maximum:"500"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-penalties",
		Method:      http.MethodGet,
		Path:        "/penalties",
		Summary:     "List penalties",
	}, func(ctx context.Context, input *listPenaltiesInput) (*struct {
		Body []domain.Penalty `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := a.Repo.ListPenalties(ctx, repo.PenaltyFilters{
			CompanyID:   a.Config.Company.ID,
			Status:      input.Status,
			ComplaintID: input.ComplaintID,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Penalty `json:"body"`
		}{Body: items}, nil
	})

	type penaltyPath struct {
		PenaltyID string `path:"penalty_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "apply-penalty",
		Method:      http.MethodPost,
		Path:        "/penalties/{penalty_id}/apply",
		Summary:     "Apply penalty",
		Description: "No-op if the penalty is already applied or waived.",
	}, func(ctx context.Context, input *penaltyPath) (*struct {
		Body domain.Penalty `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := a.SLA.ApplyPenalty(ctx, input.PenaltyID); err != nil {
			return nil, handleError(err)
		}
		p, err := a.Repo.GetPenalty(ctx, input.PenaltyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Penalty `json:"body"`
		}{Body: p}, nil
	})

	type waivePenaltyInput struct {
		PenaltyID string `path:"penalty_id"`
		Body      struct {
			Reason string `json:"reason" minLength:"1"`
		} `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "waive-penalty",
		Method:      http.MethodPost,
		Path:        "/penalties/{penalty_id}/waive",
		Summary:     "Waive penalty",
	}, func(ctx context.Context, input *waivePenaltyInput) (*struct {
		Body domain.Penalty `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := a.SLA.WaivePenalty(ctx, input.PenaltyID, actorID, input.Body.Reason); err != nil {
			return nil, handleError(err)
		}
		p, err := a.Repo.GetPenalty(ctx, input.PenaltyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Penalty `json:"body"`
		}{Body: p}, nil
	})
}
