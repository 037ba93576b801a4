package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/blockaid/internal/audit"
	"github.com/opensource-finance/blockaid/internal/domain"
	"github.com/opensource-finance/blockaid/internal/event"
	"github.com/opensource-finance/blockaid/internal/fund"
	"github.com/opensource-finance/blockaid/internal/rules"
	"github.com/shopspring/decimal"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo           domain.Repository
	cache          domain.Cache
	bus            domain.EventBus
	events         *event.Manager
	funds          *fund.Manager
	trail          *audit.Trail
	engine         *rules.Engine
	maxUploadBytes int64
	version        string
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Repo    domain.Repository
	Cache   domain.Cache
	Bus     domain.EventBus
	Events  *event.Manager
	Funds   *fund.Manager
	Trail   *audit.Trail
	Engine  *rules.Engine
	Version string
}

// NewHandler creates a new API handler.
func NewHandler(d Deps, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		repo:           d.Repo,
		cache:          d.Cache,
		bus:            d.Bus,
		events:         d.Events,
		funds:          d.Funds,
		trail:          d.Trail,
		engine:         d.Engine,
		maxUploadBytes: maxUploadBytes,
		version:        d.Version,
	}
}

// CreateEventResponse is the response for POST /events.
type CreateEventResponse struct {
	ID              string                 `json:"id"`
	SeverityScore   float64                `json:"severity_score"`
	SeverityLevel   domain.SeverityLevel   `json:"severity_level"`
	Confidence      float64                `json:"confidence"`
	ComponentScores domain.ComponentScores `json:"component_scores"`
}

// CreateEvent handles POST /events. The body is multipart with an image
// part and one form field per measurement.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("request body exceeds %d bytes", h.maxUploadBytes),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid multipart request body",
		})
		return
	}
	defer r.MultipartForm.RemoveAll()

	draft, err := parseDraft(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	image, err := readImage(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ev, assessment, err := h.events.Create(r.Context(), draft, image, GetActor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateEventResponse{
		ID:              ev.ID,
		SeverityScore:   assessment.TotalScore,
		SeverityLevel:   assessment.Level,
		Confidence:      assessment.Confidence,
		ComponentScores: assessment.Components,
	})
}

func parseDraft(r *http.Request) (domain.EventDraft, error) {
	draft := domain.EventDraft{
		DisasterType: r.FormValue("disaster_type"),
		Location:     r.FormValue("location"),
	}

	floats := []struct {
		name string
		dst  **float64
	}{
		{"rainfall_mm", &draft.RainfallMM},
		{"water_level_cm", &draft.WaterLevelCM},
		{"infrastructure_damage", &draft.InfrastructureDamage},
		{"impact_area", &draft.ImpactArea},
	}
	for _, f := range floats {
		raw := strings.TrimSpace(r.FormValue(f.name))
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return draft, fmt.Errorf("invalid value for %s: %q", f.name, raw)
		}
		*f.dst = &v
	}

	if raw := strings.TrimSpace(r.FormValue("population_affected")); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			v, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > math.MaxInt64/2 {
				return draft, fmt.Errorf("invalid value for population_affected: %q", raw)
			}
			n = int64(v)
		}
		draft.PopulationAffected = &n
	}
	return draft, nil
}

// readImage returns the uploaded image, or nil when the part is absent so
// that the manager reports it with the other missing fields.
func readImage(r *http.Request) ([]byte, error) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid image upload")
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read image upload")
	}
	return image, nil
}

// GetEvent handles GET /events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// ListEvents handles GET /events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	page := pageFromQuery(r, event.DefaultPageSize)

	events, total, err := h.events.List(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*domain.DisasterEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"pages":        page.Pages(total),
		"current_page": page.Number,
		"events":       events,
	})
}

// VerifyEvent handles POST /events/{id}/verify.
func (h *Handler) VerifyEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Verify(r.Context(), chi.URLParam(r, "id"), GetActor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "event verified",
		"event":   ev,
	})
}

// ListEventFunds handles GET /events/{id}/funds.
func (h *Handler) ListEventFunds(w http.ResponseWriter, r *http.Request) {
	funds, err := h.funds.ListByEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"funds": funds,
		"count": len(funds),
	})
}

// CreateFundRequest is the request body for POST /funds.
type CreateFundRequest struct {
	EventID string           `json:"event_id"`
	Amount  *decimal.Decimal `json:"amount"`
}

// CreateFund handles POST /funds.
func (h *Handler) CreateFund(w http.ResponseWriter, r *http.Request) {
	var req CreateFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.EventID == "" || req.Amount == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "event_id and amount are required",
		})
		return
	}

	f, err := h.funds.Create(r.Context(), req.EventID, *req.Amount, GetActor(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":   f.ID,
		"fund": f,
	})
}

// GetFund handles GET /funds/{id}.
func (h *Handler) GetFund(w http.ResponseWriter, r *http.Request) {
	f, err := h.funds.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// ListAuditLogs handles GET /audit-logs.
func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if err := GetActor(r.Context()).Require("audit.List", domain.CapabilityAudit); err != nil {
		writeError(w, r, err)
		return
	}

	page := pageFromQuery(r, audit.DefaultPageSize)
	logs, total, err := h.trail.List(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*domain.AuditRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":        total,
		"pages":        page.Pages(total),
		"current_page": page.Number,
		"logs":         logs,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether storage is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func pageFromQuery(r *http.Request, defaultSize int) domain.Page {
	number, _ := strconv.Atoi(r.URL.Query().Get("page"))
	size, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	return domain.NewPage(number, size, defaultSize)
}

// writeError maps an error kind onto a status code. Internal failures are
// logged in full and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	switch domain.KindOf(err) {
	case domain.ErrValidation:
		status, msg = http.StatusBadRequest, publicMessage(err)
	case domain.ErrConflict:
		status, msg = http.StatusConflict, publicMessage(err)
	case domain.ErrNotFound:
		status, msg = http.StatusNotFound, publicMessage(err)
	case domain.ErrForbidden:
		status, msg = http.StatusForbidden, publicMessage(err)
	case domain.ErrUnavailable:
		status, msg = http.StatusServiceUnavailable, "image classification service unavailable"
		slog.Warn("dependency unavailable",
			"path", r.URL.Path,
			"trace_id", domain.TraceIDFrom(r.Context()),
			"error", err,
		)
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"trace_id", domain.TraceIDFrom(r.Context()),
			"error", err,
		)
	}

	writeJSON(w, status, map[string]string{"error": msg})
}

func publicMessage(err error) string {
	var de *domain.Error
	if errors.As(err, &de) && de.Msg != "" {
		return de.Msg
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
