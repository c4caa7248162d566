// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package handler implements the administrative HTTP surface over the
// audit log: the paginated viewer, the two cleanup operations, and the
// stats/recommendation endpoint.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/olegiv/ctms-go/internal/audit"
	"github.com/olegiv/ctms-go/internal/middleware"
	"github.com/olegiv/ctms-go/internal/model"
	"github.com/olegiv/ctms-go/internal/util"
)

// dateParamLayout is the wire format of the dataInicio/dataFim parameters.
const dateParamLayout = "2006-01-02"

// defaultCleanupDays applies when POST /logs/limpar carries no dias value.
const defaultCleanupDays = 90

// LogsHandler handles the audit log admin routes.
type LogsHandler struct {
	query     *audit.QueryService
	retention *audit.RetentionService
	writer    *audit.Writer
	logger    *slog.Logger
}

// NewLogsHandler creates a new LogsHandler.
func NewLogsHandler(query *audit.QueryService, retention *audit.RetentionService, writer *audit.Writer, logger *slog.Logger) *LogsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogsHandler{
		query:     query,
		retention: retention,
		writer:    writer,
		logger:    logger,
	}
}

// Routes mounts the admin log routes on a chi router.
func (h *LogsHandler) Routes(r chi.Router) {
	r.Get("/logs", h.List)
	r.Get("/logs/{id}", h.Get)
	r.Post("/logs/limpar", h.Limpar)
	r.Post("/cleanup", h.Cleanup)
	r.Get("/cleanup-stats", h.CleanupStats)
}

// eventResponse is the JSON shape of one audit event.
type eventResponse struct {
	ID             int64            `json:"id"`
	Type           model.EventType  `json:"type"`
	Level          model.EventLevel `json:"level"`
	Operation      string           `json:"operation"`
	Entity         string           `json:"entity,omitempty"`
	EntityID       string           `json:"entityId,omitempty"`
	BeforeState    json.RawMessage  `json:"beforeState,omitempty"`
	AfterState     json.RawMessage  `json:"afterState,omitempty"`
	Actor          string           `json:"actor,omitempty"`
	ClientIP       string           `json:"clientIp,omitempty"`
	UserAgent      string           `json:"userAgent,omitempty"`
	ErrorMessage   string           `json:"errorMessage,omitempty"`
	StackTrace     string           `json:"stackTrace,omitempty"`
	DurationMs     *int64           `json:"durationMs,omitempty"`
	Endpoint       string           `json:"endpoint,omitempty"`
	Method         string           `json:"method,omitempty"`
	RequestHeaders json.RawMessage  `json:"requestHeaders,omitempty"`
	QueryParams    json.RawMessage  `json:"queryParams,omitempty"`
	Metadata       json.RawMessage  `json:"metadata,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
}

func toEventResponse(e model.AuditEvent) eventResponse {
	resp := eventResponse{
		ID:           e.ID,
		Type:         e.Type,
		Level:        e.Level,
		Operation:    e.Operation,
		Entity:       e.Entity.String,
		EntityID:     e.EntityID.String,
		Actor:        e.Actor.String,
		ClientIP:     e.ClientIP.String,
		UserAgent:    e.UserAgent.String,
		ErrorMessage: e.ErrorMessage.String,
		StackTrace:   e.StackTrace.String,
		Endpoint:     e.Endpoint.String,
		Method:       e.Method.String,
		CreatedAt:    e.CreatedAt,
	}
	if e.BeforeState.Valid {
		resp.BeforeState = json.RawMessage(e.BeforeState.String)
	}
	if e.AfterState.Valid {
		resp.AfterState = json.RawMessage(e.AfterState.String)
	}
	if e.RequestHeaders.Valid {
		resp.RequestHeaders = json.RawMessage(e.RequestHeaders.String)
	}
	if e.QueryParams.Valid {
		resp.QueryParams = json.RawMessage(e.QueryParams.String)
	}
	if e.Metadata != "" && e.Metadata != "{}" {
		resp.Metadata = json.RawMessage(e.Metadata)
	}
	if e.DurationMs.Valid {
		ms := e.DurationMs.Int64
		resp.DurationMs = &ms
	}
	return resp
}

// List handles GET /admin/logs.
// Query parameters: pagina, limite, acao, entidade, nivel, usuarioId,
// dataInicio, dataFim (inclusive, YYYY-MM-DD), busca.
func (h *LogsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, err := positiveIntParam(q.Get("pagina"), 1)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid pagina: "+err.Error())
		return
	}
	pageSize, err := positiveIntParam(q.Get("limite"), audit.DefaultPageSize)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid limite: "+err.Error())
		return
	}

	filter := audit.Filter{
		Operation: q.Get("acao"),
		Entity:    q.Get("entidade"),
		Level:     q.Get("nivel"),
		Actor:     q.Get("usuarioId"),
		FreeText:  q.Get("busca"),
	}

	if raw := q.Get("dataInicio"); raw != "" {
		from, err := time.Parse(dateParamLayout, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid dataInicio: use YYYY-MM-DD")
			return
		}
		filter.DateFrom = &from
	}
	if raw := q.Get("dataFim"); raw != "" {
		to, err := time.Parse(dateParamLayout, raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid dataFim: use YYYY-MM-DD")
			return
		}
		// Inclusive: extend the day to its last instant.
		to = to.Add(24*time.Hour - time.Nanosecond)
		filter.DateTo = &to
	}

	result, err := h.query.List(r.Context(), page, pageSize, filter)
	if err != nil {
		h.logger.Error("audit log list failed", "error", err)
		writeAuditError(w, err)
		return
	}

	items := make([]eventResponse, 0, len(result.Items))
	for _, e := range result.Items {
		items = append(items, toEventResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    items,
		"total":    result.Total,
		"page":     result.Page,
		"pageSize": result.PageSize,
	})
}

// Get handles GET /admin/logs/{id}.
func (h *LogsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid id")
		return
	}

	event, err := h.query.GetByID(r.Context(), id)
	if err != nil {
		writeAuditError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(event))
}

// cleanupRequest is the body of POST /admin/cleanup.
type cleanupRequest struct {
	Type    string `json:"type"`
	Days    int    `json:"days"`
	MaxLogs int    `json:"maxLogs"`
}

// Cleanup handles POST /admin/cleanup, dispatching to one of the two
// retention policies by request type.
func (h *LogsHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var (
		removed int64
		err     error
		message string
	)
	switch req.Type {
	case audit.PolicyByDays:
		removed, err = h.retention.CleanupOlderThan(r.Context(), req.Days)
		message = fmt.Sprintf("removed logs older than %d days", req.Days)
	case audit.PolicyByCount:
		removed, err = h.retention.CleanupKeepingMostRecent(r.Context(), req.MaxLogs)
		message = fmt.Sprintf("kept the %d most recent logs", req.MaxLogs)
	default:
		writeJSONError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown cleanup type %q: valid values are %q and %q", req.Type, audit.PolicyByDays, audit.PolicyByCount))
		return
	}
	if err != nil {
		h.logger.Error("cleanup failed", "type", req.Type, "error", err)
		writeAuditError(w, err)
		return
	}

	h.recordCleanup(r, req.Type, removed)
	writeJSONSuccess(w, map[string]any{
		"message":      message,
		"removedCount": removed,
	})
}

// CleanupStats handles GET /admin/cleanup-stats.
func (h *LogsHandler) CleanupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.retention.Stats(r.Context())
	if err != nil {
		h.logger.Error("audit stats failed", "error", err)
		writeAuditError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalLogs":       stats.TotalLogs,
		"countsByLevel":   stats.CountsByLevel,
		"countsByType":    stats.CountsByType,
		"oldestTimestamp": stats.OldestTimestamp,
		"newestTimestamp": stats.NewestTimestamp,
		"recommendation":  h.retention.Recommend(stats),
	})
}

// limparRequest is the body of POST /admin/logs/limpar.
type limparRequest struct {
	Dias int `json:"dias"`
}

// Limpar handles POST /admin/logs/limpar: the age-based sweep the admin UI
// triggers. The removal itself is always documented with a CLEANUP audit
// record naming who triggered it.
func (h *LogsHandler) Limpar(w http.ResponseWriter, r *http.Request) {
	req := limparRequest{Dias: defaultCleanupDays}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Dias == 0 {
			req.Dias = defaultCleanupDays
		}
	}

	removed, err := h.retention.CleanupOlderThan(r.Context(), req.Dias)
	if err != nil {
		h.logger.Error("log cleanup failed", "dias", req.Dias, "error", err)
		writeAuditError(w, err)
		return
	}

	h.recordCleanup(r, audit.PolicyByDays, removed)
	writeJSONSuccess(w, map[string]any{
		"message":      fmt.Sprintf("removed logs older than %d days", req.Dias),
		"removedCount": removed,
	})
}

// recordCleanup documents a triggered sweep on the audit log itself. The
// record is written synchronously so the admin action and its trace cannot
// diverge silently; a failure to record is logged but does not undo the
// already-completed sweep.
func (h *LogsHandler) recordCleanup(r *http.Request, policy string, removed int64) {
	var actor string
	if p := middleware.GetPrincipal(r); p != nil {
		actor = p.UserID
	}

	_, err := h.writer.RecordSync(r.Context(), audit.Entry{
		Type:      model.EventTypeSystem,
		Level:     model.EventLevelInfo,
		Operation: model.OperationCleanup,
		Actor:     actor,
		ClientIP:  util.ClientIP(r),
		UserAgent: r.UserAgent(),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
		Metadata: map[string]any{
			"policy":       policy,
			"removedCount": removed,
		},
	})
	if err != nil {
		h.logger.Error("failed to record cleanup event", "error", err)
	}
}

// positiveIntParam parses a positive integer query parameter, applying def
// when the parameter is absent.
func positiveIntParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("must be an integer")
	}
	if v < 1 {
		return 0, errors.New("must be >= 1")
	}
	return v, nil
}
