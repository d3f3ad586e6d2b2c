package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/metergate/pkg/jsonapi"
	"github.com/artpar/metergate/ports"
)

// EventBatch is the body of a usage ingestion request.
type EventBatch struct {
	OrganizationID string `json:"organization_id"`
	ProjectID      string `json:"project_id"`
	Count          int64  `json:"count"`
	HourlyOnly     bool   `json:"hourly_only"`
}

// OccurrenceBatch is the body of a stack occurrence ingestion request.
type OccurrenceBatch struct {
	OrganizationID string    `json:"organization_id"`
	ProjectID      string    `json:"project_id"`
	StackID        string    `json:"stack_id"`
	Count          int64     `json:"count"`
	MinDate        time.Time `json:"min_date"`
	MaxDate        time.Time `json:"max_date"`
}

// RecordEvents counts a batch of events against the tenant's quota.
// Returns 202 when the whole batch is admitted and 429 when any of it
// was over limit; either way the admitted share has been counted.
func (h *Handler) RecordEvents(w http.ResponseWriter, r *http.Request) {
	var batch EventBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		jsonapi.WriteBadRequest(w, "invalid request body")
		return
	}
	if batch.OrganizationID == "" || batch.ProjectID == "" {
		jsonapi.WriteError(w, jsonapi.ErrValidation("organization_id", "organization_id and project_id are required"))
		return
	}
	if batch.Count < 0 {
		jsonapi.WriteError(w, jsonapi.ErrInvalidCount(batch.Count))
		return
	}
	if batch.Count == 0 {
		batch.Count = 1
	}

	throttled, err := h.usage.IncrementUsage(r.Context(), batch.OrganizationID, batch.ProjectID, batch.HourlyOnly, batch.Count)
	if err != nil {
		h.writeUsageError(w, batch.OrganizationID, batch.ProjectID, err)
		return
	}

	if throttled {
		jsonapi.WriteError(w, jsonapi.ErrQuotaExceeded(""))
		return
	}
	jsonapi.WriteAccepted(w, jsonapi.Meta{"count": batch.Count})
}

// RecordOccurrences accumulates stack occurrence deltas for the
// write-behind flush.
func (h *Handler) RecordOccurrences(w http.ResponseWriter, r *http.Request) {
	var batch OccurrenceBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		jsonapi.WriteBadRequest(w, "invalid request body")
		return
	}
	if batch.OrganizationID == "" || batch.ProjectID == "" || batch.StackID == "" {
		jsonapi.WriteError(w, jsonapi.ErrValidation("stack_id", "organization_id, project_id and stack_id are required"))
		return
	}
	if batch.Count <= 0 {
		jsonapi.WriteError(w, jsonapi.ErrInvalidCount(batch.Count))
		return
	}

	err := h.occurrences.IncrementStackUsage(r.Context(), batch.OrganizationID, batch.ProjectID, batch.StackID, batch.MinDate, batch.MaxDate, batch.Count)
	if err != nil {
		if errors.Is(err, ports.ErrStoreUnavailable) {
			jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable(""))
			return
		}
		h.logger.Error().Err(err).Str("stack_id", batch.StackID).Msg("occurrence ingest failed")
		jsonapi.WriteInternalError(w, "")
		return
	}

	jsonapi.WriteAccepted(w, jsonapi.Meta{"count": batch.Count})
}

// OrganizationUsage returns the current usage windows for an
// organization, optionally narrowed with a project_id query parameter.
func (h *Handler) OrganizationUsage(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	projectID := r.URL.Query().Get("project_id")

	if projectID == "" {
		// Default to the organization's first project so the org-wide
		// windows can still be resolved against a valid scope.
		projects, err := h.projects.ListByOrganization(r.Context(), orgID)
		if err != nil || len(projects) == 0 {
			jsonapi.WriteError(w, jsonapi.ErrNotFoundWithID("organization", orgID))
			return
		}
		projectID = projects[0].ID
	}

	windows, err := h.usage.UsageSnapshot(r.Context(), orgID, projectID)
	if err != nil {
		h.writeUsageError(w, orgID, projectID, err)
		return
	}

	jsonapi.WriteData(w, http.StatusOK, windows)
}

// Flush triggers a flush cycle. With ?all=true every pending stack is
// drained regardless of dwell or batch size.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	flushAll := r.URL.Query().Get("all") == "true"

	report, err := h.occurrences.SaveStackUsages(r.Context(), flushAll)
	meta := jsonapi.Meta{
		"pending": report.Pending,
		"flushed": report.Flushed,
		"skipped": report.Skipped,
		"failed":  report.Failed,
	}
	if err != nil {
		h.logger.Warn().Err(err).Int("failed", report.Failed).Msg("flush completed with failures")
		jsonapi.WriteError(w, jsonapi.NewError(http.StatusInternalServerError, "flush_failed", "Flush Failed").
			Detail(err.Error()).
			Meta("failed", report.Failed).
			Build())
		return
	}

	jsonapi.WriteMeta(w, http.StatusOK, meta)
}

// PendingStacks lists the stack tuples awaiting flush.
func (h *Handler) PendingStacks(w http.ResponseWriter, r *http.Request) {
	pending, err := h.occurrences.PendingStacks(r.Context())
	if err != nil {
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable(""))
		return
	}
	if pending == nil {
		pending = []string{}
	}
	jsonapi.WriteData(w, http.StatusOK, pending)
}

func (h *Handler) writeUsageError(w http.ResponseWriter, orgID, projectID string, err error) {
	switch {
	case errors.Is(err, ports.ErrInvalidScope):
		jsonapi.WriteError(w, jsonapi.ErrInvalidScope(orgID, projectID))
	case errors.Is(err, ports.ErrStoreUnavailable):
		jsonapi.WriteError(w, jsonapi.ErrServiceUnavailable(""))
	default:
		h.logger.Error().Err(err).Str("organization_id", orgID).Msg("usage request failed")
		jsonapi.WriteInternalError(w, "")
	}
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
