package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/metergate/pkg/jsonapi"
	"github.com/artpar/metergate/ports"
)

// OrganizationRequest is the body of an organization create request.
type OrganizationRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	PlanID string `json:"plan_id"`
}

// SuspensionRequest toggles an organization's suspension.
type SuspensionRequest struct {
	Suspended bool `json:"suspended"`
}

// ProjectRequest is the body of a project create request.
type ProjectRequest struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

// OrganizationResponse is the JSON shape of an organization.
type OrganizationResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	PlanID         string     `json:"plan_id"`
	IsSuspended    bool       `json:"is_suspended"`
	SuspensionDate *time.Time `json:"suspension_date,omitempty"`
}

// ProjectResponse is the JSON shape of a project.
type ProjectResponse struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name"`
}

func projectResponse(p ports.Project) ProjectResponse {
	return ProjectResponse{ID: p.ID, OrganizationID: p.OrganizationID, Name: p.Name}
}

func orgResponse(org ports.Organization) OrganizationResponse {
	resp := OrganizationResponse{
		ID:          org.ID,
		Name:        org.Name,
		PlanID:      org.PlanID,
		IsSuspended: org.IsSuspended,
	}
	if !org.SuspensionDate.IsZero() {
		d := org.SuspensionDate
		resp.SuspensionDate = &d
	}
	return resp
}

// OrganizationCreate registers a new organization.
func (h *Handler) OrganizationCreate(w http.ResponseWriter, r *http.Request) {
	var req OrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.PlanID == "" {
		jsonapi.WriteError(w, jsonapi.ErrValidation("plan_id", "plan_id is required"))
		return
	}
	if req.ID == "" {
		req.ID = h.idgen.New()
	}

	org := ports.Organization{
		ID:     req.ID,
		Name:   req.Name,
		PlanID: req.PlanID,
	}
	if err := h.orgs.Create(r.Context(), org); err != nil {
		h.logger.Error().Err(err).Str("organization_id", req.ID).Msg("organization create failed")
		jsonapi.WriteInternalError(w, "")
		return
	}

	h.logger.Info().Str("organization_id", org.ID).Str("plan_id", org.PlanID).Msg("organization created")
	jsonapi.WriteData(w, http.StatusCreated, orgResponse(org))
}

// OrganizationGet returns a single organization.
func (h *Handler) OrganizationGet(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	org, err := h.orgs.Get(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			jsonapi.WriteError(w, jsonapi.ErrNotFoundWithID("organization", orgID))
			return
		}
		jsonapi.WriteInternalError(w, "")
		return
	}

	jsonapi.WriteData(w, http.StatusOK, orgResponse(org))
}

// OrganizationSuspension suspends or reinstates an organization.
// Suspending stamps the current time so admission can freeze headroom
// at that instant.
func (h *Handler) OrganizationSuspension(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var req SuspensionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteBadRequest(w, "invalid request body")
		return
	}

	org, err := h.orgs.Get(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			jsonapi.WriteError(w, jsonapi.ErrNotFoundWithID("organization", orgID))
			return
		}
		jsonapi.WriteInternalError(w, "")
		return
	}

	org.IsSuspended = req.Suspended
	if req.Suspended {
		org.SuspensionDate = h.clock.Now()
	} else {
		org.SuspensionDate = time.Time{}
	}

	if err := h.orgs.Update(r.Context(), org); err != nil {
		h.logger.Error().Err(err).Str("organization_id", orgID).Msg("suspension update failed")
		jsonapi.WriteInternalError(w, "")
		return
	}

	h.logger.Info().
		Str("organization_id", orgID).
		Bool("suspended", req.Suspended).
		Msg("organization suspension updated")
	jsonapi.WriteData(w, http.StatusOK, orgResponse(org))
}

// ProjectCreate registers a new project within an organization.
func (h *Handler) ProjectCreate(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonapi.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.OrganizationID == "" {
		jsonapi.WriteError(w, jsonapi.ErrValidation("organization_id", "organization_id is required"))
		return
	}

	// The parent organization must exist.
	if _, err := h.orgs.Get(r.Context(), req.OrganizationID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			jsonapi.WriteError(w, jsonapi.ErrNotFoundWithID("organization", req.OrganizationID))
			return
		}
		jsonapi.WriteInternalError(w, "")
		return
	}
	if req.ID == "" {
		req.ID = h.idgen.New()
	}

	p := ports.Project{
		ID:             req.ID,
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
	}
	if err := h.projects.Create(r.Context(), p); err != nil {
		h.logger.Error().Err(err).Str("project_id", req.ID).Msg("project create failed")
		jsonapi.WriteInternalError(w, "")
		return
	}

	h.logger.Info().Str("project_id", p.ID).Str("organization_id", p.OrganizationID).Msg("project created")
	jsonapi.WriteData(w, http.StatusCreated, projectResponse(p))
}

// ProjectList returns all projects for an organization.
func (h *Handler) ProjectList(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	projects, err := h.projects.ListByOrganization(r.Context(), orgID)
	if err != nil {
		jsonapi.WriteInternalError(w, "")
		return
	}
	out := make([]ProjectResponse, 0, len(projects))
	for _, p := range projects {
		out = append(out, projectResponse(p))
	}
	jsonapi.WriteData(w, http.StatusOK, out)
}
