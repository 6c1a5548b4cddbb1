package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/ladder/internal/builder"
	"github.com/opensource-finance/ladder/internal/domain"
	"github.com/opensource-finance/ladder/internal/rules"
	"github.com/opensource-finance/ladder/internal/templates"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *builder.Service
	store   domain.ProgramStore
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler. store, cache and bus are only used
// for health checks and may be nil.
func NewHandler(svc *builder.Service, store domain.ProgramStore, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		store:   store,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// ValidationResponse reports the sequence errors and failed save
// preconditions of a program.
type ValidationResponse struct {
	Program    *domain.Program        `json:"program,omitempty"`
	Errors     rules.ValidationErrors `json:"errors"`
	Violations []rules.Violation      `json:"violations"`
	Valid      bool                   `json:"valid"`
	Saveable   bool                   `json:"saveable"`
}

func (h *Handler) validation(s *builder.Session, includeProgram bool) ValidationResponse {
	violations := h.svc.Check(s)
	if violations == nil {
		violations = []rules.Violation{}
	}
	resp := ValidationResponse{
		Errors:     s.Errors(),
		Violations: violations,
		Valid:      s.Valid(),
		Saveable:   len(violations) == 0,
	}
	if includeProgram {
		p := s.Program()
		resp.Program = &p
	}
	return resp
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
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
		"status":   status,
		"version":  h.version,
		"strategy": string(h.svc.Strategy()),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// IndustryTemplates is one industry group of the template catalog.
type IndustryTemplates struct {
	Industry  templates.Industry   `json:"industry"`
	Templates []templates.Template `json:"templates"`
}

// ListTemplates returns the template catalog grouped by industry.
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	var groups []IndustryTemplates
	count := 0
	for _, industry := range templates.Industries() {
		tpls := templates.ByIndustry(industry)
		count += len(tpls)
		groups = append(groups, IndustryTemplates{Industry: industry, Templates: tpls})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"industries": groups,
		"count":      count,
	})
}

// ApplyTemplate builds a new, unsaved program from a template and returns it
// with its validation result.
func (h *Handler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := templates.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}

	s := h.svc.NewSession()
	s.ApplyTemplate(tpl)

	writeJSON(w, http.StatusOK, h.validation(s, true))
}

// ValidateProgram runs the sequence checks and save preconditions against
// the program in the request body without saving it.
func (h *Handler) ValidateProgram(w http.ResponseWriter, r *http.Request) {
	var p domain.Program
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return
	}

	s := builder.EditSession(p, h.svc.Strategy())
	writeJSON(w, http.StatusOK, h.validation(s, false))
}

// MinimumRequest is the request body for POST /programs/minimum.
type MinimumRequest struct {
	Rewards       []domain.Reward      `json:"rewards"`
	RewardID      string               `json:"rewardId"`
	ConditionType domain.ConditionType `json:"conditionType"`
}

// Minimum returns the lowest value a condition may take on a reward.
func (h *Handler) Minimum(w http.ResponseWriter, r *http.Request) {
	var req MinimumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return
	}
	if req.RewardID == "" || !req.ConditionType.Valid() {
		writeError(w, http.StatusBadRequest, "rewardId and a valid conditionType are required")
		return
	}

	validator := rules.NewSequenceValidator(h.svc.Strategy())
	writeJSON(w, http.StatusOK, map[string]any{
		"rewardId":      req.RewardID,
		"conditionType": req.ConditionType,
		"minimum":       validator.MinimumFor(req.Rewards, req.RewardID, req.ConditionType),
		"strategy":      validator.Strategy,
	})
}

// SaveProgram creates a program, or updates it when the body carries the ID
// of a stored program.
func (h *Handler) SaveProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	merchantID := GetMerchantID(ctx)

	var p domain.Program
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return
	}

	if p.ID != "" {
		if _, err := h.svc.Get(ctx, merchantID, p.ID); err != nil {
			h.writeLookupError(w, p.ID, err)
			return
		}
	}

	s := builder.EditSession(p, h.svc.Strategy())
	res, err := h.svc.Save(ctx, merchantID, GetActor(ctx), s)
	if err != nil {
		var pe *builder.PreconditionError
		if errors.As(err, &pe) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":      pe.Error(),
				"violations": pe.Reasons,
				"errors":     pe.Sequence,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to save program")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// GetProgram returns a stored program in its authoring shape.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	programID := chi.URLParam(r, "id")

	p, err := h.svc.Get(ctx, GetMerchantID(ctx), programID)
	if err != nil {
		h.writeLookupError(w, programID, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// ListPrograms returns every stored program of the merchant.
func (h *Handler) ListPrograms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	programs, err := h.svc.List(ctx, GetMerchantID(ctx))
	if err != nil {
		slog.Error("failed to list programs", "merchant_id", GetMerchantID(ctx), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list programs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"programs": programs,
		"count":    len(programs),
	})
}

// AppendRewardsRequest is the request body for POST /programs/{id}/rewards.
type AppendRewardsRequest struct {
	Rewards []domain.Reward `json:"rewards"`
}

// AppendRewards adds rewards to the end of a stored program.
func (h *Handler) AppendRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	programID := chi.URLParam(r, "id")

	var req AppendRewardsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body: "+err.Error())
		return
	}
	if len(req.Rewards) == 0 {
		writeError(w, http.StatusBadRequest, "at least one reward is required")
		return
	}

	doc, err := h.svc.AppendRewards(ctx, GetMerchantID(ctx), programID, req.Rewards)
	if err != nil {
		var pe *builder.PreconditionError
		if errors.As(err, &pe) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  pe.Error(),
				"errors": pe.Sequence,
			})
			return
		}
		h.writeLookupError(w, programID, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// RequestDelete issues the confirmation token required to delete a program.
func (h *Handler) RequestDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	programID := chi.URLParam(r, "id")

	token, err := h.svc.RequestDelete(ctx, GetMerchantID(ctx), programID)
	if err != nil {
		h.writeLookupError(w, programID, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"programId":    programID,
		"confirmToken": token,
		"message":      "Call DELETE /programs/" + programID + "?confirm=<token> to delete the program.",
	})
}

// DeleteProgram deletes a program confirmed by a token from RequestDelete.
func (h *Handler) DeleteProgram(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	programID := chi.URLParam(r, "id")

	err := h.svc.ConfirmDelete(ctx, GetMerchantID(ctx), programID, r.URL.Query().Get("confirm"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"programId": programID,
			"deleted":   true,
		})
	case errors.Is(err, builder.ErrDeleteNotConfirmed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to delete program")
	}
}

func (h *Handler) writeLookupError(w http.ResponseWriter, programID string, err error) {
	if errors.Is(err, domain.ErrProgramNotFound) {
		writeError(w, http.StatusNotFound, "program not found")
		return
	}
	slog.Error("program lookup failed", "program_id", programID, "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
