// Package admin serves the operator HTTP API for quota, admins and history.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/llmgate/internal/api"
	"github.com/aiox-platform/llmgate/internal/auth"
	"github.com/aiox-platform/llmgate/internal/history"
	"github.com/aiox-platform/llmgate/internal/quota"
)

type Handler struct {
	ledger   *quota.Ledger
	admins   *quota.AdminSet
	history  *history.Store
	validate *validator.Validate
	now      func() time.Time
}

func NewHandler(ledger *quota.Ledger, admins *quota.AdminSet, hist *history.Store) *Handler {
	return &Handler{
		ledger:   ledger,
		admins:   admins,
		history:  hist,
		validate: validator.New(),
		now:      time.Now,
	}
}

type AddAdminRequest struct {
	Username string `json:"username" validate:"required,max=33"`
}

type AdminsResponse struct {
	Admins []AdminEntry `json:"admins"`
}

type AdminEntry struct {
	Username string `json:"username"`
	Seed     bool   `json:"seed"`
}

type GlobalResponse struct {
	Date               string `json:"date"`
	TotalDailyRequests int    `json:"total_daily_requests"`
	TotalDailyLimit    int    `json:"total_daily_limit"`
	RequestsPerUser    int    `json:"requests_per_user"`
	RequestsPerMinute  int    `json:"requests_per_minute"`
}

// Routes mounts the protected endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/quota", h.GetGlobalQuota)
	r.Get("/quota/{userID}", h.GetUserQuota)
	r.Get("/admins", h.ListAdmins)
	r.Post("/admins", h.AddAdmin)
	r.Delete("/admins/{username}", h.RemoveAdmin)
	r.Delete("/history/{chatID}/{userID}", h.ClearHistory)
}

func (h *Handler) GetGlobalQuota(w http.ResponseWriter, r *http.Request) {
	g, err := h.ledger.Global(r.Context(), h.now())
	if err != nil {
		slog.Error("reading global quota", "error", err)
		api.HandleError(w, api.ErrUnavailable)
		return
	}
	limits := h.ledger.Limits()
	api.JSON(w, http.StatusOK, GlobalResponse{
		Date:               g.LastResetDate,
		TotalDailyRequests: g.TotalDailyRequests,
		TotalDailyLimit:    limits.TotalDailyLimit,
		RequestsPerUser:    limits.RequestsPerUser,
		RequestsPerMinute:  limits.RequestsPerMinute,
	})
}

func (h *Handler) GetUserQuota(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	st, err := h.ledger.Status(r.Context(), userID, r.URL.Query().Get("username"), h.now())
	if err != nil {
		slog.Error("reading user quota", "error", err, "user_id", userID)
		api.HandleError(w, api.ErrUnavailable)
		return
	}
	api.JSON(w, http.StatusOK, st)
}

func (h *Handler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	list, err := h.admins.List(r.Context())
	if err != nil {
		slog.Error("listing admins", "error", err)
		api.HandleError(w, api.ErrUnavailable)
		return
	}
	resp := AdminsResponse{Admins: make([]AdminEntry, 0, len(list))}
	for _, a := range list {
		resp.Admins = append(resp.Admins, AdminEntry{Username: a, Seed: h.admins.IsSeed(a)})
	}
	api.JSON(w, http.StatusOK, resp)
}

// AddAdmin acts as the operator, who is implicitly an admin.
func (h *Handler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	var req AddAdminRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	if err := h.admins.Add(r.Context(), "", req.Username); err != nil {
		h.adminError(w, err)
		return
	}
	handle := quota.NormalizeHandle(req.Username)
	slog.Info("admin added via API", "handle", handle, "operator", operator(r))
	api.JSON(w, http.StatusCreated, AdminEntry{Username: handle, Seed: h.admins.IsSeed(handle)})
}

func (h *Handler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.admins.Remove(r.Context(), "", username); err != nil {
		h.adminError(w, err)
		return
	}
	slog.Info("admin removed via API", "handle", quota.NormalizeHandle(username), "operator", operator(r))
	api.JSONMessage(w, http.StatusOK, "admin removed")
}

func (h *Handler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	chatID, userID := chi.URLParam(r, "chatID"), chi.URLParam(r, "userID")
	if err := h.history.Clear(r.Context(), chatID, userID); err != nil {
		slog.Error("clearing history", "error", err, "chat_id", chatID, "user_id", userID)
		api.HandleError(w, api.ErrUnavailable)
		return
	}
	slog.Info("history cleared via API", "chat_id", chatID, "user_id", userID, "operator", operator(r))
	api.JSONMessage(w, http.StatusOK, "history cleared")
}

func (h *Handler) adminError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quota.ErrInvalidHandle):
		api.HandleError(w, api.NewValidationError("username must be 1-32 letters, digits or underscores"))
	case errors.Is(err, quota.ErrSeedAdmin):
		api.HandleError(w, api.NewForbiddenError("configured admins cannot be removed"))
	default:
		slog.Error("updating admin set", "error", err)
		api.HandleError(w, api.ErrUnavailable)
	}
}

func operator(r *http.Request) string {
	if claims := auth.GetAdminClaims(r.Context()); claims != nil {
		return claims.Username
	}
	return ""
}
