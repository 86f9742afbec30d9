package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aiox-platform/llmgate/internal/api"
)

type Handler struct {
	authSvc  *Service
	validate *validator.Validate
}

func NewHandler(authSvc *Service) *Handler {
	return &Handler{
		authSvc:  authSvc,
		validate: validator.New(),
	}
}

type TokenRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

// Token exchanges operator credentials for an admin token.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	token, err := h.authSvc.Login(req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		slog.Warn("admin login rejected", "username", req.Username)
		api.HandleError(w, api.ErrInvalidCredentials)
		return
	}
	if err != nil {
		slog.Error("issuing admin token", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, token)
}
