package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"zapgate/internal/domain/instance"
	"zapgate/internal/http/responses"
	"zapgate/internal/infra/engine"
	"zapgate/pkg/logger"
)

// SessionHandler implementa os handlers de ciclo de vida de sessão
type SessionHandler struct {
	engine    *engine.Engine
	repo      instance.Repository
	validator *validator.Validate
	logger    logger.Logger
}

// NewSessionHandler cria uma nova instância do session handler
func NewSessionHandler(eng *engine.Engine, repo instance.Repository, log logger.Logger) *SessionHandler {
	return &SessionHandler{
		engine:    eng,
		repo:      repo,
		validator: validator.New(),
		logger:    log.WithComponent("session-handler"),
	}
}

// SessionRequest identifica a instância alvo das operações de sessão
type SessionRequest struct {
	InstanceID string `json:"instanceId" validate:"required,min=1,max=100"`
}

func (h *SessionHandler) decodeSessionRequest(w http.ResponseWriter, r *http.Request) (SessionRequest, bool) {
	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error().Msg("Failed to decode session request")
		responses.BadRequest(w, "Invalid request body", err.Error())
		return req, false
	}
	if err := h.validator.Struct(req); err != nil {
		responses.BadRequest(w, "Invalid request body", err.Error())
		return req, false
	}
	return req, true
}

// writeSessionError traduz erros do engine para o status HTTP adequado
func (h *SessionHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, instance.ErrInstanceNotFound):
		responses.NotFound(w, "Instance not found")
	case errors.Is(err, instance.ErrInstanceDisabled):
		responses.Forbidden(w, "Instance is disabled", "enable the instance before starting a session")
	case errors.Is(err, instance.ErrSessionInProgress):
		responses.Conflict(w, "Session already in progress", "a session for this instance is already running")
	default:
		responses.InternalError(w, "Session operation failed")
	}
}

// StartSession inicia a sessão de uma instância. A inicialização é
// assíncrona, então a resposta é sempre 202.
func (h *SessionHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSessionRequest(w, r)
	if !ok {
		return
	}

	if err := h.engine.StartInstance(r.Context(), req.InstanceID); err != nil {
		h.logger.WithError(err).WithInstance(req.InstanceID).Error().Msg("Failed to start session")
		h.writeSessionError(w, err)
		return
	}

	responses.Accepted(w, "Sessão iniciando", map[string]interface{}{
		"instanceId": req.InstanceID,
	})
}

// StopSession encerra a sessão mantendo a instância habilitada
func (h *SessionHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSessionRequest(w, r)
	if !ok {
		return
	}

	if err := h.engine.StopInstance(r.Context(), req.InstanceID); err != nil {
		h.logger.WithError(err).WithInstance(req.InstanceID).Error().Msg("Failed to stop session")
		h.writeSessionError(w, err)
		return
	}

	responses.Success(w, "Sessão encerrada", map[string]interface{}{
		"instanceId": req.InstanceID,
	})
}

// ReconnectSession força uma reconexão imediata
func (h *SessionHandler) ReconnectSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSessionRequest(w, r)
	if !ok {
		return
	}

	if err := h.engine.Reconnect(r.Context(), req.InstanceID); err != nil {
		h.logger.WithError(err).WithInstance(req.InstanceID).Error().Msg("Failed to reconnect session")
		h.writeSessionError(w, err)
		return
	}

	responses.Accepted(w, "Reconexão iniciada", map[string]interface{}{
		"instanceId": req.InstanceID,
	})
}

// ResetSession descarta o blob de autenticação e reinicia a sessão.
// A instância volta para o fluxo de QR.
func (h *SessionHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeSessionRequest(w, r)
	if !ok {
		return
	}

	if err := h.engine.Reset(r.Context(), req.InstanceID); err != nil {
		h.logger.WithError(err).WithInstance(req.InstanceID).Error().Msg("Failed to reset session")
		h.writeSessionError(w, err)
		return
	}

	responses.Accepted(w, "Sessão resetada", map[string]interface{}{
		"instanceId": req.InstanceID,
	})
}

// GetStatus retorna o status da sessão. Sem sessão ativa o status
// persistido no banco é usado, para manter a instância observável
// mesmo em falha.
func (h *SessionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	if snapshot, ok := h.engine.Status(instanceID); ok {
		responses.Success(w, "Status da sessão", snapshot)
		return
	}

	inst, err := h.repo.GetByID(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			responses.NotFound(w, "Instance not found")
			return
		}
		h.logger.WithError(err).WithInstance(instanceID).Error().Msg("Failed to load instance status")
		responses.InternalError(w, "Failed to load instance status")
		return
	}

	responses.Success(w, "Status da sessão", map[string]interface{}{
		"instanceId":           inst.ID,
		"status":               inst.ConnectionStatus,
		"hasQr":                false,
		"enabled":              inst.Enabled,
		"phone":                inst.Phone,
		"lastConnectionAt":     inst.LastConnectionAt,
		"lastDisconnectReason": inst.LastDisconnectReason,
		"reconnectAttempts":    inst.ReconnectAttempts,
	})
}

// GetQRCode retorna o QR code corrente como PNG
func (h *SessionHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	png, err := h.engine.QRCodePNG(instanceID, 0)
	if err != nil {
		if errors.Is(err, engine.ErrQRNotAvailable) {
			responses.NotFound(w, "QR code not available")
			return
		}
		h.logger.WithError(err).WithInstance(instanceID).Error().Msg("Failed to render QR code")
		responses.InternalError(w, "Failed to render QR code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}
