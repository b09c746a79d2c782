package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"zapgate/internal/domain/instance"
	"zapgate/internal/http/responses"
	"zapgate/internal/infra/engine"
	"zapgate/internal/infra/media"
	"zapgate/pkg/logger"
)

// SendHandler implementa os handlers de envio de mensagens
type SendHandler struct {
	engine    *engine.Engine
	repo      instance.Repository
	media     *media.Processor
	validator *validator.Validate
	logger    logger.Logger
}

// NewSendHandler cria uma nova instância do send handler
func NewSendHandler(eng *engine.Engine, repo instance.Repository, proc *media.Processor, log logger.Logger) *SendHandler {
	return &SendHandler{
		engine:    eng,
		repo:      repo,
		media:     proc,
		validator: validator.New(),
		logger:    log.WithComponent("send-handler"),
	}
}

// SendTextRequest representa os dados de envio de texto
type SendTextRequest struct {
	Instance string `json:"instance" validate:"required,min=1,max=100"`
	To       string `json:"to" validate:"required,min=8"`
	Message  string `json:"message" validate:"required,min=1"`
	Token    string `json:"token"`
}

// SendMediaRequest representa os dados de envio de mídia. Media
// aceita data URL base64 ou URL HTTP.
type SendMediaRequest struct {
	Instance string `json:"instance" validate:"required,min=1,max=100"`
	To       string `json:"to" validate:"required,min=8"`
	Media    string `json:"media" validate:"required,min=8"`
	MimeType string `json:"mimeType"`
	FileName string `json:"fileName"`
	Caption  string `json:"caption"`
	Token    string `json:"token"`
}

// authorize valida o token da instância quando há um configurado
func (h *SendHandler) authorize(w http.ResponseWriter, r *http.Request, instanceID, token string) bool {
	inst, err := h.repo.GetByID(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			responses.NotFound(w, "Instance not found")
			return false
		}
		h.logger.WithError(err).WithInstance(instanceID).Error().Msg("Failed to load instance for send")
		responses.InternalError(w, "Failed to load instance")
		return false
	}

	if inst.APIToken != "" && inst.APIToken != token {
		responses.Unauthorized(w, "Invalid instance token")
		return false
	}
	return true
}

// writeSendResult escreve 200 para envio síncrono e 202 para
// mensagem enfileirada
func (h *SendHandler) writeSendResult(w http.ResponseWriter, result *engine.SendResult) {
	if result.Queued {
		responses.Accepted(w, "Mensagem enfileirada", map[string]interface{}{
			"queued":    true,
			"messageId": result.MessageID,
			"position":  result.Position,
			"queueSize": result.QueueSize,
		})
		return
	}

	responses.Success(w, "Mensagem enviada", map[string]interface{}{
		"queued":    false,
		"messageId": result.MessageID,
	})
}

// writeSendError traduz erros de envio para o status HTTP adequado
func (h *SendHandler) writeSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, instance.ErrInstanceNotFound):
		responses.NotFound(w, "Instance not found")
	case errors.Is(err, instance.ErrInstanceDisabled):
		responses.Forbidden(w, "Instance is disabled", "enable the instance before sending messages")
	default:
		responses.InternalError(w, "Failed to send message")
	}
}

// SendText envia uma mensagem de texto pela instância
func (h *SendHandler) SendText(w http.ResponseWriter, r *http.Request) {
	var req SendTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error().Msg("Failed to decode send text request")
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}

	if !h.authorize(w, r, req.Instance, req.Token) {
		return
	}

	result, err := h.engine.SendText(r.Context(), req.Instance, req.To, req.Message)
	if err != nil {
		h.logger.WithError(err).WithInstance(req.Instance).Error().Msg("Failed to send text message")
		h.writeSendError(w, err)
		return
	}

	h.writeSendResult(w, result)
}

// SendMedia envia uma mídia pela instância, com a mesma semântica de
// enfileiramento do envio de texto
func (h *SendHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	var req SendMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error().Msg("Failed to decode send media request")
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}

	if !h.authorize(w, r, req.Instance, req.Token) {
		return
	}

	payload, err := h.media.Prepare(r.Context(), req.Media, req.MimeType, req.FileName, req.Caption)
	if err != nil {
		h.logger.WithError(err).WithInstance(req.Instance).Error().Msg("Failed to prepare media payload")
		responses.BadRequest(w, "Invalid media payload", err.Error())
		return
	}

	result, err := h.engine.SendMedia(r.Context(), req.Instance, req.To, &payload)
	if err != nil {
		h.logger.WithError(err).WithInstance(req.Instance).Error().Msg("Failed to send media message")
		h.writeSendError(w, err)
		return
	}

	h.writeSendResult(w, result)
}
