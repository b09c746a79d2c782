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

// InstanceHandler implementa os handlers de administração de instâncias
type InstanceHandler struct {
	engine    *engine.Engine
	repo      instance.Repository
	validator *validator.Validate
	logger    logger.Logger
}

// NewInstanceHandler cria uma nova instância do instance handler
func NewInstanceHandler(eng *engine.Engine, repo instance.Repository, log logger.Logger) *InstanceHandler {
	return &InstanceHandler{
		engine:    eng,
		repo:      repo,
		validator: validator.New(),
		logger:    log.WithComponent("instance-handler"),
	}
}

// CreateInstanceRequest representa os dados de criação de instância
type CreateInstanceRequest struct {
	ID         string `json:"id" validate:"required,min=1,max=100"`
	Name       string `json:"name" validate:"required,min=1,max=255"`
	WebhookURL string `json:"webhookUrl" validate:"omitempty,url"`
	SistemaURL string `json:"sistemaUrl" validate:"omitempty,url"`
	APIToken   string `json:"apiToken" validate:"omitempty,max=255"`
	Enabled    *bool  `json:"enabled"`
}

// CreateInstance cadastra uma nova instância
func (h *InstanceHandler) CreateInstance(w http.ResponseWriter, r *http.Request) {
	var req CreateInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error().Msg("Failed to decode create instance request")
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		responses.BadRequest(w, "Invalid request body", err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	inst := &instance.Instance{
		ID:         req.ID,
		Name:       req.Name,
		WebhookURL: req.WebhookURL,
		SistemaURL: req.SistemaURL,
		APIToken:   req.APIToken,
		Enabled:    enabled,
	}

	if err := h.repo.Create(r.Context(), inst); err != nil {
		if errors.Is(err, instance.ErrInstanceAlreadyExists) {
			responses.Conflict(w, "Instance already exists", "an instance with this id is already registered")
			return
		}
		h.logger.WithError(err).Error().Msg("Failed to create instance")
		responses.InternalError(w, "Failed to create instance")
		return
	}

	responses.Created(w, "Instância criada com sucesso", inst)
}

// ListInstances lista todas as instâncias cadastradas
func (h *InstanceHandler) ListInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.WithError(err).Error().Msg("Failed to list instances")
		responses.InternalError(w, "Failed to list instances")
		return
	}

	responses.Success(w, "Instâncias listadas com sucesso", instances)
}

// GetInstance retorna uma instância pelo ID
func (h *InstanceHandler) GetInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	inst, err := h.repo.GetByID(r.Context(), instanceID)
	if err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			responses.NotFound(w, "Instance not found")
			return
		}
		h.logger.WithError(err).WithInstance(instanceID).Error().Msg("Failed to get instance")
		responses.InternalError(w, "Failed to get instance")
		return
	}

	responses.Success(w, "Instância encontrada", inst)
}

// EnableInstance habilita a instância e inicia sua sessão
func (h *InstanceHandler) EnableInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.engine.Enable(r.Context(), instanceID); err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			responses.NotFound(w, "Instance not found")
			return
		}
		h.logger.WithError(err).WithInstance(instanceID).Error().Msg("Failed to enable instance")
		responses.InternalError(w, "Failed to enable instance")
		return
	}

	responses.Success(w, "Instância habilitada", map[string]interface{}{
		"instanceId": instanceID,
		"enabled":    true,
	})
}

// DisableInstance desabilita a instância e encerra sua sessão. Uma
// instância desabilitada não participa de rehydrate nem de reconexão.
func (h *InstanceHandler) DisableInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.engine.Disable(r.Context(), instanceID); err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			responses.NotFound(w, "Instance not found")
			return
		}
		h.logger.WithError(err).WithInstance(instanceID).Error().Msg("Failed to disable instance")
		responses.InternalError(w, "Failed to disable instance")
		return
	}

	responses.Success(w, "Instância desabilitada", map[string]interface{}{
		"instanceId": instanceID,
		"enabled":    false,
	})
}

// DeleteInstance remove a instância do cadastro. A sessão ativa, se
// houver, é encerrada antes da remoção.
func (h *InstanceHandler) DeleteInstance(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	if err := h.engine.StopInstance(r.Context(), instanceID); err != nil &&
		!errors.Is(err, instance.ErrInstanceNotFound) {
		h.logger.WithError(err).WithInstance(instanceID).Warn().Msg("Failed to stop session before delete")
	}

	if err := h.repo.Delete(r.Context(), instanceID); err != nil {
		if errors.Is(err, instance.ErrInstanceNotFound) {
			responses.NotFound(w, "Instance not found")
			return
		}
		h.logger.WithError(err).WithInstance(instanceID).Error().Msg("Failed to delete instance")
		responses.InternalError(w, "Failed to delete instance")
		return
	}

	responses.Success(w, "Instância removida com sucesso", nil)
}
