package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"zapgate/internal/http/responses"
	"zapgate/internal/infra/engine"
	"zapgate/pkg/logger"
)

// QueueHandler implementa os handlers da fila de mensagens pendentes
type QueueHandler struct {
	engine *engine.Engine
	logger logger.Logger
}

// NewQueueHandler cria uma nova instância do queue handler
func NewQueueHandler(eng *engine.Engine, log logger.Logger) *QueueHandler {
	return &QueueHandler{
		engine: eng,
		logger: log.WithComponent("queue-handler"),
	}
}

// GetQueue lista as mensagens pendentes da instância
func (h *QueueHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	items := h.engine.QueueSnapshot(instanceID)
	if items == nil {
		items = []*engine.PendingMessage{}
	}

	responses.Success(w, "Fila de mensagens", map[string]interface{}{
		"instanceId": instanceID,
		"size":       len(items),
		"messages":   items,
	})
}

// ClearQueue descarta todas as mensagens pendentes da instância
func (h *QueueHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	removed := h.engine.ClearQueue(instanceID)
	h.logger.WithInstance(instanceID).Info().
		Int("removed", removed).
		Msg("Queue cleared")

	responses.Success(w, "Fila descartada", map[string]interface{}{
		"instanceId": instanceID,
		"removed":    removed,
	})
}

// RemoveMessage remove uma mensagem específica da fila
func (h *QueueHandler) RemoveMessage(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	messageID := chi.URLParam(r, "messageID")

	if !h.engine.RemoveQueuedMessage(instanceID, messageID) {
		responses.NotFound(w, "Message not found in queue")
		return
	}

	responses.Success(w, "Mensagem removida da fila", map[string]interface{}{
		"instanceId": instanceID,
		"messageId":  messageID,
	})
}
