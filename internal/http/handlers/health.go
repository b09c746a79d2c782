package handlers

import (
	"net/http"
	"runtime"

	"zapgate/internal/http/responses"
	"zapgate/internal/infra/engine"
)

// HealthHandler implementa o handler de health check
type HealthHandler struct {
	engine *engine.Engine
}

// NewHealthHandler cria uma nova instância do health handler
func NewHealthHandler(eng *engine.Engine) *HealthHandler {
	return &HealthHandler{engine: eng}
}

// Health resume o estado do engine: status por instância, memória do
// processo e tamanho das filas
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	snapshot := h.engine.Health()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	queues := make(map[string]int, len(snapshot.Sessions))
	for _, sess := range snapshot.Sessions {
		queues[sess.InstanceID] = len(h.engine.QueueSnapshot(sess.InstanceID))
	}

	responses.Success(w, "Service is healthy", map[string]interface{}{
		"status":        "ok",
		"service":       "zapgate-api",
		"sessions":      snapshot.Sessions,
		"totalSessions": snapshot.TotalSessions,
		"connected":     snapshot.Connected,
		"reconnecting":  snapshot.Reconnecting,
		"uptime":        snapshot.Uptime,
		"queues":        queues,
		"memory": map[string]interface{}{
			"heapAllocBytes": mem.HeapAlloc,
			"sysBytes":       mem.Sys,
			"numGoroutine":   runtime.NumGoroutine(),
		},
	})
}
