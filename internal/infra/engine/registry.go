package engine

import (
	"sync"

	"zapgate/pkg/logger"
)

// Registry é a fonte única de verdade sobre as sessões ativas em
// memória. Operações de escrita são serializadas pelo mutex; leituras
// devolvem cópias para que nenhum caller segure referência ao estado
// interno durante I/O.
type Registry struct {
	sessions map[string]*SessionState
	mutex    sync.RWMutex
	logger   logger.Logger
}

// NewRegistry cria um novo registry de sessões
func NewRegistry(log logger.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*SessionState),
		logger:   log.WithComponent("session-registry"),
	}
}

// Register cria e registra o estado de uma nova sessão. Retorna false
// se a instância já possui sessão registrada.
func (r *Registry) Register(instanceID string) (*SessionState, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[instanceID]; exists {
		return nil, false
	}

	state := newSessionState(instanceID)
	r.sessions[instanceID] = state

	r.logger.Debug().
		Str("instance_id", instanceID).
		Msg("Session registered")

	return state, true
}

// Get retorna o estado da sessão, se registrado
func (r *Registry) Get(instanceID string) (*SessionState, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	state, exists := r.sessions[instanceID]
	return state, exists
}

// Remove remove a sessão do registry. Retorna o estado removido para
// que o caller faça o teardown fora do lock.
func (r *Registry) Remove(instanceID string) (*SessionState, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	state, exists := r.sessions[instanceID]
	if !exists {
		return nil, false
	}
	delete(r.sessions, instanceID)

	r.logger.Debug().
		Str("instance_id", instanceID).
		Msg("Session removed")

	return state, true
}

// Has verifica se a instância possui sessão registrada
func (r *Registry) Has(instanceID string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.sessions[instanceID]
	return exists
}

// Count retorna o número de sessões registradas
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.sessions)
}

// Snapshots retorna uma cópia do estado de todas as sessões
func (r *Registry) Snapshots() []Snapshot {
	r.mutex.RLock()
	states := make([]*SessionState, 0, len(r.sessions))
	for _, state := range r.sessions {
		states = append(states, state)
	}
	r.mutex.RUnlock()

	// Snapshot fora do lock do registry; cada estado tem seu mutex
	snapshots := make([]Snapshot, 0, len(states))
	for _, state := range states {
		snapshots = append(snapshots, state.Snapshot())
	}
	return snapshots
}

// IDs retorna os IDs das instâncias com sessão registrada
func (r *Registry) IDs() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}
