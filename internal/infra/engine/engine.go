package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"zapgate/internal/app/config"
	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

// BlobStore é a superfície que o engine consome do armazenamento de
// blobs de autenticação
type BlobStore interface {
	Exists(instanceID string) bool
	Save(instanceID, sourceDir string) error
	Extract(instanceID, targetDir string) error
	Delete(instanceID string) error
	List() ([]string, error)
}

// Engine orquestra o ciclo de vida das sessões: criação, supervisão,
// reconexão, fila de pendentes e desligamento.
type Engine struct {
	cfg      *config.Config
	policy   *config.EnginePolicy
	logger   logger.Logger
	registry *Registry
	queues   *QueueSet
	repo     instance.Repository
	blobs    BlobStore
	factory  whatsapp.ClientFactory
	backoff  *backoffPolicy

	// Uma reconexão em voo por instância
	reconnectMu  sync.Mutex
	reconnecting map[string]bool

	shuttingDown atomic.Bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// New cria o engine de sessões
func New(
	cfg *config.Config,
	repo instance.Repository,
	blobs BlobStore,
	factory whatsapp.ClientFactory,
	log logger.Logger,
) *Engine {
	engineLog := log.WithComponent("session-engine")

	return &Engine{
		cfg:          cfg,
		policy:       &cfg.Engine,
		logger:       engineLog,
		registry:     NewRegistry(engineLog),
		queues:       NewQueueSet(cfg.Engine.MaxQueueSize, cfg.Engine.MessageTTL, engineLog),
		repo:         repo,
		blobs:        blobs,
		factory:      factory,
		backoff:      newBackoffPolicy(&cfg.Engine),
		reconnecting: make(map[string]bool),
		stopCh:       make(chan struct{}),
	}
}

// Registry expõe o registry para inspeção (handlers de status)
func (e *Engine) Registry() *Registry {
	return e.registry
}

// cacheDir retorna o diretório de trabalho do cliente da instância
func (e *Engine) cacheDir(instanceID string) string {
	return filepath.Join(e.cfg.Storage.CachePath, instanceID)
}

// Status retorna o snapshot da sessão da instância
func (e *Engine) Status(instanceID string) (Snapshot, bool) {
	state, ok := e.registry.Get(instanceID)
	if !ok {
		return Snapshot{}, false
	}
	return state.Snapshot(), true
}

// HasAuthBlob verifica se a instância tem credenciais arquivadas
func (e *Engine) HasAuthBlob(instanceID string) bool {
	return e.blobs.Exists(instanceID)
}

// SendResult descreve o desfecho de um pedido de envio
type SendResult struct {
	MessageID string `json:"messageId,omitempty"`
	Queued    bool   `json:"queued"`
	Position  int    `json:"position,omitempty"`
	QueueSize int    `json:"queueSize,omitempty"`
}

// SendText envia uma mensagem de texto pela instância. Se a sessão
// não está operacional mas a instância está habilitada, a mensagem é
// aceita na fila de pendentes.
func (e *Engine) SendText(ctx context.Context, instanceID, to, body string) (*SendResult, error) {
	return e.send(ctx, instanceID, to, body, nil)
}

// SendMedia envia uma mídia pela instância, com a mesma semântica de
// enfileiramento do envio de texto
func (e *Engine) SendMedia(ctx context.Context, instanceID, to string, media *whatsapp.Media) (*SendResult, error) {
	return e.send(ctx, instanceID, to, "", media)
}

func (e *Engine) send(ctx context.Context, instanceID, to, body string, media *whatsapp.Media) (*SendResult, error) {
	if e.shuttingDown.Load() {
		return nil, errors.New("engine is shutting down")
	}

	connectionLost := false

	state, ok := e.registry.Get(instanceID)
	if ok && state.CurrentStatus().IsOperational() {
		client := e.clientOf(state)
		if client != nil {
			messageID, err := e.deliver(ctx, client, to, body, media)
			if err == nil {
				state.TouchActivity()
				return &SendResult{MessageID: messageID}, nil
			}

			// Falha com a sessão supostamente operacional: só a perda
			// de conexão justifica enfileirar; qualquer outro erro é
			// do pedido e volta para o caller
			if !whatsapp.IsConnectionLoss(err) {
				return nil, err
			}

			connectionLost = true
			e.logger.WithError(err).Warn().
				Str("instance_id", instanceID).
				Msg("Send hit disconnected client, queueing and recycling session")
		}
	}

	// Sessão indisponível: aceitar na fila se a instância existe e
	// está habilitada
	inst, err := e.repo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if !inst.Enabled {
		return nil, instance.ErrInstanceDisabled
	}

	queue := e.queues.ForInstance(instanceID)
	msg, position := queue.Enqueue(to, body, media)

	e.logger.Info().
		Str("instance_id", instanceID).
		Str("message_id", msg.ID).
		Int("position", position).
		Msg("Message queued while session unavailable")

	if connectionLost {
		// A sessão existe mas o cliente morreu por baixo dela:
		// derrubar e reconectar
		e.recycleByID(instanceID, whatsapp.ReasonNetwork)
	} else if !ok && !e.isReconnecting(instanceID) {
		// Sessão ausente mas instância habilitada: acordar a reconexão
		e.scheduleReconnect(instanceID, whatsapp.ReasonUnknown)
	}

	return &SendResult{
		Queued:    true,
		Position:  position,
		QueueSize: queue.Len(),
	}, nil
}

// deliver entrega uma mensagem pelo cliente com timeout de envio
func (e *Engine) deliver(ctx context.Context, client whatsapp.Client, to, body string, media *whatsapp.Media) (string, error) {
	sendCtx, cancel := context.WithTimeout(ctx, e.policy.StateCheckTimeout)
	defer cancel()

	if media != nil {
		return client.SendMedia(sendCtx, to, *media)
	}
	return client.SendText(sendCtx, to, body)
}

// clientOf lê o handle do cliente sob o lock do estado
func (e *Engine) clientOf(state *SessionState) whatsapp.Client {
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.Client
}

// QueueSnapshot retorna as mensagens pendentes da instância
func (e *Engine) QueueSnapshot(instanceID string) []*PendingMessage {
	queue, ok := e.queues.Peek(instanceID)
	if !ok {
		return nil
	}
	return queue.Items()
}

// ClearQueue descarta as mensagens pendentes da instância
func (e *Engine) ClearQueue(instanceID string) int {
	queue, ok := e.queues.Peek(instanceID)
	if !ok {
		return 0
	}
	return queue.Clear()
}

// RemoveQueuedMessage remove uma mensagem específica da fila
func (e *Engine) RemoveQueuedMessage(instanceID, messageID string) bool {
	queue, ok := e.queues.Peek(instanceID)
	if !ok {
		return false
	}
	return queue.RemoveByID(messageID)
}

// HealthSnapshot resume o estado do engine para o health check
type HealthSnapshot struct {
	Sessions      []Snapshot `json:"sessions"`
	TotalSessions int        `json:"totalSessions"`
	Connected     int        `json:"connected"`
	Reconnecting  int        `json:"reconnecting"`
	Uptime        string     `json:"uptime"`
}

var engineStartedAt = time.Now()

// Health retorna o snapshot agregado das sessões
func (e *Engine) Health() HealthSnapshot {
	snapshots := e.registry.Snapshots()

	var connected, reconnecting int
	for _, snap := range snapshots {
		switch snap.Status {
		case StatusConnected:
			connected++
		case StatusReconnecting:
			reconnecting++
		}
	}

	return HealthSnapshot{
		Sessions:      snapshots,
		TotalSessions: len(snapshots),
		Connected:     connected,
		Reconnecting:  reconnecting,
		Uptime:        time.Since(engineStartedAt).Round(time.Second).String(),
	}
}

// Enable habilita a instância e dispara a subida da sessão
func (e *Engine) Enable(ctx context.Context, instanceID string) error {
	if err := e.repo.SetEnabled(ctx, instanceID, true); err != nil {
		return err
	}

	if !e.registry.Has(instanceID) {
		if err := e.StartInstance(ctx, instanceID); err != nil &&
			!errors.Is(err, instance.ErrSessionInProgress) {
			return err
		}
	}
	return nil
}

// Disable desabilita a instância e derruba a sessão ativa
func (e *Engine) Disable(ctx context.Context, instanceID string) error {
	if err := e.repo.SetEnabled(ctx, instanceID, false); err != nil {
		return err
	}
	return e.StopInstance(ctx, instanceID)
}
