package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

// PendingMessage é uma mensagem aceita enquanto a sessão não estava
// operacional, aguardando o drain após a reconexão.
type PendingMessage struct {
	ID         string          `json:"id"`
	InstanceID string          `json:"instanceId"`
	To         string          `json:"to"`
	Body       string          `json:"body,omitempty"`
	Media      *whatsapp.Media `json:"-"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	Attempts   int             `json:"attempts"`
}

// IsMedia verifica se a mensagem pendente carrega mídia
func (m *PendingMessage) IsMedia() bool {
	return m.Media != nil
}

// PendingQueue é a fila FIFO de mensagens pendentes de uma instância.
// Capacidade fixa com descarte do item mais antigo quando cheia; itens
// expiram por TTL no momento do drain ou da inspeção.
type PendingQueue struct {
	instanceID string
	items      []*PendingMessage
	maxSize    int
	ttl        time.Duration
	mu         sync.Mutex
	logger     logger.Logger
}

// NewPendingQueue cria uma fila de pendentes para a instância
func NewPendingQueue(instanceID string, maxSize int, ttl time.Duration, log logger.Logger) *PendingQueue {
	return &PendingQueue{
		instanceID: instanceID,
		items:      make([]*PendingMessage, 0),
		maxSize:    maxSize,
		ttl:        ttl,
		logger:     log.WithComponent("pending-queue").WithInstance(instanceID),
	}
}

// Enqueue adiciona uma mensagem à fila e retorna o item criado junto
// com a posição (1-based). Se a fila está cheia, o item mais antigo é
// descartado antes da inserção.
func (q *PendingQueue) Enqueue(to, body string, media *whatsapp.Media) (*PendingMessage, int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredLocked()

	if len(q.items) >= q.maxSize {
		dropped := q.items[0]
		q.items = q.items[1:]
		q.logger.Warn().
			Str("message_id", dropped.ID).
			Msg("Pending queue full, dropping oldest message")
	}

	msg := &PendingMessage{
		ID:         uuid.New().String(),
		InstanceID: q.instanceID,
		To:         to,
		Body:       body,
		Media:      media,
		EnqueuedAt: time.Now(),
	}
	q.items = append(q.items, msg)

	return msg, len(q.items)
}

// Dequeue remove e retorna a mensagem mais antiga não expirada.
// Retorna nil quando a fila está vazia.
func (q *PendingQueue) Dequeue() *PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredLocked()

	if len(q.items) == 0 {
		return nil
	}
	msg := q.items[0]
	q.items = q.items[1:]
	return msg
}

// Requeue devolve uma mensagem à frente da fila após uma falha de
// envio. Retorna false se a mensagem estourou o limite de tentativas
// e foi descartada.
func (q *PendingQueue) Requeue(msg *PendingMessage, maxRetries int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg.Attempts++
	if msg.Attempts >= maxRetries {
		q.logger.Warn().
			Str("message_id", msg.ID).
			Int("attempts", msg.Attempts).
			Msg("Pending message dropped after max retries")
		return false
	}

	q.items = append([]*PendingMessage{msg}, q.items...)
	return true
}

// RemoveByID remove uma mensagem específica da fila
func (q *PendingQueue) RemoveByID(messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, msg := range q.items {
		if msg.ID == messageID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear esvazia a fila e retorna quantos itens foram descartados
func (q *PendingQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	q.items = q.items[:0]
	return n
}

// Len retorna o tamanho atual da fila, já sem os expirados
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredLocked()
	return len(q.items)
}

// Items retorna uma cópia das mensagens pendentes, na ordem da fila
func (q *PendingQueue) Items() []*PendingMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.evictExpiredLocked()

	out := make([]*PendingMessage, len(q.items))
	copy(out, q.items)
	return out
}

// evictExpiredLocked descarta mensagens além do TTL; caller segura o lock
func (q *PendingQueue) evictExpiredLocked() {
	if q.ttl <= 0 || len(q.items) == 0 {
		return
	}

	cutoff := time.Now().Add(-q.ttl)
	kept := q.items[:0]
	for _, msg := range q.items {
		if msg.EnqueuedAt.After(cutoff) {
			kept = append(kept, msg)
		} else {
			q.logger.Debug().
				Str("message_id", msg.ID).
				Msg("Pending message expired")
		}
	}
	q.items = kept
}

// QueueSet agrupa as filas de pendentes por instância
type QueueSet struct {
	queues  map[string]*PendingQueue
	maxSize int
	ttl     time.Duration
	mu      sync.Mutex
	logger  logger.Logger
}

// NewQueueSet cria o conjunto de filas de pendentes
func NewQueueSet(maxSize int, ttl time.Duration, log logger.Logger) *QueueSet {
	return &QueueSet{
		queues:  make(map[string]*PendingQueue),
		maxSize: maxSize,
		ttl:     ttl,
		logger:  log,
	}
}

// ForInstance retorna a fila da instância, criando se necessário
func (s *QueueSet) ForInstance(instanceID string) *PendingQueue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[instanceID]; ok {
		return q
	}
	q := NewPendingQueue(instanceID, s.maxSize, s.ttl, s.logger)
	s.queues[instanceID] = q
	return q
}

// Peek retorna a fila da instância sem criar uma nova
func (s *QueueSet) Peek(instanceID string) (*PendingQueue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[instanceID]
	return q, ok
}

// Drop descarta a fila da instância
func (s *QueueSet) Drop(instanceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.queues, instanceID)
}
