package engine

import (
	"context"
	"sync"
	"time"

	"zapgate/internal/domain/whatsapp"
)

// Status representa o estado do ciclo de vida de uma sessão
type Status string

const (
	StatusInitializing  Status = "INITIALIZING"
	StatusLoading       Status = "LOADING"
	StatusQRRequired    Status = "QR_REQUIRED"
	StatusAuthenticated Status = "AUTHENTICATED"
	StatusConnected     Status = "CONNECTED"
	StatusSyncTimeout   Status = "SYNC_TIMEOUT"
	StatusDisconnected  Status = "DISCONNECTED"
	StatusAuthFailure   Status = "AUTH_FAILURE"
	StatusInitError     Status = "INIT_ERROR"
	StatusReconnecting  Status = "RECONNECTING"
)

// IsTerminalFailure verifica se o status é uma falha que encerra o
// ciclo de vida corrente (a sessão só sai dele por nova tentativa)
func (s Status) IsTerminalFailure() bool {
	switch s {
	case StatusAuthFailure, StatusInitError:
		return true
	}
	return false
}

// IsOperational verifica se a sessão está apta a enviar mensagens
func (s Status) IsOperational() bool {
	return s == StatusConnected
}

// SessionState é o estado em memória de uma sessão ativa. Todos os
// campos são protegidos pelo mutex do registry; leituras externas
// recebem uma cópia via Snapshot.
type SessionState struct {
	InstanceID string           `json:"instanceId"`
	Status     Status           `json:"status"`
	Client     whatsapp.Client  `json:"-"`
	QRCode     string           `json:"-"`
	Percent    int              `json:"percent,omitempty"`
	Phone      string           `json:"phone,omitempty"`

	// Timestamps de observabilidade
	StartedAt        time.Time  `json:"startedAt"`
	ConnectedAt      *time.Time `json:"connectedAt,omitempty"`
	LastActivity     time.Time  `json:"lastActivity"`
	LastHealthCheck  time.Time  `json:"lastHealthCheck"`
	LastStatusChange time.Time  `json:"lastStatusChange"`

	// Contadores de supervisão
	ConsecutiveFailures int `json:"consecutiveFailures"`
	ContextErrors       int `json:"contextErrors"`
	ReconnectAttempts   int `json:"reconnectAttempts"`

	// Degraded marca a sessão para reciclagem pela varredura de
	// recuperação (heap do cliente acima do limite)
	Degraded bool `json:"degraded,omitempty"`

	// Flags de controle reentrante
	PromotionRunning bool `json:"-"`
	finalizing       bool

	// Cancelamentos dos probes armados para esta sessão
	probeCancel context.CancelFunc
	eventCancel context.CancelFunc

	// Canal de parada do loop de eventos, fechado no teardown
	done chan struct{}

	mu sync.Mutex
}

// Snapshot retorna uma cópia dos campos exportados do estado
type Snapshot struct {
	InstanceID          string     `json:"instanceId"`
	Status              Status     `json:"status"`
	Percent             int        `json:"percent,omitempty"`
	Phone               string     `json:"phone,omitempty"`
	HasQR               bool       `json:"hasQr"`
	StartedAt           time.Time  `json:"startedAt"`
	ConnectedAt         *time.Time `json:"connectedAt,omitempty"`
	LastActivity        time.Time  `json:"lastActivity"`
	LastHealthCheck     time.Time  `json:"lastHealthCheck"`
	LastStatusChange    time.Time  `json:"lastStatusChange"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	ContextErrors       int        `json:"contextErrors"`
	ReconnectAttempts   int        `json:"reconnectAttempts"`
	Degraded            bool       `json:"degraded,omitempty"`
}

// newSessionState cria o estado inicial de uma sessão
func newSessionState(instanceID string) *SessionState {
	now := time.Now()
	return &SessionState{
		InstanceID:       instanceID,
		Status:           StatusInitializing,
		StartedAt:        now,
		LastActivity:     now,
		LastHealthCheck:  now,
		LastStatusChange: now,
		done:             make(chan struct{}),
	}
}

// snapshotLocked monta a cópia; o caller segura o mutex
func (s *SessionState) snapshotLocked() Snapshot {
	var connectedAt *time.Time
	if s.ConnectedAt != nil {
		t := *s.ConnectedAt
		connectedAt = &t
	}
	return Snapshot{
		InstanceID:          s.InstanceID,
		Status:              s.Status,
		Percent:             s.Percent,
		Phone:               s.Phone,
		HasQR:               s.QRCode != "",
		StartedAt:           s.StartedAt,
		ConnectedAt:         connectedAt,
		LastActivity:        s.LastActivity,
		LastHealthCheck:     s.LastHealthCheck,
		LastStatusChange:    s.LastStatusChange,
		ConsecutiveFailures: s.ConsecutiveFailures,
		ContextErrors:       s.ContextErrors,
		ReconnectAttempts:   s.ReconnectAttempts,
		Degraded:            s.Degraded,
	}
}

// Snapshot retorna uma cópia segura do estado
func (s *SessionState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// setStatus atualiza o status registrando o momento da transição
func (s *SessionState) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Status == status {
		return
	}
	s.Status = status
	s.LastStatusChange = time.Now()
}

// CurrentStatus retorna o status atual
func (s *SessionState) CurrentStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status
}

// TouchActivity registra atividade da sessão (evento ou envio)
func (s *SessionState) TouchActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastActivity = time.Now()
}

// TouchHealthCheck registra um health check bem sucedido
func (s *SessionState) TouchHealthCheck() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastHealthCheck = time.Now()
	s.ConsecutiveFailures = 0
}

// RecordCheckFailure incrementa o contador de falhas consecutivas e
// retorna o novo valor
func (s *SessionState) RecordCheckFailure() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConsecutiveFailures++
	return s.ConsecutiveFailures
}

// RecordContextError incrementa o contador de erros de contexto
// destruído e retorna o novo valor
func (s *SessionState) RecordContextError() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ContextErrors++
	return s.ContextErrors
}

// MarkDegraded sinaliza a sessão para reciclagem pela varredura de
// recuperação
func (s *SessionState) MarkDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Degraded = true
}

// TryBeginPromotion tenta reservar o slot único do loop de promoção.
// Retorna false se já houver uma promoção em andamento.
func (s *SessionState) TryBeginPromotion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PromotionRunning {
		return false
	}
	s.PromotionRunning = true
	return true
}

// EndPromotion libera o slot de promoção
func (s *SessionState) EndPromotion() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PromotionRunning = false
}
