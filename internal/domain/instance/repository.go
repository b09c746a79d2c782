package instance

import (
	"context"
	"time"
)

// Repository define as operações de persistência para instâncias
type Repository interface {
	// Create cria uma nova instância no banco de dados
	Create(ctx context.Context, inst *Instance) error

	// GetByID busca uma instância pelo ID
	GetByID(ctx context.Context, id string) (*Instance, error)

	// List retorna todas as instâncias
	List(ctx context.Context) ([]*Instance, error)

	// ListEnabled retorna as instâncias habilitadas, candidatas ao boot
	ListEnabled(ctx context.Context) ([]*Instance, error)

	// Update atualiza uma instância existente
	Update(ctx context.Context, inst *Instance) error

	// UpdateConnectionStatus atualiza apenas o status de conexão
	UpdateConnectionStatus(ctx context.Context, id string, status ConnectionStatus) error

	// UpdateConnected registra uma conexão bem sucedida (status, telefone e timestamp)
	UpdateConnected(ctx context.Context, id, phone string, at time.Time) error

	// UpdateDisconnect registra o motivo da última desconexão
	UpdateDisconnect(ctx context.Context, id string, reason string) error

	// UpdateReconnectAttempts persiste o contador de tentativas de reconexão
	UpdateReconnectAttempts(ctx context.Context, id string, attempts int) error

	// SetEnabled altera a intenção operacional da instância
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// Delete remove uma instância do banco de dados
	Delete(ctx context.Context, id string) error
}
