package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"zapgate/internal/domain/instance"
)

// instanceRepository implementa a interface instance.Repository
type instanceRepository struct {
	db *bun.DB
}

// NewInstanceRepository cria uma nova instância do repositório
func NewInstanceRepository(db *bun.DB) instance.Repository {
	return &instanceRepository{db: db}
}

// Create cria uma nova instância no banco de dados
func (r *instanceRepository) Create(ctx context.Context, inst *instance.Instance) error {
	now := time.Now()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.ConnectionStatus == "" {
		inst.ConnectionStatus = instance.StatusDisconnected
	}

	_, err := r.db.NewInsert().Model(inst).Exec(ctx)
	return err
}

// GetByID busca uma instância pelo ID
func (r *instanceRepository) GetByID(ctx context.Context, id string) (*instance.Instance, error) {
	inst := new(instance.Instance)
	err := r.db.NewSelect().Model(inst).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, instance.ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

// List retorna todas as instâncias
func (r *instanceRepository) List(ctx context.Context) ([]*instance.Instance, error) {
	var instances []*instance.Instance
	err := r.db.NewSelect().Model(&instances).Order("created_at DESC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// ListEnabled retorna as instâncias habilitadas, candidatas ao boot
func (r *instanceRepository) ListEnabled(ctx context.Context) ([]*instance.Instance, error) {
	var instances []*instance.Instance
	err := r.db.NewSelect().
		Model(&instances).
		Where("enabled = ?", true).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// Update atualiza uma instância existente
func (r *instanceRepository) Update(ctx context.Context, inst *instance.Instance) error {
	inst.UpdatedAt = time.Now()

	_, err := r.db.NewUpdate().
		Model(inst).
		Where("id = ?", inst.ID).
		Exec(ctx)

	return err
}

// UpdateConnectionStatus atualiza apenas o status de conexão
func (r *instanceRepository) UpdateConnectionStatus(ctx context.Context, id string, status instance.ConnectionStatus) error {
	_, err := r.db.NewUpdate().
		Model((*instance.Instance)(nil)).
		Set("connection_status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// UpdateConnected registra uma conexão bem sucedida
func (r *instanceRepository) UpdateConnected(ctx context.Context, id, phone string, at time.Time) error {
	q := r.db.NewUpdate().
		Model((*instance.Instance)(nil)).
		Set("connection_status = ?", instance.StatusConnected).
		Set("last_connection_at = ?", at).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id)

	if phone != "" {
		q = q.Set("phone = ?", phone)
	}

	_, err := q.Exec(ctx)
	return err
}

// UpdateDisconnect registra o motivo da última desconexão
func (r *instanceRepository) UpdateDisconnect(ctx context.Context, id string, reason string) error {
	_, err := r.db.NewUpdate().
		Model((*instance.Instance)(nil)).
		Set("connection_status = ?", instance.StatusDisconnected).
		Set("last_disconnect_reason = ?", reason).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// UpdateReconnectAttempts persiste o contador de tentativas de reconexão
func (r *instanceRepository) UpdateReconnectAttempts(ctx context.Context, id string, attempts int) error {
	_, err := r.db.NewUpdate().
		Model((*instance.Instance)(nil)).
		Set("reconnect_attempts = ?", attempts).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// SetEnabled altera a intenção operacional da instância
func (r *instanceRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.NewUpdate().
		Model((*instance.Instance)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)

	return err
}

// Delete remove uma instância do banco de dados
func (r *instanceRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*instance.Instance)(nil)).
		Where("id = ?", id).
		Exec(ctx)

	return err
}
