package instance

import (
	"time"

	"github.com/uptrace/bun"
)

// ConnectionStatus representa o último status de conexão persistido.
// É um snapshot informativo; a verdade em tempo real vive no registry.
type ConnectionStatus string

const (
	StatusInitializing  ConnectionStatus = "INITIALIZING"
	StatusLoading       ConnectionStatus = "LOADING"
	StatusQRRequired    ConnectionStatus = "QR_REQUIRED"
	StatusAuthenticated ConnectionStatus = "AUTHENTICATED"
	StatusConnected     ConnectionStatus = "CONNECTED"
	StatusSyncTimeout   ConnectionStatus = "SYNC_TIMEOUT"
	StatusDisconnected  ConnectionStatus = "DISCONNECTED"
	StatusAuthFailure   ConnectionStatus = "AUTH_FAILURE"
	StatusInitError     ConnectionStatus = "INIT_ERROR"
	StatusReconnecting  ConnectionStatus = "RECONNECTING"
)

// Instance representa uma instância registrada do gateway
type Instance struct {
	bun.BaseModel `bun:"table:zapgate_instances,alias:i"`

	ID                   string           `bun:"id,pk,type:varchar(100)" json:"id"`
	Name                 string           `bun:"name,type:varchar(100),notnull" json:"name"`
	WebhookURL           string           `bun:"webhook_url,type:text" json:"webhookUrl,omitempty"`
	SistemaURL           string           `bun:"sistema_url,type:text" json:"sistemaUrl,omitempty"`
	APIToken             string           `bun:"api_token,type:varchar(255)" json:"-"`
	Phone                string           `bun:"phone,type:varchar(30)" json:"phone,omitempty"`
	Enabled              bool             `bun:"enabled,type:boolean,notnull,default:true" json:"enabled"`
	ConnectionStatus     ConnectionStatus `bun:"connection_status,type:varchar(30)" json:"connectionStatus"`
	LastConnectionAt     *time.Time       `bun:"last_connection_at,type:timestamptz" json:"lastConnectionAt,omitempty"`
	LastDisconnectReason string           `bun:"last_disconnect_reason,type:varchar(50)" json:"lastDisconnectReason,omitempty"`
	ReconnectAttempts    int              `bun:"reconnect_attempts,type:integer,notnull,default:0" json:"reconnectAttempts"`
	CreatedAt            time.Time        `bun:"created_at,type:timestamptz,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt            time.Time        `bun:"updated_at,type:timestamptz,notnull,default:current_timestamp" json:"updatedAt"`
}

// TableName retorna o nome da tabela para o Bun ORM
func (*Instance) TableName() string {
	return "zapgate_instances"
}

// IsEligibleForBoot verifica se a instância deve subir no boot
func (i *Instance) IsEligibleForBoot() bool {
	return i.Enabled
}

// MarkConnected registra uma conexão bem sucedida
func (i *Instance) MarkConnected(phone string) {
	i.ConnectionStatus = StatusConnected
	if phone != "" {
		i.Phone = phone
	}
	now := time.Now()
	i.LastConnectionAt = &now
	i.UpdatedAt = now
}

// MarkDisconnected registra uma desconexão com o motivo classificado
func (i *Instance) MarkDisconnected(reason string) {
	i.ConnectionStatus = StatusDisconnected
	i.LastDisconnectReason = reason
	i.UpdatedAt = time.Now()
}
