package whatsapp

import (
	"context"
)

// State representa o estado observado do cliente subjacente
type State string

const (
	StateConnected    State = "CONNECTED"
	StateOpening      State = "OPENING"
	StatePairing      State = "PAIRING"
	StateUnpaired     State = "UNPAIRED"
	StateUnpairedIdle State = "UNPAIRED_IDLE"
	StateConflict     State = "CONFLICT"
	StateTimeout      State = "TIMEOUT"
	StateUnknown      State = "UNKNOWN"
)

// Info contém a identidade do dispositivo autenticado
type Info struct {
	Phone    string `json:"phone"`
	JID      string `json:"jid"`
	PushName string `json:"pushName,omitempty"`
}

// MediaKind define os tipos de mídia suportados para envio
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
)

// Media representa o payload de mídia já decodificado para envio
type Media struct {
	Kind      MediaKind
	Data      []byte
	Mime      string
	FileName  string
	Caption   string
	Thumbnail []byte
}

// MemoryStats expõe o consumo de memória do cliente subjacente
type MemoryStats struct {
	HeapBytes  uint64 `json:"heapBytes"`
	LimitBytes uint64 `json:"limitBytes"`
}

// Client é a superfície que o engine consome do cliente WhatsApp.
// Toda chamada pode bloquear, por isso recebe context e é sempre
// envolvida em timeout pelo caller.
type Client interface {
	// Initialize conecta o cliente e inicia o fluxo de autenticação
	Initialize(ctx context.Context) error

	// GetState observa o estado atual do cliente
	GetState(ctx context.Context) (State, error)

	// Destroy derruba o cliente e libera seus recursos
	Destroy(ctx context.Context) error

	// SendText envia uma mensagem de texto e retorna o ID da mensagem
	SendText(ctx context.Context, to, body string) (string, error)

	// SendMedia envia uma mídia e retorna o ID da mensagem
	SendMedia(ctx context.Context, to string, media Media) (string, error)

	// Takeover reivindica a sessão de um cliente conflitante
	Takeover(ctx context.Context) error

	// Info retorna a identidade do dispositivo (vazia se não autenticado)
	Info() Info

	// MemoryUsage amostra o consumo de memória do cliente
	MemoryUsage(ctx context.Context) (MemoryStats, error)

	// Events retorna o canal de eventos tipados do cliente.
	// O canal é fechado quando o cliente é destruído.
	Events() <-chan Event
}

// ClientFactory cria um cliente para uma instância. Handles nunca
// são compartilhados entre instâncias.
type ClientFactory interface {
	NewClient(ctx context.Context, instanceID string) (Client, error)

	// PurgeCredentials apaga o material de sessão persistido da
	// instância, forçando novo pareamento por QR na próxima subida
	PurgeCredentials(ctx context.Context, instanceID string) error
}
