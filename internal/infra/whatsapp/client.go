package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	domain "zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

// Client adapta um cliente whatsmeow para a interface domain.Client
// consumida pelo engine. Cada instância tem seu próprio handle; o
// canal de eventos é fechado no Destroy.
type Client struct {
	instanceID string
	workDir    string
	wa         *whatsmeow.Client
	log        logger.Logger

	events    chan domain.Event
	handlerID uint32

	mu        sync.Mutex
	destroyed bool
	qrCancel  context.CancelFunc
}

func newClient(instanceID, workDir string, wa *whatsmeow.Client, log logger.Logger) *Client {
	c := &Client{
		instanceID: instanceID,
		workDir:    workDir,
		wa:         wa,
		log:        log.WithComponent("whatsmeow-client").WithInstance(instanceID),
		events:     make(chan domain.Event, 64),
	}
	c.handlerID = wa.AddEventHandler(c.handleEvent)
	return c
}

// Initialize conecta o cliente. Sem credenciais armazenadas o fluxo
// de QR é iniciado e cada código emitido vira um evento qr.
func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return domain.ErrAdapterTornDown
	}
	c.mu.Unlock()

	if c.wa.Store.ID == nil {
		// Sem device registrado: pareamento por QR
		qrCtx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.qrCancel = cancel
		c.mu.Unlock()

		qrChan, err := c.wa.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to open qr channel: %w", err)
		}

		go c.forwardQRCodes(qrChan)
	}

	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect client: %w", err)
	}

	return nil
}

// forwardQRCodes converte itens do canal de QR em eventos de domínio
func (c *Client) forwardQRCodes(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelSuccess.Event:
			c.emit(domain.Event{Kind: domain.EventAuthenticated})
		case "code":
			c.emit(domain.Event{Kind: domain.EventQR, QR: item.Code})
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(domain.Event{
				Kind:   domain.EventDisconnected,
				Reason: domain.ReasonTimeout,
			})
		}
	}
}

// handleEvent mapeia eventos do whatsmeow para o conjunto de eventos
// do domínio
func (c *Client) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		c.persistSessionSnapshot()
		c.emit(domain.Event{Kind: domain.EventReady})
		// A conexão bem sucedida é o momento de arquivar credenciais
		c.emit(domain.Event{Kind: domain.EventRemoteSessionSaved})

	case *events.PairSuccess:
		c.persistSessionSnapshot()
		c.emit(domain.Event{Kind: domain.EventAuthenticated})

	case *events.OfflineSyncPreview:
		c.emit(domain.Event{Kind: domain.EventLoading, Percent: 0})

	case *events.OfflineSyncCompleted:
		c.emit(domain.Event{Kind: domain.EventLoading, Percent: 100})

	case *events.Message:
		c.emit(domain.Event{Kind: domain.EventMessage})

	case *events.StreamReplaced:
		c.emit(domain.Event{Kind: domain.EventChangeState, State: domain.StateConflict})

	case *events.TemporaryBan:
		c.log.Warn().
			Str("reason", evt.Code.String()).
			Dur("expire", evt.Expire).
			Msg("Temporary ban received")
		c.emit(domain.Event{
			Kind:   domain.EventDisconnected,
			Reason: domain.ReasonBanned,
		})

	case *events.LoggedOut:
		c.emit(domain.Event{
			Kind:   domain.EventDisconnected,
			Reason: logoutReason(evt.Reason),
		})

	case *events.ClientOutdated:
		c.emit(domain.Event{
			Kind:    domain.EventAuthFailure,
			Message: "client version rejected by server",
		})

	case *events.ConnectFailure:
		c.emit(domain.Event{
			Kind:   domain.EventDisconnected,
			Reason: connectFailureReason(evt.Reason),
		})

	case *events.Disconnected:
		c.emit(domain.Event{
			Kind:   domain.EventDisconnected,
			Reason: domain.ReasonNetwork,
		})

	case *events.StreamError:
		c.log.Warn().Str("code", evt.Code).Msg("Stream error")
	}
}

// logoutReason classifica o motivo de um logout remoto
func logoutReason(reason events.ConnectFailureReason) domain.DisconnectReason {
	switch reason {
	case events.ConnectFailureLoggedOut:
		return domain.ReasonLogout
	case events.ConnectFailureTempBanned:
		return domain.ReasonBanned
	case events.ConnectFailureMainDeviceGone, events.ConnectFailureUnknownLogout:
		return domain.ReasonUnpaired
	default:
		return domain.ReasonLogout
	}
}

// connectFailureReason classifica falhas de conexão
func connectFailureReason(reason events.ConnectFailureReason) domain.DisconnectReason {
	switch reason {
	case events.ConnectFailureLoggedOut:
		return domain.ReasonLogout
	case events.ConnectFailureTempBanned:
		return domain.ReasonBanned
	case events.ConnectFailureServiceUnavailable:
		return domain.ReasonNetwork
	default:
		return domain.ReasonUnknown
	}
}

// persistSessionSnapshot grava a identidade corrente do device no
// diretório de trabalho; é esse diretório que o blob store arquiva no
// remote_session_saved
func (c *Client) persistSessionSnapshot() {
	if c.workDir == "" {
		return
	}

	info := c.Info()
	data, err := json.MarshalIndent(map[string]string{
		"jid":      info.JID,
		"phone":    info.Phone,
		"pushName": info.PushName,
		"savedAt":  time.Now().Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return
	}

	if err := os.WriteFile(filepath.Join(c.workDir, "device.json"), data, 0o600); err != nil {
		c.log.WithError(err).Warn().Msg("Failed to persist session snapshot")
	}
}

// emit entrega o evento sem bloquear; com o consumidor parado o
// evento é descartado com log. O mutex segura o envio inteiro para o
// Destroy não fechar o canal com um envio em andamento.
func (c *Client) emit(evt domain.Event) {
	evt.Timestamp = time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}

	select {
	case c.events <- evt:
	default:
		c.log.Warn().Str("kind", string(evt.Kind)).Msg("Event channel full, dropping event")
	}
}

// GetState observa o estado corrente do cliente
func (c *Client) GetState(ctx context.Context) (domain.State, error) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return domain.StateUnknown, domain.ErrAdapterTornDown
	}
	c.mu.Unlock()

	switch {
	case c.wa.IsConnected() && c.wa.IsLoggedIn():
		return domain.StateConnected, nil
	case c.wa.IsConnected():
		if c.wa.Store.ID == nil {
			return domain.StatePairing, nil
		}
		return domain.StateOpening, nil
	case c.wa.Store.ID == nil:
		return domain.StateUnpaired, nil
	default:
		return domain.StateOpening, nil
	}
}

// Destroy derruba o cliente e fecha o canal de eventos
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return domain.ErrAdapterTornDown
	}
	c.destroyed = true
	qrCancel := c.qrCancel
	c.qrCancel = nil
	c.mu.Unlock()

	if qrCancel != nil {
		qrCancel()
	}

	c.wa.RemoveEventHandler(c.handlerID)
	c.wa.Disconnect()
	close(c.events)

	c.log.Debug().Msg("Client destroyed")
	return nil
}

// SendText envia uma mensagem de texto
func (c *Client) SendText(ctx context.Context, to, body string) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	msg := &waE2E.Message{Conversation: proto.String(body)}

	resp, err := c.wa.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send text message: %w", sendError(err))
	}
	return resp.ID, nil
}

// sendError traduz erros do whatsmeow que indicam perda de conexão
// para o sentinela do domínio; o engine enfileira e reconecta nesses
// casos em vez de devolver o erro ao caller
func sendError(err error) error {
	if errors.Is(err, whatsmeow.ErrNotConnected) || errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		return fmt.Errorf("%w: %v", domain.ErrNotConnected, err)
	}
	return err
}

// SendMedia envia uma mídia já decodificada
func (c *Client) SendMedia(ctx context.Context, to string, media domain.Media) (string, error) {
	jid, err := parseRecipient(to)
	if err != nil {
		return "", err
	}

	uploaded, err := c.wa.Upload(ctx, media.Data, uploadKind(media.Kind))
	if err != nil {
		return "", fmt.Errorf("failed to upload media: %w", sendError(err))
	}

	msg := buildMediaMessage(media, uploaded)

	resp, err := c.wa.SendMessage(ctx, jid, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send media message: %w", sendError(err))
	}
	return resp.ID, nil
}

// uploadKind traduz o tipo de mídia para o tipo de upload do whatsmeow
func uploadKind(kind domain.MediaKind) whatsmeow.MediaType {
	switch kind {
	case domain.MediaVideo:
		return whatsmeow.MediaVideo
	case domain.MediaAudio:
		return whatsmeow.MediaAudio
	case domain.MediaDocument:
		return whatsmeow.MediaDocument
	default:
		return whatsmeow.MediaImage
	}
}

// buildMediaMessage monta a mensagem protobuf conforme o tipo de mídia
func buildMediaMessage(media domain.Media, uploaded whatsmeow.UploadResponse) *waE2E.Message {
	switch media.Kind {
	case domain.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.Mime),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
			JPEGThumbnail: media.Thumbnail,
		}}
	case domain.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(media.Mime),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}}
	case domain.MediaDocument:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Title:         proto.String(media.FileName),
			FileName:      proto.String(media.FileName),
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.Mime),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}}
	case domain.MediaSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			Mimetype:      proto.String(media.Mime),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
		}}
	default:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(media.Caption),
			Mimetype:      proto.String(media.Mime),
			URL:           &uploaded.URL,
			DirectPath:    &uploaded.DirectPath,
			MediaKey:      uploaded.MediaKey,
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    &uploaded.FileLength,
			JPEGThumbnail: media.Thumbnail,
		}}
	}
}

// parseRecipient normaliza o destinatário para um JID de usuário
func parseRecipient(to string) (types.JID, error) {
	if to == "" {
		return types.EmptyJID, domain.ErrInvalidRecipient
	}

	if strings.Contains(to, "@") {
		jid, err := types.ParseJID(to)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("%w: %v", domain.ErrInvalidRecipient, err)
		}
		return jid, nil
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, to)
	if len(digits) < 10 || len(digits) > 15 {
		return types.EmptyJID, domain.ErrInvalidRecipient
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}

// Takeover reivindica a sessão de volta após um conflito: a
// reconexão com o mesmo device faz o servidor derrubar o outro cliente
func (c *Client) Takeover(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return domain.ErrAdapterTornDown
	}
	c.mu.Unlock()

	c.wa.Disconnect()
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("takeover reconnect failed: %w", err)
	}
	return nil
}

// Info retorna a identidade do device autenticado
func (c *Client) Info() domain.Info {
	id := c.wa.Store.ID
	if id == nil {
		return domain.Info{}
	}

	return domain.Info{
		Phone:    id.User,
		JID:      id.String(),
		PushName: c.wa.Store.PushName,
	}
}

// MemoryUsage amostra o heap do processo. O cliente roda in-process,
// então a amostra é a do runtime.
func (c *Client) MemoryUsage(ctx context.Context) (domain.MemoryStats, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return domain.MemoryStats{HeapBytes: stats.HeapAlloc}, nil
}

// Events retorna o canal de eventos do cliente
func (c *Client) Events() <-chan domain.Event {
	return c.events
}
