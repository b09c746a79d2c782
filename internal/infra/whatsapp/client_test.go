package whatsapp

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"

	domain "zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

func newBareClient(buffer int) *Client {
	return &Client{
		instanceID: "inst-1",
		events:     make(chan domain.Event, buffer),
		log:        logger.Nop(),
	}
}

func TestEmitAfterDestroyIsIgnored(t *testing.T) {
	c := newBareClient(4)

	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	close(c.events)

	// Enviar num canal fechado seria panic; o flag destroyed impede
	c.emit(domain.Event{Kind: domain.EventReady})

	_, open := <-c.events
	assert.False(t, open)
}

func TestEmitConcurrentWithTeardown(t *testing.T) {
	c := newBareClient(4)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.emit(domain.Event{Kind: domain.EventMessage})
		}()
	}

	// A seção crítica do Destroy: marcar e fechar
	c.mu.Lock()
	c.destroyed = true
	c.mu.Unlock()
	close(c.events)

	wg.Wait()
}

func TestEmitDropsWhenChannelFull(t *testing.T) {
	c := newBareClient(1)

	c.emit(domain.Event{Kind: domain.EventQR, QR: "first"})
	c.emit(domain.Event{Kind: domain.EventQR, QR: "second"})

	require.Len(t, c.events, 1)
	evt := <-c.events
	assert.Equal(t, "first", evt.QR)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestSendErrorClassifiesConnectionLoss(t *testing.T) {
	assert.True(t, domain.IsConnectionLoss(sendError(whatsmeow.ErrNotConnected)))
	assert.True(t, domain.IsConnectionLoss(sendError(whatsmeow.ErrNotLoggedIn)))

	other := errors.New("server rejected message")
	assert.False(t, domain.IsConnectionLoss(sendError(other)))
	assert.Equal(t, other, sendError(other))
}

func TestParseRecipient(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    types.JID
		wantErr bool
	}{
		{
			name:  "digits with punctuation",
			input: "+55 (11) 99999-9999",
			want:  types.NewJID("5511999999999", types.DefaultUserServer),
		},
		{
			name:  "full jid passthrough",
			input: "5511888887777@s.whatsapp.net",
			want:  types.NewJID("5511888887777", types.DefaultUserServer),
		},
		{
			name:    "too short",
			input:   "12345",
			wantErr: true,
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jid, err := parseRecipient(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidRecipient)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, jid)
		})
	}
}
