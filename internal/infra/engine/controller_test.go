package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/whatsapp"
)

func waitForClient(t *testing.T, env *testEnv, instanceID string) *fakeClient {
	t.Helper()

	var client *fakeClient
	require.Eventually(t, func() bool {
		client = env.factory.clientFor(instanceID)
		return client != nil
	}, time.Second, 5*time.Millisecond, "client was never created")
	return client
}

func waitForStatus(t *testing.T, env *testEnv, instanceID string, status Status) {
	t.Helper()

	require.Eventually(t, func() bool {
		snap, ok := env.engine.Status(instanceID)
		return ok && snap.Status == status
	}, 2*time.Second, 5*time.Millisecond, "session never reached %s", status)
}

func TestStartInstanceUnknown(t *testing.T) {
	env := newTestEnv(t.TempDir())

	err := env.engine.StartInstance(context.Background(), "ghost")
	assert.ErrorIs(t, err, instance.ErrInstanceNotFound)
}

func TestStartInstanceDisabled(t *testing.T) {
	inst := enabledInstance("inst-1")
	inst.Enabled = false
	env := newTestEnv(t.TempDir(), inst)

	err := env.engine.StartInstance(context.Background(), "inst-1")
	assert.ErrorIs(t, err, instance.ErrInstanceDisabled)
}

func TestStartInstancePersistsReconnectingIntent(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))

	// A linha persiste a intenção de subir: um crash antes do primeiro
	// evento deixa a instância elegível para a reidratação do boot
	assert.Equal(t, instance.StatusReconnecting, env.repo.get("inst-1").ConnectionStatus)
}

func TestStartInstanceRejectsDuplicate(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))

	err := env.engine.StartInstance(context.Background(), "inst-1")
	assert.ErrorIs(t, err, instance.ErrSessionInProgress)
}

func TestLifecycleQRToConnected(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	client.emit(whatsapp.Event{Kind: whatsapp.EventQR, QR: "qr-payload"})
	waitForStatus(t, env, "inst-1", StatusQRRequired)

	code, err := env.engine.QRCode("inst-1")
	require.NoError(t, err)
	assert.Equal(t, "qr-payload", code)

	client.emit(whatsapp.Event{Kind: whatsapp.EventAuthenticated})
	waitForStatus(t, env, "inst-1", StatusAuthenticated)

	// QR não é mais exposto após a autenticação
	_, err = env.engine.QRCode("inst-1")
	assert.ErrorIs(t, err, ErrQRNotAvailable)

	client.info = whatsapp.Info{Phone: "5511999999999"}
	client.emit(whatsapp.Event{Kind: whatsapp.EventReady})
	waitForStatus(t, env, "inst-1", StatusConnected)

	// O sucesso foi persistido antes do report
	require.Eventually(t, func() bool {
		row := env.repo.get("inst-1")
		return row.ConnectionStatus == instance.StatusConnected &&
			row.Phone == "5511999999999" &&
			row.LastConnectionAt != nil
	}, time.Second, 5*time.Millisecond)
}

func TestPromotionWithoutReadyEvent(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	client.emit(whatsapp.Event{Kind: whatsapp.EventAuthenticated})
	waitForStatus(t, env, "inst-1", StatusAuthenticated)

	// O evento ready nunca chega, mas o cliente reporta CONNECTED
	client.setState(whatsapp.StateConnected)

	waitForStatus(t, env, "inst-1", StatusConnected)
}

func TestLoadingProgressIsTracked(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	client.emit(whatsapp.Event{Kind: whatsapp.EventLoading, Percent: 42})
	waitForStatus(t, env, "inst-1", StatusLoading)

	snap, ok := env.engine.Status("inst-1")
	require.True(t, ok)
	assert.Equal(t, 42, snap.Percent)
}

func TestTerminalDisconnectDisablesInstance(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	env.blobs.Save("inst-1", "")

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	client.emit(whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: whatsapp.ReasonLogout})

	require.Eventually(t, func() bool {
		row := env.repo.get("inst-1")
		return !row.Enabled && row.LastDisconnectReason == string(whatsapp.ReasonLogout)
	}, time.Second, 5*time.Millisecond)

	// Sessão removida, cliente destruído, blob de logout apagado
	assert.False(t, env.engine.Registry().Has("inst-1"))
	assert.True(t, client.isDestroyed())
	assert.False(t, env.blobs.Exists("inst-1"))

	// Nenhuma reconexão foi agendada
	time.Sleep(50 * time.Millisecond)
	assert.False(t, env.engine.isReconnecting("inst-1"))
	assert.Equal(t, 1, env.factory.createdCount("inst-1"))
}

func TestUnpairedDeletesBlobAndReconnects(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	env.blobs.Save("inst-1", "")

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	client.emit(whatsapp.Event{Kind: whatsapp.EventDisconnected, Reason: whatsapp.ReasonUnpaired})

	// Blob apagado e nova sessão criada pela reconexão
	require.Eventually(t, func() bool {
		return !env.blobs.Exists("inst-1") && env.factory.createdCount("inst-1") >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAuthFailureStopsWithoutReconnect(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	env.blobs.Save("inst-1", "")

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	client.emit(whatsapp.Event{Kind: whatsapp.EventAuthFailure, Message: "bad credentials"})

	require.Eventually(t, func() bool {
		row := env.repo.get("inst-1")
		return row.ConnectionStatus == instance.StatusAuthFailure
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return !env.engine.Registry().Has("inst-1")
	}, time.Second, 5*time.Millisecond)

	assert.False(t, env.blobs.Exists("inst-1"))

	// Falha de autenticação não dispara reconexão automática
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, env.factory.createdCount("inst-1"))
}

func TestStopInstancePreservesEnabledIntent(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	require.NoError(t, env.engine.StopInstance(context.Background(), "inst-1"))

	assert.False(t, env.engine.Registry().Has("inst-1"))
	assert.True(t, client.isDestroyed())

	row := env.repo.get("inst-1")
	assert.True(t, row.Enabled)
	assert.Equal(t, instance.StatusDisconnected, row.ConnectionStatus)
}

func TestResetDeletesBlobAndRestarts(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	env.blobs.Save("inst-1", "")
	env.repo.UpdateReconnectAttempts(context.Background(), "inst-1", 7)

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	waitForClient(t, env, "inst-1")

	require.NoError(t, env.engine.Reset(context.Background(), "inst-1"))

	assert.False(t, env.blobs.Exists("inst-1"))
	assert.Equal(t, 1, env.factory.purgedCount("inst-1"))
	assert.Equal(t, 0, env.repo.get("inst-1").ReconnectAttempts)

	require.Eventually(t, func() bool {
		return env.factory.createdCount("inst-1") == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSendDirectWhenConnected(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")
	client.emit(whatsapp.Event{Kind: whatsapp.EventReady})
	waitForStatus(t, env, "inst-1", StatusConnected)

	result, err := env.engine.SendText(context.Background(), "inst-1", "5511999999999", "hello")
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, "msg-hello", result.MessageID)
}

func TestSendErrorWhileConnectedReturnsToCaller(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")
	client.emit(whatsapp.Event{Kind: whatsapp.EventReady})
	waitForStatus(t, env, "inst-1", StatusConnected)

	// Erro de envio que não indica desconexão: o caller recebe o erro
	// e nada é enfileirado
	sendErr := errors.New("recipient rejected the message")
	client.setSendErr(sendErr)

	_, err := env.engine.SendText(context.Background(), "inst-1", "5511999999999", "boom")
	require.ErrorIs(t, err, sendErr)

	assert.Empty(t, env.engine.QueueSnapshot("inst-1"))
	assert.True(t, env.engine.Registry().Has("inst-1"))
}

func TestSendConnectionLossQueuesAndRecycles(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")
	client.emit(whatsapp.Event{Kind: whatsapp.EventReady})
	waitForStatus(t, env, "inst-1", StatusConnected)

	// O cliente morreu por baixo da sessão: enfileirar e reconectar
	client.setSendErr(whatsapp.ErrNotConnected)

	result, err := env.engine.SendText(context.Background(), "inst-1", "5511999999999", "late")
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, 1, result.Position)

	require.Eventually(t, func() bool {
		return env.factory.createdCount("inst-1") >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendQueuesWhenSessionUnavailable(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	result, err := env.engine.SendText(context.Background(), "inst-1", "5511999999999", "offline")
	require.NoError(t, err)
	assert.True(t, result.Queued)
	assert.Equal(t, 1, result.Position)

	items := env.engine.QueueSnapshot("inst-1")
	require.Len(t, items, 1)
	assert.Equal(t, "offline", items[0].Body)
}

func TestSendRejectedForDisabledInstance(t *testing.T) {
	inst := enabledInstance("inst-1")
	inst.Enabled = false
	env := newTestEnv(t.TempDir(), inst)

	_, err := env.engine.SendText(context.Background(), "inst-1", "to", "nope")
	assert.ErrorIs(t, err, instance.ErrInstanceDisabled)
}

func TestQueueDrainsAfterConnection(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	// Mensagens aceitas enquanto a sessão ainda sobe
	for _, body := range []string{"q1", "q2", "q3"} {
		result, err := env.engine.SendText(context.Background(), "inst-1", "to", body)
		require.NoError(t, err)
		require.True(t, result.Queued)
	}

	client.emit(whatsapp.Event{Kind: whatsapp.EventReady})
	waitForStatus(t, env, "inst-1", StatusConnected)

	require.Eventually(t, func() bool {
		return len(env.engine.QueueSnapshot("inst-1")) == 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"q1", "q2", "q3"}, client.sentMessages())
}

func TestRemoteSessionSavedArchivesBlob(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	client := waitForClient(t, env, "inst-1")

	assert.False(t, env.blobs.Exists("inst-1"))
	client.emit(whatsapp.Event{Kind: whatsapp.EventRemoteSessionSaved})

	require.Eventually(t, func() bool {
		return env.blobs.Exists("inst-1")
	}, time.Second, 5*time.Millisecond)
}

func TestDisableStopsSession(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-1"))
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-1"))
	waitForClient(t, env, "inst-1")

	require.NoError(t, env.engine.Disable(context.Background(), "inst-1"))

	assert.False(t, env.engine.Registry().Has("inst-1"))
	assert.False(t, env.repo.get("inst-1").Enabled)
}

func TestRehydrateStartsEnabledInstances(t *testing.T) {
	env := newTestEnv(t.TempDir(),
		enabledInstance("inst-a"),
		enabledInstance("inst-b"),
		func() *instance.Instance {
			inst := enabledInstance("inst-c")
			inst.Enabled = false
			return inst
		}(),
	)
	defer env.engine.Shutdown(context.Background())

	require.NoError(t, env.engine.Rehydrate(context.Background()))

	assert.True(t, env.engine.Registry().Has("inst-a"))
	assert.True(t, env.engine.Registry().Has("inst-b"))
	assert.False(t, env.engine.Registry().Has("inst-c"))
}

func TestShutdownTearsDownAllSessions(t *testing.T) {
	env := newTestEnv(t.TempDir(), enabledInstance("inst-a"), enabledInstance("inst-b"))

	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-a"))
	require.NoError(t, env.engine.StartInstance(context.Background(), "inst-b"))
	clientA := waitForClient(t, env, "inst-a")
	clientB := waitForClient(t, env, "inst-b")

	clientA.emit(whatsapp.Event{Kind: whatsapp.EventReady})
	waitForStatus(t, env, "inst-a", StatusConnected)

	require.NoError(t, env.engine.Shutdown(context.Background()))

	assert.Equal(t, 0, env.engine.Registry().Count())
	assert.True(t, clientA.isDestroyed())
	assert.True(t, clientB.isDestroyed())

	// Nenhuma linha fica CONNECTED com o processo parado
	assert.Equal(t, instance.StatusDisconnected, env.repo.get("inst-a").ConnectionStatus)
	assert.Equal(t, instance.StatusDisconnected, env.repo.get("inst-b").ConnectionStatus)

	// Trabalho novo é recusado após o shutdown
	err := env.engine.StartInstance(context.Background(), "inst-a")
	assert.Error(t, err)
}
