package engine

import (
	"context"
	"errors"
	"time"

	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/whatsapp"
)

// StartInstance sobe a sessão de uma instância habilitada. A chamada
// retorna assim que a sessão é registrada; o progresso do ciclo de
// vida é observável via Status.
func (e *Engine) StartInstance(ctx context.Context, instanceID string) error {
	if e.shuttingDown.Load() {
		return errors.New("engine is shutting down")
	}

	inst, err := e.repo.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.Enabled {
		return instance.ErrInstanceDisabled
	}

	state, ok := e.registry.Register(instanceID)
	if !ok {
		return instance.ErrSessionInProgress
	}

	// A linha persiste RECONNECTING enquanto a subida corre: um crash
	// no meio da inicialização deixa a instância elegível para o boot
	if err := e.repo.UpdateConnectionStatus(ctx, instanceID, instance.StatusReconnecting); err != nil {
		e.logger.WithError(err).Warn().
			Str("instance_id", instanceID).
			Msg("Failed to persist RECONNECTING status")
	}

	e.logger.Info().
		Str("instance_id", instanceID).
		Msg("Starting session")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSession(state)
	}()

	return nil
}

// runSession executa a fase de inicialização de uma sessão e entra no
// loop de eventos do cliente
func (e *Engine) runSession(state *SessionState) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	// Restaurar credenciais arquivadas, se existirem
	if e.blobs.Exists(instanceID) {
		if err := e.blobs.Extract(instanceID, e.cacheDir(instanceID)); err != nil {
			log.WithError(err).Warn().Msg("Failed to restore auth blob, starting unauthenticated")
		}
	}

	initCtx, cancelInit := context.WithTimeout(context.Background(), e.policy.InitTimeout)
	defer cancelInit()

	client, err := e.factory.NewClient(initCtx, instanceID)
	if err != nil {
		log.WithError(err).Error().Msg("Failed to create client")
		e.failInitialization(state, whatsapp.ReasonUnknown)
		return
	}

	state.mu.Lock()
	state.Client = client
	state.mu.Unlock()

	// Consumir eventos antes do Initialize para não perder o primeiro QR
	eventCtx, cancelEvents := context.WithCancel(context.Background())
	state.mu.Lock()
	state.eventCancel = cancelEvents
	state.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.eventLoop(eventCtx, state, client)
	}()

	if err := client.Initialize(initCtx); err != nil {
		log.WithError(err).Error().Msg("Client initialization failed")

		reason := whatsapp.ReasonUnknown
		if errors.Is(err, context.DeadlineExceeded) {
			reason = whatsapp.ReasonTimeout
		}
		e.failInitialization(state, reason)
		return
	}

	log.Debug().Msg("Client initialized, waiting for lifecycle events")
}

// failInitialization marca INIT_ERROR, derruba a sessão e agenda a
// reconexão
func (e *Engine) failInitialization(state *SessionState, reason whatsapp.DisconnectReason) {
	instanceID := state.InstanceID

	state.setStatus(StatusInitError)
	e.persistStatus(instanceID, instance.StatusInitError)

	e.teardownSession(instanceID)

	if !e.shuttingDown.Load() {
		e.scheduleReconnect(instanceID, reason)
	}
}

// eventLoop drena o canal de eventos do cliente até o teardown
func (e *Engine) eventLoop(ctx context.Context, state *SessionState, client whatsapp.Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-client.Events():
			if !ok {
				return
			}
			e.handleEvent(state, evt)
		}
	}
}

// handleEvent aplica um evento do cliente à máquina de estados
func (e *Engine) handleEvent(state *SessionState, evt whatsapp.Event) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	switch evt.Kind {
	case whatsapp.EventQR:
		state.mu.Lock()
		state.QRCode = evt.QR
		state.mu.Unlock()
		state.setStatus(StatusQRRequired)
		e.persistStatus(instanceID, instance.StatusQRRequired)
		log.Info().Msg("QR code required for authentication")
		if e.cfg.App.Env == "development" {
			_ = e.DisplayQRTerminal(instanceID)
		}

	case whatsapp.EventLoading:
		state.mu.Lock()
		state.Percent = evt.Percent
		state.mu.Unlock()
		if state.CurrentStatus() != StatusLoading {
			state.setStatus(StatusLoading)
			e.persistStatus(instanceID, instance.StatusLoading)
		}
		log.Debug().Int("percent", evt.Percent).Msg("Session loading")

	case whatsapp.EventAuthenticated:
		state.mu.Lock()
		state.QRCode = ""
		state.mu.Unlock()
		state.setStatus(StatusAuthenticated)
		e.persistStatus(instanceID, instance.StatusAuthenticated)
		log.Info().Msg("Session authenticated")

		// O evento ready pode nunca chegar; a promoção observa o
		// estado real do cliente
		e.startPromotionWatch(state)

	case whatsapp.EventReady:
		e.finalizeConnected(state)

	case whatsapp.EventRemoteSessionSaved:
		if err := e.blobs.Save(instanceID, e.cacheDir(instanceID)); err != nil {
			log.WithError(err).Error().Msg("Failed to archive auth blob")
		}

	case whatsapp.EventAuthFailure:
		log.Error().Str("detail", evt.Message).Msg("Authentication failure")
		state.setStatus(StatusAuthFailure)
		e.persistStatus(instanceID, instance.StatusAuthFailure)

		// Credenciais inválidas não servem para a próxima tentativa
		if err := e.blobs.Delete(instanceID); err != nil {
			log.WithError(err).Warn().Msg("Failed to delete auth blob")
		}
		e.teardownSession(instanceID)

	case whatsapp.EventDisconnected:
		e.handleDisconnect(state, evt.Reason)

	case whatsapp.EventChangeState:
		e.handleChangeState(state, evt.State)

	case whatsapp.EventMessage:
		state.TouchActivity()
	}
}

// handleDisconnect classifica o motivo e decide o destino da sessão
func (e *Engine) handleDisconnect(state *SessionState, reason whatsapp.DisconnectReason) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	if reason == "" {
		reason = whatsapp.ReasonUnknown
	}

	log.Warn().Str("reason", string(reason)).Msg("Session disconnected")

	state.setStatus(StatusDisconnected)
	if err := e.repo.UpdateDisconnect(context.Background(), instanceID, string(reason)); err != nil {
		log.WithError(err).Warn().Msg("Failed to persist disconnect reason")
	}

	if e.isNoReconnectReason(reason) {
		// Motivo terminal: derrubar a intenção operacional para que
		// nem o boot nem o supervisor ressuscitem a instância
		log.Warn().Str("reason", string(reason)).Msg("Terminal disconnect, disabling instance")
		if err := e.repo.SetEnabled(context.Background(), instanceID, false); err != nil {
			log.WithError(err).Error().Msg("Failed to disable instance")
		}
		if reason == whatsapp.ReasonLogout {
			if err := e.blobs.Delete(instanceID); err != nil {
				log.WithError(err).Warn().Msg("Failed to delete auth blob")
			}
		}
		e.teardownSession(instanceID)
		return
	}

	if reason == whatsapp.ReasonUnpaired {
		// Dispositivo despareado: o blob é inútil
		if err := e.blobs.Delete(instanceID); err != nil {
			log.WithError(err).Warn().Msg("Failed to delete auth blob")
		}
	}

	e.teardownSession(instanceID)

	if !e.shuttingDown.Load() {
		e.scheduleReconnect(instanceID, reason)
	}
}

// handleChangeState reage a mudanças de estado do cliente que chegam
// fora do fluxo de desconexão
func (e *Engine) handleChangeState(state *SessionState, clientState whatsapp.State) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	switch clientState {
	case whatsapp.StateConflict:
		// Outro cliente assumiu a sessão; tentar retomar
		log.Warn().Msg("Session conflict detected, attempting takeover")
		client := e.clientOf(state)
		if client == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.policy.StateCheckTimeout)
		defer cancel()

		if err := client.Takeover(ctx); err != nil {
			log.WithError(err).Warn().Msg("Takeover failed, falling back to reconnect")
			e.handleDisconnect(state, whatsapp.ReasonConflict)
		}

	case whatsapp.StateUnpaired, whatsapp.StateUnpairedIdle:
		e.handleDisconnect(state, whatsapp.ReasonUnpaired)

	case whatsapp.StateTimeout:
		e.handleDisconnect(state, whatsapp.ReasonTimeout)
	}
}

// startPromotionWatch observa o cliente após a autenticação e promove
// a sessão para CONNECTED quando o estado real do cliente confirma,
// mesmo que o evento ready se perca. Apenas um watch por sessão.
func (e *Engine) startPromotionWatch(state *SessionState) {
	if !state.TryBeginPromotion() {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer state.EndPromotion()
		e.promotionLoop(state)
	}()
}

// promotionPolls é o número de verificações antes de declarar
// SYNC_TIMEOUT
const promotionPolls = 10

func (e *Engine) promotionLoop(state *SessionState) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	ticker := time.NewTicker(e.policy.PromotionPoll)
	defer ticker.Stop()

	for poll := 0; poll < promotionPolls; poll++ {
		select {
		case <-state.done:
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		switch state.CurrentStatus() {
		case StatusConnected:
			// O evento ready chegou no meio tempo
			return
		case StatusAuthenticated, StatusLoading:
		default:
			// A sessão saiu do caminho de promoção (desconectou, falhou)
			return
		}

		client := e.clientOf(state)
		if client == nil {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.policy.StateCheckTimeout)
		clientState, err := client.GetState(ctx)
		cancel()

		if err != nil {
			log.WithError(err).Debug().Msg("Promotion poll failed")
			continue
		}

		if clientState == whatsapp.StateConnected {
			log.Info().Int("poll", poll+1).Msg("Client confirmed connected, promoting session")
			e.finalizeConnected(state)
			return
		}
	}

	// Sincronização não terminou dentro da janela
	if state.CurrentStatus() == StatusAuthenticated || state.CurrentStatus() == StatusLoading {
		log.Warn().Msg("Session stuck synchronizing, declaring SYNC_TIMEOUT")
		state.setStatus(StatusSyncTimeout)
		e.persistStatus(instanceID, instance.StatusSyncTimeout)

		e.teardownSession(instanceID)
		if !e.shuttingDown.Load() {
			e.scheduleReconnect(instanceID, whatsapp.ReasonTimeout)
		}
	}
}

// finalizeConnected conclui a subida da sessão: persiste o sucesso
// antes de reportar CONNECTED, arma os probes e drena os pendentes
func (e *Engine) finalizeConnected(state *SessionState) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	// Idempotente: ready e promoção podem correr
	state.mu.Lock()
	if state.Status == StatusConnected || state.finalizing {
		state.mu.Unlock()
		return
	}
	state.finalizing = true
	now := time.Now()
	state.ConnectedAt = &now
	state.LastActivity = now
	state.LastHealthCheck = now
	state.QRCode = ""
	state.Percent = 0
	client := state.Client
	state.mu.Unlock()

	phone := ""
	if client != nil {
		phone = client.Info().Phone
	}
	state.mu.Lock()
	state.Phone = phone
	state.mu.Unlock()

	// Persistir antes de reportar: se o update falha, o status em
	// memória ainda assim avança, mas o erro fica registrado
	if err := e.repo.UpdateConnected(context.Background(), instanceID, phone, now); err != nil {
		log.WithError(err).Error().Msg("Failed to persist connected state")
	}

	state.setStatus(StatusConnected)

	log.Info().Str("phone", phone).Msg("Session connected")

	e.armProbes(state)
	e.startQueueDrain(state)
}

// startQueueDrain agenda o drain da fila de pendentes após a janela
// de estabilização
func (e *Engine) startQueueDrain(state *SessionState) {
	queue, ok := e.queues.Peek(state.InstanceID)
	if !ok || queue.Len() == 0 {
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		select {
		case <-state.done:
			return
		case <-e.stopCh:
			return
		case <-time.After(e.policy.DrainStabilization):
		}

		e.drainQueue(state, queue)
	}()
}

// drainQueue entrega as mensagens pendentes com pacing entre envios
func (e *Engine) drainQueue(state *SessionState, queue *PendingQueue) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	delivered := 0
	for {
		if state.CurrentStatus() != StatusConnected {
			log.Debug().Int("delivered", delivered).Msg("Queue drain interrupted, session no longer connected")
			return
		}

		msg := queue.Dequeue()
		if msg == nil {
			break
		}

		client := e.clientOf(state)
		if client == nil {
			queue.Requeue(msg, e.policy.MaxSendRetries)
			return
		}

		_, err := e.deliver(context.Background(), client, msg.To, msg.Body, msg.Media)
		if err != nil {
			log.WithError(err).Warn().
				Str("message_id", msg.ID).
				Msg("Failed to deliver pending message")
			queue.Requeue(msg, e.policy.MaxSendRetries)
		} else {
			delivered++
			state.TouchActivity()
		}

		select {
		case <-state.done:
			return
		case <-e.stopCh:
			return
		case <-time.After(e.policy.DrainPacing):
		}
	}

	if delivered > 0 {
		log.Info().Int("delivered", delivered).Msg("Pending queue drained")
	}
}

// StopInstance derruba a sessão da instância sem alterar a intenção
// operacional persistida
func (e *Engine) StopInstance(ctx context.Context, instanceID string) error {
	if !e.registry.Has(instanceID) {
		return nil
	}

	e.logger.Info().
		Str("instance_id", instanceID).
		Msg("Stopping session")

	e.teardownSession(instanceID)
	e.persistStatus(instanceID, instance.StatusDisconnected)
	return nil
}

// Reconnect derruba e resobe a sessão imediatamente
func (e *Engine) Reconnect(ctx context.Context, instanceID string) error {
	inst, err := e.repo.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.Enabled {
		return instance.ErrInstanceDisabled
	}

	e.teardownSession(instanceID)
	return e.StartInstance(ctx, instanceID)
}

// Reset apaga as credenciais arquivadas e as do armazém do cliente e
// resobe a sessão do zero, forçando novo pareamento por QR
func (e *Engine) Reset(ctx context.Context, instanceID string) error {
	e.teardownSession(instanceID)

	if err := e.blobs.Delete(instanceID); err != nil {
		return err
	}

	if err := e.factory.PurgeCredentials(ctx, instanceID); err != nil {
		return err
	}

	if err := e.repo.UpdateReconnectAttempts(ctx, instanceID, 0); err != nil {
		e.logger.WithError(err).Warn().
			Str("instance_id", instanceID).
			Msg("Failed to reset reconnect attempts")
	}

	return e.StartInstance(ctx, instanceID)
}

// teardownSession remove a sessão do registry e destrói o cliente com
// timeout. Idempotente: sessões já removidas são ignoradas.
func (e *Engine) teardownSession(instanceID string) {
	state, ok := e.registry.Remove(instanceID)
	if !ok {
		return
	}

	state.mu.Lock()
	client := state.Client
	state.Client = nil
	probeCancel := state.probeCancel
	eventCancel := state.eventCancel
	state.probeCancel = nil
	state.eventCancel = nil
	done := state.done
	state.mu.Unlock()

	// Sinalizar goroutines da sessão antes de destruir o cliente
	select {
	case <-done:
	default:
		close(done)
	}
	if probeCancel != nil {
		probeCancel()
	}
	if eventCancel != nil {
		eventCancel()
	}

	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), e.policy.DestroyTimeout)
		defer cancel()

		if err := client.Destroy(ctx); err != nil && !whatsapp.IsTornDown(err) {
			e.logger.WithError(err).Warn().
				Str("instance_id", instanceID).
				Msg("Client destroy failed")
		}
	}

	e.logger.Debug().
		Str("instance_id", instanceID).
		Msg("Session torn down")
}

// persistStatus atualiza o status de conexão no banco sem propagar o
// erro; o status em memória é a verdade operacional
func (e *Engine) persistStatus(instanceID string, status instance.ConnectionStatus) {
	if err := e.repo.UpdateConnectionStatus(context.Background(), instanceID, status); err != nil {
		e.logger.WithError(err).Warn().
			Str("instance_id", instanceID).
			Str("status", string(status)).
			Msg("Failed to persist connection status")
	}
}

// isNoReconnectReason delega a classificação terminal para a policy
func (e *Engine) isNoReconnectReason(reason whatsapp.DisconnectReason) bool {
	return noReconnect(reason)
}
