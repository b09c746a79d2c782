package engine

import (
	"context"
	"errors"
	"time"

	"zapgate/internal/app/config"
	"zapgate/internal/domain/instance"
	"zapgate/internal/domain/whatsapp"
)

// noReconnect verifica se o motivo é terminal
func noReconnect(reason whatsapp.DisconnectReason) bool {
	return config.IsNoReconnectReason(reason)
}

// isReconnecting verifica se a instância tem reconexão em voo
func (e *Engine) isReconnecting(instanceID string) bool {
	e.reconnectMu.Lock()
	defer e.reconnectMu.Unlock()
	return e.reconnecting[instanceID]
}

// tryAcquireReconnect reserva o slot único de reconexão da instância
func (e *Engine) tryAcquireReconnect(instanceID string) bool {
	e.reconnectMu.Lock()
	defer e.reconnectMu.Unlock()

	if e.reconnecting[instanceID] {
		return false
	}
	e.reconnecting[instanceID] = true
	return true
}

// releaseReconnect libera o slot de reconexão da instância
func (e *Engine) releaseReconnect(instanceID string) {
	e.reconnectMu.Lock()
	defer e.reconnectMu.Unlock()
	delete(e.reconnecting, instanceID)
}

// scheduleReconnect agenda a reconexão da instância respeitando o
// limite de uma reconexão em voo por instância. Pedidos enquanto uma
// reconexão está em andamento são descartados; a tentativa corrente
// já cobrirá a condição que gerou o pedido.
func (e *Engine) scheduleReconnect(instanceID string, reason whatsapp.DisconnectReason) {
	if e.shuttingDown.Load() {
		return
	}

	if noReconnect(reason) {
		return
	}

	if !e.tryAcquireReconnect(instanceID) {
		e.logger.Debug().
			Str("instance_id", instanceID).
			Msg("Reconnect already in flight, ignoring request")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.releaseReconnect(instanceID)
		e.runReconnect(instanceID, reason)
	}()
}

// runReconnect executa uma tentativa de reconexão: espera o atraso
// calculado, confere a elegibilidade e resobe a sessão
func (e *Engine) runReconnect(instanceID string, reason whatsapp.DisconnectReason) {
	log := e.logger.WithInstance(instanceID)
	ctx := context.Background()

	inst, err := e.repo.GetByID(ctx, instanceID)
	if err != nil {
		log.WithError(err).Error().Msg("Reconnect aborted, failed to load instance")
		return
	}
	if !inst.Enabled {
		log.Debug().Msg("Reconnect aborted, instance disabled")
		return
	}

	attempts := inst.ReconnectAttempts
	delay := e.backoff.Delay(reason, attempts)

	// Persistir a intenção de reconectar antes de esperar: um restart
	// do processo no meio da espera rehidrata a instância no boot
	e.persistStatus(instanceID, instance.StatusReconnecting)
	if state, ok := e.registry.Get(instanceID); ok {
		state.setStatus(StatusReconnecting)
	}

	nextAttempts := e.backoff.NextAttempts(attempts)
	if nextAttempts == 0 && attempts > 0 {
		log.Warn().
			Int("attempts", attempts).
			Msg("Reconnect attempt limit reached, resetting counter and continuing")
	}
	if err := e.repo.UpdateReconnectAttempts(ctx, instanceID, nextAttempts); err != nil {
		log.WithError(err).Warn().Msg("Failed to persist reconnect attempts")
	}

	log.Info().
		Str("reason", string(reason)).
		Int("attempt", attempts+1).
		Dur("delay", delay).
		Msg("Reconnect scheduled")

	select {
	case <-e.stopCh:
		return
	case <-time.After(delay):
	}

	if e.shuttingDown.Load() {
		return
	}

	// Reconferir a intenção: a instância pode ter sido desabilitada
	// durante a espera
	inst, err = e.repo.GetByID(ctx, instanceID)
	if err != nil || !inst.Enabled {
		log.Debug().Msg("Reconnect aborted after delay, instance unavailable or disabled")
		return
	}

	// Garantir que nenhuma sessão sobrou de uma tentativa anterior
	e.teardownSession(instanceID)

	if err := e.StartInstance(ctx, instanceID); err != nil {
		if errors.Is(err, instance.ErrSessionInProgress) {
			return
		}
		log.WithError(err).Error().Msg("Reconnect start failed")
	}
}
