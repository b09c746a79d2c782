package engine

import (
	"context"
	"time"

	"zapgate/internal/domain/whatsapp"
)

// armProbes inicia o heartbeat e o deep probe da sessão. Chamado ao
// entrar em CONNECTED; os probes morrem junto com a sessão.
func (e *Engine) armProbes(state *SessionState) {
	ctx, cancel := context.WithCancel(context.Background())

	state.mu.Lock()
	if state.probeCancel != nil {
		// Probes anteriores ainda armados; manter os existentes
		state.mu.Unlock()
		cancel()
		return
	}
	state.probeCancel = cancel
	state.mu.Unlock()

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.heartbeatLoop(ctx, state)
	}()
	go func() {
		defer e.wg.Done()
		e.deepProbeLoop(ctx, state)
	}()
}

// heartbeatLoop verifica periodicamente o estado do cliente. Falhas
// consecutivas ou acúmulo de erros de contexto destruído derrubam a
// sessão para reconexão.
func (e *Engine) heartbeatLoop(ctx context.Context, state *SessionState) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	ticker := time.NewTicker(e.policy.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		if state.CurrentStatus() != StatusConnected {
			continue
		}

		client := e.clientOf(state)
		if client == nil {
			return
		}

		checkCtx, cancel := context.WithTimeout(context.Background(), e.policy.StateCheckTimeout)
		clientState, err := client.GetState(checkCtx)
		cancel()

		if err != nil {
			if whatsapp.IsTornDown(err) {
				contextErrors := state.RecordContextError()
				log.Warn().
					Int("context_errors", contextErrors).
					Msg("Heartbeat hit torn down client")

				if contextErrors >= e.policy.MaxContextErrors {
					log.Error().Msg("Context error limit reached, recycling session")
					e.recycleSession(state, whatsapp.ReasonContextErrors)
					return
				}
				continue
			}

			failures := state.RecordCheckFailure()
			log.Warn().
				Int("consecutive_failures", failures).
				Msg("Heartbeat state check failed")

			if failures >= e.policy.MaxConsecutiveFailures {
				log.Error().Msg("Heartbeat failure limit reached, recycling session")
				e.recycleSession(state, whatsapp.ReasonHeartbeatFailures)
				return
			}
			continue
		}

		if clientState != whatsapp.StateConnected {
			log.Warn().
				Str("client_state", string(clientState)).
				Msg("Heartbeat observed non-connected client state")

			switch clientState {
			case whatsapp.StateConflict:
				e.handleChangeState(state, clientState)
			case whatsapp.StateUnpaired, whatsapp.StateUnpairedIdle:
				e.handleDisconnect(state, whatsapp.ReasonUnpaired)
				return
			default:
				failures := state.RecordCheckFailure()
				if failures >= e.policy.MaxConsecutiveFailures {
					e.recycleSession(state, whatsapp.ReasonHeartbeatFailures)
					return
				}
			}
			continue
		}

		state.TouchHealthCheck()
		log.Trace().Msg("Heartbeat ok")
	}
}

// deepProbeLoop roda a verificação profunda em intervalo longo:
// além do estado, amostra a memória do cliente e o tempo desde o
// último health check bem sucedido
func (e *Engine) deepProbeLoop(ctx context.Context, state *SessionState) {
	instanceID := state.InstanceID
	log := e.logger.WithInstance(instanceID)

	ticker := time.NewTicker(e.policy.DeepCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		if state.CurrentStatus() != StatusConnected {
			continue
		}

		client := e.clientOf(state)
		if client == nil {
			return
		}

		checkCtx, cancel := context.WithTimeout(context.Background(), e.policy.DeepCheckTimeout)
		clientState, err := client.GetState(checkCtx)
		cancel()

		if err != nil || clientState != whatsapp.StateConnected {
			log.Warn().
				Str("client_state", string(clientState)).
				Msg("Deep probe found unhealthy client, recycling session")
			e.recycleSession(state, whatsapp.ReasonUnknown)
			return
		}

		// Sem resposta de ping dentro do limite: o cliente responde a
		// chamadas mas não faz progresso real
		snap := state.Snapshot()
		if time.Since(snap.LastHealthCheck) > e.policy.PingTimeoutThreshold {
			log.Warn().
				Time("last_health_check", snap.LastHealthCheck).
				Msg("Deep probe: ping timeout exceeded, recycling session")
			e.recycleSession(state, whatsapp.ReasonTimeout)
			return
		}

		memCtx, cancelMem := context.WithTimeout(context.Background(), e.policy.DeepCheckTimeout)
		stats, err := client.MemoryUsage(memCtx)
		cancelMem()

		limit := stats.LimitBytes
		if limit == 0 {
			limit = e.policy.MemoryLimitBytes
		}
		if err == nil && limit > 0 && stats.HeapBytes > limit {
			// Sobre o limite a sessão ainda funciona; marcar e deixar a
			// varredura de recuperação decidir a reciclagem
			log.Warn().
				Uint64("heap_bytes", stats.HeapBytes).
				Uint64("limit_bytes", stats.LimitBytes).
				Msg("Deep probe: client over memory limit, flagging session as degraded")
			state.MarkDegraded()
			continue
		}

		state.TouchHealthCheck()
		log.Debug().Msg("Deep probe ok")
	}
}

// recycleSession derruba a sessão e agenda a reconexão
func (e *Engine) recycleSession(state *SessionState, reason whatsapp.DisconnectReason) {
	e.recycleByID(state.InstanceID, reason)
}
