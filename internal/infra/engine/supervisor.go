package engine

import (
	"context"
	"runtime"
	"time"

	"zapgate/internal/domain/whatsapp"
)

// StartSupervisor inicia as rotinas globais de supervisão: watchdog
// de transições travadas, varredura de recuperação e monitor de
// memória do processo. Todas param no shutdown.
func (e *Engine) StartSupervisor() {
	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.watchdogLoop()
	}()
	go func() {
		defer e.wg.Done()
		e.recoveryLoop()
	}()
	go func() {
		defer e.wg.Done()
		e.memoryMonitorLoop()
	}()

	e.logger.Info().Msg("Session supervisor started")
}

// watchdogLoop procura sessões travadas em estados transicionais e
// sessões zumbi (conectadas mas sem sinais de vida)
func (e *Engine) watchdogLoop() {
	ticker := time.NewTicker(e.policy.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		e.sweepStuckSessions()
	}
}

func (e *Engine) sweepStuckSessions() {
	now := time.Now()

	for _, snap := range e.registry.Snapshots() {
		log := e.logger.WithInstance(snap.InstanceID)
		sinceChange := now.Sub(snap.LastStatusChange)

		switch snap.Status {
		case StatusInitializing:
			if sinceChange > e.policy.InitTimeout {
				log.Warn().
					Dur("stuck_for", sinceChange).
					Msg("Watchdog: session stuck initializing")
				e.recycleByID(snap.InstanceID, whatsapp.ReasonTimeout)
			}

		case StatusLoading, StatusAuthenticated:
			if sinceChange > e.policy.LoadingTimeout {
				log.Warn().
					Dur("stuck_for", sinceChange).
					Msg("Watchdog: session stuck synchronizing")
				if state, ok := e.registry.Get(snap.InstanceID); ok {
					state.setStatus(StatusSyncTimeout)
				}
				e.recycleByID(snap.InstanceID, whatsapp.ReasonTimeout)
			}

		case StatusConnected:
			// A saúde da sessão é medida pelo último ping bem sucedido;
			// atividade de mensagens não conta como prova de vida
			idle := now.Sub(snap.LastActivity)
			unhealthy := now.Sub(snap.LastHealthCheck)
			switch {
			case unhealthy > e.policy.ZombieThreshold:
				log.Warn().
					Dur("unhealthy", unhealthy).
					Msg("Watchdog: zombie session detected")
				e.recycleByID(snap.InstanceID, whatsapp.ReasonUnknown)
			case unhealthy > e.policy.PingTimeoutThreshold:
				log.Warn().
					Dur("unhealthy", unhealthy).
					Msg("Watchdog: ping timeout exceeded, recycling session")
				e.recycleByID(snap.InstanceID, whatsapp.ReasonTimeout)
			case idle > e.policy.InactivityThreshold:
				// Inativa: verificar o cliente fora do ciclo normal
				e.probeInactiveSession(snap.InstanceID)
			}
		}
	}
}

// probeInactiveSession faz uma verificação avulsa em sessão sem
// atividade recente
func (e *Engine) probeInactiveSession(instanceID string) {
	state, ok := e.registry.Get(instanceID)
	if !ok {
		return
	}

	client := e.clientOf(state)
	if client == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.policy.StateCheckTimeout)
	clientState, err := client.GetState(ctx)
	cancel()

	if err != nil || clientState != whatsapp.StateConnected {
		e.logger.WithInstance(instanceID).Warn().
			Str("client_state", string(clientState)).
			Msg("Inactive session failed state check, recycling")
		e.recycleByID(instanceID, whatsapp.ReasonUnknown)
		return
	}

	state.TouchHealthCheck()
}

// recoveryLoop garante que toda instância habilitada tenha sessão ou
// reconexão em voo, e zera o contador de tentativas de sessões que
// ficaram estáveis
func (e *Engine) recoveryLoop() {
	ticker := time.NewTicker(e.policy.RecoveryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		e.sweepRecovery()
	}
}

func (e *Engine) sweepRecovery() {
	ctx := context.Background()

	// Sessões marcadas como degradadas pelo deep probe são recicladas
	// aqui, fora do caminho quente dos probes
	for _, snap := range e.registry.Snapshots() {
		if snap.Degraded {
			e.logger.WithInstance(snap.InstanceID).Warn().
				Msg("Recovery sweep: recycling degraded session")
			e.recycleByID(snap.InstanceID, whatsapp.ReasonUnknown)
		}
	}

	enabled, err := e.repo.ListEnabled(ctx)
	if err != nil {
		e.logger.WithError(err).Error().Msg("Recovery sweep failed to list enabled instances")
		return
	}

	for _, inst := range enabled {
		// Instância habilitada sem sessão e sem reconexão em voo:
		// algo a deixou para trás, ressuscitar
		if !e.registry.Has(inst.ID) && !e.isReconnecting(inst.ID) {
			e.logger.WithInstance(inst.ID).Warn().
				Msg("Recovery sweep: enabled instance without session, scheduling reconnect")
			e.scheduleReconnect(inst.ID, whatsapp.ReasonUnknown)
			continue
		}

		// Sessão estável há tempo suficiente: zerar o contador de
		// tentativas para que a próxima queda comece do backoff curto
		if inst.ReconnectAttempts > 0 {
			if state, ok := e.registry.Get(inst.ID); ok {
				snap := state.Snapshot()
				if snap.Status == StatusConnected && snap.ConnectedAt != nil &&
					time.Since(*snap.ConnectedAt) >= e.policy.ReconnectResetAfter {
					if err := e.repo.UpdateReconnectAttempts(ctx, inst.ID, 0); err != nil {
						e.logger.WithError(err).WithInstance(inst.ID).Warn().
							Msg("Failed to reset reconnect attempts")
					} else {
						e.logger.WithInstance(inst.ID).Debug().
							Msg("Reconnect attempts reset after stable connection")
					}
				}
			}
		}
	}
}

// memoryMonitorLoop amostra o heap do processo periodicamente e loga
// crescimento sustentado. Cinco amostras crescentes consecutivas
// indicam vazamento provável.
func (e *Engine) memoryMonitorLoop() {
	ticker := time.NewTicker(e.policy.MemoryCheckInterval)
	defer ticker.Stop()

	const growthSamples = 5
	var lastHeap uint64
	var growthStreak int

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
		}

		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)

		if lastHeap > 0 && stats.HeapAlloc > lastHeap {
			growthStreak++
		} else {
			growthStreak = 0
		}
		lastHeap = stats.HeapAlloc

		event := e.logger.Debug()
		if growthStreak >= growthSamples {
			event = e.logger.Warn()
		}
		event.
			Uint64("heap_alloc", stats.HeapAlloc).
			Uint64("heap_sys", stats.HeapSys).
			Uint32("num_gc", stats.NumGC).
			Int("sessions", e.registry.Count()).
			Int("growth_streak", growthStreak).
			Msg("Memory monitor sample")

		if e.policy.MemoryLimitBytes > 0 && stats.HeapAlloc > e.policy.MemoryLimitBytes {
			e.handleMemoryPressure(stats.HeapAlloc)
		}
	}
}

// handleMemoryPressure reage ao heap acima do limite: força uma coleta
// e recicla a sessão conectada mais antiga para liberar estado
func (e *Engine) handleMemoryPressure(heapAlloc uint64) {
	e.logger.Warn().
		Uint64("heap_alloc", heapAlloc).
		Uint64("limit", e.policy.MemoryLimitBytes).
		Msg("Process heap above configured limit, shedding state")

	runtime.GC()

	var oldestID string
	var oldestAt time.Time
	for _, snap := range e.registry.Snapshots() {
		if snap.Status != StatusConnected || snap.ConnectedAt == nil {
			continue
		}
		if oldestID == "" || snap.ConnectedAt.Before(oldestAt) {
			oldestID = snap.InstanceID
			oldestAt = *snap.ConnectedAt
		}
	}
	if oldestID == "" {
		return
	}

	e.logger.Warn().
		Str("instance_id", oldestID).
		Time("connected_at", oldestAt).
		Msg("Recycling oldest connected session to reclaim memory")
	e.recycleByID(oldestID, whatsapp.ReasonUnknown)
}

// recycleByID derruba e reconecta a sessão pelo ID, persistindo o
// motivo classificado
func (e *Engine) recycleByID(instanceID string, reason whatsapp.DisconnectReason) {
	e.teardownSession(instanceID)

	if err := e.repo.UpdateDisconnect(context.Background(), instanceID, string(reason)); err != nil {
		e.logger.WithError(err).WithInstance(instanceID).Warn().
			Msg("Failed to persist disconnect reason")
	}

	if !e.shuttingDown.Load() {
		e.scheduleReconnect(instanceID, reason)
	}
}
