package engine

import (
	"context"
	"sync"
	"time"

	"zapgate/internal/domain/instance"
)

// Shutdown desliga o engine: recusa trabalho novo, derruba todas as
// sessões em paralelo e espera as goroutines dentro do prazo. Ao
// estourar o prazo o desligamento prossegue mesmo assim.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.shuttingDown.CompareAndSwap(false, true) {
		return nil
	}

	e.logger.Info().
		Int("sessions", e.registry.Count()).
		Msg("Engine shutdown started")

	// Parar supervisores, reconexões em espera e drains
	e.stopOnce.Do(func() { close(e.stopCh) })

	deadline := e.policy.GracefulShutdownTimeout
	if d, ok := ctx.Deadline(); ok {
		if until := time.Until(d); until < deadline {
			deadline = until
		}
	}

	// Derrubar as sessões em paralelo; cada teardown já tem timeout
	// próprio de destroy. O status persistido vira DISCONNECTED para
	// que nenhuma linha fique CONNECTED com o processo parado.
	var teardowns sync.WaitGroup
	for _, instanceID := range e.registry.IDs() {
		teardowns.Add(1)
		go func(id string) {
			defer teardowns.Done()
			e.teardownSession(id)
			e.persistStatus(id, instance.StatusDisconnected)
		}(instanceID)
	}

	done := make(chan struct{})
	go func() {
		teardowns.Wait()
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info().Msg("Engine shutdown complete")
		return nil
	case <-time.After(deadline):
		e.logger.Warn().
			Dur("deadline", deadline).
			Msg("Engine shutdown deadline exceeded, forcing exit")
		return context.DeadlineExceeded
	}
}
