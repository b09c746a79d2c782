package engine

import (
	"context"
	"errors"
	"time"

	"zapgate/internal/domain/instance"
)

// Rehydrate sobe as sessões das instâncias habilitadas no boot. O
// status RECONNECTING é persistido antes de cada subida para que uma
// queda no meio do boot seja visível, e as subidas são escalonadas
// para não estourar CPU e rede de uma vez.
func (e *Engine) Rehydrate(ctx context.Context) error {
	enabled, err := e.repo.ListEnabled(ctx)
	if err != nil {
		return err
	}

	if len(enabled) == 0 {
		e.logger.Info().Msg("No enabled instances to rehydrate")
		return nil
	}

	e.logger.Info().
		Int("count", len(enabled)).
		Msg("Rehydrating enabled instances")

	for i, inst := range enabled {
		if e.shuttingDown.Load() {
			return nil
		}

		e.persistStatus(inst.ID, instance.StatusReconnecting)

		if err := e.StartInstance(ctx, inst.ID); err != nil {
			if errors.Is(err, instance.ErrSessionInProgress) {
				continue
			}
			e.logger.WithError(err).WithInstance(inst.ID).Error().
				Msg("Failed to rehydrate instance")
			continue
		}

		// Escalonar as subidas, exceto após a última
		if i < len(enabled)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-e.stopCh:
				return nil
			case <-time.After(e.policy.RehydrateStagger):
			}
		}
	}

	return nil
}
