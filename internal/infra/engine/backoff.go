package engine

import (
	"math"
	"math/rand"
	"time"

	"zapgate/internal/app/config"
	"zapgate/internal/domain/whatsapp"
)

// backoffPolicy calcula o atraso entre tentativas de reconexão a
// partir do motivo da desconexão e do número de tentativas já feitas.
type backoffPolicy struct {
	policy *config.EnginePolicy
	// jitterFn é substituível em teste para tornar o atraso determinístico
	jitterFn func(max time.Duration) time.Duration
}

func newBackoffPolicy(policy *config.EnginePolicy) *backoffPolicy {
	return &backoffPolicy{
		policy:   policy,
		jitterFn: randomJitter,
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// Delay retorna o atraso antes da tentativa de número attempts
// (0-based: o valor já persistido antes desta tentativa).
//
// Motivos imediatos usam escala linear curta; os demais usam backoff
// exponencial com teto e jitter para evitar sincronização entre
// instâncias reconectando ao mesmo tempo.
func (b *backoffPolicy) Delay(reason whatsapp.DisconnectReason, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}

	if config.IsImmediateReason(reason) {
		return b.policy.ImmediateBaseDelay + time.Duration(attempts)*b.policy.ImmediateStepDelay
	}

	exp := float64(b.policy.BaseDelay) * math.Pow(1.5, float64(attempts))
	delay := time.Duration(exp)
	if delay > b.policy.MaxDelay || delay < 0 {
		delay = b.policy.MaxDelay
	}

	return delay + b.jitterFn(b.policy.JitterMax)
}

// NextAttempts retorna o valor do contador para a próxima tentativa.
// Ao atingir o limite o contador volta a zero e a reconexão continua;
// esgotar tentativas nunca desiste da instância.
func (b *backoffPolicy) NextAttempts(attempts int) int {
	next := attempts + 1
	if next >= b.policy.MaxReconnectAttempts {
		return 0
	}
	return next
}
