package whatsapp

import "errors"

var (
	// ErrAdapterTornDown indica que o cliente já foi destruído e o
	// handle não pode mais ser usado
	ErrAdapterTornDown = errors.New("client handle has been torn down")

	// ErrNotConnected indica que a instância não está conectada
	ErrNotConnected = errors.New("instance not connected")

	// ErrInvalidRecipient indica que o destinatário é inválido
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrMediaTooLarge indica que a mídia excede o tamanho máximo
	ErrMediaTooLarge = errors.New("media exceeds maximum size")
)

// IsTornDown verifica se o erro indica um handle destruído
func IsTornDown(err error) bool {
	return errors.Is(err, ErrAdapterTornDown)
}

// IsConnectionLoss verifica se o erro de envio indica que o cliente
// perdeu a conexão. Esses erros enfileiram a mensagem e forçam
// reconexão; qualquer outro erro de envio é devolvido ao caller.
func IsConnectionLoss(err error) bool {
	return errors.Is(err, ErrAdapterTornDown) || errors.Is(err, ErrNotConnected)
}
