package instance

import (
	"errors"
	"fmt"
)

// Erros de domínio específicos para instâncias
var (
	// ErrInstanceNotFound indica que a instância não foi encontrada
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrInstanceAlreadyExists indica que uma instância com o ID já existe
	ErrInstanceAlreadyExists = errors.New("instance already exists")

	// ErrInstanceDisabled indica que a instância está desabilitada
	ErrInstanceDisabled = errors.New("instance is disabled")

	// ErrInstanceNotConnected indica que a instância não está conectada
	ErrInstanceNotConnected = errors.New("instance not connected")

	// ErrSessionInProgress indica que já existe uma operação de sessão em andamento
	ErrSessionInProgress = errors.New("session operation already in progress")

	// ErrInvalidInstanceID indica que o ID da instância é inválido
	ErrInvalidInstanceID = errors.New("invalid instance id")
)

// InstanceError representa um erro de instância com contexto adicional
type InstanceError struct {
	InstanceID string
	Op         string
	Err        error
}

func (e *InstanceError) Error() string {
	return fmt.Sprintf("instance %s: %s: %v", e.InstanceID, e.Op, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}

// NewInstanceError cria um novo erro de instância
func NewInstanceError(instanceID, op string, err error) *InstanceError {
	return &InstanceError{
		InstanceID: instanceID,
		Op:         op,
		Err:        err,
	}
}
