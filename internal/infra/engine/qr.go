package engine

import (
	"errors"
	"os"

	"github.com/mdp/qrterminal/v3"
	qrcode "github.com/skip2/go-qrcode"
)

// ErrQRNotAvailable indica que a sessão não está aguardando pareamento
var ErrQRNotAvailable = errors.New("qr code not available")

// QRCode retorna o payload do QR corrente da instância. Só existe QR
// enquanto a sessão está em QR_REQUIRED; cada novo QR emitido pelo
// cliente substitui o anterior.
func (e *Engine) QRCode(instanceID string) (string, error) {
	state, ok := e.registry.Get(instanceID)
	if !ok {
		return "", ErrQRNotAvailable
	}

	state.mu.Lock()
	code := state.QRCode
	status := state.Status
	state.mu.Unlock()

	if code == "" || status != StatusQRRequired {
		return "", ErrQRNotAvailable
	}
	return code, nil
}

// QRCodePNG retorna o QR corrente renderizado como PNG
func (e *Engine) QRCodePNG(instanceID string, size int) ([]byte, error) {
	code, err := e.QRCode(instanceID)
	if err != nil {
		return nil, err
	}

	if size <= 0 {
		size = 256
	}

	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, err
	}
	return png, nil
}

// DisplayQRTerminal imprime o QR corrente no terminal, útil em
// desenvolvimento para parear sem interface
func (e *Engine) DisplayQRTerminal(instanceID string) error {
	code, err := e.QRCode(instanceID)
	if err != nil {
		return err
	}

	config := qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    os.Stdout,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	}
	qrterminal.GenerateWithConfig(code, config)
	return nil
}
