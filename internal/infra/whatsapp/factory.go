package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"zapgate/internal/domain/instance"
	domain "zapgate/internal/domain/whatsapp"
	"zapgate/pkg/logger"
)

// Factory cria clientes whatsmeow compartilhando um único container
// SQLStore. O device de cada instância é resolvido pelo JID salvo no
// banco; sem JID um device novo é criado e o pareamento por QR começa.
type Factory struct {
	container *sqlstore.Container
	cacheRoot string
	repo      instance.Repository
	log       logger.Logger
}

// NewFactory cria a factory com um container SQLStore sobre o mesmo
// banco da aplicação. cacheRoot é a raiz dos diretórios de trabalho
// por instância.
func NewFactory(ctx context.Context, dsn, cacheRoot string, repo instance.Repository, log logger.Logger) (*Factory, error) {
	waLogger := logger.NewWhatsmeowLoggerAdapter(log)

	container, err := sqlstore.New(ctx, "postgres", dsn, waLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create whatsmeow store container: %w", err)
	}

	return &Factory{
		container: container,
		cacheRoot: cacheRoot,
		repo:      repo,
		log:       log.WithComponent("whatsmeow-factory"),
	}, nil
}

// NewClient cria um cliente para a instância, reaproveitando o device
// registrado quando houver
func (f *Factory) NewClient(ctx context.Context, instanceID string) (domain.Client, error) {
	deviceStore, err := f.resolveDevice(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	workDir := filepath.Join(f.cacheRoot, instanceID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create client work dir: %w", err)
	}

	waLogger := logger.NewWhatsmeowLoggerAdapter(f.log.WithInstance(instanceID))
	wa := whatsmeow.NewClient(deviceStore, waLogger)
	wa.EnableAutoReconnect = false

	return newClient(instanceID, workDir, wa, f.log), nil
}

// PurgeCredentials apaga o device registrado da instância e o seu
// diretório de trabalho. Sem device a próxima subida cai no fluxo de
// pareamento por QR.
func (f *Factory) PurgeCredentials(ctx context.Context, instanceID string) error {
	inst, err := f.repo.GetByID(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}

	if inst.Phone != "" {
		devices, err := f.container.GetAllDevices(ctx)
		if err != nil {
			return fmt.Errorf("failed to list stored devices: %w", err)
		}
		for _, device := range devices {
			if device.ID != nil && device.ID.User == inst.Phone {
				if err := f.container.DeleteDevice(ctx, device); err != nil {
					return fmt.Errorf("failed to delete device: %w", err)
				}
				f.log.WithInstance(instanceID).Info().
					Str("jid", device.ID.String()).
					Msg("Device deleted, next start will require pairing")
				break
			}
		}

		inst.Phone = ""
		if err := f.repo.Update(ctx, inst); err != nil {
			f.log.WithInstance(instanceID).WithError(err).
				Warn().Msg("Failed to clear instance phone")
		}
	}

	if err := os.RemoveAll(filepath.Join(f.cacheRoot, instanceID)); err != nil {
		f.log.WithInstance(instanceID).WithError(err).
			Warn().Msg("Failed to remove client work dir")
	}

	return nil
}

// resolveDevice busca o device salvo pelo JID da instância; na
// ausência (ou falha de lookup) um device novo é criado
func (f *Factory) resolveDevice(ctx context.Context, instanceID string) (*store.Device, error) {
	inst, err := f.repo.GetByID(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load instance %s: %w", instanceID, err)
	}

	if inst.Phone == "" {
		return f.container.NewDevice(), nil
	}

	devices, err := f.container.GetAllDevices(ctx)
	if err != nil {
		f.log.WithInstance(instanceID).WithError(err).
			Warn().Msg("Failed to list stored devices, creating new one")
		return f.container.NewDevice(), nil
	}

	for _, device := range devices {
		if device.ID != nil && device.ID.User == inst.Phone {
			return device, nil
		}
	}

	f.log.WithInstance(instanceID).
		Warn().Str("phone", inst.Phone).
		Msg("Stored device not found, creating new one")
	return f.container.NewDevice(), nil
}
