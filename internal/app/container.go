package app

import (
	"context"

	"github.com/uptrace/bun"

	"zapgate/internal/app/config"
	"zapgate/internal/domain/instance"
	"zapgate/internal/http/handlers"
	"zapgate/internal/infra/authstore"
	"zapgate/internal/infra/database"
	"zapgate/internal/infra/engine"
	"zapgate/internal/infra/media"
	"zapgate/internal/infra/whatsapp"
	"zapgate/pkg/logger"
)

// Container gerencia todas as dependências da aplicação
type Container struct {
	// Database
	DB *bun.DB

	// Repositories
	InstanceRepo instance.Repository

	// Infra
	AuthStore      *authstore.Store
	ClientFactory  *whatsapp.Factory
	MediaProcessor *media.Processor

	// Engine de sessões
	Engine *engine.Engine

	// Handlers
	SessionHandler  *handlers.SessionHandler
	InstanceHandler *handlers.InstanceHandler
	SendHandler     *handlers.SendHandler
	QueueHandler    *handlers.QueueHandler
	HealthHandler   *handlers.HealthHandler

	// Logger
	Logger logger.Logger
}

// NewContainer cria um novo container de dependências
func NewContainer(ctx context.Context, cfg *config.Config, db *bun.DB, log logger.Logger) (*Container, error) {
	c := &Container{
		DB:     db,
		Logger: log.WithComponent("di-container"),
	}

	if err := c.initInfra(ctx, cfg, log); err != nil {
		return nil, err
	}

	c.initEngine(cfg, log)
	c.initHandlers(log)

	c.Logger.Info().Msg("Container initialized successfully")
	return c, nil
}

// initInfra inicializa repositório, blob store, factory e processador de mídia
func (c *Container) initInfra(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	c.InstanceRepo = database.NewInstanceRepository(c.DB)

	store, err := authstore.NewStore(cfg.Storage.SessionPath, log)
	if err != nil {
		return err
	}
	c.AuthStore = store

	factory, err := whatsapp.NewFactory(ctx, cfg.GetDatabaseDSN(), cfg.Storage.CachePath, c.InstanceRepo, log)
	if err != nil {
		return err
	}
	c.ClientFactory = factory

	c.MediaProcessor = media.NewProcessor(log)
	return nil
}

// initEngine inicializa o engine de sessões
func (c *Container) initEngine(cfg *config.Config, log logger.Logger) {
	c.Engine = engine.New(cfg, c.InstanceRepo, c.AuthStore, c.ClientFactory, log)
}

// initHandlers inicializa os handlers
func (c *Container) initHandlers(log logger.Logger) {
	c.SessionHandler = handlers.NewSessionHandler(c.Engine, c.InstanceRepo, log)
	c.InstanceHandler = handlers.NewInstanceHandler(c.Engine, c.InstanceRepo, log)
	c.SendHandler = handlers.NewSendHandler(c.Engine, c.InstanceRepo, c.MediaProcessor, log)
	c.QueueHandler = handlers.NewQueueHandler(c.Engine, log)
	c.HealthHandler = handlers.NewHealthHandler(c.Engine)
}

// Close encerra o container e todos os seus recursos. O engine deve
// ser desligado antes, via Engine.Shutdown.
func (c *Container) Close() error {
	c.Logger.Info().Msg("Closing container")

	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			c.Logger.WithError(err).Error().Msg("Failed to close database")
			return err
		}
	}

	c.Logger.Info().Msg("Container closed successfully")
	return nil
}
