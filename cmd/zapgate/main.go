package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"zapgate/internal/app"
	"zapgate/internal/app/config"
	"zapgate/internal/app/server"
	"zapgate/internal/http/router"
	"zapgate/internal/infra/database"
	"zapgate/pkg/logger"
)

func main() {
	// Carregar configuração
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Configurar logger usando as configurações do .env
	log := logger.Setup(cfg).WithComponent("main")

	log.WithFields(map[string]interface{}{
		"env":  cfg.App.Env,
		"port": cfg.App.Port,
	}).Info().Msg("Starting ZapGate")

	// Conectar ao banco de dados
	dsn := cfg.GetDatabaseDSN()

	db, err := database.NewDatabase(dsn, cfg.App.Env == "development", log)
	if err != nil {
		log.WithError(err).Fatal().Msg("Failed to connect to database")
	}

	log.Info().Msg("Connected to database successfully")

	// Executar migrações
	if err := database.RunMigrations(db); err != nil {
		log.WithError(err).Fatal().Msg("Failed to run migrations")
	}

	// Inicializar container de dependências
	container, err := app.NewContainer(context.Background(), cfg, db, log)
	if err != nil {
		log.WithError(err).Fatal().Msg("Failed to initialize container")
	}
	defer container.Close()

	// Supervisão em background: watchdog, recovery sweep e monitor de memória
	container.Engine.StartSupervisor()

	// Reidratar as instâncias habilitadas
	if err := container.Engine.Rehydrate(context.Background()); err != nil {
		log.WithError(err).Error().Msg("Failed to rehydrate instances")
	}

	// Configurar router com handlers
	handler := router.New(
		cfg,
		log,
		container.SessionHandler,
		container.InstanceHandler,
		container.SendHandler,
		container.QueueHandler,
		container.HealthHandler,
	)

	// Criar servidor
	srv := server.New(cfg, handler, log)

	// Canal para capturar sinais do sistema
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Iniciar servidor em goroutine
	go func() {
		if err := srv.Start(); err != nil {
			log.WithError(err).Fatal().Msg("Failed to start server")
		}
	}()

	log.Info().Msg("ZapGate started successfully")

	// Aguardar sinal de parada
	<-stop

	// Graceful shutdown: primeiro o HTTP deixa de aceitar trabalho,
	// depois o engine desliga as sessões dentro do prazo configurado
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()

	if err := srv.Stop(httpCtx); err != nil {
		log.WithError(err).Error().Msg("Error during server shutdown")
	}

	engineCtx, cancelEngine := context.WithTimeout(context.Background(), cfg.Engine.GracefulShutdownTimeout)
	defer cancelEngine()

	if err := container.Engine.Shutdown(engineCtx); err != nil {
		log.WithError(err).Error().Msg("Engine shutdown exceeded deadline")
	}

	log.Info().Msg("Application stopped")
}
