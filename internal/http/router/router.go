package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zapgate/internal/app/config"
	"zapgate/internal/http/handlers"
	appMiddleware "zapgate/internal/http/middleware"
	"zapgate/pkg/logger"
)

// Router representa o roteador principal da aplicação
type Router struct {
	*chi.Mux
	config          *config.Config
	logger          logger.Logger
	sessionHandler  *handlers.SessionHandler
	instanceHandler *handlers.InstanceHandler
	sendHandler     *handlers.SendHandler
	queueHandler    *handlers.QueueHandler
	healthHandler   *handlers.HealthHandler
}

// New cria uma nova instância do router
func New(
	cfg *config.Config,
	log logger.Logger,
	sessionHandler *handlers.SessionHandler,
	instanceHandler *handlers.InstanceHandler,
	sendHandler *handlers.SendHandler,
	queueHandler *handlers.QueueHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	r := &Router{
		Mux:             chi.NewRouter(),
		config:          cfg,
		logger:          log.WithComponent("router"),
		sessionHandler:  sessionHandler,
		instanceHandler: instanceHandler,
		sendHandler:     sendHandler,
		queueHandler:    queueHandler,
		healthHandler:   healthHandler,
	}

	r.setupMiddlewares()
	r.setupRoutes()

	return r
}

// setupMiddlewares configura os middlewares globais
func (r *Router) setupMiddlewares() {
	// Middleware básicos do Chi
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Timeout global
	r.Use(middleware.Timeout(60 * time.Second))

	// Middlewares customizados
	r.Use(appMiddleware.NewCORS(r.config.CORS.AllowedOrigins))
	r.Use(appMiddleware.NewLoggingMiddleware(r.logger))
	r.Use(appMiddleware.NewRecoveryMiddleware(r.logger))
	r.Use(appMiddleware.NewRateLimit(r.config.RateLimit.Requests, r.config.RateLimit.Window))
}

// setupRoutes configura as rotas da aplicação
func (r *Router) setupRoutes() {
	r.Route("/api", func(api chi.Router) {
		// Health check
		api.Get("/health", r.healthHandler.Health)

		// Ciclo de vida de sessão
		api.Route("/session", func(rt chi.Router) {
			rt.Post("/start", r.sessionHandler.StartSession)
			rt.Post("/stop", r.sessionHandler.StopSession)
			rt.Post("/reconnect", r.sessionHandler.ReconnectSession)
			rt.Post("/reset", r.sessionHandler.ResetSession)
			rt.Get("/status/{instanceID}", r.sessionHandler.GetStatus)
			rt.Get("/qr/{instanceID}", r.sessionHandler.GetQRCode)
		})

		// Administração de instâncias
		api.Get("/instances", r.instanceHandler.ListInstances)
		api.Post("/instances", r.instanceHandler.CreateInstance)
		api.Route("/instance/{instanceID}", func(rt chi.Router) {
			rt.Get("/", r.instanceHandler.GetInstance)
			rt.Delete("/", r.instanceHandler.DeleteInstance)
			rt.Post("/enable", r.instanceHandler.EnableInstance)
			rt.Post("/disable", r.instanceHandler.DisableInstance)
		})

		// Fila de mensagens pendentes
		api.Route("/queue/{instanceID}", func(rt chi.Router) {
			rt.Get("/", r.queueHandler.GetQueue)
			rt.Delete("/", r.queueHandler.ClearQueue)
			rt.Delete("/{messageID}", r.queueHandler.RemoveMessage)
		})

		// Envio de mensagens
		api.Post("/send-text", r.sendHandler.SendText)
		api.Post("/send-media", r.sendHandler.SendMedia)
	})

	// Rota catch-all para 404
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(404)
		w.Write([]byte(`{
			"success": false,
			"message": "Endpoint não encontrado",
			"error": {
				"code": "NOT_FOUND",
				"details": "O endpoint solicitado não existe"
			}
		}`))
	})
}
