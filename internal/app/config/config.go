package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"zapgate/internal/domain/whatsapp"
)

type Config struct {
	App struct {
		Env  string
		Port string
		Host string
	}

	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
	}

	Storage struct {
		// Diretório onde os blobs de autenticação são arquivados
		SessionPath string
		// Diretório de trabalho dos clientes (perfil/caches por instância)
		CachePath string
	}

	Engine EnginePolicy

	Logging struct {
		// Configurações básicas
		Level          string
		Output         string
		ConsoleFormat  string
		FileFormat     string
		FilePath       string
		FileMaxSize    int
		FileMaxBackups int
		FileMaxAge     int
		FileCompress   bool
		ConsoleColors  bool

		// Configurações contextuais
		AppName     string
		Environment string
		Version     string
		ServiceName string

		// Configurações avançadas
		EnableCaller     bool
		EnableStackTrace bool
	}

	RateLimit struct {
		Requests int
		Window   time.Duration
	}

	CORS struct {
		AllowedOrigins string
	}
}

// EnginePolicy concentra os parâmetros de timing e reconexão do
// engine de sessões. Todos os valores têm default conservador e
// podem ser sobrescritos por variável de ambiente.
type EnginePolicy struct {
	// Ciclo de vida
	InitTimeout    time.Duration
	LoadingTimeout time.Duration
	PromotionPoll  time.Duration
	DestroyTimeout time.Duration

	// Supervisão
	HeartbeatInterval      time.Duration
	StateCheckTimeout      time.Duration
	MaxConsecutiveFailures int
	MaxContextErrors       int
	DeepCheckInterval      time.Duration
	DeepCheckTimeout       time.Duration
	PingTimeoutThreshold   time.Duration
	WatchdogInterval       time.Duration
	RecoveryCheckInterval  time.Duration
	ZombieThreshold        time.Duration
	InactivityThreshold    time.Duration
	MemoryCheckInterval    time.Duration
	MemoryLimitBytes       uint64

	// Reconexão
	ImmediateBaseDelay    time.Duration
	ImmediateStepDelay    time.Duration
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	JitterMax             time.Duration
	MaxReconnectAttempts  int
	ReconnectResetAfter   time.Duration

	// Fila de mensagens pendentes
	MaxQueueSize       int
	MessageTTL         time.Duration
	MaxSendRetries     int
	DrainStabilization time.Duration
	DrainPacing        time.Duration

	// Boot e shutdown
	RehydrateStagger        time.Duration
	GracefulShutdownTimeout time.Duration
}

// ImmediateReasons são os motivos de desconexão que disparam
// reconexão imediata com atraso linear curto.
var ImmediateReasons = map[whatsapp.DisconnectReason]bool{
	whatsapp.ReasonConflict:   true,
	whatsapp.ReasonUnpaired:   true,
	whatsapp.ReasonNavigation: true,
	whatsapp.ReasonTimeout:    true,
	whatsapp.ReasonNetwork:    true,
}

// NoReconnectReasons são os motivos terminais: a instância é
// desabilitada e nenhuma reconexão é agendada.
var NoReconnectReasons = map[whatsapp.DisconnectReason]bool{
	whatsapp.ReasonLogout:      true,
	whatsapp.ReasonTOSBlock:    true,
	whatsapp.ReasonSMBTOSBlock: true,
	whatsapp.ReasonBanned:      true,
}

// IsImmediateReason verifica se o motivo dispara reconexão imediata
func IsImmediateReason(reason whatsapp.DisconnectReason) bool {
	return ImmediateReasons[reason]
}

// IsNoReconnectReason verifica se o motivo é terminal
func IsNoReconnectReason(reason whatsapp.DisconnectReason) bool {
	return NoReconnectReasons[reason]
}

func LoadConfig() (*Config, error) {
	// Carregar .env se existir
	_ = godotenv.Load()

	cfg := &Config{}

	// App
	cfg.App.Env = getEnv("APP_ENV", "development")
	cfg.App.Port = getEnv("PORT", "8080")
	cfg.App.Host = getEnv("APP_HOST", "0.0.0.0")

	// Database
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnv("DB_PORT", "5432")
	cfg.Database.User = getEnv("DB_USER", "zapgate")
	cfg.Database.Password = getEnv("DB_PASSWORD", "zapgate123")
	cfg.Database.Name = getEnv("DB_NAME", "zapgate")
	cfg.Database.SSLMode = getEnv("DB_SSL_MODE", "disable")

	// Storage
	cfg.Storage.SessionPath = getEnv("SESSION_STORAGE_PATH", "./sessions")
	cfg.Storage.CachePath = getEnv("CACHE_PATH", "./cache")

	// Engine - ciclo de vida
	cfg.Engine.InitTimeout = getEnvAsDuration("INIT_TIMEOUT", 180*time.Second)
	cfg.Engine.LoadingTimeout = getEnvAsDuration("LOADING_TIMEOUT", 300*time.Second)
	cfg.Engine.PromotionPoll = getEnvAsDuration("PROMOTION_POLL", 15*time.Second)
	cfg.Engine.DestroyTimeout = getEnvAsDuration("DESTROY_TIMEOUT", 10*time.Second)

	// Engine - supervisão
	cfg.Engine.HeartbeatInterval = getEnvAsDuration("HEARTBEAT_INTERVAL", 180*time.Second)
	cfg.Engine.StateCheckTimeout = getEnvAsDuration("STATE_CHECK_TIMEOUT", 15*time.Second)
	cfg.Engine.MaxConsecutiveFailures = getEnvAsInt("MAX_CONSECUTIVE_FAILURES", 10)
	cfg.Engine.MaxContextErrors = getEnvAsInt("MAX_CONTEXT_ERRORS", 15)
	cfg.Engine.DeepCheckInterval = getEnvAsDuration("DEEP_CHECK_INTERVAL", 30*time.Minute)
	cfg.Engine.DeepCheckTimeout = getEnvAsDuration("DEEP_CHECK_TIMEOUT", 20*time.Second)
	cfg.Engine.PingTimeoutThreshold = getEnvAsDuration("PING_TIMEOUT_THRESHOLD", 600*time.Second)
	cfg.Engine.WatchdogInterval = getEnvAsDuration("WATCHDOG_INTERVAL", 60*time.Second)
	cfg.Engine.RecoveryCheckInterval = getEnvAsDuration("RECOVERY_CHECK_INTERVAL", 60*time.Second)
	cfg.Engine.ZombieThreshold = getEnvAsDuration("ZOMBIE_THRESHOLD", 1800*time.Second)
	cfg.Engine.InactivityThreshold = getEnvAsDuration("INACTIVITY_THRESHOLD", 900*time.Second)
	cfg.Engine.MemoryCheckInterval = getEnvAsDuration("MEMORY_CHECK_INTERVAL", 900*time.Second)
	cfg.Engine.MemoryLimitBytes = uint64(getEnvAsInt("MEMORY_LIMIT_MB", 1024)) * 1024 * 1024

	// Engine - reconexão
	cfg.Engine.ImmediateBaseDelay = getEnvAsDuration("RECONNECT_IMMEDIATE_BASE", 3*time.Second)
	cfg.Engine.ImmediateStepDelay = getEnvAsDuration("RECONNECT_IMMEDIATE_STEP", 1500*time.Millisecond)
	cfg.Engine.BaseDelay = getEnvAsDuration("RECONNECT_BASE_DELAY", 5*time.Second)
	cfg.Engine.MaxDelay = getEnvAsDuration("RECONNECT_MAX_DELAY", 300*time.Second)
	cfg.Engine.JitterMax = getEnvAsDuration("RECONNECT_JITTER_MAX", 3*time.Second)
	cfg.Engine.MaxReconnectAttempts = getEnvAsInt("MAX_RECONNECT_ATTEMPTS", 20)
	cfg.Engine.ReconnectResetAfter = getEnvAsDuration("RECONNECT_RESET_AFTER", 30*time.Minute)

	// Engine - fila de pendentes
	cfg.Engine.MaxQueueSize = getEnvAsInt("MAX_QUEUE_SIZE", 100)
	cfg.Engine.MessageTTL = getEnvAsDuration("MESSAGE_TTL", 5*time.Minute)
	cfg.Engine.MaxSendRetries = getEnvAsInt("MAX_SEND_RETRIES", 3)
	cfg.Engine.DrainStabilization = getEnvAsDuration("DRAIN_STABILIZATION", 2*time.Second)
	cfg.Engine.DrainPacing = getEnvAsDuration("DRAIN_PACING", 500*time.Millisecond)

	// Engine - boot e shutdown
	cfg.Engine.RehydrateStagger = getEnvAsDuration("REHYDRATE_STAGGER", 2*time.Second)
	cfg.Engine.GracefulShutdownTimeout = getEnvAsDuration("GRACEFUL_SHUTDOWN_TIMEOUT", 30*time.Second)

	// Logging - Configurações básicas
	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")
	cfg.Logging.Output = getEnv("LOG_OUTPUT", "dual")
	cfg.Logging.ConsoleFormat = getEnv("LOG_CONSOLE_FORMAT", "console")
	cfg.Logging.FileFormat = getEnv("LOG_FILE_FORMAT", "json")
	cfg.Logging.FilePath = getEnv("LOG_FILE_PATH", "logs/zapgate.log")
	cfg.Logging.FileMaxSize = getEnvAsInt("LOG_FILE_MAX_SIZE", 100)
	cfg.Logging.FileMaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 3)
	cfg.Logging.FileMaxAge = getEnvAsInt("LOG_FILE_MAX_AGE", 28)
	cfg.Logging.FileCompress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.Logging.ConsoleColors = getEnvAsBool("LOG_CONSOLE_COLORS", true)

	// Logging - Configurações contextuais
	cfg.Logging.AppName = getEnv("APP_NAME", "zapgate")
	cfg.Logging.Environment = cfg.App.Env
	cfg.Logging.Version = getEnv("APP_VERSION", "1.0.0")
	cfg.Logging.ServiceName = getEnv("SERVICE_NAME", "whatsapp-gateway")

	// Logging - Configurações avançadas
	cfg.Logging.EnableCaller = getEnvAsBool("LOG_ENABLE_CALLER", true)
	cfg.Logging.EnableStackTrace = getEnvAsBool("LOG_ENABLE_STACK_TRACE", false)

	// Rate Limit
	cfg.RateLimit.Requests = getEnvAsInt("RATE_LIMIT_REQUESTS", 100)
	cfg.RateLimit.Window = getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute)

	// CORS
	cfg.CORS.AllowedOrigins = getEnv("CORS_ALLOWED_ORIGINS", "*")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Aceitar valores inteiros em segundos para compatibilidade
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func (c *Config) GetDatabaseDSN() string {
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.Name + "?sslmode=" + c.Database.SSLMode
}

// Implementação da interface ConfigProvider para integração com o logger
func (c *Config) GetLogLevel() string         { return c.Logging.Level }
func (c *Config) GetLogOutput() string        { return c.Logging.Output }
func (c *Config) GetLogConsoleFormat() string { return c.Logging.ConsoleFormat }
func (c *Config) GetLogFileFormat() string    { return c.Logging.FileFormat }
func (c *Config) GetLogFilePath() string      { return c.Logging.FilePath }
func (c *Config) GetLogFileMaxSize() int      { return c.Logging.FileMaxSize }
func (c *Config) GetLogFileMaxBackups() int   { return c.Logging.FileMaxBackups }
func (c *Config) GetLogFileMaxAge() int       { return c.Logging.FileMaxAge }
func (c *Config) GetLogFileCompress() bool    { return c.Logging.FileCompress }
func (c *Config) GetLogConsoleColors() bool   { return c.Logging.ConsoleColors }

func (c *Config) GetLogAppName() string     { return c.Logging.AppName }
func (c *Config) GetLogEnvironment() string { return c.Logging.Environment }
func (c *Config) GetLogVersion() string     { return c.Logging.Version }
func (c *Config) GetLogServiceName() string { return c.Logging.ServiceName }

func (c *Config) GetLogEnableCaller() bool     { return c.Logging.EnableCaller }
func (c *Config) GetLogEnableStackTrace() bool { return c.Logging.EnableStackTrace }
