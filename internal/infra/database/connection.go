package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"zapgate/internal/domain/instance"
	"zapgate/pkg/logger"
)

// NewDatabase cria uma nova conexão com o banco de dados PostgreSQL
func NewDatabase(dsn string, debug bool, log logger.Logger) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	// Habilitar logging de queries se necessário
	if debug {
		db.AddQueryHook(logger.NewBunQueryHook(log))
	}

	// Configurar pool de conexões
	sqldb.SetMaxOpenConns(25)
	sqldb.SetMaxIdleConns(25)

	// Testar conexão
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}

// RunMigrations executa as migrações do banco de dados. A tabela é
// criada se não existir e colunas adicionadas em versões posteriores
// são aplicadas de forma idempotente.
func RunMigrations(db *bun.DB) error {
	ctx := context.Background()

	_, err := db.NewCreateTable().
		Model((*instance.Instance)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create instances table: %w", err)
	}

	// Colunas adicionadas depois da primeira versão da tabela
	alterStatements := []string{
		`ALTER TABLE zapgate_instances ADD COLUMN IF NOT EXISTS sistema_url text`,
		`ALTER TABLE zapgate_instances ADD COLUMN IF NOT EXISTS api_token varchar(255)`,
		`ALTER TABLE zapgate_instances ADD COLUMN IF NOT EXISTS last_connection_at timestamptz`,
		`ALTER TABLE zapgate_instances ADD COLUMN IF NOT EXISTS last_disconnect_reason varchar(50)`,
		`ALTER TABLE zapgate_instances ADD COLUMN IF NOT EXISTS reconnect_attempts integer NOT NULL DEFAULT 0`,
	}

	for _, stmt := range alterStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to run migration %q: %w", stmt, err)
		}
	}

	return nil
}
