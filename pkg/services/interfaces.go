package services

import (
	"context"

	"github.com/ekaya-inc/ekaya-sync/pkg/adapters/postgres"
	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/notifier"
)

// CatalogReader reads the catalog and rows of managed schemas.
type CatalogReader interface {
	ListTables(ctx context.Context, schemaName string) ([]models.CatalogTable, error)
	Columns(ctx context.Context, schemaName, tableName string) ([]models.CatalogColumn, error)
	PrimaryKey(ctx context.Context, schemaName, tableName string) ([]postgres.KeyColumn, error)
	ForeignKeys(ctx context.Context, schemaName, tableName string) ([]models.ForeignKey, error)
	ScanRows(ctx context.Context, schemaName, tableName string, key []postgres.KeyColumn, after []string, limit int) ([]postgres.ScannedRow, error)
}

var _ CatalogReader = (*postgres.Catalog)(nil)

// TriggerInstaller installs and removes change triggers.
type TriggerInstaller interface {
	Install(ctx context.Context, schemaName, tableName string) error
	Drop(ctx context.Context, schemaName, tableName string) error
}

var _ TriggerInstaller = (*notifier.TriggerManager)(nil)

// Transactor runs fn in a transaction carried by the context passed to fn.
// Repositories and trigger DDL issued with that context join it.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

var _ Transactor = (*database.DB)(nil)
