// Package storage provides the persistence layer for schedules, instances
// and responses.
//
// This package includes:
//   - GormStorage: A GORM-based core.Store that also serves as the tenant registry
//   - Open: picks the PostgreSQL or SQLite driver from a DSN
//
// Every cross-replica guarantee (one instance per slot, one response per
// instance, one reminder per instance) is a conditional write checked
// through RowsAffected or a unique index.
package storage
