package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/rs/zerolog/log"
)

// MySQLKeyRepository implements KeyRepository using MySQL.
//
// Expected table:
//
//	CREATE TABLE billing_keys (
//		id BIGINT AUTO_INCREMENT PRIMARY KEY,
//		package_name VARCHAR(255) NOT NULL,
//		name VARCHAR(64) NOT NULL,
//		value TEXT NOT NULL,
//		is_active TINYINT(1) NOT NULL DEFAULT 1,
//		UNIQUE KEY uq_package_name (package_name, name)
//	);
type MySQLKeyRepository struct {
	db *sql.DB
}

// NewMySQLKeyRepository creates a new MySQL key repository.
func NewMySQLKeyRepository(db *sql.DB) *MySQLKeyRepository {
	return &MySQLKeyRepository{db: db}
}

// OpenMySQL opens and pings a MySQL connection pool.
func OpenMySQL(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return db, nil
}

// GetVerificationKey returns the active key stored under name for the package.
func (r *MySQLKeyRepository) GetVerificationKey(ctx context.Context, packageName, name string) (string, error) {
	log.Debug().Str("component", "keys").Str("package", packageName).Str("name", name).Msg("Looking up verification key")

	query := `SELECT value FROM billing_keys WHERE package_name = ? AND name = ? AND is_active = 1 LIMIT 1`

	var value string
	err := r.db.QueryRowContext(ctx, query, packageName, name).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("failed to get verification key: %w", err)
	}
	return value, nil
}

// Ensure MySQLKeyRepository implements KeyRepository
var _ KeyRepository = (*MySQLKeyRepository)(nil)
