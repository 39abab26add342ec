// Package dbtest opens throwaway sqlite databases carrying the storefront schema.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-payments/pkg/db"
)

// schema mirrors pkg/migrate/migrations using sqlite types.
var schema = []string{
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		user_id TEXT,
		checkout_id TEXT,
		email TEXT NOT NULL DEFAULT '',
		total_price NUMERIC NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'NGN',
		shipping_address TEXT,
		shipping_estimate TEXT,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		status TEXT NOT NULL DEFAULT 'pending',
		payment_details TEXT,
		paid_at DATETIME,
		remote_order_id TEXT,
		side_effects_attempted_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		position INTEGER NOT NULL DEFAULT 0,
		variant_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC NOT NULL DEFAULT 0,
		inventory_applied_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE product_variants (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL DEFAULT '',
		variant_id TEXT NOT NULL UNIQUE,
		title TEXT,
		inventory_quantity INTEGER NOT NULL DEFAULT 0 CHECK (inventory_quantity >= 0),
		available_for_sale BOOLEAN NOT NULL DEFAULT 0,
		updated_at DATETIME
	)`,
	`CREATE TABLE carts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		cleared_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE cart_items (
		id TEXT PRIMARY KEY,
		cart_id TEXT NOT NULL REFERENCES carts(id),
		variant_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		unit_price NUMERIC NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		UNIQUE (event_type, aggregate_type, aggregate_id)
	)`,
}

// Open returns a fresh in-memory database with the storefront schema. The pool
// is pinned to a single connection so concurrent callers serialize like rows
// locked by Postgres would.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := "file:storefront_" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// OpenClient wraps Open in a db.Client.
func OpenClient(t testing.TB) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewFromConn(conn), conn
}
