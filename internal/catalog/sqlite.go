package catalog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type SQLiteReader struct {
	db *sql.DB
}

func NewSQLiteReader(dbPath string) (*SQLiteReader, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}

	return &SQLiteReader{db: db}, nil
}

func (r *SQLiteReader) RunMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(r.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func (r *SQLiteReader) Resolve(ctx context.Context, productID int64) (domain.Product, error) {
	query := `
		SELECT id, processor_ref, name, description, price, images, available
		FROM products
		WHERE id = ?
	`

	var (
		p      domain.Product
		images string
	)
	err := r.db.QueryRowContext(ctx, query, productID).Scan(
		&p.ID,
		&p.ProcessorRef,
		&p.Name,
		&p.Description,
		&p.Price,
		&images,
		&p.Available,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("product %d: %w", productID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("failed to query product %d: %w", productID, err)
	}

	if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
		return domain.Product{}, fmt.Errorf("failed to decode images for product %d: %w", productID, err)
	}
	p.Price = domain.QuantizePrice(p.Price)

	return p, nil
}

func (r *SQLiteReader) Close() error {
	return r.db.Close()
}
