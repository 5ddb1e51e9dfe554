// Package sessionstore persists checkout sessions, the orders they produce,
// reconciliation issues and the checkout outbox in Postgres.
package sessionstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrDuplicateSession = errors.New("checkout session already exists")
	ErrDuplicateOrder   = errors.New("order already exists for session")
)

type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

const EventTypeCheckoutCompleted = "CHECKOUT_COMPLETED"

type OutboxEvent struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

// RepoInterface is everything the checkout orchestrator and the outbox
// publisher need from the session store.
type RepoInterface interface {
	CreateSession(ctx context.Context, s *domain.CheckoutSession) error
	GetSession(ctx context.Context, ref string) (*domain.CheckoutSession, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.CheckoutSession, error)
	// ListUnsettled and MarkCartSettled track terminal sessions whose cart
	// may still be frozen in PENDING_CHECKOUT.
	ListUnsettled(ctx context.Context, limit int) ([]*domain.CheckoutSession, error)
	MarkCartSettled(ctx context.Context, ref string) error
	// AbandonSession and the Complete/ManualReview transitions only apply to
	// a PENDING session. They report false when the session had already
	// left PENDING.
	AbandonSession(ctx context.Context, ref string, reason domain.AbandonReason) (bool, error)
	CompleteSession(ctx context.Context, order *domain.Order, event *OutboxEvent) (bool, error)
	MarkManualReview(ctx context.Context, issue *domain.ReconciliationIssue) (bool, error)
	RecordIssue(ctx context.Context, issue *domain.ReconciliationIssue) error
	ListIssues(ctx context.Context, ref string) ([]*domain.ReconciliationIssue, error)
	GetOrderBySession(ctx context.Context, ref string) (*domain.Order, error)
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id uuid.UUID) error
	Close() error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "basket_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
