// Package domain defines the core types and interfaces for Blockaid.
package domain

import (
	"context"
	"time"
)

// MaxPageSize caps every paginated listing.
const MaxPageSize = 100

// MaxPageNumber caps the requested page so Offset stays well inside int
// range for any page size up to MaxPageSize.
const MaxPageNumber = 1 << 30

// Page selects one window of an ordered listing. Number is 1-based.
type Page struct {
	Number int
	Size   int
}

// NewPage clamps caller-supplied paging values. Non-positive sizes fall back
// to defaultSize; sizes above MaxPageSize and numbers above MaxPageNumber
// are capped.
func NewPage(number, size, defaultSize int) Page {
	if number < 1 {
		number = 1
	}
	if size <= 0 {
		size = defaultSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	if number > MaxPageNumber {
		number = MaxPageNumber
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Pages returns how many pages of this size cover total rows.
func (p Page) Pages(total int) int {
	if p.Size <= 0 || total <= 0 {
		return 0
	}
	return (total + p.Size - 1) / p.Size
}

// Store is the set of persistence operations available both on the
// repository itself and inside a transaction.
type Store interface {
	// Disaster events
	InsertEvent(ctx context.Context, ev *DisasterEvent) error
	GetEvent(ctx context.Context, id string) (*DisasterEvent, error)
	GetEventByHash(ctx context.Context, imageHash string) (*DisasterEvent, error)
	ListEvents(ctx context.Context, page Page) ([]*DisasterEvent, int, error)
	MarkEventVerified(ctx context.Context, id, actorID string, at time.Time) error
	CountEventsAtLocation(ctx context.Context, location string, since time.Time) (int64, error)

	// Funds
	InsertFund(ctx context.Context, fund *Fund) error
	GetFund(ctx context.Context, id string) (*Fund, error)
	ListFundsByEvent(ctx context.Context, eventID string) ([]*Fund, error)

	// Audit trail (append-only)
	AppendAudit(ctx context.Context, rec *AuditRecord) error
	ListAudit(ctx context.Context, page Page) ([]*AuditRecord, int, error)

	// Escalation rule configuration
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)
}

// Repository defines the interface for data persistence.
type Repository interface {
	Store

	// WithTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost"`
	PostgresPort     int    `json:"postgresPort"`
	PostgresUser     string `json:"postgresUser"`
	PostgresPassword string `json:"-"`
	PostgresDB       string `json:"postgresDb"`
	PostgresSSLMode  string `json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
}
