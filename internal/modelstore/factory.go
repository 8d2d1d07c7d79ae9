package modelstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/histoboost/histoboost/pkg/telemetry"
)

// DBType names a GORM dialector.
type DBType string

const (
	DBTypePostgres DBType = "postgres"
	DBTypeMySQL    DBType = "mysql"
	DBTypeSQLite   DBType = "sqlite"
)

// DBConfig holds model-store database configuration.
type DBConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql, or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // for sqlite, a file path (":memory:" for an in-process store)
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// NewGormDB opens a GORM connection for the configured dialector and enables
// OpenTelemetry tracing when the process has telemetry switched on.
func NewGormDB(cfg *DBConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch DBType(cfg.Type) {
	case DBTypePostgres, DBType("postgresql"):
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
		)
		dialector = postgres.Open(dsn)
	case DBTypeMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		dialector = mysql.Open(dsn)
	case DBTypeSQLite, DBType(""):
		path := cfg.Database
		if path == "" {
			path = ":memory:"
		}
		dialector = sqlite.Open(path)
	default:
		return nil, fmt.Errorf("modelstore: unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("modelstore: open database: %w", err)
	}

	if telemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("modelstore: enable telemetry: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("modelstore: underlying sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("modelstore: ping database: %w", err)
	}

	return db, nil
}

// AutoMigrate creates or updates the four logical tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&DiscretizerColumnRow{},
		&TreeWeightRow{},
		&TreeNodeRow{},
		&ExtraKVRow{},
	)
}

// Store bundles the four row repositories behind a single handle, mirroring
// the run lifecycle: one Store per database, many runs identified by RunID.
type Store struct {
	Discretizer DiscretizerRepository
	Weights     WeightRepository
	Trees       TreeRepository
	Extra       ExtraRepository
	gormDB      *gorm.DB
}

// NewStore wraps an open GORM DB with the four GORM-backed repositories.
func NewStore(gormDB *gorm.DB) *Store {
	return &Store{
		Discretizer: NewGormDiscretizerRepository(gormDB),
		Weights:     NewGormWeightRepository(gormDB),
		Trees:       NewGormTreeRepository(gormDB),
		Extra:       NewGormExtraRepository(gormDB),
		gormDB:      gormDB,
	}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// HealthCheck verifies the database connection is still alive.
func (s *Store) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// DB returns the underlying sql.DB connection.
func (s *Store) DB() *sql.DB {
	sqlDB, _ := s.gormDB.DB()
	return sqlDB
}

// GormDB returns the underlying GORM DB instance.
func (s *Store) GormDB() *gorm.DB {
	return s.gormDB
}
