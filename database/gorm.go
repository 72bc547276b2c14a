package database

import (
	"fmt"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/config"
	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage defines what the rest of the app needs from a database connection
type Storage interface {
	// Lifecycle methods
	Init() error
	Close() error
	HealthCheck() error

	GetDB() *gorm.DB
}

type GORMStore struct {
	db  *gorm.DB
	log *utils.Logger
}

// StartGORM opens the copilot database (PostgreSQL by default, MySQL when
// DB_DRIVER=mysql so the tables can live next to WordPress)
func StartGORM(env *config.EnvironmentVariable, log *utils.Logger) (*GORMStore, error) {
	dialector, err := copilotDialector(env)
	if err != nil {
		return nil, err
	}

	db, err := open(dialector, env)
	if err != nil {
		log.Error("Unable to connect to copilot database", "driver", env.DB_DRIVER, "error", err)
		return nil, err
	}

	log.Info("Successfully connected to copilot database", "driver", env.DB_DRIVER)
	return &GORMStore{db: db, log: log}, nil
}

// StartWordPress opens the WordPress MySQL database the publisher writes courses into
func StartWordPress(env *config.EnvironmentVariable, log *utils.Logger) (*GORMStore, error) {
	dsn := fmt.Sprintf(
		"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.WP_DB_USER_NAME,
		env.WP_DB_PASSWORD,
		env.WP_DB_HOST,
		env.WP_DB_PORT,
		env.WP_DB_NAME,
	)

	db, err := open(mysql.Open(dsn), env)
	if err != nil {
		log.Error("Unable to connect to WordPress database", "host", env.WP_DB_HOST, "error", err)
		return nil, err
	}

	log.Info("Successfully connected to WordPress database", "name", env.WP_DB_NAME)
	return &GORMStore{db: db, log: log}, nil
}

// NewGORMStore wraps an already opened connection (used by tests)
func NewGORMStore(db *gorm.DB, log *utils.Logger) *GORMStore {
	return &GORMStore{db: db, log: log}
}

func copilotDialector(env *config.EnvironmentVariable) (gorm.Dialector, error) {
	switch env.DB_DRIVER {
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			env.DB_HOST,
			env.DB_USER_NAME,
			env.DB_PASSWORD,
			env.DB_NAME,
			env.DB_PORT,
			env.DB_SSL_MODE,
		)
		return postgres.Open(dsn), nil
	case "mysql":
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			env.DB_USER_NAME,
			env.DB_PASSWORD,
			env.DB_HOST,
			env.DB_PORT,
			env.DB_NAME,
		)
		return mysql.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", env.DB_DRIVER)
	}
}

func open(dialector gorm.Dialector, env *config.EnvironmentVariable) (*gorm.DB, error) {
	// Configure GORM logger
	gormLogger := logger.Default.LogMode(logger.Info)
	if env.GO_ENV == "production" {
		gormLogger = logger.Default.LogMode(logger.Error)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		PrepareStmt:    true,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	// Get underlying *sql.DB to configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// Connection pool settings
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Init runs the AutoMigrate to create/update the copilot tables
func (s *GORMStore) Init() error {
	s.log.Info("Running GORM AutoMigrate for copilot models")

	err := s.db.AutoMigrate(
		&model.CopilotSession{},
		&model.LessonDraft{},
		&model.CronJobLog{},
	)
	if err != nil {
		s.log.Error("Error running AutoMigrate", "error", err)
		return err
	}

	s.log.Info("GORM AutoMigrate completed successfully")
	return nil
}

// Close closes the database connection
func (s *GORMStore) Close() error {
	s.log.Info("Closing GORM connection")
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetDB returns the GORM DB instance for use in stores and handlers
func (s *GORMStore) GetDB() *gorm.DB {
	return s.db
}

// HealthCheck verifies the database connection is alive
func (s *GORMStore) HealthCheck() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
