package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"leadpilot/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

// SequencingConfig holds the knobs of the outreach engine
type SequencingConfig struct {
	SweepInterval time.Duration `json:"sweep_interval"`
	SweepWorkers  int           `json:"sweep_workers"`
	ClaimWindow   time.Duration `json:"claim_window"`
	RetryBackoff  time.Duration `json:"retry_backoff"`
	SendTimeout   time.Duration `json:"send_timeout"`
	ErrorBudget   int           `json:"error_budget"`
	ReplyInterval time.Duration `json:"reply_interval"`
}

type Config struct {
	Environment    string           `json:"environment"`
	ServerPort     string           `json:"server_port"`
	EncryptionKey  string           `json:"-"`
	SentryDSN      string           `json:"-"`
	DBHost         string           `json:"db_host"`
	DBPort         string           `json:"db_port"`
	DBUser         string           `json:"db_user"`
	DBPassword     string           `json:"-"`
	DBName         string           `json:"db_name"`
	DBSSLMode      string           `json:"db_ssl_mode"`
	DBMaxIdleConns int              `json:"db_max_idle_conns"`
	DBMaxOpenConns int              `json:"db_max_open_conns"`
	Redis          RedisConfig      `json:"redis"`
	Sequencing     SequencingConfig `json:"sequencing"`

	// Default SMTP transport used when a tenant has no sender configured
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"-"`
	FromEmail    string `json:"from_email"`
	FromName     string `json:"from_name"`

	// Content-generation backend
	GeneratorURL    string `json:"generator_url"`
	GeneratorAPIKey string `json:"-"`

	RateLimitSweepTrigger int `json:"rate_limit_sweep_trigger"`
}

func init() {
	// Load .env if present, ignore if it is not
	_ = godotenv.Load()
}

func LoadConfig() error {
	AppConfig = Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "leadpilot"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "false") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Sequencing: SequencingConfig{
			SweepInterval: getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute),
			SweepWorkers:  getEnvAsInt("SWEEP_WORKERS", 4),
			ClaimWindow:   getEnvAsDuration("CLAIM_WINDOW", 10*time.Minute),
			RetryBackoff:  getEnvAsDuration("RETRY_BACKOFF", 30*time.Minute),
			SendTimeout:   getEnvAsDuration("SEND_TIMEOUT", 30*time.Second),
			ErrorBudget:   getEnvAsInt("ERROR_BUDGET", 5),
			ReplyInterval: getEnvAsDuration("REPLY_POLL_INTERVAL", 5*time.Minute),
		},
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		FromEmail:    getEnv("FROM_EMAIL", ""),
		FromName:     getEnv("FROM_NAME", ""),

		GeneratorURL:    getEnv("GENERATOR_URL", ""),
		GeneratorAPIKey: getEnv("GENERATOR_API_KEY", ""),

		RateLimitSweepTrigger: getEnvAsInt("RATE_LIMIT_SWEEP_TRIGGER", 5),
	}

	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	// AES accepts only these key sizes; catch a bad key at startup
	// instead of failing on the first credential write
	switch len(AppConfig.EncryptionKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("ENCRYPTION_KEY must be 16, 24, or 32 bytes, got %d", len(AppConfig.EncryptionKey))
	}
	if AppConfig.Sequencing.ClaimWindow <= AppConfig.Sequencing.SendTimeout {
		return fmt.Errorf("CLAIM_WINDOW must exceed SEND_TIMEOUT so a claimed lead cannot come due mid-send")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("Successfully connected to the database")
	log.Println("Starting database migration...")
	if err := MigrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("Database migration completed")
	return nil
}

// MigrateDB runs schema migration and seeds the reserved defaults
func MigrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.RefreshToken{},
		&models.Sender{},
		&models.Lead{},
		&models.SendRecord{},
		&models.TimingPolicy{},
		&models.TimingRule{},
		&models.ContentTemplate{},
		&models.GeneratedDraft{},
		&models.SweepRun{},
	); err != nil {
		return err
	}

	if err := models.CreateDefaultTimingPolicy(db); err != nil {
		return err
	}
	return models.CreateDefaultContentTemplates(db)
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Sweep interval: %s, workers: %d, claim window: %s",
		AppConfig.Sequencing.SweepInterval,
		AppConfig.Sequencing.SweepWorkers,
		AppConfig.Sequencing.ClaimWindow)
}
