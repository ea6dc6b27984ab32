package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string // optional; enables bearer auth on /api
	RedisURL  string // optional; enables the shared run lease
	Log       LogConfig
	Database  DatabaseConfig
	Odoo      OdooConfig
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string
	Format string // json, console
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// OdooConfig holds the ERP connection and sync settings
type OdooConfig struct {
	URL        string
	Database   string
	Username   string
	Password   string
	Protocol   string // jsonrpc, xmlrpc
	BatchSize  int
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
	RateLimit  float64 // requests per second, 0 = unlimited

	BranchLocationIDs    []int64
	StockLocationID      int64
	AdjustmentLocationID int64
	PickingTypeID        int64
	PushMode             string // picking, quant
	BarcodeUnitModel     string
	SyncIntervalMinutes  int
}

// Enabled reports whether an ERP endpoint is configured
func (o OdooConfig) Enabled() bool {
	return o.URL != "" && o.Database != ""
}

// PushEnabled reports whether stock push-back has the locations it needs.
// Picking mode moves stock between two locations; quant mode needs only one.
func (o OdooConfig) PushEnabled() bool {
	if !o.Enabled() || o.StockLocationID <= 0 {
		return false
	}
	return o.PushMode == "quant" || o.AdjustmentLocationID > 0
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	odoo, err := loadOdoo()
	if err != nil {
		return nil, err
	}

	return &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3001"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		RedisURL:  os.Getenv("REDIS_URL"),
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "odoostore"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Odoo: odoo,
	}, nil
}

func loadOdoo() (OdooConfig, error) {
	var err error
	cfg := OdooConfig{
		URL:              strings.TrimRight(os.Getenv("ODOO_URL"), "/"),
		Database:         os.Getenv("ODOO_DB"),
		Username:         os.Getenv("ODOO_USER"),
		Password:         os.Getenv("ODOO_PASSWORD"),
		Protocol:         strings.ToLower(getEnv("ODOO_RPC", "jsonrpc")),
		PushMode:         strings.ToLower(getEnv("ODOO_PUSH_MODE", "picking")),
		BarcodeUnitModel: getEnv("ODOO_BARCODE_UNIT_MODEL", "product.barcode.unit"),
	}

	// ODOO_URL wins; otherwise assemble it from host and port
	if cfg.URL == "" && os.Getenv("ODOO_HOST") != "" {
		cfg.URL = fmt.Sprintf("%s://%s:%s", getEnv("ODOO_SCHEME", "https"), os.Getenv("ODOO_HOST"), getEnv("ODOO_PORT", "443"))
	}

	if cfg.Protocol != "jsonrpc" && cfg.Protocol != "xmlrpc" {
		return cfg, fmt.Errorf("ODOO_RPC must be jsonrpc or xmlrpc, got %q", cfg.Protocol)
	}
	if cfg.PushMode != "picking" && cfg.PushMode != "quant" {
		return cfg, fmt.Errorf("ODOO_PUSH_MODE must be picking or quant, got %q", cfg.PushMode)
	}

	if cfg.BatchSize, err = getEnvInt("ODOO_BATCH_SIZE", 200); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = getEnvInt("ODOO_MAX_RETRIES", 3); err != nil {
		return cfg, err
	}
	delayMs, err := getEnvInt("ODOO_RETRY_DELAY_MS", 1000)
	if err != nil {
		return cfg, err
	}
	cfg.RetryDelay = time.Duration(delayMs) * time.Millisecond
	timeoutSec, err := getEnvInt("ODOO_TIMEOUT_SEC", 120)
	if err != nil {
		return cfg, err
	}
	cfg.Timeout = time.Duration(timeoutSec) * time.Second
	if cfg.SyncIntervalMinutes, err = getEnvInt("ODOO_SYNC_INTERVAL", 0); err != nil {
		return cfg, err
	}
	if v := os.Getenv("ODOO_RATE_LIMIT"); v != "" {
		if cfg.RateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, fmt.Errorf("ODOO_RATE_LIMIT: %w", err)
		}
	}

	if cfg.BranchLocationIDs, err = parseIDList(os.Getenv("ODOO_BRANCH_LOCATION_IDS")); err != nil {
		return cfg, fmt.Errorf("ODOO_BRANCH_LOCATION_IDS: %w", err)
	}
	for key, dst := range map[string]*int64{
		"ODOO_STOCK_LOCATION_ID":      &cfg.StockLocationID,
		"ODOO_ADJUSTMENT_LOCATION_ID": &cfg.AdjustmentLocationID,
		"ODOO_PICKING_TYPE_ID":        &cfg.PickingTypeID,
	} {
		n, err := getEnvInt(key, 0)
		if err != nil {
			return cfg, err
		}
		*dst = int64(n)
	}
	if cfg.PushMode == "picking" && cfg.StockLocationID > 0 && cfg.AdjustmentLocationID <= 0 {
		return cfg, fmt.Errorf("ODOO_ADJUSTMENT_LOCATION_ID is required when ODOO_STOCK_LOCATION_ID is set in picking mode")
	}

	return cfg, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

// parseIDList parses "1, 2,3" into ids; blank input yields nil
func parseIDList(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid location id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
