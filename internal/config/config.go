package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/joho/godotenv/autoload"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Database struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Schema   string
}

// DSN renders the pgx connection string.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.Schema,
	)
}

// Oracle holds the oracle details used until the owner changes them.
type Oracle struct {
	Address   common.Address
	Reference common.Address
	JobID     string
	Fee       int64
}

type Config struct {
	Env      string
	HTTPAddr string
	Store    string
	DB       Database

	Owner common.Address
	Vault common.Address

	Oracle         Oracle
	AMQPURL        string
	CallbackSecret string

	// CallerSkew bounds the age of a signed caller request.
	CallerSkew time.Duration

	// Balances seed the in-process payment token, FeeBalances the fee token.
	Balances    map[common.Address]int64
	FeeBalances map[common.Address]int64

	DispatchInterval  time.Duration
	DispatchBatch     int
	ReconcileInterval time.Duration
	StallAfter        time.Duration
}

// Load reads ESCROW_* variables, with a .env file in the working directory
// applied first.
func Load() (Config, error) {
	cfg := Config{
		Env:      strings.TrimSpace(os.Getenv("ESCROW_ENV")),
		HTTPAddr: getenvDefault("ESCROW_HTTP_ADDR", ":8080"),
		Store:    strings.ToLower(getenvDefault("ESCROW_STORE", StorePostgres)),
		DB: Database{
			Host:     getenvDefault("ESCROW_DB_HOST", "localhost"),
			Port:     getenvDefault("ESCROW_DB_PORT", "5432"),
			Username: os.Getenv("ESCROW_DB_USERNAME"),
			Password: os.Getenv("ESCROW_DB_PASSWORD"),
			Database: os.Getenv("ESCROW_DB_DATABASE"),
			Schema:   getenvDefault("ESCROW_DB_SCHEMA", "public"),
		},
		AMQPURL:        strings.TrimSpace(os.Getenv("ESCROW_AMQP_URL")),
		CallbackSecret: strings.TrimSpace(os.Getenv("ESCROW_CALLBACK_SECRET")),
		Oracle: Oracle{
			JobID: strings.TrimSpace(os.Getenv("ESCROW_ORACLE_JOB_ID")),
		},
		DispatchBatch: 50,
	}

	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return Config{}, fmt.Errorf("ESCROW_STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	if cfg.Store == StorePostgres && cfg.DB.Database == "" {
		return Config{}, errors.New("ESCROW_DB_DATABASE is required for the postgres store")
	}

	var err error
	if cfg.Owner, err = requireAddress("ESCROW_OWNER"); err != nil {
		return Config{}, err
	}
	if cfg.Vault, err = requireAddress("ESCROW_VAULT_ADDRESS"); err != nil {
		return Config{}, err
	}
	if cfg.Oracle.Address, err = requireAddress("ESCROW_ORACLE_ADDRESS"); err != nil {
		return Config{}, err
	}
	if cfg.Oracle.Reference, err = optionalAddress("ESCROW_ORACLE_REFERENCE"); err != nil {
		return Config{}, err
	}
	if cfg.Oracle.JobID == "" {
		return Config{}, errors.New("ESCROW_ORACLE_JOB_ID is required")
	}
	if cfg.Oracle.Fee, err = getenvInt("ESCROW_ORACLE_FEE", 0); err != nil {
		return Config{}, err
	}
	if cfg.Oracle.Fee < 0 {
		return Config{}, errors.New("ESCROW_ORACLE_FEE must not be negative")
	}
	if cfg.CallbackSecret == "" {
		return Config{}, errors.New("ESCROW_CALLBACK_SECRET is required")
	}

	if cfg.Balances, err = parseBalances("ESCROW_GENESIS_BALANCES"); err != nil {
		return Config{}, err
	}
	if cfg.FeeBalances, err = parseBalances("ESCROW_FEE_BALANCES"); err != nil {
		return Config{}, err
	}

	if cfg.DispatchInterval, err = getenvDuration("ESCROW_DISPATCH_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = getenvDuration("ESCROW_RECONCILE_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.StallAfter, err = getenvDuration("ESCROW_STALL_AFTER", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.CallerSkew, err = getenvDuration("ESCROW_CALLER_SKEW", 5*time.Minute); err != nil {
		return Config{}, err
	}
	batch, err := getenvInt("ESCROW_DISPATCH_BATCH", int64(cfg.DispatchBatch))
	if err != nil {
		return Config{}, err
	}
	if batch <= 0 {
		return Config{}, errors.New("ESCROW_DISPATCH_BATCH must be positive")
	}
	cfg.DispatchBatch = int(batch)

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return val, nil
}

func getenvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	dur, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if dur <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return dur, nil
}

func requireAddress(key string) (common.Address, error) {
	addr, err := optionalAddress(key)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s is required", key)
	}
	return addr, nil
}

func optionalAddress(key string) (common.Address, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s is not a hex address: %q", key, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseBalances reads "0xaddr=amount,0xaddr=amount".
func parseBalances(key string) (map[common.Address]int64, error) {
	balances := make(map[common.Address]int64)
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return balances, nil
	}
	for _, entry := range strings.Split(raw, ",") {
		addr, amount, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("parse %s: entry %q is not addr=amount", key, entry)
		}
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("parse %s: %q is not a hex address", key, addr)
		}
		val, err := strconv.ParseInt(strings.TrimSpace(amount), 10, 64)
		if err != nil || val < 0 {
			return nil, fmt.Errorf("parse %s: invalid amount %q", key, amount)
		}
		balances[common.HexToAddress(addr)] += val
	}
	return balances, nil
}
