package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reelcrew/credits/internal/httpserver"
	"github.com/reelcrew/credits/internal/oplog"
	"github.com/reelcrew/credits/internal/store/gormstore"
	"github.com/reelcrew/credits/internal/store/pgstore"
	"github.com/reelcrew/credits/pkg/credits"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL          = "database-url"
	flagStoreBackend         = "store-backend"
	flagListenAddr           = "listen-addr"
	flagAllowedOrigins       = "allowed-origins"
	flagJWTSigningKey        = "jwt-signing-key"
	flagJWTIssuer            = "jwt-issuer"
	flagPricePerCredit       = "price-per-credit"
	flagCurrency             = "currency"
	flagGatewayKeyID         = "gateway-key-id"
	flagGatewaySecret        = "gateway-secret"
	flagRefundWindowDays     = "refund-window-days"
	flagAllowNegativeBalance = "allow-negative-balance"

	configKeyDatabaseURL          = "database_url"
	configKeyStoreBackend         = "store_backend"
	configKeyListenAddr           = "listen_addr"
	configKeyAllowedOrigins       = "allowed_origins"
	configKeyJWTSigningKey        = "jwt_signing_key"
	configKeyJWTIssuer            = "jwt_issuer"
	configKeyPricePerCredit       = "price_per_credit"
	configKeyCurrency             = "currency"
	configKeyGatewayKeyID         = "gateway_key_id"
	configKeyGatewaySecret        = "gateway_secret"
	configKeyRefundWindowDays     = "refund_window_days"
	configKeyAllowNegativeBalance = "allow_negative_balance"

	defaultDatabaseURL  = "sqlite://credits.db"
	defaultStoreBackend = "gorm"
	defaultListenAddr   = ":8080"

	backendGorm = "gorm"
	backendPgx  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL          string
	StoreBackend         string
	ListenAddr           string
	AllowedOrigins       string
	JWTSigningKey        string
	JWTIssuer            string
	PricePerCredit       int64
	Currency             string
	GatewayKeyID         string
	GatewaySecret        string
	RefundWindowDays     int
	AllowNegativeBalance bool
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "creditsd",
		Short:         "Marketplace credits REST server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite:// or postgres://)")
	cmd.Flags().String(flagStoreBackend, defaultStoreBackend, "storage backend: gorm (sqlite/postgres) or pgx (raw postgres)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "HMAC key the identity service signs bearer tokens with")
	cmd.Flags().String(flagJWTIssuer, "", "expected bearer token issuer")
	cmd.Flags().Int64(flagPricePerCredit, credits.DefaultPricePerCredit, "price of one credit in major currency units")
	cmd.Flags().String(flagCurrency, credits.DefaultCurrency, "ISO currency code for orders")
	cmd.Flags().String(flagGatewayKeyID, "", "payment gateway key id handed to clients")
	cmd.Flags().String(flagGatewaySecret, "", "payment gateway webhook secret; empty disables signature checks")
	cmd.Flags().Int(flagRefundWindowDays, 0, "refund eligibility window in days (0 keeps the default)")
	cmd.Flags().Bool(flagAllowNegativeBalance, false, "let admin adjustments drive balances below zero")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := []struct {
		configKey string
		envVar    string
		flagName  string
	}{
		{configKeyDatabaseURL, "DATABASE_URL", flagDatabaseURL},
		{configKeyStoreBackend, "STORE_BACKEND", flagStoreBackend},
		{configKeyListenAddr, "LISTEN_ADDR", flagListenAddr},
		{configKeyAllowedOrigins, "ALLOWED_ORIGINS", flagAllowedOrigins},
		{configKeyJWTSigningKey, "JWT_SIGNING_KEY", flagJWTSigningKey},
		{configKeyJWTIssuer, "JWT_ISSUER", flagJWTIssuer},
		{configKeyPricePerCredit, "PRICE_PER_CREDIT", flagPricePerCredit},
		{configKeyCurrency, "CURRENCY", flagCurrency},
		{configKeyGatewayKeyID, "GATEWAY_KEY_ID", flagGatewayKeyID},
		{configKeyGatewaySecret, "GATEWAY_SECRET", flagGatewaySecret},
		{configKeyRefundWindowDays, "REFUND_WINDOW_DAYS", flagRefundWindowDays},
		{configKeyAllowNegativeBalance, "ALLOW_NEGATIVE_BALANCE", flagAllowNegativeBalance},
	}
	for _, binding := range bindings {
		if err := viper.BindEnv(binding.configKey, binding.envVar); err != nil {
			return err
		}
		if err := viper.BindPFlag(binding.configKey, cmd.Flags().Lookup(binding.flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.StoreBackend = viper.GetString(configKeyStoreBackend)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.AllowedOrigins = viper.GetString(configKeyAllowedOrigins)
	cfg.JWTSigningKey = viper.GetString(configKeyJWTSigningKey)
	cfg.JWTIssuer = viper.GetString(configKeyJWTIssuer)
	cfg.PricePerCredit = viper.GetInt64(configKeyPricePerCredit)
	cfg.Currency = viper.GetString(configKeyCurrency)
	cfg.GatewayKeyID = viper.GetString(configKeyGatewayKeyID)
	cfg.GatewaySecret = viper.GetString(configKeyGatewaySecret)
	cfg.RefundWindowDays = viper.GetInt(configKeyRefundWindowDays)
	cfg.AllowNegativeBalance = viper.GetBool(configKeyAllowNegativeBalance)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = defaultStoreBackend
	}
	if cfg.StoreBackend != backendGorm && cfg.StoreBackend != backendPgx {
		return fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.JWTSigningKey == "" {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg.DatabaseURL, cfg.StoreBackend)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := credits.NewService(store, clock,
		credits.WithOperationLogger(oplog.New(logger)),
		credits.WithPricing(credits.Pricing{
			PricePerCredit: cfg.PricePerCredit,
			Currency:       cfg.Currency,
		}),
		credits.WithGateway(credits.Gateway{
			KeyID:  cfg.GatewayKeyID,
			Secret: cfg.GatewaySecret,
		}),
		credits.WithRefundPolicy(credits.RefundPolicy{WindowDays: cfg.RefundWindowDays}),
		credits.WithNegativeBalanceAllowed(cfg.AllowNegativeBalance),
	)
	if err != nil {
		return fmt.Errorf("credits service init: %w", err)
	}

	return httpserver.Run(ctx, httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: httpserver.ParseAllowedOrigins(cfg.AllowedOrigins),
		JWTSigningKey:  cfg.JWTSigningKey,
		JWTIssuer:      cfg.JWTIssuer,
	}, service, logger)
}

// openStore builds the selected storage backend. The gorm backend serves
// sqlite and postgres DSNs and migrates sqlite schemas in process; the pgx
// backend is raw SQL against postgres whose schema is managed externally.
func openStore(ctx context.Context, dsn string, backend string) (credits.Store, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	if backend == backendPgx {
		if driver != "postgres" {
			return nil, nil, fmt.Errorf("pgx backend requires a postgres:// database url")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() error {
			pool.Close()
			return nil
		}
		return pgstore.New(pool), cleanup, nil
	}

	var db *gorm.DB
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), &gorm.Config{})
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	if driver == "sqlite" {
		if err := gormstore.Migrate(db); err != nil {
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return gormstore.New(db.WithContext(ctx)), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "credits.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
