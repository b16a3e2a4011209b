// Package config resolves the install settings from flags, SOROBAN_*
// environment variables, an optional config file and a .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"sorobancli/internal/gateway"
	"sorobancli/internal/gateway/retry"
	"sorobancli/internal/install"
	"sorobancli/internal/logging"
	"sorobancli/internal/secret"
	"sorobancli/internal/snapshot"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	// ErrConflictingModes is returned when both the local ledger and a remote RPC service are selected
	ErrConflictingModes = errors.New("--ledger-file cannot be used together with --rpc-url")
	// ErrIncompleteRemote is returned when --rpc-url is given without the rest of the remote settings
	ErrIncompleteRemote = errors.New("incomplete remote configuration")
)

// Keys shared by flags, environment and config file
const (
	KeyWasm              = "wasm"
	KeyLedgerFile        = "ledger-file"
	KeyRPCURL            = "rpc-url"
	KeySecretKey         = "secret-key"
	KeyNetworkPassphrase = "network-passphrase"
	KeyFee               = "fee"
	KeyRPCDialect        = "rpc-dialect"
	KeyRPCTimeout        = "rpc-timeout"
	KeyLogLevel          = "log-level"
	KeyLogFormat         = "log-format"
	KeyDatabaseURL       = "database-url"
	KeyMetricsFile       = "metrics-file"

	KeyRetryEnabled      = "retry.enabled"
	KeyRetryMaxRetries   = "retry.max_retries"
	KeyRetryInitialDelay = "retry.initial_delay"
	KeyRetryMaxDelay     = "retry.max_delay"
)

// DefaultFee is the flat fee, in stroops, used when none is configured
const DefaultFee = 100

// Config holds everything one install needs
type Config struct {
	WasmPath string

	// Local ledger
	LedgerFile    string
	ledgerFileSet bool

	// Remote network
	RPCURL            string
	SecretKey         string
	NetworkPassphrase string
	Fee               uint32
	RPCDialect        gateway.Dialect
	RPCTimeout        time.Duration
	Retry             retry.Config

	// Ambient
	LogLevel    string
	LogFormat   string
	DatabaseURL string
	MetricsFile string
}

// LoadDotEnv loads a .env file from the working directory when there is one
func LoadDotEnv() {
	_ = godotenv.Load()
}

// NewViper returns a viper instance with defaults and SOROBAN_* env binding
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SOROBAN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	// ledger-file has no viper default so an explicit value can be told apart
	v.SetDefault(KeyFee, DefaultFee)
	v.SetDefault(KeyRPCDialect, string(gateway.DialectStellarRPC))
	v.SetDefault(KeyRPCTimeout, 30*time.Second)
	v.SetDefault(KeyLogLevel, logging.DefaultLevel)
	v.SetDefault(KeyLogFormat, "json")

	defaults := retry.DefaultConfig()
	v.SetDefault(KeyRetryEnabled, defaults.Enabled)
	v.SetDefault(KeyRetryMaxRetries, defaults.MaxRetries)
	v.SetDefault(KeyRetryInitialDelay, defaults.InitialDelay)
	v.SetDefault(KeyRetryMaxDelay, defaults.MaxDelay)

	// The un-prefixed RETRY_* names are accepted too
	_ = v.BindEnv(KeyRetryEnabled, "SOROBAN_RETRY_ENABLED", "RETRY_ENABLED")
	_ = v.BindEnv(KeyRetryMaxRetries, "SOROBAN_RETRY_MAX_RETRIES", "RETRY_MAX_RETRIES")
	_ = v.BindEnv(KeyRetryInitialDelay, "SOROBAN_RETRY_INITIAL_DELAY", "RETRY_INITIAL_DELAY")
	_ = v.BindEnv(KeyRetryMaxDelay, "SOROBAN_RETRY_MAX_DELAY", "RETRY_MAX_DELAY")

	return v
}

// ReadConfigFile merges the config file at path into v. An empty path is a no-op.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load reads the configuration out of v
func Load(v *viper.Viper) (*Config, error) {
	fee := v.GetInt64(KeyFee)
	if fee <= 0 || fee > int64(^uint32(0)) {
		return nil, fmt.Errorf("fee must be between 1 and %d, got %d", ^uint32(0), fee)
	}

	cfg := &Config{
		WasmPath:          v.GetString(KeyWasm),
		LedgerFile:        v.GetString(KeyLedgerFile),
		ledgerFileSet:     v.IsSet(KeyLedgerFile),
		RPCURL:            v.GetString(KeyRPCURL),
		SecretKey:         v.GetString(KeySecretKey),
		NetworkPassphrase: v.GetString(KeyNetworkPassphrase),
		Fee:               uint32(fee),
		RPCDialect:        gateway.Dialect(v.GetString(KeyRPCDialect)),
		RPCTimeout:        v.GetDuration(KeyRPCTimeout),
		Retry: retry.Config{
			Enabled:      v.GetBool(KeyRetryEnabled),
			MaxRetries:   v.GetInt(KeyRetryMaxRetries),
			InitialDelay: v.GetDuration(KeyRetryInitialDelay),
			MaxDelay:     v.GetDuration(KeyRetryMaxDelay),
		},
		LogLevel:    v.GetString(KeyLogLevel),
		LogFormat:   v.GetString(KeyLogFormat),
		DatabaseURL: v.GetString(KeyDatabaseURL),
		MetricsFile: v.GetString(KeyMetricsFile),
	}
	if cfg.LedgerFile == "" {
		cfg.LedgerFile = snapshot.DefaultPath
	}

	return cfg, nil
}

// Remote reports whether the install goes to a remote network
func (c *Config) Remote() bool {
	return c.RPCURL != ""
}

// Validate checks if the configuration is valid. It does no I/O.
func (c *Config) Validate() error {
	if c.WasmPath == "" {
		return fmt.Errorf("--wasm is required")
	}

	if !c.Remote() {
		return nil
	}

	if c.ledgerFileSet {
		return ErrConflictingModes
	}

	var missing []string
	if c.SecretKey == "" {
		missing = append(missing, "--secret-key")
	}
	if c.NetworkPassphrase == "" {
		missing = append(missing, "--network-passphrase")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: --rpc-url requires %s", ErrIncompleteRemote, strings.Join(missing, " and "))
	}

	if c.Fee == 0 {
		return fmt.Errorf("fee must be positive")
	}
	switch c.RPCDialect {
	case gateway.DialectStellarRPC, gateway.DialectLegacy:
	default:
		return fmt.Errorf("unknown rpc dialect %q", c.RPCDialect)
	}
	if c.Retry.Enabled && c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry max_retries must not be negative")
	}
	return nil
}

// Target validates the configuration and resolves where to install.
// For remote targets the secret key is moved into a secret.Buffer owned by the caller.
func (c *Config) Target() (install.Target, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if !c.Remote() {
		return install.LocalTarget{LedgerFile: c.LedgerFile}, nil
	}

	buf, err := secret.FromString(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate secret buffer: %w", err)
	}
	c.SecretKey = ""

	return install.RemoteTarget{
		RPCURL:     c.RPCURL,
		Passphrase: c.NetworkPassphrase,
		Fee:        c.Fee,
		Secret:     buf,
	}, nil
}

// GatewayOptions returns the transport options for the configured RPC service
func (c *Config) GatewayOptions(logger *zap.Logger) []gateway.ClientOption {
	opts := []gateway.ClientOption{
		gateway.WithLogger(logger),
		gateway.WithRetry(retry.NewStrategy(c.Retry, logger)),
	}
	if c.RPCTimeout > 0 {
		opts = append(opts, gateway.WithTimeout(c.RPCTimeout))
	}
	return opts
}

// GatewayFactory opens gateways speaking the configured dialect
func (c *Config) GatewayFactory(logger *zap.Logger) install.GatewayFactory {
	opts := c.GatewayOptions(logger)
	dialect := c.RPCDialect
	return func(url string) (gateway.Gateway, error) {
		return gateway.New(dialect, url, opts...)
	}
}
