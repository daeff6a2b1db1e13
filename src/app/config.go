package app

import (
	"log"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethaccount/userop/erc4337"
	"github.com/ethaccount/userop/src/account"
	"github.com/ethaccount/userop/src/gasfee"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type AppConfig struct {
	// =========================== REQUIRED ===========================

	// Database configuration (required)
	DSN *string
	// Redis configuration (required)
	RedisAddr *string
	// Node RPC URL (required)
	RPCURL *string
	// Bundler RPC URL (required)
	BundlerURL *string

	// =========================== OPTIONAL ===========================

	// Paymaster RPC URL; operations are self-funded when unset
	PaymasterURL        *string
	SponsorshipPolicyID *string

	// Account configuration
	EntryPoint     *common.Address
	AccountFactory *common.Address
	AccountType    *account.Kind
	// Default account used when a request names no owner; nil when unset
	DefaultAccountOwner *common.Address
	DefaultAccountSalt  *big.Int

	// Fee estimation
	BaseFeeMultiplier *decimal.Decimal

	// API secret protecting the send endpoint; empty disables the check
	APISecret *string

	// Logging configuration
	LogLevel *string

	// HTTP server configuration
	Port *string

	// CORS configuration
	AllowOrigins *[]string

	// Receipt polling interval in seconds
	PollingInterval *int

	// Migration configuration
	MigrationPath *string
}

// SimpleAccountFactoryV06 is the eth-infinitism SimpleAccountFactory deployed for entry point v0.6
var SimpleAccountFactoryV06 = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")

func NewAppConfig() *AppConfig {
	config := &AppConfig{}

	// Load required configuration
	loadRequiredConfig(config)

	// Load optional configuration with defaults
	loadOptionalConfig(config)

	return config
}

// NewCLIConfig loads only what a one-shot command needs to talk to the chain
func NewCLIConfig() *AppConfig {
	config := &AppConfig{}

	loadChainConfig(config)

	logLevel := getEnvWithDefault("LOG_LEVEL", "info")
	config.LogLevel = &logLevel

	loadUserOperationConfig(config)

	return config
}

// loadRequiredConfig loads all required configuration values and fails fast if any are missing
func loadRequiredConfig(config *AppConfig) {
	dsn := os.Getenv("DB_URL")
	if dsn == "" {
		log.Fatalf("REQUIRED: DB_URL not set in environment")
	}
	config.DSN = &dsn

	redisAddr := os.Getenv("REDIS_URL")
	if redisAddr == "" {
		log.Fatalf("REQUIRED: REDIS_URL not set in environment")
	}
	config.RedisAddr = &redisAddr

	loadChainConfig(config)

	// CORS origins (required in production, optional in development)
	loadCORSConfig(config)
}

// loadChainConfig loads the node and bundler endpoints, which every command needs
func loadChainConfig(config *AppConfig) {
	rpcURL := os.Getenv("RPC_URL")
	if rpcURL == "" {
		log.Fatalf("REQUIRED: RPC_URL not set in environment")
	}
	config.RPCURL = &rpcURL

	bundlerURL := os.Getenv("BUNDLER_URL")
	if bundlerURL == "" {
		log.Fatalf("REQUIRED: BUNDLER_URL not set in environment")
	}
	config.BundlerURL = &bundlerURL
}

// loadOptionalConfig loads all optional configuration values with sensible defaults
func loadOptionalConfig(config *AppConfig) {
	// HTTP server port (default: 8080)
	port := getEnvWithDefault("PORT", "8080")
	config.Port = &port

	// Log level (default: debug)
	// Available levels: "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled"
	logLevel := getEnvWithDefault("LOG_LEVEL", "debug")
	config.LogLevel = &logLevel

	// Polling interval in seconds (default: 15)
	pollingInterval := getPollingInterval()
	config.PollingInterval = &pollingInterval

	// Migration path (default: file://migrations)
	migrationPath := getEnvWithDefault("MIGRATION_PATH", "file://migrations")
	config.MigrationPath = &migrationPath

	apiSecret := os.Getenv("API_SECRET")
	config.APISecret = &apiSecret

	loadUserOperationConfig(config)
}

// loadUserOperationConfig loads paymaster, account and fee settings
func loadUserOperationConfig(config *AppConfig) {
	paymasterURL := os.Getenv("PAYMASTER_URL")
	config.PaymasterURL = &paymasterURL

	policyID := os.Getenv("SPONSORSHIP_POLICY_ID")
	config.SponsorshipPolicyID = &policyID

	entryPoint := getAddressWithDefault("ENTRY_POINT", erc4337.EntryPointV06)
	config.EntryPoint = &entryPoint

	factory := getAddressWithDefault("ACCOUNT_FACTORY", SimpleAccountFactoryV06)
	config.AccountFactory = &factory

	kind, err := account.ParseKind(os.Getenv("ACCOUNT_TYPE"))
	if err != nil {
		log.Fatalf("Invalid ACCOUNT_TYPE: %v", err)
	}
	config.AccountType = &kind

	if owner := os.Getenv("DEFAULT_ACCOUNT_OWNER"); owner != "" {
		if !common.IsHexAddress(owner) {
			log.Fatalf("Invalid DEFAULT_ACCOUNT_OWNER: %s", owner)
		}
		ownerAddr := common.HexToAddress(owner)
		config.DefaultAccountOwner = &ownerAddr
	}

	salt := big.NewInt(0)
	if saltStr := os.Getenv("DEFAULT_ACCOUNT_SALT"); saltStr != "" {
		parsed, ok := new(big.Int).SetString(saltStr, 0)
		if !ok || parsed.Sign() < 0 {
			log.Fatalf("Invalid DEFAULT_ACCOUNT_SALT: %s", saltStr)
		}
		salt = parsed
	}
	config.DefaultAccountSalt = salt

	multiplier := gasfee.DefaultBaseFeeMultiplier
	if multiplierStr := os.Getenv("BASE_FEE_MULTIPLIER"); multiplierStr != "" {
		parsed, err := decimal.NewFromString(multiplierStr)
		if err != nil {
			log.Fatalf("Invalid BASE_FEE_MULTIPLIER: %v", err)
		}
		multiplier = parsed
	}
	config.BaseFeeMultiplier = &multiplier
}

// loadCORSConfig handles CORS origins configuration with environment-specific behavior
func loadCORSConfig(config *AppConfig) {
	allowOriginsStr := os.Getenv("ALLOW_ORIGINS")
	var allowOrigins []string

	if allowOriginsStr != "" {
		// Parse comma-separated origins
		origins := strings.Split(allowOriginsStr, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowOrigins = append(allowOrigins, origin)
			}
		}
	} else {
		// Handle missing ALLOW_ORIGINS based on environment
		environment := os.Getenv("ENVIRONMENT")
		if environment == "development" || environment == "dev" {
			// Default to localhost in development
			allowOrigins = []string{"http://localhost:5173"}
		} else {
			log.Fatalf("REQUIRED: ALLOW_ORIGINS not set in environment (required in production)")
		}
	}

	config.AllowOrigins = &allowOrigins
}

// AccountConfig returns the account template shared by the default account and per-owner accounts
func (c *AppConfig) AccountConfig() account.Config {
	cfg := account.Config{
		Kind:       *c.AccountType,
		Factory:    *c.AccountFactory,
		EntryPoint: *c.EntryPoint,
		Salt:       c.DefaultAccountSalt,
	}
	if c.DefaultAccountOwner != nil {
		cfg.Owner = *c.DefaultAccountOwner
	}
	return cfg
}

// getPollingInterval parses polling interval from environment with default fallback
func getPollingInterval() int {
	pollingIntervalStr := os.Getenv("POLLING_INTERVAL")
	if pollingIntervalStr == "" {
		return 15
	}

	if parsed, err := strconv.Atoi(pollingIntervalStr); err == nil && parsed > 0 {
		return parsed
	}

	log.Printf("Warning: Invalid POLLING_INTERVAL value '%s', using default 15 seconds", pollingIntervalStr)
	return 15
}

// getAddressWithDefault parses an address from the environment, failing fast on malformed values
func getAddressWithDefault(key string, defaultValue common.Address) common.Address {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if !common.IsHexAddress(value) {
		log.Fatalf("Invalid %s: %s", key, value)
	}
	return common.HexToAddress(value)
}

// getEnvWithDefault returns environment variable value or default if not set
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
