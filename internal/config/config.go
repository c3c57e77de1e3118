package config

import (
	"errors"
	"fmt"

	"github.com/setavenger/coindb/internal/logging"
	"github.com/spf13/viper"
)

func LoadConfigs(pathToConfig string) {
	// Set the file name of the configurations file
	viper.SetConfigFile(pathToConfig)

	// Handle errors reading the config file
	if err := viper.ReadInConfig(); err != nil {
		logging.L.Warn().Err(err).Msg("No config file detected")
	}

	/* set defaults */
	viper.SetDefault("chain", "signet")
	viper.SetDefault("db_backend", DBBackend)
	viper.SetDefault("cache_max_bytes", CacheMaxBytes)
	viper.SetDefault("flush_every_blocks", FlushEveryBlocks)
	viper.SetDefault("rewind_retention", RewindRetention)
	viper.SetDefault("txindex", TxIndex)
	viper.SetDefault("stake_cache_size", StakeCacheSize)
	viper.SetDefault("rest_endpoint", RestEndpoint)
	viper.SetDefault("block_source", BlockSource)
	viper.SetDefault("rpc_user", "")
	viper.SetDefault("rpc_pass", "")
	viper.SetDefault("cookie_path", "")
	viper.SetDefault("sync_interval", SyncInterval)
	viper.SetDefault("http_host", HTTPHost)
	viper.SetDefault("grpc_host", GRPCHost)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_path", "")
	viper.SetDefault("log_to_console", true)

	// Bind viper keys to environment variables (optional, for backup)
	viper.AutomaticEnv()
	viper.BindEnv("chain", "CHAIN")
	viper.BindEnv("db_backend", "DB_BACKEND")
	viper.BindEnv("cache_max_bytes", "CACHE_MAX_BYTES")
	viper.BindEnv("flush_every_blocks", "FLUSH_EVERY_BLOCKS")
	viper.BindEnv("rewind_retention", "REWIND_RETENTION")
	viper.BindEnv("txindex", "TXINDEX")
	viper.BindEnv("rest_endpoint", "REST_ENDPOINT")
	viper.BindEnv("block_source", "BLOCK_SOURCE")
	viper.BindEnv("rpc_user", "RPC_USER")
	viper.BindEnv("rpc_pass", "RPC_PASS")
	viper.BindEnv("cookie_path", "COOKIE_PATH")
	viper.BindEnv("sync_interval", "SYNC_INTERVAL")
	viper.BindEnv("http_host", "HTTP_HOST")
	viper.BindEnv("grpc_host", "GRPC_HOST")
	viper.BindEnv("log_level", "LOG_LEVEL")

	/* read and set config variables */
	// General
	HTTPHost = viper.GetString("http_host")
	GRPCHost = viper.GetString("grpc_host")
	LogLevel = viper.GetString("log_level")
	if p := viper.GetString("log_path"); p != "" {
		LogsPath = p
	}
	LogToConsole = viper.GetBool("log_to_console")

	// Storage
	DBBackend = viper.GetString("db_backend")
	CacheMaxBytes = viper.GetUint64("cache_max_bytes")
	FlushEveryBlocks = viper.GetUint32("flush_every_blocks")
	RewindRetention = viper.GetUint32("rewind_retention")
	TxIndex = viper.GetBool("txindex")
	StakeCacheSize = viper.GetInt("stake_cache_size")

	// Sync
	RestEndpoint = viper.GetString("rest_endpoint")
	BlockSource = viper.GetString("block_source")
	RpcUser = viper.GetString("rpc_user")
	RpcPass = viper.GetString("rpc_pass")
	CookiePath = viper.GetString("cookie_path")
	SyncInterval = viper.GetDuration("sync_interval")

	Chain = ParseChain(viper.GetString("chain"))
	if Chain == Unknown {
		logging.L.Fatal().Str("chain", viper.GetString("chain")).Msg("chain undefined")
		return
	}

	logging.SetLogLevel(logging.ParseLevel(LogLevel))

	if err := Validate(); err != nil {
		logging.L.Fatal().Err(err).Msg("invalid configuration")
		return
	}

	logging.L.Info().
		Str("chain", ChainToString(Chain)).
		Str("db_backend", DBBackend).
		Uint64("cache_max_bytes", CacheMaxBytes).
		Uint32("flush_every_blocks", FlushEveryBlocks).
		Uint32("rewind_retention", RewindRetention).
		Bool("txindex", TxIndex).
		Msg("configuration loaded")
}

// Validate checks the loaded settings for combinations the node cannot run with.
func Validate() error {
	switch DBBackend {
	case BackendLevelDB, BackendPebble, BackendSQLite:
	default:
		return fmt.Errorf("unknown db_backend %q", DBBackend)
	}
	switch BlockSource {
	case SourceREST, SourceRPC:
	default:
		return fmt.Errorf("unknown block_source %q", BlockSource)
	}
	if CacheMaxBytes == 0 {
		return errors.New("cache_max_bytes must be greater than 0")
	}
	if StakeCacheSize <= 0 {
		return errors.New("stake_cache_size must be greater than 0")
	}
	return nil
}
