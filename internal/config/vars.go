package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mitchellh/go-homedir"
	"github.com/setavenger/coindb/internal/logging"
)

var (
	LogLevel = "info"
)

const (
	ConfigFileName       string = "coindb.toml"
	DefaultBaseDirectory string = "~/.coindb"
)

// Storage engines understood by DBBackend.
const (
	BackendLevelDB = "leveldb"
	BackendPebble  = "pebble"
	BackendSQLite  = "sqlite"
)

// Block sources understood by BlockSource.
const (
	SourceREST = "rest"
	SourceRPC  = "rpc"
)

var (
	RestEndpoint = "http://127.0.0.1:8332" // default local node

	// BlockSource selects how blocks are pulled, one of the Source* constants
	BlockSource = SourceREST
	RpcUser     = ""
	RpcPass     = ""
	CookiePath  = ""

	BaseDirectory = ""
	DBPath        = ""
	LogsPath      = ""
	LogToConsole  = true

	HTTPHost = "127.0.0.1:8000"
	GRPCHost = "" // default value is empty (deactivated)
)

type chain int

const (
	Unknown chain = iota
	Mainnet
	Signet
	Regtest
	Testnet3
)

// control vars
var (
	Chain = Unknown

	// DBBackend selects the coin store engine, one of the Backend* constants
	DBBackend = BackendLevelDB

	// CacheMaxBytes caps the estimated memory held by the coin cache
	CacheMaxBytes uint64 = 256 << 20

	// FlushEveryBlocks forces a cache flush whenever the tip height is a multiple of it
	FlushEveryBlocks uint32 = 500

	// RewindRetention is the number of blocks of undo data kept below the tip.
	// 0 keeps everything.
	RewindRetention uint32 = 0

	// TxIndex enables the transaction to block index of the block store
	TxIndex = false

	// SyncInterval is the pause between two sync rounds of the daemon
	SyncInterval = 10 * time.Second

	// StakeCacheSize is the number of stake items kept in memory
	StakeCacheSize = 5_000
)

// one has to call SetDirectories otherwise config.DBPath will be empty
var (
	DBPathCoins  string
	DBPathBlocks string
)

func SetDirectories() {
	resolved, err := homedir.Expand(BaseDirectory)
	if err != nil {
		logging.L.Fatal().Err(err).Str("path", BaseDirectory).Msg("could not resolve base directory")
	}
	BaseDirectory = resolved

	DBPath = filepath.Join(BaseDirectory, "data")
	LogsPath = filepath.Join(BaseDirectory, "logs")

	DBPathCoins = filepath.Join(DBPath, "coins")
	DBPathBlocks = filepath.Join(DBPath, "blocks")
}

// ChainParams returns the btcd network parameters of the configured chain.
func ChainParams() *chaincfg.Params {
	switch Chain {
	case Mainnet:
		return &chaincfg.MainNetParams
	case Signet:
		return &chaincfg.SigNetParams
	case Regtest:
		return &chaincfg.RegressionNetParams
	case Testnet3:
		return &chaincfg.TestNet3Params
	default:
		logging.L.Panic().Msg("chain not defined")
		return nil
	}
}

func ParseChain(s string) chain {
	switch s {
	case "main":
		return Mainnet
	case "signet":
		return Signet
	case "regtest":
		return Regtest
	case "testnet":
		return Testnet3
	default:
		return Unknown
	}
}

func ChainToString(c chain) string {
	switch c {
	case Mainnet:
		return "main"
	case Signet:
		return "signet"
	case Regtest:
		return "regtest"
	case Testnet3:
		return "testnet"
	default:
		return "unknown"
	}
}

// LoadCookie fills RpcUser and RpcPass from the cookie file of the node when
// CookiePath is set.
func LoadCookie() error {
	if CookiePath == "" {
		return nil
	}
	data, err := os.ReadFile(CookiePath)
	if err != nil {
		return err
	}
	credentials := strings.Split(strings.TrimSpace(string(data)), ":")
	if len(credentials) != 2 {
		return fmt.Errorf("cookie file %s is invalid", CookiePath)
	}
	RpcUser = credentials[0]
	RpcPass = credentials[1]
	return nil
}
