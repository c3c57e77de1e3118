// Package node opens and closes every handle the coin database needs.
package node

import (
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/blockstore"
	"github.com/setavenger/coindb/internal/coinview"
	"github.com/setavenger/coindb/internal/config"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/database/dbpebble"
	"github.com/setavenger/coindb/internal/database/dbsqlite"
	"github.com/setavenger/coindb/internal/dblevel"
	"github.com/setavenger/coindb/internal/indexer"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/stake"
)

type Options struct {
	Backend    string
	CoinsPath  string
	BlocksPath string
	Genesis    chainhash.Hash

	Cache          coinview.Config
	StakeCacheSize int

	// TxIndex overrides the persisted transaction index flag, nil keeps it.
	TxIndex *bool

	// Source is optional, without it the node has no syncer.
	Source          indexer.BlockSource
	RewindRetention int32
}

// OptionsFromConfig builds the options from the loaded configuration.
func OptionsFromConfig() Options {
	txIndex := config.TxIndex
	return Options{
		Backend:    config.DBBackend,
		CoinsPath:  config.DBPathCoins,
		BlocksPath: config.DBPathBlocks,
		Genesis:    *config.ChainParams().GenesisHash,
		Cache: coinview.Config{
			MaxSize:    config.CacheMaxBytes,
			FlushEvery: int32(config.FlushEveryBlocks),
		},
		StakeCacheSize:  config.StakeCacheSize,
		TxIndex:         &txIndex,
		Source:          sourceFromConfig(),
		RewindRetention: int32(config.RewindRetention),
	}
}

func sourceFromConfig() indexer.BlockSource {
	if config.BlockSource == config.SourceRPC {
		return indexer.NewRPCSource(config.RestEndpoint, config.RpcUser, config.RpcPass)
	}
	return indexer.NewRESTSource(config.RestEndpoint)
}

type Node struct {
	Store  database.CoinStore
	View   *coinview.CachedCoinView
	Stake  *stake.StakeChainStore
	Blocks *blockstore.Store
	Syncer *indexer.Syncer

	backend string
}

// OpenCoinStore opens the engine named by backend. Every engine gets its
// own directory below path.
func OpenCoinStore(backend, path string) (database.CoinStore, error) {
	dir := filepath.Join(path, backend)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, errors.Wrap(err, "create coin store directory")
	}
	switch backend {
	case config.BackendLevelDB:
		return dblevel.OpenStore(dir)
	case config.BackendPebble:
		return dbpebble.OpenStore(dir)
	case config.BackendSQLite:
		return dbsqlite.OpenStore(dir)
	default:
		return nil, errors.Errorf("unknown db backend %q", backend)
	}
}

func Open(opts Options) (*Node, error) {
	store, err := OpenCoinStore(opts.Backend, opts.CoinsPath)
	if err != nil {
		return nil, err
	}
	n := &Node{Store: store, backend: opts.Backend}

	if err = store.Initialize(&opts.Genesis); err != nil {
		n.Close()
		return nil, errors.Wrap(err, "initialize coin store")
	}
	if n.View, err = coinview.NewCachedCoinView(store, opts.Cache); err != nil {
		n.Close()
		return nil, err
	}
	if n.Stake, err = stake.NewStakeChainStore(store, opts.StakeCacheSize); err != nil {
		n.Close()
		return nil, err
	}

	if n.Blocks, err = blockstore.Open(opts.BlocksPath); err != nil {
		n.Close()
		return nil, err
	}
	// blocks connected after the last cache flush did not survive in the coin store
	coinTip, err := store.GetTipHash()
	if err != nil {
		n.Close()
		return nil, err
	}
	if _, err = n.Blocks.TrimTo(coinTip); err != nil {
		n.Close()
		return nil, errors.Wrap(err, "reconcile block store with coin tip")
	}

	if opts.TxIndex != nil && n.Blocks.TxIndex() != *opts.TxIndex {
		if err = n.Blocks.SetTxIndex(*opts.TxIndex); err != nil {
			n.Close()
			return nil, err
		}
		if err = n.Blocks.ReIndex(); err != nil {
			n.Close()
			return nil, err
		}
	}

	if opts.Source != nil {
		n.Syncer = indexer.NewSyncer(opts.Source, n.View, n.Blocks, store, opts.RewindRetention)
	}

	tip, _ := n.View.GetTipHash()
	logging.L.Info().
		Str("backend", opts.Backend).
		Stringer("tip", tip).
		Bool("txindex", n.Blocks.TxIndex()).
		Msg("node opened")
	return n, nil
}

func (n *Node) Backend() string {
	return n.backend
}

// Close writes the cache and pending stake items back, then closes the
// stores in reverse open order. The first error is returned.
func (n *Node) Close() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	if n.View != nil {
		if err := n.View.Close(); err != nil {
			logging.L.Err(err).Msg("coin cache flush failed")
			keep(err)
		}
	}
	if n.Stake != nil {
		if err := n.Stake.Flush(); err != nil {
			logging.L.Warn().Err(err).Msg("stake items lost")
		}
	}
	if n.Blocks != nil {
		keep(n.Blocks.Close())
	}
	if n.Store != nil {
		keep(n.Store.Close())
	}
	logging.L.Debug().Msg("node closed")
	return first
}
