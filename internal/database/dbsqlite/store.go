package dbsqlite

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Store maps the coin store tables onto sqlite.
type Store struct {
	DB *sql.DB
	// Read serves FetchCoins and the other pure reads, DB when no pool is set.
	Read *sql.DB

	tipMu sync.RWMutex
	tip   *types.HashHeightPair
}

var _ database.CoinStore = (*Store)(nil)

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, Read: db}
}

func (s *Store) Close() error {
	if s.Read != s.DB {
		if err := s.Read.Close(); err != nil {
			logging.L.Err(err).Msg("failed to close sqlite reader pool")
		}
	}
	return s.DB.Close()
}

func (s *Store) setTip(tip *types.HashHeightPair) {
	s.tipMu.Lock()
	s.tip = tip
	s.tipMu.Unlock()
}

// queryer is implemented by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// withTx runs fn inside one immediate transaction. Any error rolls back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return runTx(ctx, s.DB, fn)
}

// withReadTx runs fn inside one deferred transaction on the reader pool, so
// every statement of fn sees the same snapshot.
func (s *Store) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return runTx(ctx, s.Read, fn)
}

func runTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		// ErrTxDone after a successful commit
		_ = tx.Rollback()
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		logging.L.Err(err).Msg("failed to commit sqlite tx")
		return err
	}
	return nil
}

func isConstraint(err error) bool {
	var sqliteErr *sqlite.Error
	return errors.As(err, &sqliteErr) && (sqliteErr.Code()&0xff) == sqlite3.SQLITE_CONSTRAINT
}

func readTip(ctx context.Context, q queryer) (*types.HashHeightPair, error) {
	var (
		hash   []byte
		height int32
	)
	err := q.QueryRowContext(ctx, `SELECT block_hash, height FROM tip WHERE id = 0`).Scan(&hash, &height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	h, err := chainhash.NewHash(hash)
	if err != nil {
		return nil, errors.Wrapf(database.ErrSerialization, "tip hash: %v", err)
	}
	return types.NewHashHeightPair(*h, height), nil
}

func writeTip(ctx context.Context, tx *sql.Tx, tip *types.HashHeightPair) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tip(id, block_hash, height) VALUES (0, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET block_hash = excluded.block_hash, height = excluded.height`,
		tip.Hash[:], tip.Height,
	)
	return err
}

func (s *Store) Initialize(genesis *chainhash.Hash) error {
	ctx := context.Background()
	var tip *types.HashHeightPair
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := readTip(ctx, tx)
		if err == nil {
			tip = current
			return nil
		}
		if !errors.Is(err, database.ErrNotInitialized) {
			return err
		}
		tip = types.NewHashHeightPair(*genesis, 0)
		logging.L.Info().Stringer("tip", tip).Msg("coin store initialized at genesis")
		return writeTip(ctx, tx, tip)
	})
	if err != nil {
		return err
	}
	s.setTip(tip)
	return nil
}

func (s *Store) GetTipHash() (*types.HashHeightPair, error) {
	s.tipMu.RLock()
	tip := s.tip
	s.tipMu.RUnlock()
	if tip == nil {
		var err error
		if tip, err = readTip(context.Background(), s.DB); err != nil {
			return nil, err
		}
		s.setTip(tip)
	}
	cp := *tip
	return &cp, nil
}

func (s *Store) SaveChanges(
	outputs []*types.UnspentOutput,
	oldTip, newTip *types.HashHeightPair,
	rewindData []*types.RewindData,
) error {
	start := time.Now()
	if err := database.CheckRewindChain(oldTip, newTip, rewindData); err != nil {
		return err
	}
	deletes, inserts, err := database.PartitionChanges(outputs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := readTip(ctx, tx)
		if err != nil {
			return err
		}
		if err = database.CheckTip(current, oldTip); err != nil {
			return err
		}

		if err = deleteCoins(ctx, tx, deletes); err != nil {
			return err
		}
		if err = insertCoins(ctx, tx, inserts); err != nil {
			return err
		}

		insRewind, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO rewind(height, data) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer insRewind.Close()
		for _, rd := range rewindData {
			data, err := rd.SerialiseData()
			if err != nil {
				return err
			}
			if _, err = insRewind.ExecContext(ctx, rd.Height(), data); err != nil {
				logging.L.Err(err).Int32("height", rd.Height()).Msg("failed insert")
				return err
			}
		}
		return writeTip(ctx, tx, newTip)
	})
	if err != nil {
		return err
	}
	s.setTip(newTip)

	logging.L.Trace().
		Int("deleted", len(deletes)).
		Int("inserted", len(inserts)).
		Int("rewind_records", len(rewindData)).
		Stringer("tip", newTip).
		Dur("duration", time.Since(start)).
		Msg("coin changes saved")
	return nil
}

func deleteCoins(ctx context.Context, tx *sql.Tx, ops []wire.OutPoint) error {
	if len(ops) == 0 {
		return nil
	}
	del, err := tx.PrepareContext(ctx, `DELETE FROM coins WHERE txid = ? AND vout = ?`)
	if err != nil {
		return err
	}
	defer del.Close()

	for _, op := range ops {
		if _, err = del.ExecContext(ctx, op.Hash[:], op.Index); err != nil {
			logging.L.Err(err).Stringer("outpoint", op).Msg("failed delete")
			return err
		}
	}
	return nil
}

// insertCoins relies on the primary key to reject live keys.
func insertCoins(ctx context.Context, tx *sql.Tx, outs []*types.UnspentOutput) error {
	if len(outs) == 0 {
		return nil
	}
	ins, err := tx.PrepareContext(ctx,
		`INSERT INTO coins(txid, vout, height, coinbase, amount, script) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, out := range outs {
		c := out.Coins
		_, err = ins.ExecContext(ctx,
			out.OutPoint.Hash[:], out.OutPoint.Index,
			c.Height, boolToInt(c.IsCoinbase), c.TxOut.Value, nonNil(c.TxOut.PkScript),
		)
		if isConstraint(err) {
			return errors.Wrapf(database.ErrOverwrite, "outpoint %s", out.OutPoint)
		}
		if err != nil {
			logging.L.Err(err).Stringer("outpoint", out.OutPoint).Msg("failed insert")
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nonNil keeps empty scripts from being bound as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func (s *Store) Rewind() (*types.HashHeightPair, error) {
	ctx := context.Background()
	var current, newTip *types.HashHeightPair
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if current, err = readTip(ctx, tx); err != nil {
			return err
		}
		rd, err := getRewindData(ctx, tx, current.Height)
		if err != nil {
			return err
		}
		if rd == nil {
			return errors.Wrapf(database.ErrNoRewindData, "height %d", current.Height)
		}

		if err = deleteCoins(ctx, tx, rd.OutputsToRemove); err != nil {
			return err
		}
		if err = insertCoins(ctx, tx, rd.OutputsToRestore); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM rewind WHERE height = ?`, current.Height); err != nil {
			return err
		}
		newTip = &rd.PreviousTip
		return writeTip(ctx, tx, newTip)
	})
	if err != nil {
		return nil, err
	}
	s.setTip(newTip)

	logging.L.Debug().Stringer("from", current).Stringer("to", newTip).Msg("rewound coin store")
	tip := *newTip
	return &tip, nil
}
