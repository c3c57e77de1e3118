package dbsqlite

import (
	"context"
	"database/sql"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

func scanCoins(scan func(dest ...any) error) (*types.UnspentOutput, error) {
	var (
		txid     []byte
		vout     uint32
		height   uint32
		coinbase bool
		amount   int64
		script   []byte
	)
	if err := scan(&txid, &vout, &height, &coinbase, &amount, &script); err != nil {
		return nil, err
	}
	h, err := chainhash.NewHash(txid)
	if err != nil {
		return nil, errors.Wrapf(database.ErrSerialization, "coins txid: %v", err)
	}
	op := wire.OutPoint{Hash: *h, Index: vout}
	return types.NewUnspentOutput(op, types.NewCoins(height, coinbase, wire.NewTxOut(amount, script))), nil
}

func (s *Store) FetchCoins(outpoints []wire.OutPoint) (map[wire.OutPoint]*types.UnspentOutput, error) {
	ctx := context.Background()
	result := make(map[wire.OutPoint]*types.UnspentOutput, len(outpoints))
	err := s.withReadTx(ctx, func(tx *sql.Tx) error {
		sel, err := tx.PrepareContext(ctx,
			`SELECT txid, vout, height, coinbase, amount, script FROM coins WHERE txid = ? AND vout = ?`)
		if err != nil {
			return err
		}
		defer sel.Close()

		for _, op := range outpoints {
			out, err := scanCoins(sel.QueryRowContext(ctx, op.Hash[:], op.Index).Scan)
			if errors.Is(err, sql.ErrNoRows) {
				result[op] = types.NewUnspentOutput(op, nil)
				continue
			}
			if err != nil {
				return errors.Wrapf(err, "fetch coins %s", op)
			}
			result[op] = out
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func getRewindData(ctx context.Context, q queryer, height int32) (*types.RewindData, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM rewind WHERE height = ?`, height).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rd := &types.RewindData{}
	if err = rd.DeSerialiseKey(types.HeightKey(height)); err != nil {
		return nil, err
	}
	if err = rd.DeSerialiseData(data); err != nil {
		logging.L.Err(err).Int32("height", height).Msg("error deserialising rewind data")
		return nil, err
	}
	return rd, nil
}

func (s *Store) GetRewindData(height int32) (*types.RewindData, error) {
	return getRewindData(context.Background(), s.Read, height)
}

func (s *Store) GetMinRewindHeight() (int32, error) {
	var height sql.NullInt32
	err := s.Read.QueryRowContext(context.Background(), `SELECT MIN(height) FROM rewind`).Scan(&height)
	if err != nil {
		return 0, err
	}
	if !height.Valid {
		return -1, nil
	}
	return height.Int32, nil
}

func (s *Store) PruneRewindData(belowHeight int32) (int, error) {
	if belowHeight <= 0 {
		return 0, nil
	}
	res, err := s.DB.ExecContext(context.Background(), `DELETE FROM rewind WHERE height < ?`, belowHeight)
	if err != nil {
		logging.L.Err(err).Msg("error deleting rewind range")
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logging.L.Debug().Int64("records", n).Int32("below", belowHeight).Msg("pruned rewind data")
	}
	return int(n), nil
}

func (s *Store) ForEachCoin(fn func(*types.UnspentOutput) error) error {
	ctx := context.Background()
	rows, err := s.Read.QueryContext(ctx,
		`SELECT txid, vout, height, coinbase, amount, script FROM coins ORDER BY txid, vout`)
	if err != nil {
		return err
	}
	defer rows.Close()

	// collect first, fn may want the single connection back
	var outs []*types.UnspentOutput
	for rows.Next() {
		out, err := scanCoins(rows.Scan)
		if err != nil {
			return err
		}
		outs = append(outs, out)
	}
	if err = rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, out := range outs {
		if err = fn(out); err != nil {
			return err
		}
	}
	return nil
}

// PutStake writes new stake items in one transaction. Items already InStore are skipped.
func (s *Store) PutStake(items []*types.StakeItem) error {
	var pending []*types.StakeItem
	for _, item := range items {
		if !item.InStore {
			pending = append(pending, item)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	ctx := context.Background()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ins, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO stake(block_hash, stake) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer ins.Close()
		for _, item := range pending {
			value, err := item.SerialiseData()
			if err != nil {
				return err
			}
			if _, err = ins.ExecContext(ctx, item.BlockID[:], value); err != nil {
				logging.L.Err(err).Msg("failed insert")
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, item := range pending {
		item.InStore = true
	}
	return nil
}

func (s *Store) GetStake(items []*types.StakeItem) error {
	ctx := context.Background()
	return s.withReadTx(ctx, func(tx *sql.Tx) error {
		sel, err := tx.PrepareContext(ctx, `SELECT stake FROM stake WHERE block_hash = ?`)
		if err != nil {
			return err
		}
		defer sel.Close()
		for _, item := range items {
			var value []byte
			err := sel.QueryRowContext(ctx, item.BlockID[:]).Scan(&value)
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return err
			}
			if err = item.DeSerialiseData(value); err != nil {
				return err
			}
			item.InStore = true
		}
		return nil
	})
}
