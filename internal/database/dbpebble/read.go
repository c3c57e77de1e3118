package dbpebble

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

func (s *Store) FetchCoins(outpoints []wire.OutPoint) (map[wire.OutPoint]*types.UnspentOutput, error) {
	snap := s.DB.NewSnapshot()
	defer snap.Close()

	result := make(map[wire.OutPoint]*types.UnspentOutput, len(outpoints))
	for _, op := range outpoints {
		out := types.NewUnspentOutput(op, nil)
		if _, err := retrieve(snap, database.KeyCoins(op), out); err != nil {
			return nil, errors.Wrapf(err, "fetch coins %s", op)
		}
		result[op] = out
	}
	return result, nil
}

func (s *Store) GetRewindData(height int32) (*types.RewindData, error) {
	rd := &types.RewindData{}
	found, err := retrieve(s.DB, database.KeyRewind(height), rd)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return rd, nil
}

func (s *Store) GetMinRewindHeight() (int32, error) {
	lb, ub := database.BoundsPrefix(database.KRewind)
	it, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lb, UpperBound: ub})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	if !it.First() {
		return -1, it.Error()
	}
	return types.ParseHeightKey(it.Key()[1:])
}

func (s *Store) PruneRewindData(belowHeight int32) (int, error) {
	if belowHeight <= 0 {
		return 0, nil
	}
	lb, ub := database.BoundsRewindBelow(belowHeight)

	it, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lb, UpperBound: ub})
	if err != nil {
		return 0, err
	}
	var n int
	for ok := it.First(); ok; ok = it.Next() {
		n++
	}
	if err = it.Close(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	if err = s.DB.DeleteRange(lb, ub, pebble.Sync); err != nil {
		logging.L.Err(err).Msg("error deleting rewind range")
		return 0, err
	}
	logging.L.Debug().Int("records", n).Int32("below", belowHeight).Msg("pruned rewind data")
	return n, nil
}

func (s *Store) ForEachCoin(fn func(*types.UnspentOutput) error) error {
	lb, ub := database.BoundsPrefix(database.KCoins)
	it, err := s.DB.NewIter(&pebble.IterOptions{LowerBound: lb, UpperBound: ub})
	if err != nil {
		return err
	}
	defer it.Close()

	for ok := it.First(); ok; ok = it.Next() {
		out := &types.UnspentOutput{}
		if err = out.DeSerialiseKey(it.Key()[1:]); err != nil {
			return err
		}
		if err = out.DeSerialiseData(it.Value()); err != nil {
			return err
		}
		if err = fn(out); err != nil {
			return err
		}
	}
	return it.Error()
}

// PutStake writes new stake items in one batch. Items already InStore are skipped.
func (s *Store) PutStake(items []*types.StakeItem) error {
	b := s.DB.NewBatch()
	defer b.Close()

	var pending []*types.StakeItem
	for _, item := range items {
		if item.InStore {
			continue
		}
		key, value, err := extractKeyValue(database.KStake, item)
		if err != nil {
			return err
		}
		if err = b.Set(key, value, nil); err != nil {
			return err
		}
		pending = append(pending, item)
	}
	if len(pending) == 0 {
		return nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logging.L.Err(err).Msg("error writing stake batch")
		return err
	}
	for _, item := range pending {
		item.InStore = true
	}
	return nil
}

func (s *Store) GetStake(items []*types.StakeItem) error {
	snap := s.DB.NewSnapshot()
	defer snap.Close()

	for _, item := range items {
		found, err := retrieve(snap, database.KeyStake(item.BlockID), item)
		if err != nil {
			return err
		}
		if found {
			item.InStore = true
		}
	}
	return nil
}
