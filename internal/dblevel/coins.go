package dblevel

import (
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func (s *Store) FetchCoins(outpoints []wire.OutPoint) (map[wire.OutPoint]*types.UnspentOutput, error) {
	snap, err := s.DB.GetSnapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

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

	tr, err := s.DB.OpenTransaction()
	if err != nil {
		return err
	}
	// no-op once committed
	defer tr.Discard()

	current, err := readTip(tr)
	if err != nil {
		return err
	}
	if err = database.CheckTip(current, oldTip); err != nil {
		return err
	}

	for _, op := range deletes {
		if err = tr.Delete(database.KeyCoins(op), nil); err != nil {
			return err
		}
	}

	deleted := database.NewDeletedSet(deletes)
	for _, out := range inserts {
		key, value, err := extractKeyValue(database.KCoins, out)
		if err != nil {
			return err
		}
		if !deleted.Has(out.OutPoint) {
			exists, err := tr.Has(key, nil)
			if err != nil {
				return err
			}
			if exists {
				return errors.Wrapf(database.ErrOverwrite, "outpoint %s", out.OutPoint)
			}
		}
		if err = tr.Put(key, value, nil); err != nil {
			return err
		}
	}

	for _, rd := range rewindData {
		key, value, err := extractKeyValue(database.KRewind, rd)
		if err != nil {
			return err
		}
		if err = tr.Put(key, value, nil); err != nil {
			return err
		}
	}

	if err = tr.Put(database.KeyTip(), newTip.Serialise(), nil); err != nil {
		return err
	}
	if err = tr.Commit(); err != nil {
		logging.L.Err(err).Msg("failed to commit coin changes")
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

func (s *Store) Rewind() (*types.HashHeightPair, error) {
	tr, err := s.DB.OpenTransaction()
	if err != nil {
		return nil, err
	}
	defer tr.Discard()

	current, err := readTip(tr)
	if err != nil {
		return nil, err
	}

	rd := &types.RewindData{}
	found, err := retrieve(tr, database.KeyRewind(current.Height), rd)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.Wrapf(database.ErrNoRewindData, "height %d", current.Height)
	}

	for _, op := range rd.OutputsToRemove {
		if err = tr.Delete(database.KeyCoins(op), nil); err != nil {
			return nil, err
		}
	}
	removed := database.NewDeletedSet(rd.OutputsToRemove)
	for _, out := range rd.OutputsToRestore {
		key, value, err := extractKeyValue(database.KCoins, out)
		if err != nil {
			return nil, err
		}
		if !removed.Has(out.OutPoint) {
			exists, err := tr.Has(key, nil)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, errors.Wrapf(database.ErrOverwrite, "restore of %s", out.OutPoint)
			}
		}
		if err = tr.Put(key, value, nil); err != nil {
			return nil, err
		}
	}

	if err = tr.Delete(database.KeyRewind(current.Height), nil); err != nil {
		return nil, err
	}
	newTip := rd.PreviousTip
	if err = tr.Put(database.KeyTip(), newTip.Serialise(), nil); err != nil {
		return nil, err
	}
	if err = tr.Commit(); err != nil {
		logging.L.Err(err).Int32("height", current.Height).Msg("failed to commit rewind")
		return nil, err
	}
	s.setTip(&newTip)

	logging.L.Debug().Stringer("from", current).Stringer("to", &newTip).Msg("rewound coin store")
	tip := newTip
	return &tip, nil
}

func (s *Store) ForEachCoin(fn func(*types.UnspentOutput) error) error {
	iter := s.DB.NewIterator(util.BytesPrefix([]byte{database.KCoins}), nil)
	defer iter.Release()

	for iter.Next() {
		out := &types.UnspentOutput{}
		if err := out.DeSerialiseKey(iter.Key()[1:]); err != nil {
			return err
		}
		if err := out.DeSerialiseData(iter.Value()); err != nil {
			return err
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return iter.Error()
}

// deleteRange removes every key in r in one batch and returns the count.
func deleteRange(db *leveldb.DB, r *util.Range) (int, error) {
	iter := db.NewIterator(r, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		batch.Delete(append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if batch.Len() == 0 {
		return 0, nil
	}
	if err := db.Write(batch, nil); err != nil {
		logging.L.Err(err).Msg("error deleting batch")
		return 0, err
	}
	return batch.Len(), nil
}
