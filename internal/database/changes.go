package database

import (
	"slices"

	"github.com/btcsuite/btcd/wire"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/types"
)

// PartitionChanges splits a SaveChanges batch into deletions (nil Coins) and
// insertions. Insertions come back sorted by outpoint. A batch may delete and
// re-insert the same key, engines apply all deletions first. Two inserts of
// one key are rejected with ErrOverwrite.
func PartitionChanges(outputs []*types.UnspentOutput) (deletes []wire.OutPoint, inserts []*types.UnspentOutput, err error) {
	for _, out := range outputs {
		if out.Coins == nil {
			deletes = append(deletes, out.OutPoint)
			continue
		}
		inserts = append(inserts, out)
	}
	slices.SortFunc(inserts, func(a, b *types.UnspentOutput) int {
		return types.CompareOutPoints(a.OutPoint, b.OutPoint)
	})
	for i := 1; i < len(inserts); i++ {
		if inserts[i].OutPoint == inserts[i-1].OutPoint {
			return nil, nil, errors.Wrapf(ErrOverwrite, "outpoint %s inserted twice", inserts[i].OutPoint)
		}
	}
	return deletes, inserts, nil
}

// DeletedSet indexes the deletions of one transaction so an insert of the same
// key is allowed.
type DeletedSet map[wire.OutPoint]struct{}

func NewDeletedSet(ops []wire.OutPoint) DeletedSet {
	s := make(DeletedSet, len(ops))
	for _, op := range ops {
		s[op] = struct{}{}
	}
	return s
}

func (s DeletedSet) Has(op wire.OutPoint) bool {
	_, ok := s[op]
	return ok
}

// CheckRewindChain verifies that the rewind records of a multi block batch
// form a contiguous chain starting at oldTip and ending below newTip.
func CheckRewindChain(oldTip, newTip *types.HashHeightPair, rewindData []*types.RewindData) error {
	if len(rewindData) == 0 {
		return nil
	}
	if !rewindData[0].PreviousTip.Equal(oldTip) {
		return errorf("first rewind record points at %s, batch starts at %s", &rewindData[0].PreviousTip, oldTip)
	}
	for i := 1; i < len(rewindData); i++ {
		if rewindData[i].Height() != rewindData[i-1].Height()+1 {
			return errorf("rewind records %d and %d are not adjacent", rewindData[i-1].Height(), rewindData[i].Height())
		}
	}
	if last := rewindData[len(rewindData)-1]; last.Height() != newTip.Height {
		return errorf("last rewind record undoes height %d, new tip is at %d", last.Height(), newTip.Height)
	}
	return nil
}
