package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"matrixcore/pkg/domain"
)

// ScoreOptions configures SetCellStates.
type ScoreOptions struct {
	// Batch groups the call's mutations into a reversible batch log.
	Batch bool
	// Uncertain marks the written rows as a polymorphic set.
	Uncertain bool
}

// MutationResult reports the outcome of a bulk cell write. Cells holds the
// current rows of every touched cell; a cleared cell is represented by a
// single zero-id placeholder row so clients drop it locally.
type MutationResult struct {
	Timestamp time.Time
	Cells     []CellScore
	BatchID   int64
	Notify    bool
}

// SetCellStates scores the cross product of taxa and characters to the
// requested state set. The write is a symmetric difference against the stored
// rows per cell, so repeating an identical call changes nothing and emits no
// further audit rows. An empty state set clears the cells.
func (s *Service) SetCellStates(ctx context.Context, session Session, taxonIDs, characterIDs, stateIDs []int64, opts ScoreOptions) (MutationResult, error) {
	var out MutationResult
	err := s.instrument(ctx, "set_cell_states", func(ctx context.Context) error {
		taxonIDs = dedupeIDs(taxonIDs)
		characterIDs = dedupeIDs(characterIDs)
		stateIDs = dedupeIDs(stateIDs)
		if err := s.store.View(ctx, func(view TransactionView) error {
			return validateScoreRequest(view, session, taxonIDs, characterIDs, stateIDs, opts.Uncertain)
		}); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			m := newMutation(tx, session, domain.BatchSetStates, opts.Batch)
			matrix, _ := tx.Snapshot().FindMatrix(session.MatrixID)
			for _, taxonID := range taxonIDs {
				for _, characterID := range characterIDs {
					addr := CellAddress{MatrixID: session.MatrixID, TaxonID: taxonID, CharacterID: characterID}
					inserted, err := applyStateSet(m, addr, stateIDs, opts.Uncertain)
					if err != nil {
						return err
					}
					if matrix.Option(domain.OptionApplyRulesWhileScoring) != 0 {
						for _, score := range inserted {
							if err := s.applyCascade(m, matrix, score); err != nil {
								return err
							}
						}
					}
				}
			}
			if err := m.finalize(describeBlock(tx.Snapshot(), taxonIDs, characterIDs)); err != nil {
				return err
			}
			out = s.mutationResult(tx.Snapshot(), m)
			return nil
		})
		return err
	})
	if err != nil {
		return MutationResult{}, err
	}
	if out.Notify {
		s.notifyPeers(session)
	}
	return out, nil
}

// mutationResult assembles the compact changed-cell report from the
// transaction's final state.
func (s *Service) mutationResult(view TransactionView, m *mutation) MutationResult {
	out := MutationResult{
		Timestamp: s.nowFn(),
		BatchID:   m.batchID,
		Notify:    m.changed(),
	}
	for _, addr := range m.touchedCells() {
		rows := view.ListCellScores(addr)
		if len(rows) == 0 {
			out.Cells = append(out.Cells, CellScore{
				MatrixID:    addr.MatrixID,
				TaxonID:     addr.TaxonID,
				CharacterID: addr.CharacterID,
			})
			continue
		}
		out.Cells = append(out.Cells, rows...)
	}
	return out
}

// applyStateSet diffs one cell's stored rows against the requested state set.
// Removed ids are deleted, added ids inserted, and surviving rows only have
// their uncertain flag realigned. Returns the inserted rows so the caller can
// run the cascade on them.
func applyStateSet(m *mutation, addr CellAddress, stateIDs []int64, uncertain bool) ([]CellScore, error) {
	view := m.tx.Snapshot()
	current := make(map[int64]CellScore)
	for _, row := range view.ListCellScores(addr) {
		current[scoreKey(row)] = row
	}
	requested := make(map[int64]struct{}, len(stateIDs))
	for _, id := range stateIDs {
		requested[id] = struct{}{}
	}

	for _, key := range sortedKeys(current) {
		if _, keep := requested[key]; !keep {
			if err := m.deleteScore(current[key]); err != nil {
				return nil, err
			}
		}
	}

	var inserted []CellScore
	ordered := append([]int64(nil), stateIDs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for _, key := range ordered {
		row, exists := current[key]
		if !exists {
			score := CellScore{
				MatrixID:    addr.MatrixID,
				TaxonID:     addr.TaxonID,
				CharacterID: addr.CharacterID,
			}
			if key == domain.StateIDNotApplicable {
				score.IsNPA = true
			} else {
				id := key
				score.StateID = &id
				score.IsUncertain = uncertain
			}
			created, err := m.insertScore(score)
			if err != nil {
				return nil, err
			}
			inserted = append(inserted, created)
			continue
		}
		wantUncertain := uncertain && key != domain.StateIDNotApplicable
		if row.IsUncertain != wantUncertain {
			if _, err := m.updateScore(row, func(c *CellScore) error {
				c.IsUncertain = wantUncertain
				return nil
			}); err != nil {
				return nil, err
			}
		}
	}
	return inserted, nil
}

// scoreKey maps a score row to its requested-set key: the NPA sentinel for
// not-applicable rows, otherwise the state id.
func scoreKey(row CellScore) int64 {
	if row.IsNPA {
		return domain.StateIDNotApplicable
	}
	if row.StateID != nil {
		return *row.StateID
	}
	return -1
}

func validateScoreRequest(view TransactionView, session Session, taxonIDs, characterIDs, stateIDs []int64, uncertain bool) error {
	if err := requireEditor(view, session); err != nil {
		return err
	}
	matrix, ok := view.FindMatrix(session.MatrixID)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
	}

	var msgs []string
	if len(taxonIDs) == 0 {
		msgs = append(msgs, "at least one taxon is required")
	}
	if len(characterIDs) == 0 {
		msgs = append(msgs, "at least one character is required")
	}
	if matrix.Option(domain.OptionDisableScoring) != 0 {
		msgs = append(msgs, "scoring is disabled for this matrix")
	}
	hasNPA := false
	for _, id := range stateIDs {
		if id == domain.StateIDNotApplicable {
			hasNPA = true
		}
	}
	if hasNPA && len(stateIDs) > 1 {
		msgs = append(msgs, "the not-applicable marker cannot be combined with other states")
	}
	if uncertain && len(stateIDs) < 2 {
		msgs = append(msgs, "uncertain scoring requires at least 2 states")
	}
	concrete := false
	for _, id := range stateIDs {
		if id != domain.StateIDNotApplicable {
			concrete = true
		}
	}
	if concrete && len(characterIDs) > 1 {
		msgs = append(msgs, "states are character-specific and cannot be applied across multiple characters")
	}
	for _, characterID := range characterIDs {
		character, ok := view.FindCharacter(characterID)
		if !ok || character.MatrixID != session.MatrixID {
			msgs = append(msgs, fmt.Sprintf("character %d does not belong to the matrix", characterID))
			continue
		}
		if character.Type.IsNumeric() {
			msgs = append(msgs, fmt.Sprintf("character %d is numeric and must be scored with continuous values", characterID))
			continue
		}
		for _, stateID := range stateIDs {
			if stateID == domain.StateIDNotApplicable {
				continue
			}
			state, ok := view.FindCharacterState(stateID)
			if !ok || state.CharacterID != characterID {
				msgs = append(msgs, fmt.Sprintf("state %d does not belong to character %d", stateID, characterID))
			}
		}
	}
	if len(msgs) > 0 {
		return domain.NewUserError(msgs...)
	}
	for _, taxonID := range taxonIDs {
		if err := requireTaxonEditor(view, session, taxonID); err != nil {
			return err
		}
	}
	return nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortedKeys(m map[int64]CellScore) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
