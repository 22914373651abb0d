package core

import (
	"context"
	"fmt"

	"matrixcore/pkg/domain"
)

// SetCellContinuousValues writes the numeric range of continuous or meristic
// cells. A nil start and end deletes the row; anything else upserts the single
// row each numeric cell may hold.
func (s *Service) SetCellContinuousValues(ctx context.Context, session Session, taxonIDs, characterIDs []int64, start, end *float64, opts ScoreOptions) (MutationResult, error) {
	var out MutationResult
	err := s.instrument(ctx, "set_cell_continuous_values", func(ctx context.Context) error {
		taxonIDs = dedupeIDs(taxonIDs)
		characterIDs = dedupeIDs(characterIDs)
		if err := s.store.View(ctx, func(view TransactionView) error {
			return validateContinuousRequest(view, session, taxonIDs, characterIDs, start, end)
		}); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			m := newMutation(tx, session, domain.BatchSetContinuous, opts.Batch)
			for _, taxonID := range taxonIDs {
				for _, characterID := range characterIDs {
					addr := CellAddress{MatrixID: session.MatrixID, TaxonID: taxonID, CharacterID: characterID}
					if err := applyContinuousValue(m, addr, start, end); err != nil {
						return err
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

func applyContinuousValue(m *mutation, addr CellAddress, start, end *float64) error {
	rows := m.tx.Snapshot().ListCellScores(addr)
	if len(rows) > 1 {
		// data-integrity guard: numeric cells may never hold several rows
		return fmt.Errorf("numeric cell (taxon %d, character %d) holds %d rows", addr.TaxonID, addr.CharacterID, len(rows))
	}
	if start == nil && end == nil {
		if len(rows) == 1 {
			return m.deleteScore(rows[0])
		}
		return nil
	}
	if len(rows) == 1 {
		row := rows[0]
		if floatEqual(row.StartValue, start) && floatEqual(row.EndValue, end) {
			return nil
		}
		_, err := m.updateScore(row, func(c *CellScore) error {
			c.StartValue = cloneFloatPtr(start)
			c.EndValue = cloneFloatPtr(end)
			return nil
		})
		return err
	}
	_, err := m.insertScore(CellScore{
		MatrixID:    addr.MatrixID,
		TaxonID:     addr.TaxonID,
		CharacterID: addr.CharacterID,
		StartValue:  cloneFloatPtr(start),
		EndValue:    cloneFloatPtr(end),
	})
	return err
}

func validateContinuousRequest(view TransactionView, session Session, taxonIDs, characterIDs []int64, start, end *float64) error {
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
	if start == nil && end != nil {
		msgs = append(msgs, "an end value requires a start value")
	}
	if start != nil && end != nil && *start > *end {
		msgs = append(msgs, "the start value cannot exceed the end value")
	}
	for _, characterID := range characterIDs {
		character, ok := view.FindCharacter(characterID)
		if !ok || character.MatrixID != session.MatrixID {
			msgs = append(msgs, fmt.Sprintf("character %d does not belong to the matrix", characterID))
			continue
		}
		if !character.Type.IsNumeric() {
			msgs = append(msgs, fmt.Sprintf("character %d is discrete and must be scored with states", characterID))
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

func floatEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
