package core

import (
	"context"
	"fmt"

	"matrixcore/pkg/domain"
)

// CopyOptions configures CopyCellScores.
type CopyOptions struct {
	// Batch groups the copy into a reversible batch log.
	Batch bool
	// Notes also copies cell note text and workflow status.
	Notes bool
}

// CopyCellScores replicates the source taxon's scores onto the destination
// taxon for the given characters. The write diffs destination rows against
// source rows per character, so re-copying an already-identical row changes
// nothing. Cells the source leaves unscored are cleared on the destination.
func (s *Service) CopyCellScores(ctx context.Context, session Session, sourceTaxonID, destTaxonID int64, characterIDs []int64, opts CopyOptions) (MutationResult, error) {
	var out MutationResult
	err := s.instrument(ctx, "copy_cell_scores", func(ctx context.Context) error {
		characterIDs = dedupeIDs(characterIDs)
		if err := s.store.View(ctx, func(view TransactionView) error {
			return validateCopyRequest(view, session, sourceTaxonID, destTaxonID, characterIDs)
		}); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			m := newMutation(tx, session, domain.BatchCopyScores, opts.Batch)
			for _, characterID := range characterIDs {
				src := CellAddress{MatrixID: session.MatrixID, TaxonID: sourceTaxonID, CharacterID: characterID}
				dst := CellAddress{MatrixID: session.MatrixID, TaxonID: destTaxonID, CharacterID: characterID}
				character, ok := tx.Snapshot().FindCharacter(characterID)
				if !ok {
					return domain.ErrNotFound{Entity: domain.EntityCharacter, ID: characterID}
				}
				if character.Type.IsNumeric() {
					if err := copyContinuousCell(m, src, dst); err != nil {
						return err
					}
				} else if err := copyDiscreteCell(m, src, dst); err != nil {
					return err
				}
				if opts.Notes {
					if err := copyCellNote(m, src, dst); err != nil {
						return err
					}
				}
			}
			if err := m.finalize(describeBlock(tx.Snapshot(), []int64{destTaxonID}, characterIDs)); err != nil {
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

func copyDiscreteCell(m *mutation, src, dst CellAddress) error {
	view := m.tx.Snapshot()
	source := make(map[int64]CellScore)
	for _, row := range view.ListCellScores(src) {
		source[scoreKey(row)] = row
	}
	dest := make(map[int64]CellScore)
	for _, row := range view.ListCellScores(dst) {
		dest[scoreKey(row)] = row
	}

	for _, key := range sortedKeys(dest) {
		if _, keep := source[key]; !keep {
			if err := m.deleteScore(dest[key]); err != nil {
				return err
			}
		}
	}
	for _, key := range sortedKeys(source) {
		from := source[key]
		existing, ok := dest[key]
		if !ok {
			score := CellScore{
				MatrixID:    dst.MatrixID,
				TaxonID:     dst.TaxonID,
				CharacterID: dst.CharacterID,
				IsNPA:       from.IsNPA,
				IsUncertain: from.IsUncertain,
			}
			if from.StateID != nil {
				id := *from.StateID
				score.StateID = &id
			}
			if _, err := m.insertScore(score); err != nil {
				return err
			}
			continue
		}
		if existing.IsUncertain != from.IsUncertain {
			if _, err := m.updateScore(existing, func(c *CellScore) error {
				c.IsUncertain = from.IsUncertain
				return nil
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyContinuousCell(m *mutation, src, dst CellAddress) error {
	rows := m.tx.Snapshot().ListCellScores(src)
	var start, end *float64
	if len(rows) > 0 {
		start = cloneFloatPtr(rows[0].StartValue)
		end = cloneFloatPtr(rows[0].EndValue)
	}
	return applyContinuousValue(m, dst, start, end)
}

// copyCellNote mirrors the source note onto the destination when the source
// has one; a missing source note leaves the destination untouched.
func copyCellNote(m *mutation, src, dst CellAddress) error {
	view := m.tx.Snapshot()
	source, ok := view.FindCellNote(src)
	if !ok {
		return nil
	}
	if existing, ok := view.FindCellNote(dst); ok &&
		existing.Notes == source.Notes && existing.Status == source.Status {
		return nil
	}
	return m.upsertNote(CellNote{
		MatrixID:    dst.MatrixID,
		TaxonID:     dst.TaxonID,
		CharacterID: dst.CharacterID,
		Notes:       source.Notes,
		Status:      source.Status,
	})
}

func validateCopyRequest(view TransactionView, session Session, sourceTaxonID, destTaxonID int64, characterIDs []int64) error {
	if err := requireEditor(view, session); err != nil {
		return err
	}
	matrix, ok := view.FindMatrix(session.MatrixID)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
	}

	var msgs []string
	if len(characterIDs) == 0 {
		msgs = append(msgs, "at least one character is required")
	}
	if matrix.Option(domain.OptionDisableScoring) != 0 {
		msgs = append(msgs, "scoring is disabled for this matrix")
	}
	if sourceTaxonID == destTaxonID {
		msgs = append(msgs, "source and destination taxa must differ")
	}
	if _, ok := view.FindMatrixTaxon(session.MatrixID, sourceTaxonID); !ok {
		msgs = append(msgs, fmt.Sprintf("taxon %d is not placed in the matrix", sourceTaxonID))
	}
	for _, characterID := range characterIDs {
		character, ok := view.FindCharacter(characterID)
		if !ok || character.MatrixID != session.MatrixID {
			msgs = append(msgs, fmt.Sprintf("character %d does not belong to the matrix", characterID))
		}
	}
	if len(msgs) > 0 {
		return domain.NewUserError(msgs...)
	}
	return requireTaxonEditor(view, session, destTaxonID)
}
