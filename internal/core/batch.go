package core

import (
	"context"

	"matrixcore/pkg/domain"
)

// UndoCellBatch reverts one batch by replaying the structural inverse of its
// change-log window, newest entry first. This is a compensating transaction
// over a bounded window, not event-sourced replay: destructive deletes are
// re-verified against the logged row image first, and a concurrent
// out-of-window writer that touched the same cells can still leave the matrix
// in a mixed state. That risk is accepted and surfaced by the change feed.
func (s *Service) UndoCellBatch(ctx context.Context, session Session, batchID int64) (MutationResult, error) {
	var out MutationResult
	err := s.instrument(ctx, "undo_cell_batch", func(ctx context.Context) error {
		if err := s.store.View(ctx, func(view TransactionView) error {
			return requireEditor(view, session)
		}); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			view := tx.Snapshot()
			batch, ok := view.FindBatchLog(batchID)
			if !ok || batch.MatrixID != session.MatrixID {
				return domain.ErrNotFound{Entity: domain.EntityBatchLog, ID: batchID}
			}
			if batch.Reverted {
				return domain.NewUserError("the batch has already been reverted")
			}
			logs := view.ListChangeLogsBetween(batch.MatrixID, batch.UserID, batch.StartedOn, batch.FinishedOn)
			m := newMutation(tx, session, "", false)
			for i := len(logs) - 1; i >= 0; i-- {
				if err := undoLogEntry(m, logs[i]); err != nil {
					return err
				}
			}
			userID := session.UserID
			if _, err := tx.UpdateBatchLog(batchID, func(b *CellBatchLog) error {
				b.Reverted = true
				b.RevertedUserID = &userID
				return nil
			}); err != nil {
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

// undoLogEntry replays the structural inverse of one audit row: inserts are
// deleted, deletes re-inserted from the logged image, updates restored to the
// logged prior values. Rows that no longer match the image are skipped rather
// than destroyed.
func undoLogEntry(m *mutation, entry CellChangeLog) error {
	switch entry.Table {
	case domain.TableCellScores:
		return undoScoreEntry(m, entry)
	case domain.TableCellNotes:
		return undoNoteEntry(m, entry)
	case domain.TableCellMedia:
		return undoMediaEntry(m, entry)
	default:
		return nil
	}
}

func undoScoreEntry(m *mutation, entry CellChangeLog) error {
	var snap CellScore
	if !entry.Snapshot.Decode(&snap) {
		return nil
	}
	view := m.tx.Snapshot()
	switch entry.ChangeType {
	case domain.ChangeInsert:
		current, ok := view.FindCellScore(snap.ID)
		if !ok || current.Address() != snap.Address() || scoreKey(current) != scoreKey(snap) {
			return nil
		}
		return m.deleteScore(current)
	case domain.ChangeDelete:
		if _, exists := view.FindCellScore(snap.ID); exists {
			return nil
		}
		return m.restoreScore(snap)
	case domain.ChangeUpdate:
		current, ok := view.FindCellScore(snap.ID)
		if !ok || current.Address() != snap.Address() {
			return nil
		}
		_, err := m.updateScore(current, func(c *CellScore) error {
			c.StateID = snap.StateID
			c.IsNPA = snap.IsNPA
			c.IsUncertain = snap.IsUncertain
			c.StartValue = snap.StartValue
			c.EndValue = snap.EndValue
			return nil
		})
		return err
	}
	return nil
}

func undoNoteEntry(m *mutation, entry CellChangeLog) error {
	var snap CellNote
	if !entry.Snapshot.Decode(&snap) {
		return nil
	}
	view := m.tx.Snapshot()
	switch entry.ChangeType {
	case domain.ChangeInsert:
		current, ok := view.FindCellNote(snap.Address())
		if !ok {
			return nil
		}
		return m.deleteNote(current)
	case domain.ChangeDelete, domain.ChangeUpdate:
		if current, ok := view.FindCellNote(snap.Address()); ok &&
			current.Notes == snap.Notes && current.Status == snap.Status {
			return nil
		}
		return m.upsertNote(snap)
	}
	return nil
}

func undoMediaEntry(m *mutation, entry CellChangeLog) error {
	var snap CellMedia
	if !entry.Snapshot.Decode(&snap) {
		return nil
	}
	view := m.tx.Snapshot()
	switch entry.ChangeType {
	case domain.ChangeInsert:
		current, ok := view.FindCellMedia(snap.ID)
		if !ok || current.Address() != snap.Address() || current.MediaID != snap.MediaID {
			return nil
		}
		return m.detachMedia(current)
	case domain.ChangeDelete:
		if _, exists := view.FindCellMedia(snap.ID); exists {
			return nil
		}
		_, err := m.attachMedia(snap)
		return err
	}
	return nil
}
