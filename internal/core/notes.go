package core

import (
	"context"
	"fmt"

	"matrixcore/pkg/domain"
)

// NoteOptions configures SetCellNotes.
type NoteOptions struct {
	// Batch groups the call's mutations into a reversible batch log.
	Batch bool
}

// SetCellNotes writes note text and workflow status across the cross product
// of taxa and characters. Empty text together with an empty status deletes the
// notes. Rewriting identical content changes nothing.
func (s *Service) SetCellNotes(ctx context.Context, session Session, taxonIDs, characterIDs []int64, notes string, status domain.NoteStatus, opts NoteOptions) (MutationResult, error) {
	var out MutationResult
	err := s.instrument(ctx, "set_cell_notes", func(ctx context.Context) error {
		taxonIDs = dedupeIDs(taxonIDs)
		characterIDs = dedupeIDs(characterIDs)
		if err := s.store.View(ctx, func(view TransactionView) error {
			return validateNoteRequest(view, session, taxonIDs, characterIDs, notes, status)
		}); err != nil {
			return err
		}
		clearing := notes == "" && status == ""
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			m := newMutation(tx, session, domain.BatchSetNotes, opts.Batch)
			for _, taxonID := range taxonIDs {
				for _, characterID := range characterIDs {
					addr := CellAddress{MatrixID: session.MatrixID, TaxonID: taxonID, CharacterID: characterID}
					existing, ok := tx.Snapshot().FindCellNote(addr)
					if clearing {
						if !ok {
							continue
						}
						if err := m.deleteNote(existing); err != nil {
							return err
						}
						continue
					}
					if ok && existing.Notes == notes && existing.Status == status {
						continue
					}
					if err := m.upsertNote(CellNote{
						MatrixID:    addr.MatrixID,
						TaxonID:     addr.TaxonID,
						CharacterID: addr.CharacterID,
						Notes:       notes,
						Status:      status,
					}); err != nil {
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

func validateNoteRequest(view TransactionView, session Session, taxonIDs, characterIDs []int64, notes string, status domain.NoteStatus) error {
	if err := requireEditor(view, session); err != nil {
		return err
	}
	if _, ok := view.FindMatrix(session.MatrixID); !ok {
		return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
	}

	var msgs []string
	if len(taxonIDs) == 0 {
		msgs = append(msgs, "at least one taxon is required")
	}
	if len(characterIDs) == 0 {
		msgs = append(msgs, "at least one character is required")
	}
	switch status {
	case "", domain.NoteStatusNew, domain.NoteStatusInProgress, domain.NoteStatusComplete:
	default:
		msgs = append(msgs, fmt.Sprintf("unknown note status %q", status))
	}
	if notes != "" && status == "" {
		msgs = append(msgs, "a note requires a workflow status")
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
	for _, taxonID := range taxonIDs {
		if err := requireTaxonEditor(view, session, taxonID); err != nil {
			return err
		}
	}
	return nil
}
