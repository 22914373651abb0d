package core

import (
	"fmt"
	"sort"
	"strings"

	"matrixcore/pkg/domain"
)

// mutation tracks one bulk operation inside its transaction: it lazily opens
// the batch log on the first real change, appends one change-log row per
// elementary write, and remembers the touched cells so the caller can report
// compact change snapshots.
type mutation struct {
	tx        Transaction
	session   Session
	batchType domain.BatchType
	wantBatch bool
	batchID   int64
	changes   int
	touched   map[CellAddress]struct{}
}

func newMutation(tx Transaction, session Session, batchType domain.BatchType, wantBatch bool) *mutation {
	return &mutation{
		tx:        tx,
		session:   session,
		batchType: batchType,
		wantBatch: wantBatch,
		touched:   make(map[CellAddress]struct{}),
	}
}

func (m *mutation) changed() bool { return m.changes > 0 }

// touchedCells returns the touched cell triples in deterministic order.
func (m *mutation) touchedCells() []CellAddress {
	out := make([]CellAddress, 0, len(m.touched))
	for addr := range m.touched {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaxonID != out[j].TaxonID {
			return out[i].TaxonID < out[j].TaxonID
		}
		return out[i].CharacterID < out[j].CharacterID
	})
	return out
}

// ensureBatch opens the batch log before the first change when batch mode was
// requested; a no-op bulk call therefore never persists an empty batch.
func (m *mutation) ensureBatch() error {
	if !m.wantBatch || m.batchID != 0 {
		return nil
	}
	created, err := m.tx.CreateBatchLog(domain.CellBatchLog{
		MatrixID:  m.session.MatrixID,
		UserID:    m.session.UserID,
		BatchType: m.batchType,
	})
	if err != nil {
		return err
	}
	m.batchID = created.ID
	return nil
}

// finalize stamps the batch log's finish time and description. Called after
// all writes; does nothing when no batch was opened.
func (m *mutation) finalize(description string) error {
	if m.batchID == 0 {
		return nil
	}
	_, err := m.tx.UpdateBatchLog(m.batchID, func(b *CellBatchLog) error {
		b.FinishedOn = b.StartedOn
		b.Description = description
		return nil
	})
	return err
}

func (m *mutation) appendLog(table domain.ChangeTable, changeType domain.ChangeType, addr CellAddress, stateID *int64, snapshot any) error {
	if err := m.ensureBatch(); err != nil {
		return err
	}
	payload, err := domain.NewChangePayloadFromValue(snapshot)
	if err != nil {
		return err
	}
	_, err = m.tx.AppendChangeLog(domain.CellChangeLog{
		ChangeType:  changeType,
		Table:       table,
		UserID:      m.session.UserID,
		MatrixID:    addr.MatrixID,
		CharacterID: addr.CharacterID,
		TaxonID:     addr.TaxonID,
		StateID:     stateID,
		Snapshot:    payload,
	})
	if err != nil {
		return err
	}
	m.changes++
	m.touched[addr] = struct{}{}
	return nil
}

// insertScore creates a score row and its insert-type audit entry.
func (m *mutation) insertScore(score CellScore) (CellScore, error) {
	score.UserID = m.session.UserID
	created, err := m.tx.CreateCellScore(score)
	if err != nil {
		return CellScore{}, err
	}
	return created, m.appendLog(domain.TableCellScores, domain.ChangeInsert, created.Address(), created.StateID, created)
}

// restoreScore re-inserts a previously deleted row keeping its original ID and
// author, with an insert-type audit entry attributed to the current session.
func (m *mutation) restoreScore(score CellScore) error {
	created, err := m.tx.CreateCellScore(score)
	if err != nil {
		return err
	}
	return m.appendLog(domain.TableCellScores, domain.ChangeInsert, created.Address(), created.StateID, created)
}

// deleteScore removes a score row, auditing the prior row image.
func (m *mutation) deleteScore(before CellScore) error {
	if err := m.tx.DeleteCellScore(before.ID); err != nil {
		return err
	}
	return m.appendLog(domain.TableCellScores, domain.ChangeDelete, before.Address(), before.StateID, before)
}

// updateScore mutates a score row, auditing the prior row image.
func (m *mutation) updateScore(before CellScore, mutate func(*CellScore) error) (CellScore, error) {
	updated, err := m.tx.UpdateCellScore(before.ID, mutate)
	if err != nil {
		return CellScore{}, err
	}
	return updated, m.appendLog(domain.TableCellScores, domain.ChangeUpdate, before.Address(), before.StateID, before)
}

// upsertNote writes a cell note, auditing an insert or an update with the
// prior note image.
func (m *mutation) upsertNote(note CellNote) error {
	before, _ := m.tx.Snapshot().FindCellNote(note.Address())
	stored, created, err := m.tx.UpsertCellNote(note)
	if err != nil {
		return err
	}
	if created {
		return m.appendLog(domain.TableCellNotes, domain.ChangeInsert, stored.Address(), nil, stored)
	}
	return m.appendLog(domain.TableCellNotes, domain.ChangeUpdate, stored.Address(), nil, before)
}

// deleteNote removes a cell note, auditing the prior image.
func (m *mutation) deleteNote(before CellNote) error {
	if err := m.tx.DeleteCellNote(before.Address()); err != nil {
		return err
	}
	return m.appendLog(domain.TableCellNotes, domain.ChangeDelete, before.Address(), nil, before)
}

// attachMedia links a media file to a cell with an insert-type audit entry.
func (m *mutation) attachMedia(link CellMedia) (CellMedia, error) {
	created, err := m.tx.CreateCellMedia(link)
	if err != nil {
		return CellMedia{}, err
	}
	return created, m.appendLog(domain.TableCellMedia, domain.ChangeInsert, created.Address(), nil, created)
}

// detachMedia removes a media link, auditing the prior image.
func (m *mutation) detachMedia(before CellMedia) error {
	if err := m.tx.DeleteCellMedia(before.ID); err != nil {
		return err
	}
	return m.appendLog(domain.TableCellMedia, domain.ChangeDelete, before.Address(), nil, before)
}

// describeBlock renders the batch description in the row/column template used
// by batch logs: a single-character bulk is a column edit, a single-taxon bulk
// a row edit.
func describeBlock(view TransactionView, taxonIDs, characterIDs []int64) string {
	if len(characterIDs) == 1 {
		name := fmt.Sprintf("%d", characterIDs[0])
		if character, ok := view.FindCharacter(characterIDs[0]); ok {
			name = character.Name
		}
		return fmt.Sprintf("%d taxa in column %s", len(taxonIDs), name)
	}
	if len(taxonIDs) == 1 {
		name := fmt.Sprintf("%d", taxonIDs[0])
		if taxon, ok := view.FindTaxon(taxonIDs[0]); ok {
			name = taxonLabel(taxon)
		}
		return fmt.Sprintf("%d characters in row %s", len(characterIDs), name)
	}
	return fmt.Sprintf("%d taxa x %d characters", len(taxonIDs), len(characterIDs))
}

func taxonLabel(t Taxon) string {
	parts := []string{t.Genus}
	if t.Species != "" {
		parts = append(parts, t.Species)
	}
	if t.Subspecies != "" {
		parts = append(parts, t.Subspecies)
	}
	return strings.Join(parts, " ")
}
