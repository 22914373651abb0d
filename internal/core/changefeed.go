package core

import (
	"context"
	"sort"
	"time"

	"matrixcore/pkg/domain"
)

// Changes is the delta FetchChanges reports since the session's last sync.
// Cell-level slices carry the authoritative current rows of every touched
// cell; a cell that ended up empty is represented by a single zero-id
// placeholder row so clients drop their local copy.
type Changes struct {
	Timestamp    time.Time   `json:"timestamp"`
	Cells        []CellScore `json:"cells,omitempty"`
	Notes        []CellNote  `json:"notes,omitempty"`
	Media        []CellMedia `json:"media,omitempty"`
	CharacterIDs []int64     `json:"character_ids,omitempty"`
	TaxonIDs     []int64     `json:"taxon_ids,omitempty"`
}

// FetchChanges returns everything other users changed on the matrix since the
// session last polled, then advances the session's sync cursor. The feed is
// derived from the append-only change log but reports current rows, not log
// entries: a cell edited five times since the last poll appears once, in its
// final shape. Repeating a poll after a failed response is safe because the
// cursor only advances on success.
func (s *Service) FetchChanges(ctx context.Context, session Session) (Changes, error) {
	var out Changes
	err := s.instrument(ctx, "fetch_changes", func(ctx context.Context) error {
		live, ok := s.registry.Lookup(session.MatrixID, session.Token)
		if !ok {
			return domain.NewUserError("the session is no longer registered")
		}
		now := s.nowFn()
		if err := s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindMatrix(session.MatrixID); !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
			}
			out = collectChanges(view, session, live.LastSync)
			out.Timestamp = now
			return nil
		}); err != nil {
			return err
		}
		s.registry.Update(session.MatrixID, session.Token, func(live *Session) {
			live.LastSync = now
		})
		return nil
	})
	if err != nil {
		return Changes{}, err
	}
	return out, nil
}

func collectChanges(view TransactionView, session Session, since time.Time) Changes {
	var out Changes
	scoreCells := make(map[CellAddress]struct{})
	noteCells := make(map[CellAddress]struct{})
	mediaCells := make(map[CellAddress]struct{})
	characterIDs := make(map[int64]struct{})
	taxonIDs := make(map[int64]struct{})

	for _, entry := range view.ListChangeLogsSince(session.MatrixID, since) {
		if entry.UserID == session.UserID {
			continue
		}
		addr := CellAddress{MatrixID: entry.MatrixID, TaxonID: entry.TaxonID, CharacterID: entry.CharacterID}
		switch entry.Table {
		case domain.TableCellScores:
			scoreCells[addr] = struct{}{}
		case domain.TableCellNotes:
			noteCells[addr] = struct{}{}
		case domain.TableCellMedia:
			mediaCells[addr] = struct{}{}
		}
		characterIDs[entry.CharacterID] = struct{}{}
		taxonIDs[entry.TaxonID] = struct{}{}
	}

	for _, addr := range sortedAddresses(scoreCells) {
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
	for _, addr := range sortedAddresses(noteCells) {
		if note, ok := view.FindCellNote(addr); ok {
			out.Notes = append(out.Notes, note)
			continue
		}
		out.Notes = append(out.Notes, CellNote{
			MatrixID:    addr.MatrixID,
			TaxonID:     addr.TaxonID,
			CharacterID: addr.CharacterID,
		})
	}
	for _, addr := range sortedAddresses(mediaCells) {
		links := view.ListCellMedia(addr)
		if len(links) == 0 {
			out.Media = append(out.Media, CellMedia{
				MatrixID:    addr.MatrixID,
				TaxonID:     addr.TaxonID,
				CharacterID: addr.CharacterID,
			})
			continue
		}
		out.Media = append(out.Media, links...)
	}
	out.CharacterIDs = sortedIDSet(characterIDs)
	out.TaxonIDs = sortedIDSet(taxonIDs)
	return out
}

func sortedAddresses(set map[CellAddress]struct{}) []CellAddress {
	out := make([]CellAddress, 0, len(set))
	for addr := range set {
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

func sortedIDSet(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
