package core

import (
	"context"
	"sort"

	"matrixcore/pkg/domain"
)

// The media automation pass reconciles automated cell media links against the
// project's media library. A media file is justified on a cell when its view
// belongs to the character's view list and its specimen belongs to the taxon,
// or when the cell is scored to a state the file illustrates. The pass
// attaches missing justified files and prunes automated links that lost their
// justification; user-attached links are never touched.

// RunMediaAutomation runs the reconciliation across every cell of the matrix,
// scoped to taxa the caller may edit. The matrix must have cell media
// automation enabled.
func (s *Service) RunMediaAutomation(ctx context.Context, session Session, batch bool) (MutationResult, error) {
	var out MutationResult
	err := s.instrument(ctx, "run_media_automation", func(ctx context.Context) error {
		if err := s.store.View(ctx, func(view TransactionView) error {
			if err := requireEditor(view, session); err != nil {
				return err
			}
			matrix, ok := view.FindMatrix(session.MatrixID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
			}
			if matrix.Option(domain.OptionEnableMediaAutomation) == 0 {
				return domain.NewUserError("cell media automation is not enabled for this matrix")
			}
			return nil
		}); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			m := newMutation(tx, session, domain.BatchMediaAutomation, batch)
			view := tx.Snapshot()
			var taxonIDs []int64
			for _, placement := range view.ListMatrixTaxa(session.MatrixID) {
				taxonIDs = append(taxonIDs, placement.TaxonID)
			}
			taxonIDs = editableTaxa(view, session, taxonIDs)
			characters := view.ListCharacters(session.MatrixID)
			for _, taxonID := range taxonIDs {
				for _, character := range characters {
					addr := CellAddress{MatrixID: session.MatrixID, TaxonID: taxonID, CharacterID: character.ID}
					if err := reconcileCellMedia(m, addr, character); err != nil {
						return err
					}
				}
			}
			if err := m.finalize("cell media automation"); err != nil {
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

// reconcileCellMedia brings one cell's automated links in line with the
// justified media set.
func reconcileCellMedia(m *mutation, addr CellAddress, character Character) error {
	view := m.tx.Snapshot()
	justified := justifiedMedia(view, addr, character)

	linked := make(map[int64]struct{})
	for _, link := range view.ListCellMedia(addr) {
		linked[link.MediaID] = struct{}{}
	}
	missing := make([]int64, 0)
	for mediaID := range justified {
		if _, ok := linked[mediaID]; !ok {
			missing = append(missing, mediaID)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	for _, mediaID := range missing {
		if _, err := m.attachMedia(CellMedia{
			MatrixID:    addr.MatrixID,
			TaxonID:     addr.TaxonID,
			CharacterID: addr.CharacterID,
			MediaID:     mediaID,
			Automated:   true,
		}); err != nil {
			return err
		}
	}
	for _, link := range view.ListCellMedia(addr) {
		if !link.Automated {
			continue
		}
		if _, ok := justified[link.MediaID]; ok {
			continue
		}
		if addMediaRuleRequires(view, addr, link.MediaID) {
			continue
		}
		if err := m.detachMedia(link); err != nil {
			return err
		}
	}
	return nil
}

// justifiedMedia collects the media files automation may hold on the cell:
// specimen media of the taxon shot in one of the character's views, plus the
// illustration media of every state the cell is currently scored to.
func justifiedMedia(view TransactionView, addr CellAddress, character Character) map[int64]struct{} {
	out := make(map[int64]struct{})
	if len(character.ViewIDs) > 0 {
		views := make(map[int64]struct{}, len(character.ViewIDs))
		for _, id := range character.ViewIDs {
			views[id] = struct{}{}
		}
		taxon, ok := view.FindTaxon(addr.TaxonID)
		if ok {
			for _, file := range view.ListMediaFiles(taxon.ProjectID) {
				if _, shot := views[file.ViewID]; !shot || file.SpecimenID == 0 {
					continue
				}
				specimen, ok := view.FindSpecimen(file.SpecimenID)
				if !ok || specimen.TaxonID != addr.TaxonID {
					continue
				}
				out[file.ID] = struct{}{}
			}
		}
	}
	for _, row := range view.ListCellScores(addr) {
		if row.StateID == nil {
			continue
		}
		state, ok := view.FindCharacterState(*row.StateID)
		if !ok {
			continue
		}
		for _, mediaID := range state.MediaIDs {
			out[mediaID] = struct{}{}
		}
	}
	return out
}

// addMediaRuleRequires reports whether an active ADD_MEDIA rule still mirrors
// the media file onto this cell, which protects the link from pruning.
func addMediaRuleRequires(view TransactionView, addr CellAddress, mediaID int64) bool {
	for _, rule := range view.ListMatrixRules(addr.MatrixID) {
		trigger := CellAddress{MatrixID: addr.MatrixID, TaxonID: addr.TaxonID, CharacterID: rule.CharacterID}
		if !ruleTriggered(view, rule, trigger) {
			continue
		}
		for _, action := range view.ListRuleActions(rule.ID) {
			variant, err := action.Variant()
			if err != nil {
				continue
			}
			act, ok := variant.(domain.AddMediaAction)
			if !ok || act.CharacterID != addr.CharacterID {
				continue
			}
			for _, link := range view.ListCellMedia(trigger) {
				if link.MediaID == mediaID {
					return true
				}
			}
		}
	}
	return false
}
