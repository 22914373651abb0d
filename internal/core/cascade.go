package core

import (
	"matrixcore/pkg/domain"
)

// The rule cascade runs after a score insertion: rules whose trigger
// (character, state-or-NPA) equals the inserted pair fire their actions for
// the scored taxon. The cascade is single-level; scores a rule inserts do not
// trigger further rules.

func (s *Service) applyCascade(m *mutation, matrix Matrix, trigger CellScore) error {
	view := m.tx.Snapshot()
	for _, rule := range view.ListCharacterRules(trigger.CharacterID) {
		if !rule.Matches(trigger.StateID, trigger.IsNPA) {
			continue
		}
		for _, action := range view.ListRuleActions(rule.ID) {
			variant, err := action.Variant()
			if err != nil {
				return err
			}
			switch act := variant.(type) {
			case domain.SetStateAction:
				if err := s.applySetStateAction(m, matrix, trigger.TaxonID, act, false); err != nil {
					return err
				}
			case domain.AddMediaAction:
				if err := s.applyAddMediaAction(m, trigger.Address(), act.CharacterID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// applySetStateAction scores the action character for the taxon. A cell
// already holding the desired single state is left untouched. An occupied cell
// is overwritten only when the matrix allows rule overwrites (or in fix mode,
// where force is set); otherwise the action skips silently.
func (s *Service) applySetStateAction(m *mutation, matrix Matrix, taxonID int64, act domain.SetStateAction, force bool) error {
	addr := CellAddress{MatrixID: matrix.ID, TaxonID: taxonID, CharacterID: act.CharacterID}
	desired := domain.StateIDNotApplicable
	if act.StateID != nil {
		desired = *act.StateID
	}
	rows := m.tx.Snapshot().ListCellScores(addr)
	if len(rows) == 1 && scoreKey(rows[0]) == desired {
		return nil
	}
	if len(rows) > 0 {
		if !force && matrix.Option(domain.OptionAllowRuleOverwrite) == 0 {
			return nil
		}
		for _, row := range rows {
			if err := m.deleteScore(row); err != nil {
				return err
			}
		}
	}
	score := CellScore{MatrixID: addr.MatrixID, TaxonID: addr.TaxonID, CharacterID: addr.CharacterID}
	if act.StateID == nil {
		score.IsNPA = true
	} else {
		id := *act.StateID
		score.StateID = &id
	}
	_, err := m.insertScore(score)
	return err
}

// applyAddMediaAction mirrors the trigger cell's media links onto the action
// character for the same taxon, create-if-absent per media file. Mirrored
// links are flagged as automated so pruning can tell them from user uploads.
func (s *Service) applyAddMediaAction(m *mutation, trigger CellAddress, characterID int64) error {
	view := m.tx.Snapshot()
	target := CellAddress{MatrixID: trigger.MatrixID, TaxonID: trigger.TaxonID, CharacterID: characterID}
	existing := make(map[int64]struct{})
	for _, link := range view.ListCellMedia(target) {
		existing[link.MediaID] = struct{}{}
	}
	for _, link := range view.ListCellMedia(trigger) {
		if _, ok := existing[link.MediaID]; ok {
			continue
		}
		if _, err := m.attachMedia(CellMedia{
			MatrixID:    target.MatrixID,
			TaxonID:     target.TaxonID,
			CharacterID: target.CharacterID,
			MediaID:     link.MediaID,
			Automated:   true,
		}); err != nil {
			return err
		}
		existing[link.MediaID] = struct{}{}
	}
	return nil
}
