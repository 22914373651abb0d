package core

import (
	"context"

	"matrixcore/pkg/domain"
)

// RuleViolation identifies a taxon whose trigger cell fires a rule while the
// action character's cell does not reflect the required outcome.
type RuleViolation struct {
	RuleID             int64 `json:"rule_id"`
	ActionID           int64 `json:"action_id"`
	TaxonID            int64 `json:"taxon_id"`
	TriggerCharacterID int64 `json:"trigger_character_id"`
	ActionCharacterID  int64 `json:"action_character_id"`
}

// GetRuleViolations scans the matrix for unsatisfied rule actions.
func (s *Service) GetRuleViolations(ctx context.Context, session Session) ([]RuleViolation, error) {
	var out []RuleViolation
	err := s.instrument(ctx, "get_rule_violations", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindMatrix(session.MatrixID); !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
			}
			violations, err := collectViolations(view, session.MatrixID)
			if err != nil {
				return err
			}
			out = violations
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FixRuleViolations re-applies the cascade for exactly the listed violations,
// scoped to taxa the caller may edit. Fixing overwrites occupied action cells
// regardless of the matrix's rule-overwrite option; an explicit fix is the
// operator asserting the rule outcome.
func (s *Service) FixRuleViolations(ctx context.Context, session Session, violations []RuleViolation, batch bool) (MutationResult, error) {
	var out MutationResult
	err := s.instrument(ctx, "fix_rule_violations", func(ctx context.Context) error {
		if err := s.store.View(ctx, func(view TransactionView) error {
			return requireEditor(view, session)
		}); err != nil {
			return err
		}
		_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			m := newMutation(tx, session, domain.BatchFixViolations, batch)
			view := tx.Snapshot()
			matrix, ok := view.FindMatrix(session.MatrixID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityMatrix, ID: session.MatrixID}
			}
			for _, violation := range violations {
				if err := requireTaxonEditor(tx.Snapshot(), session, violation.TaxonID); err != nil {
					continue
				}
				if err := s.applyFix(m, matrix, violation); err != nil {
					return err
				}
			}
			if err := m.finalize("rule violation fixes"); err != nil {
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

// FixAllRuleViolations fixes every current violation on taxa the caller may edit.
func (s *Service) FixAllRuleViolations(ctx context.Context, session Session, batch bool) (MutationResult, error) {
	violations, err := s.GetRuleViolations(ctx, session)
	if err != nil {
		return MutationResult{}, err
	}
	return s.FixRuleViolations(ctx, session, violations, batch)
}

func (s *Service) applyFix(m *mutation, matrix Matrix, violation RuleViolation) error {
	view := m.tx.Snapshot()
	actions := view.ListRuleActions(violation.RuleID)
	for _, action := range actions {
		if violation.ActionID != 0 && action.ID != violation.ActionID {
			continue
		}
		variant, err := action.Variant()
		if err != nil {
			return err
		}
		trigger := CellAddress{MatrixID: matrix.ID, TaxonID: violation.TaxonID, CharacterID: violation.TriggerCharacterID}
		switch act := variant.(type) {
		case domain.SetStateAction:
			if err := s.applySetStateAction(m, matrix, violation.TaxonID, act, true); err != nil {
				return err
			}
		case domain.AddMediaAction:
			if err := s.applyAddMediaAction(m, trigger, act.CharacterID); err != nil {
				return err
			}
		}
	}
	return nil
}

// collectViolations evaluates every (rule, taxon, action) triple of the matrix.
func collectViolations(view TransactionView, matrixID int64) ([]RuleViolation, error) {
	var out []RuleViolation
	placements := view.ListMatrixTaxa(matrixID)
	for _, rule := range view.ListMatrixRules(matrixID) {
		for _, placement := range placements {
			trigger := CellAddress{MatrixID: matrixID, TaxonID: placement.TaxonID, CharacterID: rule.CharacterID}
			if !ruleTriggered(view, rule, trigger) {
				continue
			}
			for _, action := range view.ListRuleActions(rule.ID) {
				variant, err := action.Variant()
				if err != nil {
					return nil, err
				}
				satisfied := false
				switch act := variant.(type) {
				case domain.SetStateAction:
					satisfied = setStateSatisfied(view, matrixID, placement.TaxonID, act)
				case domain.AddMediaAction:
					satisfied = addMediaSatisfied(view, trigger, act.CharacterID)
				}
				if satisfied {
					continue
				}
				out = append(out, RuleViolation{
					RuleID:             rule.ID,
					ActionID:           action.ID,
					TaxonID:            placement.TaxonID,
					TriggerCharacterID: rule.CharacterID,
					ActionCharacterID:  action.CharacterID,
				})
			}
		}
	}
	return out, nil
}

func ruleTriggered(view TransactionView, rule CharacterRule, trigger CellAddress) bool {
	for _, row := range view.ListCellScores(trigger) {
		if rule.Matches(row.StateID, row.IsNPA) {
			return true
		}
	}
	return false
}

func setStateSatisfied(view TransactionView, matrixID, taxonID int64, act domain.SetStateAction) bool {
	desired := domain.StateIDNotApplicable
	if act.StateID != nil {
		desired = *act.StateID
	}
	addr := CellAddress{MatrixID: matrixID, TaxonID: taxonID, CharacterID: act.CharacterID}
	for _, row := range view.ListCellScores(addr) {
		if scoreKey(row) == desired {
			return true
		}
	}
	return false
}

func addMediaSatisfied(view TransactionView, trigger CellAddress, characterID int64) bool {
	target := CellAddress{MatrixID: trigger.MatrixID, TaxonID: trigger.TaxonID, CharacterID: characterID}
	have := make(map[int64]struct{})
	for _, link := range view.ListCellMedia(target) {
		have[link.MediaID] = struct{}{}
	}
	for _, link := range view.ListCellMedia(trigger) {
		if _, ok := have[link.MediaID]; !ok {
			return false
		}
	}
	return true
}
