package core

import (
	"context"
	"fmt"

	"matrixcore/pkg/domain"
)

// NewScoreCardinalityRule returns the in-transaction rule enforcing per-type
// score cardinality: numeric characters hold at most one row per cell, discrete
// cells with several rows must be uncertain, and every referenced state must
// belong to the scored character.
func NewScoreCardinalityRule() domain.Rule {
	return scoreCardinalityRule{}
}

type scoreCardinalityRule struct{}

func (scoreCardinalityRule) Name() string { return "score_cardinality" }

func (scoreCardinalityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, addr := range affectedCellAddresses(changes) {
		character, ok := view.FindCharacter(addr.CharacterID)
		if !ok {
			continue
		}
		rows := view.ListCellScores(addr)
		if character.Type.IsNumeric() {
			if len(rows) > 1 {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "score_cardinality",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("numeric character %d holds %d rows for taxon %d; at most one is allowed", addr.CharacterID, len(rows), addr.TaxonID),
					Entity:   domain.EntityCellScore,
					EntityID: rows[0].ID,
				})
			}
			continue
		}
		if len(rows) > 1 {
			for _, row := range rows {
				if !row.IsUncertain && !row.IsNPA {
					res.Violations = append(res.Violations, domain.Violation{
						Rule:     "score_cardinality",
						Severity: domain.SeverityBlock,
						Message:  fmt.Sprintf("cell (taxon %d, character %d) holds %d rows without the uncertain flag", addr.TaxonID, addr.CharacterID, len(rows)),
						Entity:   domain.EntityCellScore,
						EntityID: row.ID,
					})
					break
				}
			}
		}
		for _, row := range rows {
			if row.IsNPA || row.StateID == nil {
				continue
			}
			state, ok := view.FindCharacterState(*row.StateID)
			if !ok || state.CharacterID != addr.CharacterID {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "score_cardinality",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("state %d does not belong to character %d", *row.StateID, addr.CharacterID),
					Entity:   domain.EntityCellScore,
					EntityID: row.ID,
				})
			}
		}
	}
	return res, nil
}
