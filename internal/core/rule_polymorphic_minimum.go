package core

import (
	"context"
	"fmt"

	"matrixcore/pkg/domain"
)

// NewPolymorphicMinimumRule returns the in-transaction rule requiring uncertain
// cells to hold at least two concurrent score rows.
func NewPolymorphicMinimumRule() domain.Rule {
	return polymorphicMinimumRule{}
}

type polymorphicMinimumRule struct{}

func (polymorphicMinimumRule) Name() string { return "polymorphic_minimum" }

func (polymorphicMinimumRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, addr := range affectedCellAddresses(changes) {
		rows := view.ListCellScores(addr)
		if len(rows) >= 2 {
			continue
		}
		for _, row := range rows {
			if row.IsUncertain {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "polymorphic_minimum",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("cell (taxon %d, character %d) is marked uncertain with fewer than 2 score rows", addr.TaxonID, addr.CharacterID),
					Entity:   domain.EntityCellScore,
					EntityID: row.ID,
				})
			}
		}
	}
	return res, nil
}
