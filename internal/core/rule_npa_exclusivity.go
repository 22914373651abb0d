package core

import (
	"context"
	"fmt"

	"matrixcore/pkg/domain"
)

// NewNPAExclusivityRule returns the in-transaction rule rejecting cells where a
// "not applicable" row coexists with any other score row.
func NewNPAExclusivityRule() domain.Rule {
	return npaExclusivityRule{}
}

type npaExclusivityRule struct{}

func (npaExclusivityRule) Name() string { return "npa_exclusivity" }

func (npaExclusivityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, addr := range affectedCellAddresses(changes) {
		rows := view.ListCellScores(addr)
		if len(rows) < 2 {
			continue
		}
		for _, row := range rows {
			if row.IsNPA {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "npa_exclusivity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("cell (taxon %d, character %d) mixes a not-applicable row with %d other score rows", addr.TaxonID, addr.CharacterID, len(rows)-1),
					Entity:   domain.EntityCellScore,
					EntityID: row.ID,
				})
				break
			}
		}
	}
	return res, nil
}
