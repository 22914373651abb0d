package core

import "matrixcore/pkg/domain"

// affectedCellAddresses collects the distinct cell triples touched by the
// transaction's score changes, in first-touched order.
func affectedCellAddresses(changes []domain.Change) []CellAddress {
	seen := make(map[CellAddress]struct{})
	var out []CellAddress
	add := func(value any) {
		score, ok := value.(CellScore)
		if !ok {
			return
		}
		addr := score.Address()
		if _, dup := seen[addr]; dup {
			return
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	for _, change := range changes {
		if change.Entity != domain.EntityCellScore {
			continue
		}
		add(change.Before)
		add(change.After)
	}
	return out
}
