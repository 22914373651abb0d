package core

import (
	"fmt"

	"matrixcore/pkg/domain"
)

// The permission gate runs before any write. Authorization is layered:
// session read-only flag, project membership role, then per-taxon placement
// ownership (user or group). Project admins bypass placement ownership.

// requireEditor checks the session and project-level right to mutate the matrix.
func requireEditor(view TransactionView, session Session) error {
	if session.ReadOnly {
		return domain.PermissionError{Reason: "session is read-only"}
	}
	project, ok := view.FindProject(session.ProjectID)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityProject, ID: session.ProjectID}
	}
	role, member := project.RoleOf(session.UserID)
	if !member {
		return domain.PermissionError{Reason: "user is not a member of the project"}
	}
	if role == domain.RoleObserver {
		return domain.PermissionError{Reason: "observers cannot edit the matrix"}
	}
	return nil
}

// requireTaxonEditor checks placement ownership for one taxon: when the
// placement names an owning user or group, only that user, that group's
// members, or a project admin may edit the taxon's cells.
func requireTaxonEditor(view TransactionView, session Session, taxonID int64) error {
	placement, ok := view.FindMatrixTaxon(session.MatrixID, taxonID)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityMatrixTaxon, ID: taxonID}
	}
	project, ok := view.FindProject(session.ProjectID)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityProject, ID: session.ProjectID}
	}
	if role, _ := project.RoleOf(session.UserID); role == domain.RoleAdmin {
		return nil
	}
	if placement.UserID != nil && *placement.UserID != session.UserID {
		return domain.PermissionError{Reason: fmt.Sprintf("taxon %d is owned by another user", taxonID)}
	}
	if placement.GroupID != nil {
		group, ok := view.FindGroup(*placement.GroupID)
		if !ok || !group.HasMember(session.UserID) {
			return domain.PermissionError{Reason: fmt.Sprintf("taxon %d is restricted to a group the user does not belong to", taxonID)}
		}
	}
	return nil
}

// editableTaxa filters the requested taxa down to those the session may edit.
// Used by operations that scope work to permitted taxa instead of failing.
func editableTaxa(view TransactionView, session Session, taxonIDs []int64) []int64 {
	var out []int64
	for _, id := range taxonIDs {
		if err := requireTaxonEditor(view, session, id); err == nil {
			out = append(out, id)
		}
	}
	return out
}
