// Package core implements the cell-scoring engine: type-aware cell mutation,
// the rule cascade, batch-grouped undo, the timestamp change feed, and the
// permission gate, all executing against a transactional persistent store.
package core

import "matrixcore/pkg/domain"

type (
	// Project aliases domain.Project.
	Project = domain.Project
	// Group aliases domain.Group.
	Group = domain.Group
	// Matrix aliases domain.Matrix.
	Matrix = domain.Matrix
	// Taxon aliases domain.Taxon.
	Taxon = domain.Taxon
	// MatrixTaxon aliases domain.MatrixTaxon.
	MatrixTaxon = domain.MatrixTaxon
	// Character aliases domain.Character.
	Character = domain.Character
	// CharacterState aliases domain.CharacterState.
	CharacterState = domain.CharacterState
	// CellScore aliases domain.CellScore.
	CellScore = domain.CellScore
	// CellAddress aliases domain.CellAddress.
	CellAddress = domain.CellAddress
	// CellNote aliases domain.CellNote.
	CellNote = domain.CellNote
	// CellMedia aliases domain.CellMedia.
	CellMedia = domain.CellMedia
	// CellCitation aliases domain.CellCitation.
	CellCitation = domain.CellCitation
	// CharacterRule aliases domain.CharacterRule.
	CharacterRule = domain.CharacterRule
	// CharacterRuleAction aliases domain.CharacterRuleAction.
	CharacterRuleAction = domain.CharacterRuleAction
	// Partition aliases domain.Partition.
	Partition = domain.Partition
	// CellChangeLog aliases domain.CellChangeLog.
	CellChangeLog = domain.CellChangeLog
	// CellBatchLog aliases domain.CellBatchLog.
	CellBatchLog = domain.CellBatchLog
	// Result aliases domain.Result.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore aliases domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)
