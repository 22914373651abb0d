package memory

// SnapshotBuckets maps persistence bucket names to snapshot fields. Durable
// backends use the same mapping for marshaling on persist and unmarshaling on
// load so the bucket layout cannot drift between them.
func SnapshotBuckets(snapshot *Snapshot) map[string]any {
	return map[string]any{
		"seq":            &snapshot.Seq,
		"projects":       &snapshot.Projects,
		"groups":         &snapshot.Groups,
		"matrices":       &snapshot.Matrices,
		"taxa":           &snapshot.Taxa,
		"matrix_taxa":    &snapshot.MatrixTaxa,
		"characters":     &snapshot.Characters,
		"states":         &snapshot.States,
		"cells":          &snapshot.Cells,
		"cell_notes":     &snapshot.CellNotes,
		"cell_media":     &snapshot.CellMedia,
		"cell_citations": &snapshot.CellCitations,
		"rules":          &snapshot.Rules,
		"rule_actions":   &snapshot.RuleActions,
		"partitions":     &snapshot.Partitions,
		"specimens":      &snapshot.Specimens,
		"views":          &snapshot.Views,
		"media":          &snapshot.Media,
		"batch_logs":     &snapshot.BatchLogs,
		"change_logs":    &snapshot.ChangeLogs,
	}
}
