package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobCreated        = "job.created"
	ActionJobStarted        = "job.started"
	ActionJobPaused         = "job.paused"
	ActionJobCompleted      = "job.completed"
	ActionJobDeleted        = "job.deleted"
	ActionSheetUpdated      = "sheet.updated"
	ActionRecutAdded        = "recut.added"
	ActionRecutSheetUpdated = "recut.sheet_updated"
)

// Audit event categories group related actions.
const (
	CategoryJob    = "cuttrack.job"
	CategoryLedger = "cuttrack.ledger"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob      = "job"
	ResourceMaterial = "material"
	ResourceRecut    = "recut"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobStarted,
		ActionJobPaused,
		ActionJobCompleted,
		ActionJobDeleted,
		ActionSheetUpdated,
		ActionRecutAdded,
		ActionRecutSheetUpdated,
	}
}
