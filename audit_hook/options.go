package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithActions limits recording to the listed actions.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithoutActions drops the listed actions, for instance the high-volume
// sheet updates:
//
//	audithook.New(rec, audithook.WithoutActions(
//	    audithook.ActionSheetUpdated,
//	    audithook.ActionRecutSheetUpdated,
//	))
func WithoutActions(actions ...string) Option {
	return func(e *Extension) {
		if e.disabled == nil {
			e.disabled = make(map[string]bool, len(actions))
		}
		for _, a := range actions {
			e.disabled[a] = true
		}
	}
}

// WithMinSeverity drops events below severity. Unknown severities are
// treated as info.
func WithMinSeverity(severity string) Option {
	return func(e *Extension) { e.minRank = severityRank(severity) }
}

// WithLogger sets the logger used to report recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

func severityRank(s string) int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}
