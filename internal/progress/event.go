package progress

import "time"

// Status is the lifecycle state an event reports.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status ends a stage's activity.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Event is one progress record. Modules emit these on a best-effort cadence
// during long operations; the orchestrator emits exactly one terminal event
// per stage on their behalf.
type Event struct {
	EventID      string `json:"event_id,omitempty"`
	RunID        string `json:"run_id"`
	StageLabel   string `json:"stage_label"`
	Status       Status `json:"status"`
	Current      int    `json:"current,omitempty"`
	Total        int    `json:"total,omitempty"`
	Message      string `json:"message,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	ModuleID     string `json:"module_id,omitempty"`
	Timestamp    string `json:"timestamp"`
}

// Time parses the event timestamp. The second return is false when the
// timestamp is missing or unparsable; callers skip such events rather than
// aborting.
func (e Event) Time() (time.Time, bool) {
	if e.Timestamp == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, e.Timestamp); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
