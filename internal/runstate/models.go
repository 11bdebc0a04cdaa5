package runstate

import "time"

// RunStatus is the lifecycle state of a whole run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunDegraded  RunStatus = "degraded"
)

// StageStatus is the recorded state of one stage within a run.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageDone    StageStatus = "done"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// Run is one orchestrated pipeline execution.
type Run struct {
	RunID      string
	RecipePath string
	Status     RunStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StageRun is the ledger entry for one stage of a run.
type StageRun struct {
	RunID        string
	StageID      string
	Status       StageStatus
	ArtifactPath string
	Fingerprint  string
	Message      string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}
