package syncer

import (
	"time"

	"github.com/i474232898/pollen-sync/internal/logging"
	"github.com/i474232898/pollen-sync/internal/pollen"
)

// Report is the read-only summary of one sync run.
type Report struct {
	RunID  string    `json:"runId"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Cities []string  `json:"cities"`

	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
	// Merged is the number of observations written into the store.
	Merged   int `json:"merged"`
	Inserted int `json:"inserted"`
	Replaced int `json:"replaced"`
	// Discarded counts fetched entries outside the window or without a usable date.
	Discarded int `json:"discarded"`

	MissingBefore int  `json:"missingBefore"`
	TasksPlanned  int  `json:"tasksPlanned"`
	TasksFailed   int  `json:"tasksFailed"`
	TasksSkipped  int  `json:"tasksSkipped"`
	UpToDate      bool `json:"upToDate"`
	Cancelled     bool `json:"cancelled"`
	Saved         bool `json:"saved"`

	DroppedColumns []pollen.Column `json:"droppedColumns,omitempty"`
	LoadWarning    string          `json:"loadWarning,omitempty"`
	// Errors holds the last error of each failed task, keyed by task.
	Errors map[string]string `json:"errors,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Partial reports whether some, but not all, requested cities failed.
func (r *Report) Partial() bool {
	return len(r.Failed) > 0 && len(r.Succeeded) > 0
}

// Log writes the report summary to the global logger.
func (r *Report) Log() {
	ev := logging.Info()
	if len(r.Failed) > 0 {
		ev = logging.Warn()
	}
	ev.Str("run_id", r.RunID).
		Str("start", r.Start.Format(pollen.DateLayout)).
		Str("end", r.End.Format(pollen.DateLayout)).
		Int("succeeded", len(r.Succeeded)).
		Strs("failed", r.Failed).
		Int("merged", r.Merged).
		Int("discarded", r.Discarded).
		Bool("partial", r.Partial()).
		Int("tasks", r.TasksPlanned).
		Bool("up_to_date", r.UpToDate).
		Bool("cancelled", r.Cancelled).
		Dur("took", r.FinishedAt.Sub(r.StartedAt)).
		Msg("sync finished")
}
