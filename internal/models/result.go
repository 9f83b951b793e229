package models

// ObjectStatus is the outcome of exporting a single object.
type ObjectStatus string

// Object statuses.
const (
	StatusExported ObjectStatus = "exported"
	StatusSkipped  ObjectStatus = "skipped"
	StatusFailed   ObjectStatus = "failed"
)

// ObjectResult holds the result of exporting one object.
type ObjectResult struct {
	Ref    SchemaObjectRef
	Status ObjectStatus
	Path   string
	Reason string // why the object was skipped
	Err    error
}

// ExportSummary holds the result of exporting one category.
type ExportSummary struct {
	Kind      ObjectKind
	Folder    string
	Attempted int
	Exported  int
	Skipped   int
	Failed    int
	Pruned    int
	PruneErr  error // files that could not be pruned
	Results   []ObjectResult
}

// Add records an object result and updates the counters.
func (s *ExportSummary) Add(r ObjectResult) {
	s.Attempted++
	switch r.Status {
	case StatusExported:
		s.Exported++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Summaries is the result of a full run, one entry per exported category.
type Summaries []*ExportSummary

// HasFailures reports whether any object failed or a prune did not complete.
func (s Summaries) HasFailures() bool {
	for _, sum := range s {
		if sum.Failed > 0 || sum.PruneErr != nil {
			return true
		}
	}
	return false
}

// Failed returns every failed object result across categories.
func (s Summaries) Failed() []ObjectResult {
	var out []ObjectResult
	for _, sum := range s {
		for _, r := range sum.Results {
			if r.Status == StatusFailed {
				out = append(out, r)
			}
		}
	}
	return out
}

// SyncResult holds the result of synchronizing a category folder.
type SyncResult struct {
	Folder  string
	Created bool
	Pruned  []string
	Error   error // aggregated prune failures, the folder itself is usable
}
