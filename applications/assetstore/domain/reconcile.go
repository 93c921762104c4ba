package domain

import (
	"fmt"
	"io"
	"strings"
)

// DesiredImage is one entry of the end-state a caller wants for an owner. A nil Body means
// "keep whatever is stored under FileName".
type DesiredImage struct {
	FileName    string
	Variant     SizeVariant
	ContentType string
	Body        io.ReadCloser
}

type SaveRequest struct {
	Owner  Owner
	Images []DesiredImage
}

// ReconciliationPlan groups the desired images by file name. It never aliases the inputs it was
// computed from, apart from sharing the Body readers.
type ReconciliationPlan struct {
	ToCreate  []ImageChange
	ToUpdate  []ImageChange
	ToDelete  []string
	Unchanged []string
}

// ImageChange is every rendition supplied for one file name.
type ImageChange struct {
	FileName string
	Images   []DesiredImage
}

// Upserts returns the names that are created or updated by the plan.
func (p ReconciliationPlan) Upserts() map[string]struct{} {
	names := make(map[string]struct{}, len(p.ToCreate)+len(p.ToUpdate))
	for _, c := range p.ToCreate {
		names[c.FileName] = struct{}{}
	}
	for _, c := range p.ToUpdate {
		names[c.FileName] = struct{}{}
	}
	return names
}

type ItemFailure struct {
	FileName string
	Variant  SizeVariant
	Kind     error
	Err      error
}

type ReconciliationResult struct {
	Created   int
	Updated   int
	Deleted   int
	Unchanged int
	Failures  []ItemFailure
}

func (r ReconciliationResult) Failed() int {
	return len(r.Failures)
}

// Partial reports whether some creates or updates did not make it to storage.
func (r ReconciliationResult) Partial() bool {
	return len(r.Failures) > 0
}

// Err returns a *PartialFailure describing the failed items, or nil if nothing failed.
func (r ReconciliationResult) Err() error {
	if !r.Partial() {
		return nil
	}
	failures := make([]ItemFailure, len(r.Failures))
	copy(failures, r.Failures)
	return &PartialFailure{Failures: failures}
}

// PartialFailure is the error form of a reconciliation that saved the owner with an incomplete
// image set.
type PartialFailure struct {
	Failures []ItemFailure
}

func (e *PartialFailure) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, fmt.Sprintf("%s (%s): %v", f.FileName, f.Variant, f.Kind))
	}
	return fmt.Sprintf("partial reconciliation failure: %d item(s) failed: %s", len(e.Failures), strings.Join(names, "; "))
}

func (e *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
