package model

import "strings"

// Source is the label stamped on every response this service produces.
const Source = "Identifi Signature Validator"

// RunStatus is the aggregate outcome of a validation run.
type RunStatus string

const (
	// StatusCompleted means every enumerated document was fully processed.
	StatusCompleted RunStatus = "Completed"
	// StatusError means at least one document was enumerated but some
	// failed at a per-document step.
	StatusError RunStatus = "Error"
	// StatusFailed means the run never produced per-document results
	// (bad request, empty folder, enumeration failure).
	StatusFailed RunStatus = "Failed"
)

// ValidationRequest is the inbound payload shared by the HTTP, queue and
// CLI surfaces. The API key is supplied per request and never read from
// process configuration.
type ValidationRequest struct {
	TaskID              string  `json:"taskId"`
	APIEndpoint         string  `json:"apiEndpoint"`
	SmartFolderID       int     `json:"smartFolderId"`
	DocumentAttributeID int     `json:"documentAttributeId"`
	ResultAttributeID   int     `json:"resultAttributeId,omitempty"`
	ConfidenceLevel     float64 `json:"confidenceLevel"`
	APIKey              string  `json:"apiKey"`
	CallbackURL         string  `json:"callbackUrl,omitempty"`

	// Status is only present on queue messages that are themselves
	// results of a previous run; such messages must not be reprocessed.
	Status string `json:"status,omitempty"`
}

// DefaultConfidenceLevel is applied when the request omits the threshold.
const DefaultConfidenceLevel = 0.5

// Normalize fills request defaults in place.
func (r *ValidationRequest) Normalize() {
	if r.ConfidenceLevel == 0 {
		r.ConfidenceLevel = DefaultConfidenceLevel
	}
}

// IsResult reports whether a queue message is a terminal result of a
// previous run rather than a fresh request.
func (r *ValidationRequest) IsResult() bool {
	return strings.EqualFold(r.Status, string(StatusCompleted)) ||
		strings.EqualFold(r.Status, string(StatusError)) ||
		strings.EqualFold(r.Status, string(StatusFailed))
}

// ValidationResponse is the aggregate result of one validation run.
// Invariant: Stored + Errored + Unknown <= SourceFiles.
type ValidationResponse struct {
	TaskID  string    `json:"taskId"`
	Source  string    `json:"source"`
	Status  RunStatus `json:"status"`
	Message string    `json:"message"`

	// SourceFiles counts documents enumerated in the smart folder.
	SourceFiles int `json:"sourceFiles"`
	// Stored counts documents fully processed and written back.
	Stored int `json:"stored"`
	// Errored counts documents that failed at any step after enumeration.
	Errored int `json:"errored"`
	// Unknown counts entries missing required identifiers.
	Unknown int `json:"unknown"`
}
