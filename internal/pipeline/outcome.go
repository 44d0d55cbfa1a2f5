package pipeline

import (
	"errors"
	"time"

	"github.com/ralt/altsource/internal/models"
)

// State is a step of the per-package state machine
type State int

const (
	StateFetchSource State = iota
	StateSelectAsset
	StateCheckUpToDate
	StateDownload
	StateExtractMetadata
	StateResolveIdentity
	StateMergeVersion
	StatePublishCache
	StateDone
	StateSkipped
	StateFailed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateFetchSource:
		return "FETCH_SOURCE"
	case StateSelectAsset:
		return "SELECT_ASSET"
	case StateCheckUpToDate:
		return "CHECK_UP_TO_DATE"
	case StateDownload:
		return "DOWNLOAD"
	case StateExtractMetadata:
		return "EXTRACT_METADATA"
	case StateResolveIdentity:
		return "RESOLVE_IDENTITY"
	case StateMergeVersion:
		return "MERGE_VERSION"
	case StatePublishCache:
		return "PUBLISH_CACHE"
	case StateDone:
		return "DONE"
	case StateSkipped:
		return "SKIPPED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Kind discriminates outcomes
type Kind int

const (
	Updated Kind = iota
	Skipped
	Failed
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case Updated:
		return "updated"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Outcome is the result of synchronizing one package. For Skipped and Failed
// outcomes Entry is the untouched previous entry, which may be nil.
type Outcome struct {
	Kind   Kind
	Config models.PackageConfig
	Entry  *models.PackageEntry
	// State is DONE, SKIPPED or FAILED; Step is where the run stopped
	State       State
	Step        State
	Reason      string
	Err         error
	Suggestions []models.ConfigSuggestion
	Source      models.SourceKind
	Duration    time.Duration
}

// ErrorType returns the taxonomy of a failed or skipped outcome
func (o Outcome) ErrorType() (models.ErrorType, bool) {
	var se *models.SyncError
	if errors.As(o.Err, &se) {
		return se.Type, true
	}
	return 0, false
}
