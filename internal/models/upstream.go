package models

import "time"

// Asset is a downloadable binary candidate
type Asset struct {
	ID          int64
	Name        string
	Size        int64
	DownloadURL string
	UpdatedAt   time.Time
}

// Release is a tagged release of an upstream repository
type Release struct {
	ID          int64
	TagName     string
	Name        string
	Body        string
	Draft       bool
	Prerelease  bool
	PublishedAt time.Time
	Assets      []Asset
}

// WorkflowRun is a successful CI run of an upstream repository
type WorkflowRun struct {
	ID            int64
	HeadSHA       string
	HeadBranch    string
	CommitMessage string
	CreatedAt     time.Time
}

// ShortSHA returns the abbreviated commit hash
func (r *WorkflowRun) ShortSHA() string {
	if len(r.HeadSHA) > 7 {
		return r.HeadSHA[:7]
	}
	return r.HeadSHA
}

// RepoInfo is the subset of repository metadata the pipeline uses
type RepoInfo struct {
	Description   string
	DefaultBranch string
	OwnerAvatar   string
}

// SourceKind discriminates the two upstream source shapes
type SourceKind int

const (
	SourceRelease SourceKind = iota
	SourceWorkflow
)

// String returns the string representation of SourceKind
func (k SourceKind) String() string {
	if k == SourceWorkflow {
		return "workflow"
	}
	return "release"
}

// UpstreamSource is the release or CI run that provides the newest binary.
// Exactly one of Release and Run is set.
type UpstreamSource struct {
	Kind    SourceKind
	Release *Release
	Run     *WorkflowRun
	Assets  []Asset
}

// Date returns the publication day of the source as YYYY-MM-DD
func (s *UpstreamSource) Date() string {
	if s.Kind == SourceWorkflow {
		return s.Run.CreatedAt.UTC().Format("2006-01-02")
	}
	return s.Release.PublishedAt.UTC().Format("2006-01-02")
}
