package models

import "strings"

// PackageConfig holds the maintainer-supplied hints for one package
type PackageConfig struct {
	Name           string `json:"name"`
	GitHubRepo     string `json:"github_repo"`
	IconURL        string `json:"icon_url,omitempty"`
	TintColor      string `json:"tint_color,omitempty"`
	BundleID       string `json:"bundle_id,omitempty"`
	IPARegex       string `json:"ipa_regex,omitempty"`
	TagRegex       string `json:"tag_regex,omitempty"`
	PreRelease     bool   `json:"pre_release,omitempty"`
	GitHubWorkflow string `json:"github_workflow,omitempty"`
	WorkflowBranch string `json:"workflow_branch,omitempty"`
	ArtifactName   string `json:"artifact_name,omitempty"`
	MinisignKey    string `json:"minisign_key,omitempty"`
}

// Owner returns the repository owner, which doubles as the developer name
func (c PackageConfig) Owner() string {
	owner, _, _ := strings.Cut(c.GitHubRepo, "/")
	return owner
}

// RepoName returns the bare project name of the repository
func (c PackageConfig) RepoName() string {
	_, name, found := strings.Cut(c.GitHubRepo, "/")
	if !found {
		return c.GitHubRepo
	}
	return name
}

// UsesWorkflow reports whether the package is built from CI runs instead of releases
func (c PackageConfig) UsesWorkflow() bool {
	return c.GitHubWorkflow != ""
}

// ConfiguredIcon returns the icon URL unless it is one of the form placeholders
func (c PackageConfig) ConfiguredIcon() string {
	return CleanOptional(c.IconURL)
}

// CleanOptional maps issue-form placeholders to the empty string
func CleanOptional(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "none", "_no response_":
		return ""
	}
	return v
}

// ConfigSuggestion is a value the pipeline discovered for a field the
// maintainer left unset.
type ConfigSuggestion struct {
	GitHubRepo string
	Name       string
	Field      string
	Value      string
}
