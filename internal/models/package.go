package models

import "encoding/json"

// VersionRecord is one published build of a package.
// Records are immutable once created.
type VersionRecord struct {
	Version              string `json:"version"`
	BuildVersion         string `json:"buildVersion,omitempty"`
	Date                 string `json:"date"`
	LocalizedDescription string `json:"localizedDescription"`
	DownloadURL          string `json:"downloadURL"`
	Size                 int64  `json:"size"`
	SHA256               string `json:"sha256,omitempty"`
	MinOSVersion         string `json:"minOSVersion,omitempty"`

	Extra Extra `json:"-"`
}

// PackageEntry is the catalog's unit of publication: identity, a denormalized
// snapshot of the newest version, and the full version ledger.
type PackageEntry struct {
	Name                 string          `json:"name"`
	GitHubRepo           string          `json:"githubRepo,omitempty"`
	BundleIdentifier     string          `json:"bundleIdentifier"`
	DeveloperName        string          `json:"developerName"`
	Version              string          `json:"version"`
	VersionDate          string          `json:"versionDate"`
	VersionDescription   string          `json:"versionDescription"`
	DownloadURL          string          `json:"downloadURL"`
	LocalizedDescription string          `json:"localizedDescription"`
	IconURL              string          `json:"iconURL"`
	TintColor            string          `json:"tintColor"`
	Size                 int64           `json:"size"`
	SHA256               string          `json:"sha256,omitempty"`
	MinOSVersion         string          `json:"minOSVersion,omitempty"`
	ScreenshotURLs       []string        `json:"screenshotURLs"`
	Versions             []VersionRecord `json:"versions"`

	// Permissions is only read so that legacy entries can be detected;
	// it is dropped from every entry the pipeline touches.
	Permissions json.RawMessage `json:"permissions,omitempty"`

	// Extra keeps keys such as subtitle or category that are not modelled
	Extra Extra `json:"-"`
}

// Clone returns a deep copy of the entry
func (e *PackageEntry) Clone() *PackageEntry {
	if e == nil {
		return nil
	}
	c := *e
	if e.ScreenshotURLs != nil {
		c.ScreenshotURLs = append([]string{}, e.ScreenshotURLs...)
	}
	if e.Versions != nil {
		c.Versions = make([]VersionRecord, len(e.Versions))
		for i, v := range e.Versions {
			v.Extra = v.Extra.clone()
			c.Versions[i] = v
		}
	}
	if e.Permissions != nil {
		c.Permissions = append(json.RawMessage{}, e.Permissions...)
	}
	c.Extra = e.Extra.clone()
	return &c
}

// Latest returns the newest version record, or nil for an empty ledger
func (e *PackageEntry) Latest() *VersionRecord {
	if e == nil || len(e.Versions) == 0 {
		return nil
	}
	return &e.Versions[0]
}

// ApplyLatest copies the newest ledger record into the entry's snapshot fields
func (e *PackageEntry) ApplyLatest() {
	latest := e.Latest()
	if latest == nil {
		return
	}
	e.Version = latest.Version
	e.VersionDate = latest.Date
	e.VersionDescription = latest.LocalizedDescription
	e.DownloadURL = latest.DownloadURL
	e.Size = latest.Size
	e.SHA256 = latest.SHA256
	e.MinOSVersion = latest.MinOSVersion
}

// Catalog is the persisted source document
type Catalog struct {
	Name       string            `json:"name"`
	Identifier string            `json:"identifier"`
	Apps       []*PackageEntry   `json:"apps"`
	News       []json.RawMessage `json:"news"`

	// Extra keeps source-level keys such as subtitle, website or featuredApps
	Extra Extra `json:"-"`
}

// NewCatalog returns an empty catalog shell
func NewCatalog(name, identifier string) *Catalog {
	return &Catalog{
		Name:       name,
		Identifier: identifier,
		Apps:       []*PackageEntry{},
		News:       []json.RawMessage{},
	}
}
