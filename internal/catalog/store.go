package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ralt/altsource/internal/models"
	"github.com/ralt/altsource/internal/signer"
	"github.com/ralt/altsource/internal/utils"
	"github.com/sirupsen/logrus"
)

// SignatureSuffix is appended to the catalog path for its detached signature
const SignatureSuffix = ".asc"

// Store reads and writes one catalog document
type Store struct {
	Path       string
	Name       string
	Identifier string
	// Signer is optional; when set every written catalog gets a signature
	Signer signer.Signer
}

// Load reads the catalog, returning an empty shell when the file does not
// exist. The configured name and identifier always win over the stored ones.
func (s *Store) Load() (*models.Catalog, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.Infof("No catalog at %s, starting empty", s.Path)
		return models.NewCatalog(s.Name, s.Identifier), nil
	}
	if err != nil {
		return nil, models.NewSyncError(models.ErrPersistence, s.Path, err)
	}

	c := models.NewCatalog(s.Name, s.Identifier)
	if err := json.Unmarshal(data, c); err != nil {
		return nil, models.NewSyncError(models.ErrPersistence, s.Path, fmt.Errorf("failed to decode catalog: %w", err))
	}

	c.Name = s.Name
	c.Identifier = s.Identifier
	if c.Apps == nil {
		c.Apps = []*models.PackageEntry{}
	}
	if c.News == nil {
		c.News = []json.RawMessage{}
	}
	return c, nil
}

// Encode renders the catalog the way it is persisted: two-space indentation,
// no HTML escaping and a trailing newline.
func Encode(c *models.Catalog) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the catalog when its content changed and reports whether it
// did. The signature is refreshed with the catalog or when it is missing.
func (s *Store) Save(c *models.Catalog) (bool, error) {
	data, err := Encode(c)
	if err != nil {
		return false, models.NewSyncError(models.ErrPersistence, s.Path, err)
	}

	changed, err := utils.WriteFileIfChanged(s.Path, data, 0644)
	if err != nil {
		return false, models.NewSyncError(models.ErrPersistence, s.Path, fmt.Errorf("failed to write catalog: %w", err))
	}
	if changed {
		logrus.Infof("Wrote %s (%d apps)", s.Path, len(c.Apps))
	} else {
		logrus.Infof("%s is unchanged", s.Path)
	}

	if s.Signer == nil {
		return changed, nil
	}
	sigPath := s.Path + SignatureSuffix
	if !changed && utils.FileExists(sigPath) {
		return changed, nil
	}

	sig, err := s.Signer.SignDetached(data)
	if err != nil {
		return changed, models.NewSyncError(models.ErrPersistence, sigPath, err)
	}
	if err := utils.WriteFileAtomic(sigPath, sig, 0644); err != nil {
		return changed, models.NewSyncError(models.ErrPersistence, sigPath, fmt.Errorf("failed to write signature: %w", err))
	}
	logrus.Infof("Signed %s", s.Path)
	return changed, nil
}

// CurrentDownloads returns the download URL of every entry's newest version
func CurrentDownloads(c *models.Catalog) []string {
	var urls []string
	for _, e := range c.Apps {
		if e.DownloadURL != "" {
			urls = append(urls, e.DownloadURL)
		}
	}
	return urls
}
