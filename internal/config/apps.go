package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/iancoleman/orderedmap"
	"github.com/ralt/altsource/internal/models"
	"github.com/ralt/altsource/internal/utils"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"
)

const appsSchemaURL = "https://github.com/ralt/altsource/apps.schema.json"

//go:embed apps.schema.json
var appsSchemaJSON []byte

var (
	repoPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+/[A-Za-z0-9._-]+$`)

	schemaOnce sync.Once
	appsSchema *jsonschema.Schema
	schemaErr  error
)

// loopbackHosts are rejected in URL fields
var loopbackHosts = []string{"localhost", "127.0.0.1", "::1"}

// suggestionKeys maps suggestion fields to the apps.json keys they fill
var suggestionKeys = map[string]string{
	"icon_url":   "icon_url",
	"tint_color": "tint_color",
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(appsSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("failed to parse apps schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(appsSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("failed to load apps schema: %w", err)
			return
		}
		appsSchema, schemaErr = c.Compile(appsSchemaURL)
	})
	return appsSchema, schemaErr
}

// ValidateApps checks an apps.json document against the schema and the
// rules a schema cannot express.
func ValidateApps(data []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	var apps []models.PackageConfig
	if err := json.Unmarshal(data, &apps); err != nil {
		return fmt.Errorf("failed to decode apps: %w", err)
	}

	seen := make(map[string]bool)
	for _, app := range apps {
		if err := checkURL(app.IconURL); err != nil {
			return fmt.Errorf("%s: icon_url: %w", app.Name, err)
		}
		for _, pattern := range []string{app.IPARegex, app.TagRegex, app.ArtifactName} {
			if p := models.CleanOptional(pattern); p != "" {
				if _, err := regexp.Compile(p); err != nil {
					logrus.Warnf("%s: pattern %q is invalid and will be ignored: %v", app.Name, p, err)
				}
			}
		}
		key := app.GitHubRepo + "\x00" + app.Name
		if seen[key] {
			return fmt.Errorf("%s (%s) is listed twice", app.Name, app.GitHubRepo)
		}
		seen[key] = true
	}
	return nil
}

func checkURL(url string) error {
	url = models.CleanOptional(url)
	if url == "" {
		return nil
	}
	lower := strings.ToLower(url)
	for _, host := range loopbackHosts {
		if strings.Contains(lower, host) {
			return fmt.Errorf("localhost URLs not allowed: %s", url)
		}
	}
	return nil
}

// AppList is a loaded apps.json. Keys the program does not know are kept
// in place when the file is rewritten.
type AppList struct {
	Path string
	Apps []models.PackageConfig

	raw []*orderedmap.OrderedMap
}

// LoadApps reads and validates the package list at path
func LoadApps(path string) (*AppList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseApps(path, data)
}

// ParseApps validates and decodes an apps.json document
func ParseApps(path string, data []byte) (*AppList, error) {
	if err := ValidateApps(data); err != nil {
		return nil, models.NewSyncError(models.ErrInvalidConfig, path, err)
	}

	list := &AppList{Path: path}
	if err := json.Unmarshal(data, &list.Apps); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &list.raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return list, nil
}

// Apply writes suggestions into fields the maintainer left empty and
// returns how many were applied.
func (l *AppList) Apply(suggestions []models.ConfigSuggestion) int {
	applied := 0
	for _, s := range suggestions {
		key, ok := suggestionKeys[s.Field]
		if !ok || s.Value == "" {
			continue
		}
		for i, app := range l.Apps {
			if app.GitHubRepo != s.GitHubRepo || app.Name != s.Name {
				continue
			}
			current, _ := l.raw[i].Get(key)
			if str, _ := current.(string); models.CleanOptional(str) != "" {
				continue
			}
			l.raw[i].Set(key, s.Value)
			switch key {
			case "icon_url":
				l.Apps[i].IconURL = s.Value
			case "tint_color":
				l.Apps[i].TintColor = s.Value
			}
			logrus.Infof("Syncing %s back to %s for %s", key, l.Path, s.Name)
			applied++
		}
	}
	return applied
}

// Marshal encodes the list with two-space indentation
func (l *AppList) Marshal() ([]byte, error) {
	for _, o := range l.raw {
		o.SetEscapeHTML(false)
	}

	var compact bytes.Buffer
	enc := json.NewEncoder(&compact)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(l.raw); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(compact.Bytes()), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// Save writes the list back when its content changed
func (l *AppList) Save() (bool, error) {
	data, err := l.Marshal()
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", l.Path, err)
	}
	return utils.WriteFileIfChanged(l.Path, data, 0644)
}
