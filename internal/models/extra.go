package models

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// Extra holds document keys that are not modelled. They survive a load and
// save unchanged and are written after the modelled keys in sorted order.
type Extra map[string]json.RawMessage

func (x Extra) clone() Extra {
	if x == nil {
		return nil
	}
	c := make(Extra, len(x))
	for k, v := range x {
		c[k] = append(json.RawMessage{}, v...)
	}
	return c
}

// knownKeys returns the lowercased JSON names of t's fields. encoding/json
// matches object keys case-insensitively, so lookups must too.
func knownKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = t.Field(i).Name
		}
		keys[strings.ToLower(name)] = true
	}
	return keys
}

// splitExtra returns the members of the JSON object data that are not known
func splitExtra(data []byte, known map[string]bool) (Extra, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}

	var extra Extra
	for k, v := range all {
		if known[strings.ToLower(k)] {
			continue
		}
		if extra == nil {
			extra = Extra{}
		}
		extra[k] = v
	}
	return extra, nil
}

// encodeObject marshals v without HTML escaping, matching how catalogs are
// written.
func encodeObject(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// appendExtra adds the extra members to the encoded JSON object
func appendExtra(object []byte, extra Extra) ([]byte, error) {
	if len(extra) == 0 {
		return object, nil
	}

	body := bytes.TrimSpace(object[:len(object)-1])
	first := len(body) == 1

	var buf bytes.Buffer
	buf.Write(body)
	for _, k := range slices.Sorted(maps.Keys(extra)) {
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := encodeObject(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		value := extra[k]
		if len(value) == 0 {
			value = json.RawMessage("null")
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// The *Fields types share the layout of their model without its JSON methods.
type (
	versionRecordFields VersionRecord
	packageEntryFields  PackageEntry
	catalogFields       Catalog
)

var (
	versionRecordKeys = knownKeys(reflect.TypeOf(VersionRecord{}))
	packageEntryKeys  = knownKeys(reflect.TypeOf(PackageEntry{}))
	catalogKeys       = knownKeys(reflect.TypeOf(Catalog{}))
)

// UnmarshalJSON decodes the modelled keys and keeps the rest in Extra
func (v *VersionRecord) UnmarshalJSON(data []byte) error {
	fields := versionRecordFields(*v)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, versionRecordKeys)
	if err != nil {
		return err
	}
	*v = VersionRecord(fields)
	v.Extra = extra
	return nil
}

// MarshalJSON encodes the modelled keys followed by Extra
func (v VersionRecord) MarshalJSON() ([]byte, error) {
	data, err := encodeObject(versionRecordFields(v))
	if err != nil {
		return nil, err
	}
	return appendExtra(data, v.Extra)
}

// UnmarshalJSON decodes the modelled keys and keeps the rest in Extra
func (e *PackageEntry) UnmarshalJSON(data []byte) error {
	fields := packageEntryFields(*e)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, packageEntryKeys)
	if err != nil {
		return err
	}
	*e = PackageEntry(fields)
	e.Extra = extra
	return nil
}

// MarshalJSON encodes the modelled keys followed by Extra
func (e PackageEntry) MarshalJSON() ([]byte, error) {
	data, err := encodeObject(packageEntryFields(e))
	if err != nil {
		return nil, err
	}
	return appendExtra(data, e.Extra)
}

// UnmarshalJSON decodes the modelled keys and keeps the rest in Extra
func (c *Catalog) UnmarshalJSON(data []byte) error {
	fields := catalogFields(*c)
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	extra, err := splitExtra(data, catalogKeys)
	if err != nil {
		return err
	}
	*c = Catalog(fields)
	c.Extra = extra
	return nil
}

// MarshalJSON encodes the modelled keys followed by Extra
func (c Catalog) MarshalJSON() ([]byte, error) {
	data, err := encodeObject(catalogFields(c))
	if err != nil {
		return nil, err
	}
	return appendExtra(data, c.Extra)
}
