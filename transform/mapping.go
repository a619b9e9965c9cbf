package transform

import (
	"embed"
	"fmt"
	"io"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed mappings/*.yaml
var mappingFS embed.FS

// FieldType is the semantic type a mapped value is coerced to.
type FieldType string

const (
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeString   FieldType = "string"
	TypeUnixTime FieldType = "unix_time"
)

// DerivedKind names a computation producing a field that has no direct source path.
type DerivedKind string

const (
	DerivedUTCTimestamp DerivedKind = "utc_timestamp"
	DerivedHoursBetween DerivedKind = "hours_between"
	DerivedConstant     DerivedKind = "constant"
)

// Field maps one path in the raw record onto a target field.
type Field struct {
	Target    string    `yaml:"target"`
	Path      string    `yaml:"path"`
	Type      FieldType `yaml:"type"`
	Optional  bool      `yaml:"optional"`
	Thousands string    `yaml:"thousands_separator"`
}

// Derived describes a field computed from one or two raw paths.
//
//   - utc_timestamp: Path holds unix seconds, the result is a UTC string in TimestampLayout.
//   - hours_between: (To - From) / 3600 rounded to two decimals.
//   - constant: Value as is.
type Derived struct {
	Target string      `yaml:"target"`
	Kind   DerivedKind `yaml:"kind"`
	Path   string      `yaml:"path"`
	From   string      `yaml:"from"`
	To     string      `yaml:"to"`
	Value  any         `yaml:"value"`
}

// Mapping is the static description of how one source is flattened.
type Mapping struct {
	Name           string    `yaml:"name"`
	Key            string    `yaml:"key"`
	DisplayPath    string    `yaml:"display_path"`
	DisplayDefault string    `yaml:"display_default"`
	Fields         []Field   `yaml:"fields"`
	Derived        []Derived `yaml:"derived"`
}

// Targets lists every field a normalized record of this mapping carries.
func (m Mapping) Targets() []string {
	targets := make([]string, 0, len(m.Fields)+len(m.Derived))
	for _, f := range m.Fields {
		targets = append(targets, f.Target)
	}
	for _, d := range m.Derived {
		targets = append(targets, d.Target)
	}
	return targets
}

// LoadMapping reads one of the built-in mappings (weather, pageviews, survey).
func LoadMapping(name string) (Mapping, error) {
	f, err := mappingFS.Open(path.Join("mappings", name+".yaml"))
	if err != nil {
		return Mapping{}, fmt.Errorf("error opening mapping %s: %w", name, err)
	}
	defer f.Close()

	return ParseMapping(f)
}

// ParseMapping decodes and validates a YAML mapping.
func ParseMapping(r io.Reader) (Mapping, error) {
	var m Mapping
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Mapping{}, fmt.Errorf("error decoding mapping: %w", err)
	}
	if err := m.validate(); err != nil {
		return Mapping{}, err
	}
	return m, nil
}

func (m Mapping) validate() error {
	seen := make(map[string]bool)
	keyFound := false

	for _, f := range m.Fields {
		if f.Target == "" || f.Path == "" {
			return fmt.Errorf("mapping %s: field needs target and path: %+v", m.Name, f)
		}
		switch f.Type {
		case TypeInt, TypeFloat, TypeString, TypeUnixTime:
		default:
			return fmt.Errorf("mapping %s: field %s has unknown type %q", m.Name, f.Target, f.Type)
		}
		if seen[f.Target] {
			return fmt.Errorf("mapping %s: duplicate target %s", m.Name, f.Target)
		}
		seen[f.Target] = true
		if f.Target == m.Key {
			if f.Optional {
				return fmt.Errorf("mapping %s: key field %s cannot be optional", m.Name, f.Target)
			}
			keyFound = true
		}
	}

	for _, d := range m.Derived {
		if d.Target == "" {
			return fmt.Errorf("mapping %s: derived field needs a target", m.Name)
		}
		if seen[d.Target] {
			return fmt.Errorf("mapping %s: duplicate target %s", m.Name, d.Target)
		}
		seen[d.Target] = true

		switch d.Kind {
		case DerivedUTCTimestamp:
			if d.Path == "" {
				return fmt.Errorf("mapping %s: %s needs a path", m.Name, d.Target)
			}
		case DerivedHoursBetween:
			if d.From == "" || d.To == "" {
				return fmt.Errorf("mapping %s: %s needs from and to", m.Name, d.Target)
			}
		case DerivedConstant:
		default:
			return fmt.Errorf("mapping %s: derived field %s has unknown kind %q", m.Name, d.Target, d.Kind)
		}
	}

	if !keyFound {
		return fmt.Errorf("mapping %s: key %q is not a mapped field", m.Name, m.Key)
	}
	return nil
}
