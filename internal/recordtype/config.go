package recordtype

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// ErrUnknownRecordType is returned when a record type is not configured.
var ErrUnknownRecordType = errors.New("unknown record type")

// Options are the per-task import options.
type Options struct {
	DOIMinting bool `json:"doi_minting" yaml:"doi_minting"`
	Publish    bool `json:"publish" yaml:"publish"`
}

// CustomFieldConfig binds a custom field to a transformer and a schema.
type CustomFieldConfig struct {
	Field       string `yaml:"field"`
	Transformer string `yaml:"transformer"`
	Schema      string `yaml:"schema"`
}

// Type configures one record type.
type Type struct {
	Serializers       []string            `yaml:"serializers"`
	Options           Options             `yaml:"options"`
	CommunityRequired bool                `yaml:"community_required"`
	DeleteNote        string              `yaml:"delete_note"`
	CustomFields      []CustomFieldConfig `yaml:"custom_fields"`
}

// SupportsSerializer reports whether the type accepts the serializer.
func (t Type) SupportsSerializer(name string) bool {
	for _, s := range t.Serializers {
		if s == name {
			return true
		}
	}
	return false
}

// Config is the record type registry.
type Config struct {
	RecordTypes map[string]Type `yaml:"record_types"`
}

// DefaultConfig registers the "rdm" record type with the CSV serializer.
func DefaultConfig() *Config {
	return &Config{
		RecordTypes: map[string]Type{
			"rdm": {
				Serializers: []string{"csv"},
				Options:     Options{DOIMinting: false, Publish: true},
				DeleteNote:  "Removed by bulk import.",
			},
		},
	}
}

// Load reads the registry from a YAML file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read record types: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a YAML registry.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode record types: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the registry for unusable entries.
func (c *Config) Validate() error {
	if len(c.RecordTypes) == 0 {
		return errors.New("no record types configured")
	}
	for name, t := range c.RecordTypes {
		if len(t.Serializers) == 0 {
			return fmt.Errorf("record type %q: no serializers configured", name)
		}
		for i, cf := range t.CustomFields {
			if cf.Field == "" || cf.Transformer == "" {
				return fmt.Errorf("record type %q: custom field %d needs a field and a transformer", name, i)
			}
		}
	}
	return nil
}

// Lookup returns the configuration of a record type.
func (c *Config) Lookup(name string) (Type, error) {
	t, ok := c.RecordTypes[name]
	if !ok {
		return Type{}, fmt.Errorf("%w: %s", ErrUnknownRecordType, name)
	}
	return t, nil
}

// Names returns the configured record type names, sorted.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.RecordTypes))
	for n := range c.RecordTypes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
