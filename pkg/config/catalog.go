package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/rules"
)

// Catalog is the deployment's evidence profiles and rulesets.
type Catalog struct {
	Profiles []evidence.Profile `yaml:"profiles"`
	Rulesets []rules.Ruleset    `yaml:"rulesets"`
}

// LoadCatalog reads a YAML catalog. An empty path yields an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return &Catalog{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %q: %w", path, err)
	}
	c, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %q: %w", path, err)
	}
	return c, nil
}

// ParseCatalog decodes a YAML catalog, rejecting unknown fields.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &c, nil
}

// Registry returns a ruleset registry holding the built-in default ruleset
// and every catalog ruleset. A catalog ruleset with the default version
// replaces it.
func (c *Catalog) Registry() (*rules.Registry, error) {
	reg, err := rules.NewRegistry()
	if err != nil {
		return nil, err
	}
	if err := reg.Register(rules.DefaultRuleset()); err != nil {
		return nil, err
	}
	for _, rs := range c.Rulesets {
		if err := reg.Register(rs); err != nil {
			return nil, fmt.Errorf("ruleset %s: %w", rs.Version, err)
		}
	}
	return reg, nil
}

// Resolver returns the profile resolver for the catalog.
func (c *Catalog) Resolver() (evidence.ProfileResolver, error) {
	if len(c.Profiles) == 0 {
		return evidence.NoProfiles{}, nil
	}
	return evidence.NewCatalogResolver(c.Profiles)
}
