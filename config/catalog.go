package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the optional YAML provider catalog named by PROVIDER_CATALOG_FILE.
//
//	providers:
//	  openai:
//	    model: gpt-4o-mini
//	    cost_per_1k: 0.03
//	    tags: [coding, general]
//	    limits: {requests: 3000, tokens: 100000, cost: 10}
//	specializations:
//	  coding: openai
type Catalog struct {
	Providers       map[string]CatalogEntry `yaml:"providers"`
	Specializations map[string]string       `yaml:"specializations"`
	CostOrder       []string                `yaml:"cost_order"`
}

// CatalogEntry overrides the built-in settings of one provider
type CatalogEntry struct {
	Model     string          `yaml:"model"`
	BaseURL   string          `yaml:"base_url"`
	CostPer1K *float64        `yaml:"cost_per_1k"`
	Tags      []string        `yaml:"tags"`
	Limits    *ProviderLimits `yaml:"limits"`
}

// LoadCatalog reads and parses a catalog file
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses catalog YAML
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse provider catalog: %w", err)
	}
	for name, entry := range catalog.Providers {
		if entry.CostPer1K != nil && *entry.CostPer1K < 0 {
			return nil, fmt.Errorf("provider catalog: %s: negative cost_per_1k", name)
		}
		if l := entry.Limits; l != nil && (l.Requests < 0 || l.Tokens < 0 || l.Cost < 0) {
			return nil, fmt.Errorf("provider catalog: %s: negative limit", name)
		}
	}
	return &catalog, nil
}

// ApplyCatalog overlays catalog entries onto the config. Environment limits
// were already applied, so catalog limits win over both env and defaults.
func (c *Config) ApplyCatalog(catalog *Catalog) {
	if catalog == nil {
		return
	}
	if c.Quota.Limits == nil {
		c.Quota.Limits = make(map[string]ProviderLimits)
	}
	if c.Pricing.Rates == nil {
		c.Pricing.Rates = make(map[string]float64)
	}
	if c.Providers.Tags == nil {
		c.Providers.Tags = make(map[string][]string)
	}
	if c.Routing.Specializations == nil {
		c.Routing.Specializations = make(map[string]string)
	}

	for name, entry := range catalog.Providers {
		if entry.CostPer1K != nil {
			c.Pricing.Rates[name] = *entry.CostPer1K
		}
		if len(entry.Tags) > 0 {
			c.Providers.Tags[name] = entry.Tags
		}
		if entry.Limits != nil {
			c.Quota.Limits[name] = *entry.Limits
		}
		if pc := c.Providers.lookup(name); pc != nil {
			if entry.Model != "" {
				pc.Model = entry.Model
			}
			if entry.BaseURL != "" {
				pc.BaseURL = entry.BaseURL
			}
		}
	}
	for task, provider := range catalog.Specializations {
		c.Routing.Specializations[task] = provider
	}
	if len(catalog.CostOrder) > 0 {
		c.Routing.CostOrder = catalog.CostOrder
	}
}

func (p *ProvidersConfig) lookup(name string) *ProviderConfig {
	switch name {
	case "openai":
		return &p.OpenAI
	case "anthropic":
		return &p.Anthropic
	case "google":
		return &p.Google
	case "cohere":
		return &p.Cohere
	case "openrouter":
		return &p.OpenRouter
	}
	return nil
}
