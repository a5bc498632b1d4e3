package domain

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultRate applies to models missing from the table.
const DefaultRate int64 = 5

// RateTable maps models to credits per 1000 tokens.
type RateTable struct {
	rates       map[string]int64
	defaultRate int64
}

// ModelRate is one row of the published rate table.
type ModelRate struct {
	Model           string `json:"model"`
	CreditsPer1KTok int64  `json:"credits_per_1k_tokens"`
}

// DefaultRateTable returns the built-in rates.
func DefaultRateTable() *RateTable {
	return &RateTable{
		rates: map[string]int64{
			"gpt-4o":                   5,
			"gpt-4o-mini":              1,
			"gpt-4-turbo":              10,
			"gpt-3.5-turbo":            1,
			"o1":                       15,
			"o1-mini":                  3,
			"claude-3-5-sonnet-latest": 6,
			"claude-3-5-haiku-latest":  2,
			"claude-3-opus-latest":     15,
		},
		defaultRate: DefaultRate,
	}
}

// LoadRateTable overlays rates from a YAML file onto the defaults:
//
//	default_rate: 5
//	rates:
//	  gpt-4o: 5
func LoadRateTable(path string) (*RateTable, error) {
	table := DefaultRateTable()
	if strings.TrimSpace(path) == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rate table: %w", err)
	}
	var file struct {
		DefaultRate *int64           `yaml:"default_rate"`
		Rates       map[string]int64 `yaml:"rates"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse rate table: %w", err)
	}
	if file.DefaultRate != nil {
		if *file.DefaultRate <= 0 {
			return nil, fmt.Errorf("rate table: default_rate must be positive")
		}
		table.defaultRate = *file.DefaultRate
	}
	for model, rate := range file.Rates {
		if rate <= 0 {
			return nil, fmt.Errorf("rate table: rate for %s must be positive", model)
		}
		table.rates[strings.TrimSpace(model)] = rate
	}
	return table, nil
}

// Rate returns the rate for model, falling back to the default.
func (t *RateTable) Rate(model string) int64 {
	if rate, ok := t.rates[model]; ok {
		return rate
	}
	return t.defaultRate
}

// CreditsForUsage returns ceil(totalTokens / 1000 * rate).
func (t *RateTable) CreditsForUsage(model string, totalTokens int) int64 {
	if totalTokens <= 0 {
		return 0
	}
	product := int64(totalTokens) * t.Rate(model)
	return (product + 999) / 1000
}

// Models lists the table sorted by model name.
func (t *RateTable) Models() []ModelRate {
	out := make([]ModelRate, 0, len(t.rates))
	for model, rate := range t.rates {
		out = append(out, ModelRate{Model: model, CreditsPer1KTok: rate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// DefaultRateValue returns the fallback rate.
func (t *RateTable) DefaultRateValue() int64 {
	return t.defaultRate
}
