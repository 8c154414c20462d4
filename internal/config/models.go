package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ModelsFileName is the model catalog file inside the scribe folder.
const ModelsFileName = "models.json"

// EnvFileName is the credentials file inside the scribe folder.
const EnvFileName = ".env"

// ModelDescriptor describes one configured backend model.
type ModelDescriptor struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name"`
	Cost   []float64              `json:"cost"`
	Limit  int                    `json:"limit"`
	Params map[string]interface{} `json:"params"`
}

// InputCost returns the price per million input tokens.
func (m ModelDescriptor) InputCost() float64 {
	if len(m.Cost) > 0 {
		return m.Cost[0]
	}
	return 0
}

// OutputCost returns the price per million output tokens.
func (m ModelDescriptor) OutputCost() float64 {
	if len(m.Cost) > 1 {
		return m.Cost[1]
	}
	return 0
}

// ModelsFile is the parsed models.json.
type ModelsFile struct {
	Models  []ModelDescriptor `json:"models"`
	Default []string          `json:"default"`
}

// IsDefault reports whether the named model is listed as a default.
func (f *ModelsFile) IsDefault(name string) bool {
	for _, d := range f.Default {
		if d == name {
			return true
		}
	}
	return false
}

// LoadModels reads models.json from the scribe folder.
func LoadModels(folder string) (*ModelsFile, error) {
	path := filepath.Join(folder, ModelsFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var mf ModelsFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	seen := make(map[string]bool, len(mf.Models))
	for i, m := range mf.Models {
		if m.Name == "" {
			return nil, fmt.Errorf("%s: model %d has no name", path, i)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("%s: duplicate model name %q", path, m.Name)
		}
		seen[m.Name] = true
	}
	return &mf, nil
}

// ValidateModels checks that every model has an input and output price and
// that every default names a configured model. All problems are reported.
func (f *ModelsFile) ValidateModels() error {
	var errs []error
	names := make(map[string]bool, len(f.Models))
	for _, m := range f.Models {
		names[m.Name] = true
		if len(m.Cost) != 2 {
			errs = append(errs, fmt.Errorf("model %q: cost must be [input, output], got %d entries", m.Name, len(m.Cost)))
		}
		if m.Limit < 0 {
			errs = append(errs, fmt.Errorf("model %q: negative limit %d", m.Name, m.Limit))
		}
	}
	for _, d := range f.Default {
		if !names[d] {
			errs = append(errs, fmt.Errorf("default model %q is not listed in models", d))
		}
	}
	return errors.Join(errs...)
}

// LoadEnv loads <folder>/.env into the process environment, overwriting
// existing values. Entries whose value still contains the "..." placeholder
// are skipped. A missing file is not an error.
func LoadEnv(folder string) error {
	path := filepath.Join(folder, EnvFileName)
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	for key, value := range values {
		if value == "" || strings.Contains(value, "...") {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}
	return nil
}
