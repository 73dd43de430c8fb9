package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// LineFileSuffix completes a line name into its file name: LFE becomes
// LFE_config.yml.
const LineFileSuffix = "_config.yml"

// LinePath returns the config file path of a line inside dir.
func LinePath(dir, name string) string {
	return filepath.Join(dir, name+LineFileSuffix)
}

// LoadLine reads and validates a line configuration file.
func LoadLine(path string) (*models.LineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read line config: %w", err)
	}
	cfg, err := ParseLine(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	cfg.Name = strings.TrimSuffix(filepath.Base(path), LineFileSuffix)
	return cfg, nil
}

// ParseLine decodes a line configuration. Unknown keys are rejected so a
// typo does not silently drop a fast fault block.
func ParseLine(r io.Reader) (*models.LineConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	cfg := &models.LineConfig{}
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse line config: %w", err)
	}
	if err := ValidateLine(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateLine checks the ranges of a line configuration.
func ValidateLine(cfg *models.LineConfig) error {
	if strings.TrimSpace(cfg.LineArbiterPrefix) == "" {
		return &ValidationError{Field: "line_arbiter_prefix", Reason: "is required"}
	}
	for i, ff := range cfg.FastFaults {
		field := func(name string) string { return fmt.Sprintf("fastfaults[%d].%s", i, name) }
		switch {
		case ff.Prefix == "":
			return &ValidationError{Field: field("prefix"), Reason: "is required"}
		case ff.FFOStart < 0:
			return &ValidationError{Field: field("ffo_start"), Reason: "must not be negative"}
		case ff.FFOEnd < ff.FFOStart:
			return &ValidationError{Field: field("ffo_end"), Reason: "is before ffo_start"}
		case ff.FFStart < 0:
			return &ValidationError{Field: field("ff_start"), Reason: "must not be negative"}
		case ff.FFEnd < ff.FFStart:
			return &ValidationError{Field: field("ff_end"), Reason: "is before ff_start"}
		}
	}
	for i, pr := range cfg.PreemptiveRequests {
		field := func(name string) string { return fmt.Sprintf("preemptive_requests[%d].%s", i, name) }
		switch {
		case pr.Prefix == "":
			return &ValidationError{Field: field("prefix"), Reason: "is required"}
		case pr.ArbiterInstance == "":
			return &ValidationError{Field: field("arbiter_instance"), Reason: "is required"}
		case pr.PoolEnd < pr.PoolStart:
			return &ValidationError{Field: field("assertion_pool_end"), Reason: "is before assertion_pool_start"}
		}
	}
	return nil
}
