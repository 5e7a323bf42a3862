// Package strategy provides strategy configuration import/export functionality.
// It allows users to export their trading strategy configurations and import
// strategies from other users or backup files.
package strategy

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SchemaVersion is the current strategy schema version
const SchemaVersion = "1.0"

// StrategyConfig represents an exportable HYPERRSI strategy configuration: a
// set of metadata plus the flat parameter map consumed by
// strategy.NewHyperrsiStrategy.
type StrategyConfig struct {
	Metadata StrategyMetadata `yaml:"metadata" json:"metadata"`

	// Parameters holds the HYPERRSI parameter set, keyed exactly as
	// NewHyperrsiStrategy expects (entry_option, rsi_entry_option,
	// pyramiding_limit, trailing_stop_offset_value, ...).
	Parameters map[string]interface{} `yaml:"parameters" json:"parameters"`
}

// StrategyMetadata contains strategy identification and description
type StrategyMetadata struct {
	// Schema version for compatibility
	SchemaVersion string `yaml:"schema_version" json:"schema_version"`

	// Unique identifier (generated on export)
	ID string `yaml:"id,omitempty" json:"id,omitempty"`

	// User-defined name
	Name string `yaml:"name" json:"name"`

	// Description of the strategy
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Author information
	Author string `yaml:"author,omitempty" json:"author,omitempty"`

	// Version of this specific strategy (user-defined)
	Version string `yaml:"version,omitempty" json:"version,omitempty"`

	// Tags for categorization
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Creation/modification timestamps
	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`

	// Source (e.g., "user", "marketplace", "backup")
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
}

// NewDefaultStrategy creates a new strategy with default HYPERRSI settings
func NewDefaultStrategy(name string) *StrategyConfig {
	return &StrategyConfig{
		Metadata: StrategyMetadata{
			SchemaVersion: SchemaVersion,
			ID:            uuid.New().String(),
			Name:          name,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
			Source:        "user",
		},
		Parameters: map[string]interface{}{
			"entry_option":      "rsi_only",
			"rsi_entry_option":  "overshoot",
			"direction":         "both",
			"leverage":          10.0,
			"investment":        100.0,
			"rsi_oversold":      30.0,
			"rsi_overbought":    70.0,
			"rsi_period":        14.0,
			"tp_sl_option":      "fixed",
			"tp_option":         "percentage",
			"use_sl":            true,
			"stop_loss_percent": 2.0,
			"pyramiding_limit":  1.0,
			"entry_multiplier":  1.0,
			"fee_rate":          0.0005,
		},
	}
}

// DeepCopy creates a complete independent copy of the strategy configuration
// via JSON marshal/unmarshal, so nested maps and slices are never shared
// with the original.
func (s *StrategyConfig) DeepCopy() *StrategyConfig {
	if s == nil {
		return nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		log.Error().Err(err).Str("strategy_name", s.Metadata.Name).Msg("DeepCopy: failed to marshal strategy")
		return nil
	}

	var copied StrategyConfig
	if err := json.Unmarshal(data, &copied); err != nil {
		log.Error().Err(err).Str("strategy_name", s.Metadata.Name).Msg("DeepCopy: failed to unmarshal strategy")
		return nil
	}

	return &copied
}
