package tecs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Tunables holds the build-time constants SPEC_FULL §6 describes. The
// C++ reference fixes these at compile time via preprocessor defines;
// Go has no equivalent, so they are instead a struct resolved once when
// an ECS is constructed, optionally loaded from a JSONC ("human JSON")
// file the way calvinalkan-agent-task loads its own config (§1a).
type Tunables struct {
	// SpinlockRetryYield is the number of failed CAS attempts a lock
	// acquisition makes before parking on its condition variable.
	SpinlockRetryYield int `json:"spinlock_retry_yield"`

	// EntityAllocationBatchSize is the number of slots allocated at once
	// whenever the free list empties.
	EntityAllocationBatchSize uint32 `json:"entity_allocation_batch_size"`

	// PerformanceTracingMaxEvents bounds the trace ring buffer capacity.
	PerformanceTracingMaxEvents int `json:"performance_tracing_max_events"`

	// EntityIndexBits and EntityGenerationBits must sum to 64.
	EntityIndexBits uint `json:"entity_index_bits"`
	EntityGenerationBits uint `json:"entity_generation_bits"`

	// ECSIdentifierBits is embedded within EntityGenerationBits.
	ECSIdentifierBits uint `json:"ecs_identifier_bits"`
}

// DefaultTunables returns the defaults from SPEC_FULL §6.
func DefaultTunables() Tunables {
	return Tunables{
		SpinlockRetryYield:          10,
		EntityAllocationBatchSize:   1000,
		PerformanceTracingMaxEvents: 10000,
		EntityIndexBits:             32,
		EntityGenerationBits:        32,
		ECSIdentifierBits:           8,
	}
}

// Validate checks the static assertions recovered from Tecs_entity.hh:
// index and generation bits must account for the full 64-bit handle, and
// the ECS identifier must fit within the generation.
func (t Tunables) Validate() error {
	if t.SpinlockRetryYield < 0 {
		return fmt.Errorf("tecs: SpinlockRetryYield must be >= 0, got %d", t.SpinlockRetryYield)
	}
	if t.EntityAllocationBatchSize == 0 {
		return fmt.Errorf("tecs: EntityAllocationBatchSize must be > 0")
	}
	if t.PerformanceTracingMaxEvents <= 0 {
		return fmt.Errorf("tecs: PerformanceTracingMaxEvents must be > 0")
	}
	if t.EntityIndexBits+t.EntityGenerationBits != 64 {
		return fmt.Errorf("tecs: EntityIndexBits(%d)+EntityGenerationBits(%d) must total 64",
			t.EntityIndexBits, t.EntityGenerationBits)
	}
	if t.ECSIdentifierBits >= t.EntityGenerationBits {
		return fmt.Errorf("tecs: ECSIdentifierBits(%d) must fit within EntityGenerationBits(%d)",
			t.ECSIdentifierBits, t.EntityGenerationBits)
	}
	// This implementation's internal/entity package hardcodes the default
	// 32/32/8 split (see DESIGN.md); reject anything else explicitly
	// rather than silently ignoring it.
	if t.EntityIndexBits != 32 || t.EntityGenerationBits != 32 || t.ECSIdentifierBits != 8 {
		return fmt.Errorf("tecs: non-default entity bit widths are validated but not yet wired into the handle codec")
	}
	return nil
}

// LoadTunables reads a JSONC tunables file, applying it on top of
// DefaultTunables. Missing fields in the file keep their default value.
func LoadTunables(path string) (Tunables, error) {
	cfg := DefaultTunables()

	data, err := os.ReadFile(path) //nolint:gosec // caller-controlled path, same as calvinalkan-agent-task's config loader
	if err != nil {
		return Tunables{}, fmt.Errorf("tecs: read tunables file %s: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Tunables{}, fmt.Errorf("tecs: invalid JSONC in %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Tunables{}, fmt.Errorf("tecs: invalid tunables in %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Tunables{}, err
	}
	return cfg, nil
}
