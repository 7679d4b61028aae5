// Package config holds the engine-wide configuration table enumerated in
// spec §6, decoded with gopkg.in/yaml.v3 the way a cobra-based CLI's
// flag/env wiring typically builds its own config structs.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine's process-lifetime configuration (spec §6). It is
// constructed once at startup and passed by value into every subsystem
// that needs it (spec §9 "treat as explicit engine_environment passed
// into every subsystem at construction").
type Config struct {
	// ThreadCount is the scheduler's fixed worker-pool size. Zero means
	// "use runtime.NumCPU()" (pkg/scheduler's own default).
	ThreadCount int `yaml:"thread_count"`

	// CoreAffinity pins each worker's locked OS thread to a CPU core via
	// sched_setaffinity on Linux, and is a no-op elsewhere (see
	// pkg/scheduler.Config.CoreAffinity).
	CoreAffinity bool `yaml:"core_affinity"`

	// InitialCore is the first core index used when CoreAffinity is set.
	InitialCore int `yaml:"initial_core"`

	// AssignNUMANodesUniformly implies CoreAffinity. Workers then get the
	// same sequential InitialCore+i placement as with CoreAffinity alone;
	// they are not spread across NUMA nodes by topology.
	AssignNUMANodesUniformly bool `yaml:"assign_numa_nodes_uniformly"`

	// DefaultPartitions is the partition count used by an exchange when
	// the compiled plan does not override it (spec §4.G).
	DefaultPartitions int `yaml:"default_partitions"`

	// ZoneOffset is the system time-zone offset applied to TIMESTAMP WITH
	// TIME ZONE literals that carry no explicit offset (spec §8 S7).
	ZoneOffset time.Duration `yaml:"zone_offset"`

	// NormalizeFloat folds +0.0 and -0.0 to the same key encoding (spec
	// §4.B, §8 invariant 2/S2).
	NormalizeFloat bool `yaml:"normalize_float"`

	// TraceExternalLog emits per-transaction/per-statement trace events
	// through pkg/trace.
	TraceExternalLog bool `yaml:"trace_external_log"`

	// EnableIndexJoin permits the join operator to choose an index-join
	// strategy (spec §4.F join).
	EnableIndexJoin bool `yaml:"enable_index_join"`

	// LOBSessionRoot is the directory spooled LOBs are written under
	// (spec §6, pkg/lob).
	LOBSessionRoot string `yaml:"lob_session_root"`
}

// Default returns the configuration a fresh engine starts with absent any
// file or flag overrides.
func Default() Config {
	return Config{
		ThreadCount:              0,
		CoreAffinity:             true,
		InitialCore:              0,
		AssignNUMANodesUniformly: false,
		DefaultPartitions:        8,
		ZoneOffset:               0,
		NormalizeFloat:           true,
		TraceExternalLog:         false,
		EnableIndexJoin:          true,
		LOBSessionRoot:           "./lob-spool",
	}
}

// Load decodes a Config from r, applying Default() first so a partial
// file only overrides the fields it names.
func Load(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// LoadFile opens path and decodes it via Load.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Validate reports a descriptive error for configuration combinations the
// engine cannot start with. It also turns CoreAffinity on when
// AssignNUMANodesUniformly is set.
func (c *Config) Validate() error {
	if c.ThreadCount < 0 {
		return fmt.Errorf("config: thread_count must be >= 0, got %d", c.ThreadCount)
	}
	if c.DefaultPartitions <= 0 {
		return fmt.Errorf("config: default_partitions must be > 0, got %d", c.DefaultPartitions)
	}
	if c.AssignNUMANodesUniformly && !c.CoreAffinity {
		c.CoreAffinity = true
	}
	if c.LOBSessionRoot == "" {
		return fmt.Errorf("config: lob_session_root must not be empty")
	}
	return nil
}
