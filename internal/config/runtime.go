package config

import "sync/atomic"

// Runtime holds the live configuration snapshot. Hot reload swaps in a whole
// new Config; readers load the current pointer per operation and never see a
// partially updated struct.
type Runtime struct {
	p atomic.Pointer[Config]
}

// NewRuntime wraps the boot configuration.
func NewRuntime(cfg *Config) *Runtime {
	r := &Runtime{}
	r.p.Store(cfg)
	return r
}

// Current returns the active snapshot. The returned Config must be treated as
// read-only.
func (r *Runtime) Current() *Config {
	return r.p.Load()
}

// Swap installs a new snapshot.
func (r *Runtime) Swap(cfg *Config) {
	r.p.Store(cfg)
}
