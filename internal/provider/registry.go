package provider

import "sort"

// Registry holds the configured providers. It is built once at startup and
// not mutated afterwards.
type Registry struct {
	providers map[ProviderID]Config
}

// NewRegistry creates a registry from cfgs. A later entry with the same ID
// replaces an earlier one.
func NewRegistry(cfgs []Config) *Registry {
	r := &Registry{providers: make(map[ProviderID]Config, len(cfgs))}
	for _, c := range cfgs {
		r.providers[c.ID] = c
	}
	return r
}

// Has reports whether id is configured, regardless of credentials.
func (r *Registry) Has(id ProviderID) bool {
	_, ok := r.providers[id]
	return ok
}

// List returns all configured providers sorted by ID.
func (r *Registry) List() []Config {
	out := make([]Config, 0, len(r.providers))
	for _, c := range r.providers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the config for id. Unknown providers, unsupported shapes and
// missing credentials are reported as *ConfigError.
func (r *Registry) Lookup(id ProviderID) (Config, error) {
	c, ok := r.providers[id]
	if !ok {
		return Config{}, &ConfigError{Provider: id, Msg: "unknown provider"}
	}
	if _, ok := adapters[c.Shape]; !ok {
		return Config{}, &ConfigError{Provider: id, Msg: "unsupported shape " + string(c.Shape)}
	}
	if c.APIKey == "" {
		return Config{}, &ConfigError{Provider: id, Msg: "missing credential"}
	}
	return c, nil
}

// Model returns the configured model name for id, or "" if unknown.
func (r *Registry) Model(id ProviderID) string {
	return r.providers[id].Model
}
