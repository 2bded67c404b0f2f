package llmrelay

// ProviderRef identifies one upstream provider candidate for selection.
// The dispatcher owns the list; this core only reads it. Names are assumed
// unique across the list.
type ProviderRef struct {
	// Stable numeric identifier. Among equal effective priorities, the
	// higher id wins during selection.
	Id int64 `yaml:"id" json:"id"`

	// Provider name, e.g. "openai" or "claude". This is the key under which
	// health history is tracked.
	Name string `yaml:"name" json:"name"`

	// Base priority configured by the operator. Higher is preferred.
	// The health tracker's adjustment is added on top of this.
	Priority int `yaml:"priority" json:"priority"`
}

// FindProvider returns the first provider in the list with the given name,
// or nil if absent.
func FindProvider(providers []ProviderRef, name string) *ProviderRef {
	for i := range providers {
		if providers[i].Name == name {
			return &providers[i]
		}
	}
	return nil
}
