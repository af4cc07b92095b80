package types

// Person is everything loaded so far for one followed pubkey.
// Events are kept in arrival order; callers sort on read.
type Person struct {
	Pubkey   string                 `json:"pubkey"`
	Events   []Event                `json:"events"`
	Profile  map[string]interface{} `json:"profile,omitempty"`
	LastPost *Event                 `json:"last_post,omitempty"`
}

// HasProfile reports whether kind 0 metadata has been merged for this person.
func (p *Person) HasProfile() bool {
	return p != nil && p.Profile != nil
}

// DisplayName prefers display_name, then name, and falls back to the empty string.
func (p *Person) DisplayName() string {
	if p == nil || p.Profile == nil {
		return ""
	}
	for _, key := range []string{"display_name", "name"} {
		if s, ok := p.Profile[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
