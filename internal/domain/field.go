package domain

// FieldStatus is the per-field extraction record for a session.
//
// Invariants: Collected may only be true when Value is non-nil, and
// Confidence is meaningful only while Collected is true. Mutations go
// through the voice tracker; nothing else writes these.
type FieldStatus struct {
	Name              string  `json:"field_name"`
	DisplayName       string  `json:"display_name"`
	Value             any     `json:"value,omitempty"`
	Collected         bool    `json:"is_collected"`
	Confidence        float64 `json:"confidence"`
	NeedsConfirmation bool    `json:"needs_confirmation,omitempty"`
	Required          bool    `json:"required"`
}

// ContextField is one caller-supplied field descriptor: partial knowledge
// the caller already has about what should be collected.
type ContextField struct {
	Key         string `json:"key"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Context is the caller-supplied collection context: an ordered field list
// plus values already on file. Read-only input; values here are unverified
// hints for extraction and never mark a field collected on their own.
type Context struct {
	Fields []ContextField `json:"fields,omitempty"`
	Values map[string]any `json:"values,omitempty"`
}

// Validate checks structural requirements on a caller context.
func (c *Context) Validate() error {
	if c == nil {
		return nil
	}
	for _, f := range c.Fields {
		if f.Key == "" {
			return ErrMalformedContext
		}
	}
	return nil
}
