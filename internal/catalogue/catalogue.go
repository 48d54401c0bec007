// Package catalogue defines the configurable set of collectible profile
// fields, grouped into blocks, and resolves the active field set for a
// session from caller-supplied context.
package catalogue

import (
	"fmt"
	"strings"

	"github.com/linqmd/voice-onboarding/internal/domain"
)

// FieldType determines how a field's value is normalized and validated.
type FieldType string

const (
	TypeText        FieldType = "text"
	TypeNumber      FieldType = "number"
	TypeEmail       FieldType = "email"
	TypePhone       FieldType = "phone"
	TypeSelect      FieldType = "select"
	TypeMultiSelect FieldType = "multi_select"
	TypeYear        FieldType = "year"
)

// Field is one collectible profile attribute.
type Field struct {
	Name        string
	DisplayName string
	Description string
	Type        FieldType
	Required    bool

	MinLength int
	MaxLength int
	MinValue  int
	MaxValue  int
	Options   []string

	// Question is the AI-facing prompt used when this field is asked for
	// directly, and re-used verbatim when extraction falls back.
	Question string
}

// Block is a named group of related fields, used for display and progress.
type Block struct {
	Number      int
	Name        string
	DisplayName string
	Fields      []Field
}

// Catalogue is the ordered field set for one onboarding flow.
type Catalogue struct {
	Blocks []Block
}

// Fields returns every field in catalogue order.
func (c *Catalogue) Fields() []Field {
	var out []Field
	for _, b := range c.Blocks {
		out = append(out, b.Fields...)
	}
	return out
}

// Lookup finds a field by name.
func (c *Catalogue) Lookup(name string) (Field, bool) {
	for _, b := range c.Blocks {
		for _, f := range b.Fields {
			if f.Name == name {
				return f, true
			}
		}
	}
	return Field{}, false
}

// Len returns the total field count.
func (c *Catalogue) Len() int {
	n := 0
	for _, b := range c.Blocks {
		n += len(b.Fields)
	}
	return n
}

// Default returns the built-in registration catalogue. Deployments override
// it through configuration or per-session caller context.
func Default() *Catalogue {
	return &Catalogue{
		Blocks: []Block{
			{
				Number:      1,
				Name:        "identity",
				DisplayName: "Professional Identity",
				Fields: []Field{
					{
						Name: "full_name", DisplayName: "Full Name", Type: TypeText,
						Required: true, MinLength: 2,
						Question: "Could you tell me your full name, including any title you use?",
					},
					{
						Name: "primary_specialization", DisplayName: "Specialization", Type: TypeText,
						Required: true, MinLength: 3,
						Question: "What is your primary specialization?",
					},
					{
						Name: "years_of_experience", DisplayName: "Years of Experience", Type: TypeNumber,
						Required: true, MinValue: 0, MaxValue: 70,
						Question: "How many years of experience do you have?",
					},
					{
						Name: "medical_registration_number", DisplayName: "Registration Number", Type: TypeText,
						Required: true, MinLength: 4,
						Question: "What is your medical registration number?",
					},
				},
			},
			{
				Number:      2,
				Name:        "contact",
				DisplayName: "Contact Details",
				Fields: []Field{
					{
						Name: "email", DisplayName: "Email Address", Type: TypeEmail,
						Required: true,
						Question: "What email address should we use to reach you?",
					},
					{
						Name: "phone", DisplayName: "Phone Number", Type: TypePhone,
						Required: true,
						Question: "What is your phone number?",
					},
					{
						Name: "languages", DisplayName: "Languages", Type: TypeMultiSelect,
						Required: false,
						Question: "Which languages do you consult in?",
					},
				},
			},
		},
	}
}

// Resolve computes the active catalogue for a session. With no caller
// context the default applies. Context entries overlay the base catalogue,
// they never replace it: a key matching a known field annotates that field
// in place (label, description, requiring an optional field), unknown keys
// are appended as an extra block of plain fields typed from their name. A
// context entry can make an optional field required but never relaxes a
// base requirement.
func Resolve(base *Catalogue, cctx *domain.Context) (*Catalogue, error) {
	if err := cctx.Validate(); err != nil {
		return nil, err
	}
	if cctx == nil || len(cctx.Fields) == 0 {
		return base, nil
	}

	overlays := make(map[string]domain.ContextField, len(cctx.Fields))
	for _, cf := range cctx.Fields {
		overlays[cf.Key] = cf
	}

	out := &Catalogue{Blocks: make([]Block, 0, len(base.Blocks)+1)}
	for _, b := range base.Blocks {
		nb := b
		nb.Fields = make([]Field, len(b.Fields))
		for i, f := range b.Fields {
			if cf, ok := overlays[f.Name]; ok {
				f.Required = f.Required || cf.Required
				if cf.Label != "" {
					f.DisplayName = cf.Label
				}
				if cf.Description != "" {
					f.Description = cf.Description
				}
				delete(overlays, f.Name)
			}
			nb.Fields[i] = f
		}
		out.Blocks = append(out.Blocks, nb)
	}

	extra := Block{Number: len(out.Blocks) + 1, Name: "context", DisplayName: "Additional Details"}
	for _, cf := range cctx.Fields {
		if _, pending := overlays[cf.Key]; !pending {
			continue
		}
		delete(overlays, cf.Key)
		label := cf.Label
		if label == "" {
			label = cf.Key
		}
		extra.Fields = append(extra.Fields, Field{
			Name:        cf.Key,
			DisplayName: label,
			Description: cf.Description,
			Type:        guessType(cf.Key),
			Required:    cf.Required,
			Question:    fmt.Sprintf("Could you tell me your %s?", strings.ToLower(label)),
		})
	}
	if len(extra.Fields) > 0 {
		out.Blocks = append(out.Blocks, extra)
	}
	return out, nil
}

// guessType infers a field type from a context key so normalization still
// applies to caller-defined fields.
func guessType(key string) FieldType {
	k := strings.ToLower(key)
	switch {
	case strings.Contains(k, "email"):
		return TypeEmail
	case strings.Contains(k, "phone"):
		return TypePhone
	case strings.Contains(k, "year"):
		return TypeNumber
	default:
		return TypeText
	}
}
