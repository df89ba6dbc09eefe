package schema

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"univera-backend/internal/catalog"
)

// FieldError describes one failed check on one field or rule.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

type compiledField struct {
	def    FieldDefinition
	coerce catalog.CoerceFunc
}

type compiledRule struct {
	def     RuleDefinition
	program *vm.Program
}

// Contract is the compiled, validated form of an EntitySchema. It is immutable
// after Compile; the registry swaps whole contracts so readers never see a
// half-updated field set.
type Contract struct {
	TenantID string
	Name     string
	Schema   *EntitySchema

	fields map[string]*compiledField
	order  []string
	rules  []compiledRule
}

// Compile resolves every field through the type catalog and compiles any
// expression rules. Any invalid name, unknown type token, bad default or
// malformed expression fails the whole compilation.
func Compile(s *EntitySchema) (*Contract, error) {
	if err := ValidEntityName(s.Name); err != nil {
		return nil, err
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("entity %s must declare at least one field", s.Name)
	}

	c := &Contract{
		TenantID: s.TenantID,
		Name:     s.Name,
		Schema:   s,
		fields:   make(map[string]*compiledField, len(s.Fields)),
	}

	for _, f := range s.Fields {
		if err := ValidFieldName(f.Name); err != nil {
			return nil, err
		}
		if _, dup := c.fields[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field name %q", f.Name)
		}
		coerce, ok := catalog.Lookup(f.Type)
		if !ok {
			return nil, fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
		if f.Default != nil {
			if _, err := coerce(f.Default); err != nil {
				return nil, fmt.Errorf("default for field %q: %v", f.Name, err)
			}
		}
		def := f
		c.fields[f.Name] = &compiledField{def: def, coerce: coerce}
		c.order = append(c.order, f.Name)
	}

	for _, r := range s.Rules {
		if r.Name == "" || r.Expression == "" {
			return nil, fmt.Errorf("rule must have a name and an expression")
		}
		program, err := expr.Compile(r.Expression, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("rule %q: %v", r.Name, err)
		}
		c.rules = append(c.rules, compiledRule{def: r, program: program})
	}

	return c, nil
}

// Field returns the definition for a declared field, or nil.
func (c *Contract) Field(name string) *FieldDefinition {
	cf, ok := c.fields[name]
	if !ok {
		return nil
	}
	return &cf.def
}

// FieldNames returns the declared field names in declaration order.
func (c *Contract) FieldNames() []string {
	return c.order
}

// UniqueFields returns the fields flagged unique.
func (c *Contract) UniqueFields() []FieldDefinition {
	var out []FieldDefinition
	for _, name := range c.order {
		if cf := c.fields[name]; cf.def.Unique {
			out = append(out, cf.def)
		}
	}
	return out
}

// Validate checks a document against the contract and returns the coerced
// document plus every failing field. Unknown keys are rejected (closed-world).
// With partial set, only the keys present are checked: defaults are not
// applied and absent required fields are not an error.
func (c *Contract) Validate(doc map[string]any, partial bool) (map[string]any, []FieldError) {
	var errs []FieldError
	out := make(map[string]any, len(c.fields))

	for key, raw := range doc {
		cf, ok := c.fields[key]
		if !ok {
			errs = append(errs, FieldError{
				Field:   key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unknown field: %s", key),
			})
			continue
		}
		if raw == nil {
			if cf.def.Required {
				errs = append(errs, FieldError{
					Field:   key,
					Rule:    "required",
					Message: fmt.Sprintf("Field %s is required and cannot be null", key),
				})
				continue
			}
			out[key] = nil
			continue
		}
		coerced, err := cf.coerce(raw)
		if err != nil {
			errs = append(errs, FieldError{
				Field:   key,
				Rule:    "type",
				Message: fmt.Sprintf("Field %s %v", key, err),
			})
			continue
		}
		out[key] = coerced
	}

	if !partial {
		for _, name := range c.order {
			cf := c.fields[name]
			if _, present := doc[name]; present {
				continue
			}
			if cf.def.Default != nil {
				def, _ := cf.coerce(cf.def.Default)
				out[name] = def
				continue
			}
			if cf.def.Required {
				errs = append(errs, FieldError{
					Field:   name,
					Rule:    "required",
					Message: fmt.Sprintf("Field %s is required", name),
				})
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// RevalidateMerged re-checks a merged stored document against the live
// contract. Only declared fields are checked; keys orphaned by a schema
// shrink stay in the document untouched.
func (c *Contract) RevalidateMerged(merged map[string]any) []FieldError {
	var errs []FieldError
	for _, name := range c.order {
		cf := c.fields[name]
		val, present := merged[name]
		if !present || val == nil {
			if cf.def.Required {
				errs = append(errs, FieldError{
					Field:   name,
					Rule:    "required",
					Message: fmt.Sprintf("Field %s is required", name),
				})
			}
			continue
		}
		if _, err := cf.coerce(val); err != nil {
			errs = append(errs, FieldError{
				Field:   name,
				Rule:    "type",
				Message: fmt.Sprintf("Field %s %v", name, err),
			})
		}
	}
	return errs
}

// CheckRules evaluates the schema's expression rules against the document.
// The environment exposes the candidate record, the prior stored document
// (empty on create) and the action name.
func (c *Contract) CheckRules(record, old map[string]any, action string) []FieldError {
	if len(c.rules) == 0 {
		return nil
	}
	if old == nil {
		old = map[string]any{}
	}
	env := map[string]any{
		"record": record,
		"old":    old,
		"action": action,
	}

	var errs []FieldError
	for _, r := range c.rules {
		result, err := expr.Run(r.program, env)
		if err != nil {
			errs = append(errs, FieldError{
				Rule:    r.def.Name,
				Message: fmt.Sprintf("Rule %s failed to evaluate: %v", r.def.Name, err),
			})
			continue
		}
		if ok, _ := result.(bool); !ok {
			msg := r.def.Message
			if msg == "" {
				msg = fmt.Sprintf("Rule %s failed", r.def.Name)
			}
			errs = append(errs, FieldError{Rule: r.def.Name, Message: msg})
		}
	}
	return errs
}

// CoerceQueryValue converts a string query parameter to the typed value for a
// declared field, for use in filter predicates.
func (c *Contract) CoerceQueryValue(field, val string) (any, error) {
	cf, ok := c.fields[field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", field)
	}
	switch cf.def.Type {
	case "integer", "float", "boolean":
		coerced, err := coerceQueryScalar(cf.def.Type, val)
		if err != nil {
			return nil, err
		}
		return coerced, nil
	default:
		return val, nil
	}
}
