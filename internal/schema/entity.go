package schema

import (
	"fmt"
	"regexp"
)

// EntitySchema is the tenant-scoped definition of a record shape. A later
// admin write with the same (tenant, name) replaces it wholesale.
type EntitySchema struct {
	TenantID string            `json:"tenant_id,omitempty"`
	Name     string            `json:"entity_name"`
	Fields   []FieldDefinition `json:"fields"`
	Rules    []RuleDefinition  `json:"rules,omitempty"`
}

type FieldDefinition struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Unique   bool   `json:"unique,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// RuleDefinition is an expression evaluated against the document on write.
// The expression sees `record`, `old` and `action` and must yield a boolean.
type RuleDefinition struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Message    string `json:"message,omitempty"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *EntitySchema) GetField(name string) *FieldDefinition {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the schema has a field with the given name.
func (e *EntitySchema) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names in declaration order.
func (e *EntitySchema) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

var identPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// reservedRoutes are URL segments owned by system endpoints; an entity with
// one of these names would shadow them once published.
var reservedRoutes = map[string]bool{
	"auth":    true,
	"schemas": true,
	"files":   true,
	"reports": true,
	"health":  true,
}

// reservedFieldNames are system columns merged into every returned record.
var reservedFieldNames = map[string]bool{
	"id":          true,
	"tenant_id":   true,
	"entity_name": true,
	"created_at":  true,
	"updated_at":  true,
}

// ValidEntityName reports whether name is a legal, non-reserved entity name.
func ValidEntityName(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("entity name %q must match %s", name, identPattern.String())
	}
	if reservedRoutes[name] {
		return fmt.Errorf("entity name %q collides with a system route", name)
	}
	return nil
}

// ValidFieldName reports whether name is a legal, non-reserved field name.
func ValidFieldName(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("field name %q must match %s", name, identPattern.String())
	}
	if reservedFieldNames[name] {
		return fmt.Errorf("field name %q collides with a system column", name)
	}
	return nil
}
