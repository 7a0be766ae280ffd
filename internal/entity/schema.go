package entity

import "fmt"

// PropertyDef declares one schema-validated field an Entity exposes.
type PropertyDef struct {
	Name      string
	TypeTag   string // a primitive tag ("string", "number", "boolean", ...) or a class name tested via IsA
	Persist   bool   // included in Serialize
	Replicate bool   // eligible for replication bridging
}

// ClassChecker is implemented by bound objects whose runtime type tag
// is "object" — schema validation asks the value itself whether it
// satisfies the declared class name instead of comparing tags
// directly.
type ClassChecker interface {
	IsA(className string) bool
}

// Schema is an immutable set of property definitions an Entity
// validates reads and writes against.
type Schema struct {
	props map[string]PropertyDef
	order []string
}

// NewSchema builds a Schema from the given property definitions.
func NewSchema(defs ...PropertyDef) *Schema {
	s := &Schema{props: make(map[string]PropertyDef, len(defs))}
	for _, d := range defs {
		s.props[d.Name] = d
		s.order = append(s.order, d.Name)
	}
	return s
}

// Has reports whether name is declared.
func (s *Schema) Has(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.props[name]
	return ok
}

// Lookup returns the declared PropertyDef for name.
func (s *Schema) Lookup(name string) (PropertyDef, bool) {
	if s == nil {
		return PropertyDef{}, false
	}
	d, ok := s.props[name]
	return d, ok
}

// Properties returns the schema's property definitions in
// declaration order.
func (s *Schema) Properties() []PropertyDef {
	if s == nil {
		return nil
	}
	out := make([]PropertyDef, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.props[name])
	}
	return out
}

// runtimeTypeTag classifies a value the way the schema validator
// expects: primitives get a short tag, anything implementing
// ClassChecker is tagged "object" so its IsA method decides the rest.
func runtimeTypeTag(v any) string {
	if v == nil {
		return "nil"
	}
	if _, ok := v.(ClassChecker); ok {
		return "object"
	}
	switch v.(type) {
	case bool:
		return "boolean"
	case string:
		return "string"
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// Validate checks value against name's declared property, per the
// runtime-type-tag rule: primitives compare tags directly; values
// whose runtime tag is "object" defer to ClassChecker.IsA.
func (s *Schema) Validate(name string, value any) error {
	def, ok := s.Lookup(name)
	if !ok {
		return fmt.Errorf("entity: write to undeclared property %q rejected", name)
	}
	tag := runtimeTypeTag(value)
	if tag == "object" {
		checker := value.(ClassChecker)
		if !checker.IsA(def.TypeTag) {
			return fmt.Errorf("entity: property %q expects class %q, value is not a %q", name, def.TypeTag, def.TypeTag)
		}
		return nil
	}
	if tag != def.TypeTag {
		return fmt.Errorf("entity: property %q expects type %q, got %q", name, def.TypeTag, tag)
	}
	return nil
}
