package toolgate

import "sort"

// SchemaKind tags a ParamSchema variant.
type SchemaKind string

const (
	KindString  SchemaKind = "string"
	KindNumber  SchemaKind = "number"
	KindBoolean SchemaKind = "boolean"
	KindArray   SchemaKind = "array"
	KindEnum    SchemaKind = "enum"
	KindObject  SchemaKind = "object"
	KindRecord  SchemaKind = "record"
)

// ParamSchema is a closed tagged-variant description of one tool parameter.
// Tools declare their parameters in terms of this type; the transport
// projects it to JSON Schema for discovery and argument validation.
type ParamSchema struct {
	Kind        SchemaKind
	Description string

	// Elem is the element schema when Kind is KindArray.
	Elem *ParamSchema
	// Values are the accepted literals when Kind is KindEnum.
	Values []string
	// Fields are the nested properties when Kind is KindObject.
	Fields map[string]ParamSchema

	// Optional and Default both exclude the parameter from the required
	// list. A non-nil Default is also surfaced in the projected schema.
	Optional bool
	Default  interface{}
}

// StringParam declares a string parameter.
func StringParam() ParamSchema { return ParamSchema{Kind: KindString} }

// NumberParam declares a numeric parameter.
func NumberParam() ParamSchema { return ParamSchema{Kind: KindNumber} }

// BoolParam declares a boolean parameter.
func BoolParam() ParamSchema { return ParamSchema{Kind: KindBoolean} }

// ArrayOf declares an array parameter with the given element schema.
func ArrayOf(elem ParamSchema) ParamSchema {
	return ParamSchema{Kind: KindArray, Elem: &elem}
}

// EnumOf declares a string parameter restricted to the given literals.
func EnumOf(values ...string) ParamSchema {
	return ParamSchema{Kind: KindEnum, Values: values}
}

// ObjectOf declares a nested object parameter.
func ObjectOf(fields map[string]ParamSchema) ParamSchema {
	return ParamSchema{Kind: KindObject, Fields: fields}
}

// RecordParam declares an object parameter with dynamic keys.
func RecordParam() ParamSchema { return ParamSchema{Kind: KindRecord} }

// AsOptional marks the parameter as not required.
func (p ParamSchema) AsOptional() ParamSchema {
	p.Optional = true
	return p
}

// WithDefault attaches a default value; a defaulted parameter is not required.
func (p ParamSchema) WithDefault(v interface{}) ParamSchema {
	p.Default = v
	return p
}

// WithDescription attaches a human-readable description.
func (p ParamSchema) WithDescription(d string) ParamSchema {
	p.Description = d
	return p
}

// JSONSchema is the dialect-neutral JSON Schema fragment produced for
// discovery via tools/list.
type JSONSchema struct {
	Type                 string                 `json:"type,omitempty"`
	Description          string                 `json:"description,omitempty"`
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	Items                *JSONSchema            `json:"items,omitempty"`
	Enum                 []string               `json:"enum,omitempty"`
	Default              interface{}            `json:"default,omitempty"`
	AdditionalProperties bool                   `json:"additionalProperties,omitempty"`
}

// maxSchemaDepth bounds projection recursion so that a cyclic or absurdly
// nested declaration degrades instead of overflowing the stack.
const maxSchemaDepth = 32

// ProjectSchema converts a tool's declared parameter map into a JSON Schema
// object. It never fails: unrecognized or malformed nodes degrade to a string
// schema so that one bad field can never block discovery.
func ProjectSchema(fields map[string]ParamSchema) *JSONSchema {
	out := emptyObjectSchema()
	if len(fields) == 0 {
		return out
	}

	for name, field := range fields {
		out.Properties[name] = projectNode(field, 0)
		if !field.Optional && field.Default == nil {
			out.Required = append(out.Required, name)
		}
	}
	sort.Strings(out.Required)
	return out
}

// emptyObjectSchema is the fallback for tools with no (or a malformed)
// declared schema.
func emptyObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       "object",
		Properties: map[string]*JSONSchema{},
	}
}

func projectNode(p ParamSchema, depth int) *JSONSchema {
	if depth > maxSchemaDepth {
		return &JSONSchema{Type: "string", Description: p.Description}
	}

	out := &JSONSchema{Description: p.Description, Default: p.Default}
	switch p.Kind {
	case KindString:
		out.Type = "string"
	case KindNumber:
		out.Type = "number"
	case KindBoolean:
		out.Type = "boolean"
	case KindArray:
		out.Type = "array"
		if p.Elem == nil {
			out.Items = &JSONSchema{Type: "string"}
		} else {
			out.Items = projectNode(*p.Elem, depth+1)
		}
	case KindEnum:
		out.Type = "string"
		if len(p.Values) > 0 {
			out.Enum = append([]string(nil), p.Values...)
		}
	case KindObject:
		out.Type = "object"
		out.Properties = map[string]*JSONSchema{}
		for name, field := range p.Fields {
			out.Properties[name] = projectNode(field, depth+1)
			if !field.Optional && field.Default == nil {
				out.Required = append(out.Required, name)
			}
		}
		sort.Strings(out.Required)
	case KindRecord:
		out.Type = "object"
		out.AdditionalProperties = true
	default:
		// Unknown variant, degrade rather than fail discovery.
		out.Type = "string"
	}
	return out
}
