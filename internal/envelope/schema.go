// Package envelope implements the typed data envelope that flows between pipeline
// stages: a tagged payload (JSON/Text/Binary/Empty) paired with an attached schema.
package envelope

// FieldType enumerates the recognized types a schema field can declare.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeFloat    FieldType = "float"
	TypeBoolean  FieldType = "boolean"
	TypeDateTime FieldType = "datetime"
	TypeBinary   FieldType = "binary"
	TypeArray    FieldType = "array"
	TypeObject   FieldType = "object"
	TypeUnknown  FieldType = "unknown"
	TypeMixed    FieldType = "mixed"
)

// ConstraintKind enumerates the recognized validation constraints on a field.
type ConstraintKind string

const (
	ConstraintMinValue  ConstraintKind = "min_value"
	ConstraintMaxValue  ConstraintKind = "max_value"
	ConstraintMinLength ConstraintKind = "min_length"
	ConstraintMaxLength ConstraintKind = "max_length"
	ConstraintPattern   ConstraintKind = "pattern"
	ConstraintOneOf     ConstraintKind = "one_of"
)

// Constraint is a single validation rule attached to a field.
type Constraint struct {
	Kind  ConstraintKind
	Value any
}

// FieldDescriptor describes one field of a schema.
type FieldDescriptor struct {
	Type        FieldType
	Nullable    bool
	MaxSize     *int
	Constraints []Constraint
	Description string
	Examples    []any

	// ElementType is set when Type == TypeArray; it describes the array's element type.
	ElementType *FieldDescriptor
	// Fields is set when Type == TypeObject; it maps nested field name to descriptor.
	Fields map[string]*FieldDescriptor
}

// Schema maps a top-level field name to its descriptor.
type Schema map[string]*FieldDescriptor

// NewSchema returns an empty schema.
func NewSchema() Schema {
	return Schema{}
}

// InferSchema builds a schema from a JSON value's first-level object fields.
// Non-object values (including arrays) produce an empty schema: inference only
// looks at the top level.
func InferSchema(value any) Schema {
	schema := NewSchema()
	obj, ok := value.(map[string]any)
	if !ok {
		return schema
	}
	for name, v := range obj {
		schema[name] = inferField(v)
	}
	return schema
}

func inferField(v any) *FieldDescriptor {
	switch val := v.(type) {
	case nil:
		return &FieldDescriptor{Type: TypeUnknown, Nullable: true}
	case string:
		return &FieldDescriptor{Type: TypeString}
	case bool:
		return &FieldDescriptor{Type: TypeBoolean}
	case float64:
		if val == float64(int64(val)) {
			return &FieldDescriptor{Type: TypeInteger}
		}
		return &FieldDescriptor{Type: TypeFloat}
	case int, int64:
		return &FieldDescriptor{Type: TypeInteger}
	case []any:
		var elem *FieldDescriptor
		if len(val) > 0 {
			elem = inferField(val[0])
		}
		return &FieldDescriptor{Type: TypeArray, ElementType: elem}
	case map[string]any:
		fields := make(map[string]*FieldDescriptor, len(val))
		for k, fv := range val {
			fields[k] = inferField(fv)
		}
		return &FieldDescriptor{Type: TypeObject, Fields: fields}
	default:
		return &FieldDescriptor{Type: TypeMixed}
	}
}
