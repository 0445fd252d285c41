package llm

import (
	"reflect"

	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	DoNotReference: true,
	ExpandedStruct: true,
	Anonymous:      true,
}

// unnamed has no definition to expand, so anonymous structs are reflected
// without ExpandedStruct.
var unnamed = jsonschema.Reflector{
	DoNotReference: true,
	Anonymous:      true,
}

// SchemaFor reflects the JSON Schema of v's type, inlined with no $defs so
// that backends which reject references accept it.
func SchemaFor(v any) *jsonschema.Schema {
	r := &reflector
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		r = &unnamed
	}
	s := r.Reflect(v)
	s.Version = ""
	return s
}
