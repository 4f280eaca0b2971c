package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema reflects a JSON Schema from the given Go value for use as
// a structured output format. Additional properties are disallowed and the
// schema is inlined without $ref indirection, which is what the model
// endpoints expect.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflector.Reflect(reflect.New(t).Interface())
}

// UnmarshalFlexible parses model output that is supposed to be JSON but
// often is not quite: it tries a strict parse first, then unwraps
// double-encoded JSON strings, then repairs the remaining syntax damage
// (trailing commas, missing brackets, a doubled opening brace) before
// giving up.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if json.Unmarshal([]byte(input), out) == nil {
		return nil
	}

	var quoted string
	if json.Unmarshal([]byte(input), &quoted) == nil {
		quoted = strings.TrimSpace(quoted)
		if json.Unmarshal([]byte(quoted), out) == nil {
			return nil
		}
		input = quoted
	}

	input = trimDoubledBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}
	if json.Unmarshal([]byte(repaired), out) == nil {
		return nil
	}
	return fmt.Errorf("unmarshal failed after repair: input=%s repaired=%s", input, repaired)
}

// Some models emit "{{" at the start of an object.
func trimDoubledBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}
