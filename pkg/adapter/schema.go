package adapter

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
	"google.golang.org/genai"
)

// responseSchema is the JSON schema inferred from the Go type a structured call decodes into
type responseSchema struct {
	name     string
	schema   *jsonschema.Schema
	resolved *jsonschema.Resolved
}

// inferSchema builds the schema of the value pointed to by out
func inferSchema(out any) (*responseSchema, error) {
	rt := reflect.TypeOf(out)
	if rt == nil || rt.Kind() != reflect.Pointer {
		return nil, goerr.New("structured output target must be a pointer", goerr.V("type", rt))
	}

	schema, err := jsonschema.ForType(rt.Elem(), &jsonschema.ForOptions{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to infer schema", goerr.V("type", rt.Elem().String()))
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve schema", goerr.V("type", rt.Elem().String()))
	}

	return &responseSchema{
		name:     strings.ToLower(rt.Elem().Name()),
		schema:   schema,
		resolved: resolved,
	}, nil
}

// decode validates raw JSON text against the schema and stores it into out.
// Any mismatch is reported as model.ErrSchemaViolation.
func (s *responseSchema) decode(text string, out any) error {
	text = trimJSONFence(text)

	var instance any
	if err := json.Unmarshal([]byte(text), &instance); err != nil {
		return goerr.Wrap(model.ErrSchemaViolation.Wrap(err), "response is not JSON",
			goerr.V("response", text))
	}

	if err := s.resolved.Validate(instance); err != nil {
		return goerr.Wrap(model.ErrSchemaViolation.Wrap(err), "response failed schema validation",
			goerr.V("response", text))
	}

	if err := json.Unmarshal([]byte(text), out); err != nil {
		return goerr.Wrap(model.ErrSchemaViolation.Wrap(err), "failed to decode response",
			goerr.V("response", text))
	}
	return nil
}

// trimJSONFence strips a ```json fence some models wrap around JSON mode output
func trimJSONFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// convertJSONSchemaToGenai converts JSON Schema to Gemini genai.Schema
func convertJSONSchemaToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	if schema == nil {
		return nil, nil
	}

	genaiSchema := &genai.Schema{}

	typ := schema.Type
	if typ == "" {
		// nullable types are inferred as ["null", T]
		for _, t := range schema.Types {
			if t == "null" {
				genaiSchema.Nullable = genai.Ptr(true)
				continue
			}
			typ = t
		}
	}

	switch typ {
	case "object":
		genaiSchema.Type = genai.TypeObject
	case "string":
		genaiSchema.Type = genai.TypeString
	case "integer":
		genaiSchema.Type = genai.TypeInteger
	case "number":
		genaiSchema.Type = genai.TypeNumber
	case "boolean":
		genaiSchema.Type = genai.TypeBoolean
	case "array":
		genaiSchema.Type = genai.TypeArray
	default:
		if typ != "" {
			return nil, goerr.New("unsupported schema type", goerr.V("type", typ))
		}
	}

	genaiSchema.Description = schema.Description

	if len(schema.Enum) > 0 {
		genaiSchema.Enum = make([]string, 0, len(schema.Enum))
		for _, v := range schema.Enum {
			if s, ok := v.(string); ok {
				genaiSchema.Enum = append(genaiSchema.Enum, s)
			}
		}
	}

	if len(schema.Properties) > 0 {
		genaiSchema.Properties = make(map[string]*genai.Schema, len(schema.Properties))
		for name, propSchema := range schema.Properties {
			converted, err := convertJSONSchemaToGenai(propSchema)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to convert property schema",
					goerr.V("property", name))
			}
			genaiSchema.Properties[name] = converted
		}
	}

	genaiSchema.Required = schema.Required

	if schema.Items != nil {
		converted, err := convertJSONSchemaToGenai(schema.Items)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert items schema")
		}
		genaiSchema.Items = converted
	}

	return genaiSchema, nil
}
