package adapter

import (
	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"
)

func DecodeStructured(text string, out any) error {
	schema, err := inferSchema(out)
	if err != nil {
		return err
	}
	return schema.decode(text, out)
}

func ConvertJSONSchemaToGenai(schema *jsonschema.Schema) (*genai.Schema, error) {
	return convertJSONSchemaToGenai(schema)
}
