package schema

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

func generateSchema[T any]() any {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return r.Reflect(v)
}

// ModelRoast is the structured output requested from an inference backend.
type ModelRoast struct {
	Text     string `json:"text" jsonschema_description:"One roast line, at most two sentences, written in the voice of the current stage"`
	Category string `json:"category" jsonschema:"enum=appearance,enum=intelligence,enum=life_choices,enum=dating,enum=general" jsonschema_description:"Roast category that best fits the line"`
}

var ModelRoastSchema = generateSchema[ModelRoast]()

func ModelRoastResponseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "stage_roast",
		Description: openai.String("A single roast line in the chatbot's current stage voice"),
		Schema:      ModelRoastSchema,
		Strict:      openai.Bool(true),
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}
