package session

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// TranscriptSchema is the JSON schema of the messages column and of exported session documents.
const TranscriptSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["role", "content"],
    "properties": {
      "role": {"type": "string", "enum": ["system", "user", "assistant"]},
      "content": {"type": "string", "minLength": 1}
    }
  }
}`

var transcriptSchema = mustCompileSchema(TranscriptSchema)

func mustCompileSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("session: invalid transcript schema: %v", err))
	}
	return schema
}

func validateTranscriptJSON(data []byte) error {
	result, err := transcriptSchema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedTranscript, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrMalformedTranscript, strings.Join(msgs, "; "))
	}
	return nil
}
