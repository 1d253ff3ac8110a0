package credential

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	dserrors "github.com/systmms/credstore/internal/errors"
)

// RecordSchema is the JSON schema every persisted row satisfies.
const RecordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["metadata", "value", "encryption"],
  "additionalProperties": false,
  "properties": {
    "metadata": {
      "type": "object",
      "required": ["valid_until", "exportable", "is_modifiable", "can_delete", "crypto_protection", "key_id", "extra"],
      "additionalProperties": false,
      "properties": {
        "valid_until": {
          "oneOf": [
            {"type": "string", "format": "date-time"},
            {"type": "null"}
          ]
        },
        "exportable": {"type": "boolean"},
        "is_modifiable": {"type": "boolean"},
        "can_delete": {"type": "boolean"},
        "crypto_protection": {"enum": ["Aes128Gcm", "HmacSha256", "NoEncryption"]},
        "key_id": {"type": "string"},
        "extra": {"type": "array", "items": {"type": "string"}}
      }
    },
    "value": {"type": "string"},
    "encryption": {"enum": ["Aes128Gcm", "HmacSha256", "NoEncryption", null]}
  }
}`

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(RecordSchema))
	})
	return schema, schemaErr
}

// ValidateJSON checks a serialized record against RecordSchema. Any mismatch
// is a serialization failure listing every violation.
func ValidateJSON(data []byte) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile record schema: %w", err)
	}

	result, err := s.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return dserrors.Wrap(dserrors.KindSerializationFailed, "validate json", "document is not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}

	var problems []string
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return dserrors.New(dserrors.KindSerializationFailed, "validate json",
		"record does not match schema: "+strings.Join(problems, "; "))
}
