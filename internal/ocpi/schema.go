package ocpi

import (
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

const requestEnvelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["module", "interfaceRole", "method", "headers"],
  "properties": {
    "module": {"type": "string", "minLength": 1},
    "customModule": {"type": "boolean"},
    "interfaceRole": {"enum": ["SENDER", "RECEIVER"]},
    "method": {"enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
    "headers": {
      "type": "object",
      "required": ["requestID", "correlationID", "sender", "receiver"],
      "properties": {
        "signature": {"type": "string"},
        "requestID": {"type": "string"},
        "correlationID": {"type": "string"},
        "sender": {"$ref": "#/$defs/role"},
        "receiver": {"$ref": "#/$defs/role"}
      }
    },
    "urlPath": {"type": "string"},
    "queries": {"type": "object", "additionalProperties": {"type": "string"}},
    "proxyUID": {"type": "string"},
    "proxyResource": {"type": "string"},
    "proxied": {"type": "boolean"}
  },
  "$defs": {
    "role": {
      "type": "object",
      "required": ["country_code", "party_id"],
      "properties": {
        "country_code": {"type": "string", "minLength": 2, "maxLength": 2},
        "party_id": {"type": "string", "minLength": 3, "maxLength": 3}
      }
    }
  }
}`

var compileEnvelopeSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	return compiler.Compile([]byte(requestEnvelopeSchema))
})

// ValidateEnvelope checks a node-to-node message body against the envelope
// schema before it is decoded.
func ValidateEnvelope(data []byte) error {
	schema, err := compileEnvelopeSchema()
	if err != nil {
		return fmt.Errorf("compile envelope schema: %w", err)
	}
	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("envelope schema validation failed: %v", result.Errors)
}
