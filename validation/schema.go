package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	x402 "github.com/nacorid/x402-go"
)

const definitions = `
  "definitions": {
    "address": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "uint": {
      "oneOf": [
        {"type": "string", "pattern": "^[0-9]{1,78}$"},
        {"type": "integer", "minimum": 0}
      ]
    }
  }`

// requirementsSchemaJSON describes the paymentRequirements object of a 402 body.
const requirementsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["scheme", "networkId", "maxAmountRequired", "payToAddress", "usdcAddress"],
  "properties": {
    "scheme": {"type": "string", "minLength": 1},
    "networkId": {"type": "string", "pattern": "^(eip155:)?[0-9]+$"},
    "maxAmountRequired": {"$ref": "#/definitions/uint"},
    "resource": {"type": "string"},
    "description": {"type": "string"},
    "mimeType": {"type": "string"},
    "payToAddress": {"$ref": "#/definitions/address"},
    "requiredDeadlineSeconds": {"type": "integer", "minimum": 0},
    "usdcAddress": {"$ref": "#/definitions/address"},
    "extra": {"type": ["object", "null"]}
  },` + definitions + `
}`

// payloadSchemaJSON describes the JSON document inside the X-PAYMENT header.
const payloadSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["x402Version", "scheme", "network", "payload"],
  "properties": {
    "x402Version": {"type": "integer"},
    "scheme": {"type": "string", "minLength": 1},
    "network": {"type": "string", "minLength": 1},
    "payload": {
      "type": "object",
      "required": ["signature", "params"],
      "properties": {
        "signature": {"type": "string", "pattern": "^0x[0-9a-fA-F]{130}$"},
        "params": {
          "type": "object",
          "required": ["from", "to", "value", "validAfter", "validBefore", "nonce", "chainId", "version", "contractAddress"],
          "properties": {
            "from": {"$ref": "#/definitions/address"},
            "to": {"$ref": "#/definitions/address"},
            "value": {"$ref": "#/definitions/uint"},
            "validAfter": {"$ref": "#/definitions/uint"},
            "validBefore": {"$ref": "#/definitions/uint"},
            "nonce": {"type": "string", "pattern": "^0x[0-9a-fA-F]{64}$"},
            "chainId": {"$ref": "#/definitions/uint"},
            "version": {"type": "string", "minLength": 1},
            "contractAddress": {"$ref": "#/definitions/address"}
          }
        }
      }
    }
  },` + definitions + `
}`

var (
	requirementsSchema = mustSchema(requirementsSchemaJSON)
	payloadSchema      = mustSchema(payloadSchemaJSON)
)

func mustSchema(source string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("validation: invalid built-in schema: %v", err))
	}
	return schema
}

// ValidateRequirementsDocument checks raw JSON against the payment requirements schema.
func ValidateRequirementsDocument(raw []byte) error {
	if err := validateDocument(requirementsSchema, raw); err != nil {
		return fmt.Errorf("%w: %w", x402.ErrInvalidRequirements, err)
	}
	return nil
}

// ValidatePayloadDocument checks raw JSON against the payment payload schema.
func ValidatePayloadDocument(raw []byte) error {
	return validateDocument(payloadSchema, raw)
}

func validateDocument(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", x402.ErrValidation, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", x402.ErrValidation, strings.Join(msgs, "; "))
}
