// Package validate checks the operational binary's shard-config document
// against a JSON Schema before any layer is constructed from it, so a
// malformed config fails fast at startup rather than surfacing as a
// confusing dial error partway through boot.
//
// Repurposed from bus/go/internal/validator.ContractValidator, which
// loads *.schema.json files from a contracts directory and validates
// arbitrary messages against them by contract name. This binary only
// ever validates one document shape, so the schema is compiled once at
// package init from an embedded string rather than glob-loaded from
// disk — same compiler, same Draft 2020-12 validation call, narrower
// surface.
package validate

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// shardConfigSchemaJSON describes the on-disk JSON document cmd/relaybus
// reads to build a rediqueue or redispubsub Layer: which backend, the
// Redis hosts (direct or Sentinel), and optional capacity/encryption
// overrides.
const shardConfigSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "relaybus://shard-config.schema.json",
  "type": "object",
  "required": ["backend", "hosts"],
  "properties": {
    "backend": {
      "type": "string",
      "enum": ["rediqueue", "redispubsub"]
    },
    "alias": { "type": "string", "minLength": 1 },
    "expiry_seconds": { "type": "integer", "minimum": 1 },
    "group_expiry_seconds": { "type": "integer", "minimum": 1 },
    "capacity": { "type": "integer", "minimum": 1 },
    "symmetric_encryption_keys": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "hosts": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "properties": {
          "addr": { "type": "string", "minLength": 1 },
          "master_name": { "type": "string", "minLength": 1 },
          "sentinel_addrs": {
            "type": "array",
            "items": { "type": "string", "minLength": 1 }
          },
          "password": { "type": "string" },
          "db": { "type": "integer", "minimum": 0 },
          "pool_size": { "type": "integer", "minimum": 1 }
        },
        "oneOf": [
          { "required": ["addr"] },
          { "required": ["master_name", "sentinel_addrs"] }
        ]
      }
    }
  }
}`

var shardConfigSchema *jsonschema.Schema

func init() {
	var doc any
	if err := json.Unmarshal([]byte(shardConfigSchemaJSON), &doc); err != nil {
		panic(fmt.Sprintf("validate: embedded schema is invalid JSON: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("relaybus://shard-config.schema.json", doc); err != nil {
		panic(fmt.Sprintf("validate: embedded schema failed to load: %v", err))
	}
	schema, err := compiler.Compile("relaybus://shard-config.schema.json")
	if err != nil {
		panic(fmt.Sprintf("validate: embedded schema failed to compile: %v", err))
	}
	shardConfigSchema = schema
}

// ShardConfig validates raw, a parsed JSON document, against the
// shard-config schema. raw is typically the result of
// json.Unmarshal(data, &raw) into a map[string]interface{} or []interface{}
// — the same loosely-typed shape jsonschema validates against.
func ShardConfig(raw any) error {
	if err := shardConfigSchema.Validate(raw); err != nil {
		return fmt.Errorf("shard config: %w", err)
	}
	return nil
}

// ShardConfigBytes unmarshals data as JSON and validates it against the
// shard-config schema, returning the parsed document on success so the
// caller can decode it into a concrete struct without re-parsing.
func ShardConfigBytes(data []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("shard config: invalid JSON: %w", err)
	}
	if err := ShardConfig(doc); err != nil {
		return nil, err
	}
	return doc, nil
}
