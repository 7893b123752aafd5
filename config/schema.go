package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchema is the JSON Schema every loaded config document must
// satisfy before it is accepted: required account fields, a well-formed
// escalation predicate string on each catalog entry, and a handler_kind
// drawn from the two values the dispatcher understands.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "accounts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "imap_host", "imap_port", "imap_user"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "imap_host": {"type": "string", "minLength": 1},
          "imap_port": {"type": "integer", "minimum": 1, "maximum": 65535},
          "imap_user": {"type": "string", "minLength": 1}
        }
      }
    },
    "catalog": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "handler_kind"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "handler_kind": {"type": "string", "enum": ["agent", "workflow"]},
          "escalation": {
            "type": "string",
            "pattern": "^$|^\\{always\\}$|^\\{amount_gt:[0-9]+(\\.[0-9]+)?\\}$|^\\{keywords:\\[.*\\]\\}$"
          }
        }
      }
    }
  }
}`

var compiledSchema *jsonschema.Schema

func init() {
	var doc any
	if err := json.Unmarshal([]byte(documentSchema), &doc); err != nil {
		panic(fmt.Sprintf("config: embedded schema is not valid JSON: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("config.schema.json", doc); err != nil {
		panic(fmt.Sprintf("config: add schema resource: %v", err))
	}
	schema, err := c.Compile("config.schema.json")
	if err != nil {
		panic(fmt.Sprintf("config: compile embedded schema: %v", err))
	}
	compiledSchema = schema
}

// validate checks raw (the document's parsed-then-remarshaled JSON form)
// against documentSchema, catching malformed escalation predicates or
// missing required account fields at load time rather than at first use.
func validate(raw []byte) error {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("config: decode document for validation: %w", err)
	}
	if err := compiledSchema.Validate(instance); err != nil {
		return fmt.Errorf("config: document failed schema validation: %w", err)
	}
	return nil
}
