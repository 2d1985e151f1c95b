package validation

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/cascade/pkg/schema"
)

// submissionSchemaJSON is the JSON Schema for workflow submissions.
// Embedded as a constant to avoid filesystem dependencies.
const submissionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cascade.dev/schemas/submission.json",
  "type": "object",
  "required": ["name", "nodes"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "handler"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "handler": {
          "type": "string",
          "minLength": 1
        },
        "dependencies": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "config": {
          "type": "object"
        }
      },
      "additionalProperties": false
    }
  }
}`

// SubmissionValidator checks raw workflow submissions against the embedded
// JSON Schema (Draft 2020-12) before they are parsed into the data model.
// Safe for concurrent use; the schema is compiled once.
type SubmissionValidator struct {
	once     sync.Once
	compiled *jsonschema.Schema
	initErr  error
}

// NewSubmissionValidator creates a validator with a lazily compiled schema.
func NewSubmissionValidator() *SubmissionValidator {
	return &SubmissionValidator{}
}

func (v *SubmissionValidator) compile() {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(submissionSchemaJSON))
	if err != nil {
		v.initErr = schema.NewError(schema.ErrCodeStore, "parse embedded submission schema").WithCause(err)
		return
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("submission.json", doc); err != nil {
		v.initErr = schema.NewError(schema.ErrCodeStore, "register embedded submission schema").WithCause(err)
		return
	}
	v.compiled, v.initErr = compiler.Compile("submission.json")
}

// ValidateSubmission checks the raw submission body structurally. A schema
// violation is a VALIDATION_ERROR carrying the violation message; the DAG
// integrity checks (CheckDAG) still run afterwards on the parsed nodes.
func (v *SubmissionValidator) ValidateSubmission(raw []byte) error {
	v.once.Do(v.compile)
	if v.initErr != nil {
		return v.initErr
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "submission is not valid JSON: %s", err.Error()).WithCause(err)
	}
	if err := v.compiled.Validate(inst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "submission schema violation: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ParseSubmission validates and unmarshals a raw submission into its name
// and node list.
func (v *SubmissionValidator) ParseSubmission(raw []byte) (string, []schema.DAGNode, error) {
	if err := v.ValidateSubmission(raw); err != nil {
		return "", nil, err
	}

	var body struct {
		Name  string           `json:"name"`
		Nodes []schema.DAGNode `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", nil, schema.NewErrorf(schema.ErrCodeValidation, "decode submission: %s", err.Error()).WithCause(err)
	}
	return body.Name, body.Nodes, nil
}
