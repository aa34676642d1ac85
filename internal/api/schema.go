package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema validates raw response bodies before they are decoded. Schemas are
// reflected from the record types so the Go structs stay the single source
// of truth for the wire contract.
type Schema struct {
	name     string
	compiled *santhosh.Schema
}

var (
	healthSchema      = mustSchema[Health]("health")
	fileSchema        = mustSchema[FileRecord]("file")
	fileListSchema    = mustSchema[[]FileRecord]("file-list")
	uploadSchema      = mustSchema[UploadResult]("upload-result")
	threadsSchema     = mustSchema[ThreadsResponse]("threads")
	summarySchema     = mustSchema[Summary]("summary")
	summaryListSchema = mustSchema[[]Summary]("summary-list")
	taskStatusSchema  = mustSchema[TaskStatus]("task-status")
)

func mustSchema[T any](name string) *Schema {
	s, err := NewSchema[T](name)
	if err != nil {
		panic(err)
	}
	return s
}

// NewSchema reflects a JSON Schema from T and compiles it for validation.
func NewSchema[T any](name string) (*Schema, error) {
	reflector := jsonschema.Reflector{
		Anonymous:                 true,
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", name, err)
	}
	doc, err := santhosh.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", name, err)
	}
	location := "mem://reviewsync/" + name + ".json"
	compiler := santhosh.NewCompiler()
	if err := compiler.AddResource(location, doc); err != nil {
		return nil, fmt.Errorf("register %s schema: %w", name, err)
	}
	compiled, err := compiler.Compile(location)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

func (s *Schema) Name() string {
	return s.name
}

// Validate checks payload against the schema.
func (s *Schema) Validate(payload []byte) error {
	inst, err := santhosh.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return err
	}
	return s.compiled.Validate(inst)
}

// decodeValidated validates payload and only then decodes it into out.
func decodeValidated(path string, payload []byte, schema *Schema, out any) error {
	if err := schema.Validate(payload); err != nil {
		return &ValidationError{Path: path, Schema: schema.name, Err: err}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &ValidationError{Path: path, Schema: schema.name, Err: err}
	}
	return nil
}
