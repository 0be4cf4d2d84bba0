package model

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/orchd/errors"
)

// Document kinds with an embedded JSON Schema.
const (
	KindEvent    = "event"
	KindReaction = "reaction"
	KindSink     = "sink"
	KindSensor   = "sensor"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// SchemaKinds lists the kinds accepted by Schema and ValidateDocument.
func SchemaKinds() []string {
	kinds := []string{KindEvent, KindReaction, KindSink, KindSensor}
	sort.Strings(kinds)
	return kinds
}

// Schema returns the JSON Schema for a document kind.
func Schema(kind string) ([]byte, error) {
	b, err := schemaFS.ReadFile("schemas/" + kind + ".schema.json")
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: schema kind %q", errors.ErrNotFound, kind),
			"model", "Schema", "load schema")
	}
	return b, nil
}

// ValidateDocument checks a JSON document against the schema of kind.
func ValidateDocument(kind string, doc []byte) error {
	schema, err := Schema(kind)
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"model", "ValidateDocument", "load "+kind+" document")
	}

	if !result.Valid() {
		var b strings.Builder
		fmt.Fprintf(&b, "%s document does not match schema:", kind)
		for _, desc := range result.Errors() {
			fmt.Fprintf(&b, "\n  - %s: %s", desc.Field(), desc.Description())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidData, b.String()),
			"model", "ValidateDocument", "validate "+kind)
	}
	return nil
}
