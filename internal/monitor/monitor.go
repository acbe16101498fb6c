// Package monitor validates API request bodies against JSON schemas.
package monitor

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Names of the embedded request schemas.
const (
	SchemaCreatePaymentMethod = "create_payment_method"
	SchemaOperationRequest    = "operation_request"
)

// ContractMonitor validates incoming requests against a JSON schema.
type ContractMonitor struct {
	schema *gojsonschema.Schema
}

// NewContractMonitor compiles raw into a monitor.
func NewContractMonitor(raw []byte) (*ContractMonitor, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema: %w", err)
	}
	return &ContractMonitor{schema: schema}, nil
}

// Load returns a monitor for one of the embedded schemas.
func Load(name string) (*ContractMonitor, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	return NewContractMonitor(raw)
}

// MustLoad is Load for package-level wiring; it panics on error.
func MustLoad(name string) *ContractMonitor {
	cm, err := Load(name)
	if err != nil {
		panic(err)
	}
	return cm
}

// Validate validates the given request body against the loaded JSON schema.
// It returns true if valid, or false and a list of validation errors if invalid.
// Malformed JSON is reported through the error return.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, desc.String())
	}
	return false, errors, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
