package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseArgs strictly decodes a tool's JSON arguments into v. An empty string
// is treated as an empty object.
func ParseArgs(args string, v any) error {
	if strings.TrimSpace(args) == "" {
		args = "{}"
	}
	dec := json.NewDecoder(strings.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewValidationError("INVALID_ARGUMENTS", fmt.Sprintf("failed to parse arguments: %v", err), nil)
	}
	return nil
}

// ForceArg returns args with key set to value, overriding whatever the model
// supplied. Keys that encoding/json would fold onto key are dropped as well.
func ForceArg(args, key string, value any) (string, error) {
	fields := map[string]json.RawMessage{}
	if strings.TrimSpace(args) != "" {
		if err := json.Unmarshal([]byte(args), &fields); err != nil {
			return "", NewValidationError("INVALID_ARGUMENTS", fmt.Sprintf("arguments are not a JSON object: %v", err), nil)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	for k := range fields {
		if strings.EqualFold(k, key) {
			delete(fields, k)
		}
	}
	fields[key] = raw
	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Schema builds a JSON Schema object from property definitions.
func Schema(properties map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// UsernameProperty is the schema entry every user-scoped tool declares.
func UsernameProperty() map[string]any {
	return map[string]any{
		"type":        "string",
		"description": "Acting user. Filled in automatically; do not supply it.",
	}
}
