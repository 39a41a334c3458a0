package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aatumaykin/xavier/internal/logger"
)

// ToolError is a structured failure that renders well for the model.
type ToolError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
}

func (e *ToolError) Error() string {
	return e.Message
}

// ToLLMContext renders the error with its code, suggestion and details.
func (e *ToolError) ToLLMContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (code: %s)", e.Message, e.Code)
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "; suggestion: %s", e.Suggestion)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s=%v", k, e.Details[k])
		}
	}
	return b.String()
}

func (e *ToolError) LogFields() []logger.Field {
	fields := []logger.Field{
		{Key: "error_code", Value: e.Code},
		{Key: "error_message", Value: e.Message},
	}
	if e.Suggestion != "" {
		fields = append(fields, logger.Field{Key: "error_suggestion", Value: e.Suggestion})
	}
	return fields
}

func NewNotFoundError(code, message, suggestion string) *ToolError {
	return &ToolError{Code: code, Message: message, Suggestion: suggestion}
}

func NewTimeoutError(code, message string) *ToolError {
	return &ToolError{Code: code, Message: message}
}

func NewValidationError(code, message string, details map[string]any) *ToolError {
	return &ToolError{Code: code, Message: message, Details: details}
}

func NewPermissionError(code, message string, details map[string]any) *ToolError {
	return &ToolError{Code: code, Message: message, Details: details}
}

// ErrorContent is the tool-role message body for a failed call.
func ErrorContent(err error) string {
	var te *ToolError
	if errors.As(err, &te) {
		return "error: " + te.ToLLMContext()
	}
	return "error: " + err.Error()
}
