package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser returns a user-friendly error message.
// If debug is true, includes additional technical details.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	re, ok := err.(*RAGError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(re.Message)
	sb.WriteString("\n")

	if re.Remedy != "" {
		sb.WriteString("\nRemedy: ")
		sb.WriteString(re.Remedy)
		sb.WriteString("\n")
	}

	if debug {
		if re.Cause != nil {
			sb.WriteString(fmt.Sprintf("\nCause: %v\n", re.Cause))
		}
		for k, v := range re.Details {
			sb.WriteString(fmt.Sprintf("  %s: %s\n", k, v))
		}
	}

	sb.WriteString(fmt.Sprintf("\n[%s]", re.Code))

	return sb.String()
}

// FormatForCLI formats an error for CLI output.
// Uses a concise format suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	re, ok := err.(*RAGError)
	if !ok {
		re = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", re.Message))
	if re.Remedy != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", re.Remedy))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", re.Code))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Severity  string            `json:"severity"`
	Details   map[string]string `json:"details,omitempty"`
	Remedy    string            `json:"remedy,omitempty"`
	Cause     string            `json:"cause,omitempty"`
	Retryable bool              `json:"retryable"`
}

// FormatJSON returns the error as a JSON object for structured logs.
func FormatJSON(err error) string {
	if err == nil {
		return "{}"
	}

	re, ok := err.(*RAGError)
	if !ok {
		re = Wrap(ErrCodeInternal, err)
	}

	je := jsonError{
		Code:      re.Code,
		Message:   re.Message,
		Category:  string(re.Category),
		Severity:  string(re.Severity),
		Details:   re.Details,
		Remedy:    re.Remedy,
		Retryable: re.Retryable,
	}
	if re.Cause != nil {
		je.Cause = re.Cause.Error()
	}

	data, jerr := json.Marshal(je)
	if jerr != nil {
		return fmt.Sprintf(`{"code":%q,"message":"marshal failed"}`, re.Code)
	}
	return string(data)
}
