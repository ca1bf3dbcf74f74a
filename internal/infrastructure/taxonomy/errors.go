package taxonomy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kirillkom/trialmatch/internal/core/domain"
	"github.com/kirillkom/trialmatch/internal/infrastructure/resilience"
)

// StatusError is a non-success classification response with its derived
// user-facing message.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("categorize status %d: %s", e.StatusCode, e.Message)
}

func (e *StatusError) PublicMessage() string { return e.Message }

// ErrorMessage derives a readable message from an error body of the form
// {"detail": string | [{msg|message}] | object}.
func ErrorMessage(statusCode int, body []byte) string {
	trimmed := bytes.TrimSpace(body)
	fallback := fmt.Sprintf("Server returned %d", statusCode)

	var envelope map[string]json.RawMessage
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &envelope) == nil {
		detail, ok := envelope["detail"]
		if !ok || isJSONNull(detail) {
			detail = trimmed
		}
		if msg := formatDetail(detail); msg != "" {
			return msg
		}
		return fallback
	}
	if len(trimmed) > 0 && trimmed[0] == '[' && json.Valid(trimmed) {
		if msg := formatDetail(trimmed); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 0 {
		return string(body)
	}
	return fallback
}

func formatDetail(detail json.RawMessage) string {
	var text string
	if json.Unmarshal(detail, &text) == nil {
		return text
	}

	var items []json.RawMessage
	if json.Unmarshal(detail, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, item := range items {
			var entry struct {
				Msg     string `json:"msg"`
				Message string `json:"message"`
			}
			if json.Unmarshal(item, &entry) != nil {
				continue
			}
			switch {
			case entry.Msg != "":
				msgs = append(msgs, entry.Msg)
			case entry.Message != "":
				msgs = append(msgs, entry.Message)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, " | ")
		}
		return compactJSON(detail)
	}

	var object map[string]json.RawMessage
	if json.Unmarshal(detail, &object) == nil {
		return compactJSON(detail)
	}
	return "Unknown error"
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isJSONNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

func classifyTaxonomyError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{}
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests {
			return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
		}
		return resilience.ErrorClassification{}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return resilience.ErrorClassification{RecordFailure: true}
}

func toTaxonomyError(err error) error {
	const operation = "taxonomy.categorize"

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return domain.WrapError(domain.ErrUpstream, operation, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.NewPublicError(unreachableMessage, err)
	default:
		return domain.NewPublicError(unreachableMessage, domain.WrapError(domain.ErrTemporary, operation, err))
	}
}
