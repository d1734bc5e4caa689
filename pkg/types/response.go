// Package types holds the JSON envelopes every API response is wrapped in.
package types

// SuccessEnvelope carries a single resource or an ad-hoc result object.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// PageEnvelope wraps cursor-paginated list responses. NextCursor is empty on
// the last page.
type PageEnvelope struct {
	Data       any    `json:"data"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// APIError is the public face of a pkg/errors value. RequestID echoes the
// X-Request-Id so support can find the matching log line.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
