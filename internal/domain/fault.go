package domain

import "fmt"

// Kind classifies every failure produced by an external call or by the
// autopilot state machine. It is a closed set: callers switch on it to decide
// retry behavior and HTTP mapping, so new kinds must be added here, never
// invented ad hoc.
type Kind string

const (
	// KindConfig means required configuration was missing at construction time.
	KindConfig Kind = "config"
	// KindValidation means caller-supplied arguments were invalid.
	KindValidation Kind = "validation"
	// KindTimeout means the per-attempt timeout elapsed before a response.
	KindTimeout Kind = "timeout"
	// KindNetwork means the request never reached the upstream.
	KindNetwork Kind = "network"
	// KindClientHTTP is an upstream 4xx other than 429.
	KindClientHTTP Kind = "client_http"
	// KindServerHTTP is an upstream 429 or 5xx.
	KindServerHTTP Kind = "server_http"
	// KindUpstream means the call returned 200 but the upstream's own response
	// signals a logical failure (a GraphQL errors array, an unexpected shape).
	KindUpstream Kind = "upstream"
	// KindInternal is a programmer or logic error.
	KindInternal Kind = "internal"
)

// Retryable reports whether another attempt can plausibly succeed.
// Upstream application errors retry too; see the non-retryable-subset note
// in DESIGN.md.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindServerHTTP, KindUpstream:
		return true
	}
	return false
}

// Stable machine codes surfaced to callers alongside the human message.
const (
	CodeConfig           = "CONFIG_ERROR"
	CodeValidation       = "VALIDATION_ERROR"
	CodeTimeout          = "TIMEOUT_ERROR"
	CodeNetwork          = "NETWORK_ERROR"
	CodeGraphQLExecution = "GRAPHQL_EXECUTION_ERROR"
	CodeAllRetriesFailed = "ALL_RETRIES_FAILED"
	CodeCreateEvent      = "CREATE_EVENT_ERROR"
	CodeUpsertAutopilot  = "UPSERT_AUTOPILOT_ERROR"
	CodeDeleteDBRecord   = "DELETE_DB_RECORD_ERROR"
)

// Fault is the single error type that crosses component boundaries. Every
// caught lower-level error is translated into a Fault at the boundary where
// it is caught, preserving kind, code, message and any upstream details.
type Fault struct {
	Kind       Kind
	Code       string
	Message    string
	Details    any // e.g. the upstream response body or GraphQL error list
	HTTPStatus int // upstream status code when one was observed, else 0
}

func (f *Fault) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	return f.Message
}

func NewFault(kind Kind, code, message string) *Fault {
	return &Fault{Kind: kind, Code: code, Message: message}
}

func ConfigFault(message string) *Fault {
	return NewFault(KindConfig, CodeConfig, message)
}

func ValidationFault(message string) *Fault {
	return NewFault(KindValidation, CodeValidation, message)
}

func InternalFault(message string) *Fault {
	return NewFault(KindInternal, "", message)
}

// HTTPFault classifies an upstream HTTP status into client or server kind,
// keeping the response body as details.
func HTTPFault(status int, operation string, body any) *Fault {
	kind := KindClientHTTP
	if status >= 500 || status == 429 {
		kind = KindServerHTTP
	}
	return &Fault{
		Kind:       kind,
		Code:       fmt.Sprintf("HTTP_%d", status),
		Message:    fmt.Sprintf("HTTP error %d executing operation %q", status, operation),
		Details:    body,
		HTTPStatus: status,
	}
}

// FaultFrom returns err as a *Fault, wrapping anything else as internal.
func FaultFrom(err error) *Fault {
	if err == nil {
		return nil
	}
	if f, ok := err.(*Fault); ok {
		return f
	}
	return &Fault{Kind: KindInternal, Message: err.Error()}
}
