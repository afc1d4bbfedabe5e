package bifaci

import "fmt"

// Protocol version carried in every envelope header.
const ProtocolVersion uint8 = 1

// Kind is the envelope message kind.
type Kind uint8

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
	KindEvent    Kind = 3
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "REQUEST"
	case KindResponse:
		return "RESPONSE"
	case KindEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// Scope says who a message is addressed to: the runtime supervisor
// (manager) or one loaded command (extension).
type Scope uint8

const (
	ScopeManager   Scope = 1
	ScopeExtension Scope = 2
)

// String returns the scope name
func (s Scope) String() string {
	switch s {
	case ScopeManager:
		return "manager"
	case ScopeExtension:
		return "extension"
	default:
		return fmt.Sprintf("scope(%d)", s)
	}
}

// ErrorPayload is the structured error carried by a failed response.
type ErrorPayload struct {
	Code    string
	Message string
}

// Envelope is the unit of wire communication.
//
// Payload holds a pointer to one of the catalogue types in payload.go; which
// one is determined by (Kind, Action). A response carries either Payload or
// Error.
type Envelope struct {
	Version   uint8
	Kind      Kind
	Scope     Scope
	SessionID string // empty for manager-scoped messages
	RequestID string // set on requests and responses
	Action    string
	Payload   any
	Error     *ErrorPayload
}

// NewRequest creates a request envelope
func NewRequest(scope Scope, sessionID, requestID string, payload Payload) *Envelope {
	return &Envelope{
		Version:   ProtocolVersion,
		Kind:      KindRequest,
		Scope:     scope,
		SessionID: sessionID,
		RequestID: requestID,
		Action:    payload.Action(),
		Payload:   payload,
	}
}

// NewEvent creates a one-way event envelope
func NewEvent(scope Scope, sessionID string, payload Payload) *Envelope {
	return &Envelope{
		Version:   ProtocolVersion,
		Kind:      KindEvent,
		Scope:     scope,
		SessionID: sessionID,
		Action:    payload.Action(),
		Payload:   payload,
	}
}

// NewResponse creates a successful response to req. The response echoes the
// request's scope, session, id and action so the receiver can decode the body.
func NewResponse(req *Envelope, payload any) *Envelope {
	return &Envelope{
		Version:   ProtocolVersion,
		Kind:      KindResponse,
		Scope:     req.Scope,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Action:    req.Action,
		Payload:   payload,
	}
}

// NewErrorResponse creates a failed response to req.
func NewErrorResponse(req *Envelope, code, message string) *Envelope {
	return &Envelope{
		Version:   ProtocolVersion,
		Kind:      KindResponse,
		Scope:     req.Scope,
		SessionID: req.SessionID,
		RequestID: req.RequestID,
		Action:    req.Action,
		Error:     &ErrorPayload{Code: code, Message: message},
	}
}

// IsError reports whether this is a failed response.
func (e *Envelope) IsError() bool {
	return e.Kind == KindResponse && e.Error != nil
}

// String returns a short description for logs.
func (e *Envelope) String() string {
	s := fmt.Sprintf("%s %s %s", e.Scope, e.Kind, e.Action)
	if e.SessionID != "" {
		s += " session=" + e.SessionID
	}
	if e.RequestID != "" {
		s += " id=" + e.RequestID
	}
	return s
}
