package bifaci

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys of the envelope header
const (
	keyVersion    = 0 // version (u8)
	keyKind       = 1 // kind (u8)
	keyScope      = 2 // scope (u8)
	keySessionId  = 3 // session_id (tstr, optional)
	keyRequestId  = 4 // request_id (tstr, required for REQUEST/RESPONSE)
	keyAction     = 5 // action (tstr)
	keyPayload    = 6 // payload (bstr holding a CBOR-encoded body, optional)
	keyErrCode    = 7 // error code (tstr, failed RESPONSE only)
	keyErrMessage = 8 // error message (tstr, failed RESPONSE only)
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: sorted map keys, shortest integer forms.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bifaci: cbor enc mode: %v", err))
	}
	// Untyped maps inside bodies (render props, handler args) decode with
	// string keys instead of map[interface{}]interface{}.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("bifaci: cbor dec mode: %v", err))
	}
}

// Marshal encodes v with the protocol's deterministic encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v with the protocol's decoding options.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeEnvelope encodes an Envelope to CBOR bytes using integer keys
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	if env.Action == "" {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: "envelope has no action"}
	}
	if (env.Kind == KindRequest || env.Kind == KindResponse) && env.RequestID == "" {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("%s envelope has no request id", env.Kind)}
	}

	m := make(map[int]interface{})

	// 0: version
	m[keyVersion] = ProtocolVersion

	// 1: kind
	m[keyKind] = uint8(env.Kind)

	// 2: scope
	m[keyScope] = uint8(env.Scope)

	// 3: session_id (optional)
	if env.SessionID != "" {
		m[keySessionId] = env.SessionID
	}

	// 4: request_id (optional)
	if env.RequestID != "" {
		m[keyRequestId] = env.RequestID
	}

	// 5: action
	m[keyAction] = env.Action

	// 6: payload (optional)
	if env.Payload != nil {
		body, err := encMode.Marshal(env.Payload)
		if err != nil {
			return nil, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("encode %s body: %v", env.Action, err)}
		}
		m[keyPayload] = body
	}

	// 7-8: error (optional)
	if env.Error != nil {
		m[keyErrCode] = env.Error.Code
		m[keyErrMessage] = env.Error.Message
	}

	return encMode.Marshal(m)
}

// DecodeEnvelope decodes CBOR bytes to an Envelope.
//
// An action missing from the catalogue is not a framing failure: the header
// is returned alongside an error matching ErrUnknownAction so the caller can
// log it and drop the message.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var m map[int]interface{}
	if err := decMode.Unmarshal(data, &m); err != nil {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: err.Error()}
	}

	env := &Envelope{}

	// 0: version (required - must be ProtocolVersion)
	ver, err := requireUint(m, keyVersion, "version")
	if err != nil {
		return nil, err
	}
	if uint8(ver) != ProtocolVersion {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("invalid version %d, expected %d", ver, ProtocolVersion)}
	}
	env.Version = uint8(ver)

	// 1: kind (required)
	kind, err := requireUint(m, keyKind, "kind")
	if err != nil {
		return nil, err
	}
	env.Kind = Kind(kind)
	if env.Kind < KindRequest || env.Kind > KindEvent {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("invalid kind %d", kind)}
	}

	// 2: scope (required)
	scope, err := requireUint(m, keyScope, "scope")
	if err != nil {
		return nil, err
	}
	env.Scope = Scope(scope)
	if env.Scope != ScopeManager && env.Scope != ScopeExtension {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("invalid scope %d", scope)}
	}

	// 3: session_id (optional)
	if env.SessionID, err = optionalString(m, keySessionId, "session_id"); err != nil {
		return nil, err
	}

	// 4: request_id (required for REQUEST and RESPONSE)
	if env.RequestID, err = optionalString(m, keyRequestId, "request_id"); err != nil {
		return nil, err
	}
	if env.RequestID == "" && env.Kind != KindEvent {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("%s missing request_id (key 4)", env.Kind)}
	}

	// 5: action (required)
	if env.Action, err = optionalString(m, keyAction, "action"); err != nil {
		return nil, err
	}
	if env.Action == "" {
		return nil, &BusError{Type: BusErrorTypeCodec, Message: "missing action (key 5)"}
	}

	// 7-8: error (optional)
	if _, ok := m[keyErrCode]; ok {
		code, err := optionalString(m, keyErrCode, "error code")
		if err != nil {
			return nil, err
		}
		msg, err := optionalString(m, keyErrMessage, "error message")
		if err != nil {
			return nil, err
		}
		env.Error = &ErrorPayload{Code: code, Message: msg}
	}

	// 6: payload (optional, typed by kind + action)
	body := newPayload(env.Kind, env.Action)
	if body == nil {
		return env, &BusError{Type: BusErrorTypeUnknownAction, Message: env.Action}
	}
	if raw, ok := m[keyPayload]; ok {
		bytes, ok := raw.([]byte)
		if !ok {
			return nil, &BusError{Type: BusErrorTypeCodec, Message: "payload must be bytes"}
		}
		if err := decMode.Unmarshal(bytes, body); err != nil {
			return nil, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("decode %s body: %v", env.Action, err)}
		}
		env.Payload = body
	} else if env.Error == nil {
		// Bodies with no fields may be omitted by the peer.
		env.Payload = body
	}

	return env, nil
}

func requireUint(m map[int]interface{}, key int, name string) (uint64, error) {
	v, ok := m[key]
	if !ok {
		return 0, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("missing %s (key %d)", name, key)}
	}
	u, ok := v.(uint64)
	if !ok {
		return 0, &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("%s must be uint", name)}
	}
	return u, nil
}

func optionalString(m map[int]interface{}, key int, name string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &BusError{Type: BusErrorTypeCodec, Message: fmt.Sprintf("%s must be text", name)}
	}
	return s, nil
}

// IsUnknownAction reports whether err came from decoding an action that is
// not in the catalogue.
func IsUnknownAction(err error) bool {
	return errors.Is(err, ErrUnknownAction)
}
