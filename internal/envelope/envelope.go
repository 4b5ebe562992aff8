// Package envelope encodes and decodes the JSON envelope exchanged with the
// remote peer over UDP.
//
// One datagram carries exactly one envelope:
//
//	{"op":"publish","topic":"/chatter","msg":{"data":"hello"},"type":"std_msgs/String"}
//
// Decoding never trusts the input. Bytes that are not JSON fail with
// ErrMalformedJSON; JSON that lacks one of the four required fields, or
// carries one with the wrong JSON type, fails with ErrMissingField.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// OpPublish is the only operation the bridge acts on.
	OpPublish = "publish"
	// TypeString is the only payload schema supported: a single string field.
	TypeString = "std_msgs/String"
)

var (
	ErrMalformedJSON = errors.New("malformed json")
	ErrMissingField  = errors.New("missing field")
)

// Envelope is a decoded wire message with every required field present.
type Envelope struct {
	Op      string
	Topic   string
	Type    string
	Payload Payload
}

// Payload is the body of a std_msgs/String message.
type Payload struct {
	Data string
}

// DecodeError describes why a datagram could not be decoded. Field is set
// for ErrMissingField and names the first absent or mistyped field.
type DecodeError struct {
	Kind  error
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%v %q: %v", e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%v %q", e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// wire mirrors the JSON layout. Struct field order fixes the encoded key order.
type wire struct {
	Op    string   `json:"op"`
	Topic string   `json:"topic"`
	Msg   wireData `json:"msg"`
	Type  string   `json:"type"`
}

type wireData struct {
	Data string `json:"data"`
}

// Encode builds a publish envelope for topic and typ carrying data and returns
// its compact JSON form without a trailing newline.
func Encode(topic, typ, data string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(wire{Op: OpPublish, Topic: topic, Msg: wireData{Data: data}, Type: typ}); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses one datagram into an Envelope.
func Decode(b []byte) (Envelope, error) {
	if !json.Valid(b) {
		return Envelope{}, &DecodeError{Kind: ErrMalformedJSON}
	}

	var root map[string]json.RawMessage
	if err := json.Unmarshal(b, &root); err != nil || root == nil {
		// Valid JSON that is not an object: nothing to find.
		return Envelope{}, &DecodeError{Kind: ErrMissingField, Field: "op", Err: err}
	}

	var env Envelope
	var err error
	if env.Op, err = stringField(root, "op", "op"); err != nil {
		return Envelope{}, err
	}
	if env.Topic, err = stringField(root, "topic", "topic"); err != nil {
		return Envelope{}, err
	}
	if env.Type, err = stringField(root, "type", "type"); err != nil {
		return Envelope{}, err
	}

	raw, ok := root["msg"]
	if !ok {
		return Envelope{}, &DecodeError{Kind: ErrMissingField, Field: "msg.data"}
	}
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg == nil {
		return Envelope{}, &DecodeError{Kind: ErrMissingField, Field: "msg.data", Err: err}
	}
	if env.Payload.Data, err = stringField(msg, "data", "msg.data"); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// stringField extracts a JSON string member. Null, numbers, objects and
// arrays all count as missing. label is the field path used in errors.
func stringField(obj map[string]json.RawMessage, name, label string) (string, error) {
	raw, ok := obj[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return "", &DecodeError{Kind: ErrMissingField, Field: label}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", &DecodeError{Kind: ErrMissingField, Field: label, Err: err}
	}
	return s, nil
}
