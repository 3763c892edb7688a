// Package errcode implements the registry's error catalog: every wire
// error code in spec.md §7 is registered once here with its HTTP status,
// message, and description, following distribution's errcode toolkit
// (Register/ErrorDescriptor/Errors envelope).
package errcode

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode represents the error type. The errors are serialized via this
// code, so that a client can understand without matching the message.
type ErrorCode int

var (
	idToDescriptors = map[string]ErrorDescriptor{}
	codeToDescriptors = map[ErrorCode]ErrorDescriptor{}
	nextCode          = 1000
)

// ErrorDescriptor provides relevant information about a given error code.
type ErrorDescriptor struct {
	// Code is the error code that this descriptor describes.
	Code ErrorCode
	// Value provides a unique, string key, often capitalized with
	// underscores, to identify the error code. This value is used as the
	// keyword for encoding/decoding from the wire format.
	Value string
	// Message is a short, human readable description of the error
	// condition, suitable for the error's Message field.
	Message string
	// Description provides a complete account of the errors purpose,
	// suitable for use in documentation.
	Description string
	// HTTPStatusCode provides the http status code that is associated with
	// this error condition.
	HTTPStatusCode int
}

// ParseErrorCode returns the value of the ErrorDescriptor.Code by name.
func ParseErrorCode(value string) ErrorCode {
	if desc, ok := idToDescriptors[value]; ok {
		return desc.Code
	}
	return ErrorCodeUnknown
}

// Descriptor returns the descriptor for the error code.
func (ec ErrorCode) Descriptor() ErrorDescriptor {
	d, ok := codeToDescriptors[ec]
	if !ok {
		return codeToDescriptors[ErrorCodeUnknown]
	}
	return d
}

// String returns the canonical identifier, e.g. "BLOB_UNKNOWN".
func (ec ErrorCode) String() string {
	return ec.Descriptor().Value
}

// Message returns the human readable message for the error code.
func (ec ErrorCode) Message() string {
	return ec.Descriptor().Message
}

// MarshalText encodes the receiver into UTF-8-encoded text and returns
// the result, implementing encoding.TextMarshaler.
func (ec ErrorCode) MarshalText() ([]byte, error) {
	return []byte(ec.String()), nil
}

// UnmarshalText decodes the text into the receiver, implementing
// encoding.TextUnmarshaler.
func (ec *ErrorCode) UnmarshalText(text []byte) error {
	*ec = ParseErrorCode(string(text))
	return nil
}

// Error returns the error message for the code.
func (ec ErrorCode) Error() string {
	return ec.Message()
}

// WithMessage creates a new Error struct based on the passed-in info,
// replacing the message with the provided string.
func (ec ErrorCode) WithMessage(message string) Error {
	return Error{Code: ec, Message: message}
}

// WithDetail creates a new Error struct based on the passed-in info, with
// the Detail field populated.
func (ec ErrorCode) WithDetail(detail any) Error {
	return Error{Code: ec, Message: ec.Message(), Detail: detail}
}

// Error provides a wrapper around ErrorCode with extra Details provided.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Detail  any       `json:"detail,omitempty"`
}

// ErrorCoder is implemented by error types that carry an ErrorCode.
type ErrorCoder interface {
	ErrorCode() ErrorCode
}

// ErrorCode returns the receiver itself, so a bare ErrorCode value
// satisfies ErrorCoder the same way a wrapping Error does.
func (ec ErrorCode) ErrorCode() ErrorCode {
	return ec
}

// ErrorCode returns the ID/Value of this Error.
func (e Error) ErrorCode() ErrorCode {
	return e.Code
}

// Error returns a human readable representation of the error.
func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Message)
}

// Errors provides the envelope for multiple errors and is the format
// served back to clients, per spec.md §4.8.
type Errors []error

var _ error = Errors{}

func (errs Errors) Error() string {
	switch len(errs) {
	case 0:
		return "<nil>"
	case 1:
		return errs[0].Error()
	default:
		msg := "errors:\n"
		for _, err := range errs {
			msg += err.Error() + "\n"
		}
		return msg
	}
}

// envelope is the wire shape: {"errors":[{"code":...,"message":...,"detail":...}]}.
type envelope struct {
	Errors []Error `json:"errors"`
}

// MarshalJSON converts slice of error, ErrorCode, or ErrorCoder into a
// slice of Error, serialized as the standard error envelope.
func (errs Errors) MarshalJSON() ([]byte, error) {
	var fields envelope
	for _, err := range errs {
		switch e := err.(type) {
		case ErrorCoder:
			if ee, ok := e.(Error); ok {
				fields.Errors = append(fields.Errors, ee)
			} else {
				fields.Errors = append(fields.Errors, e.ErrorCode().WithMessage(e.ErrorCode().Message()))
			}
		default:
			fields.Errors = append(fields.Errors, ErrorCodeUnknown.WithDetail(err.Error()))
		}
	}
	if fields.Errors == nil {
		fields.Errors = []Error{}
	}
	return json.Marshal(fields)
}

// UnmarshalJSON deserializes the envelope back into Errors.
func (errs *Errors) UnmarshalJSON(data []byte) error {
	var fields envelope
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*errs = make(Errors, len(fields.Errors))
	for i, e := range fields.Errors {
		(*errs)[i] = e
	}
	return nil
}

// register records an ErrorDescriptor for package use, assigning it a
// process-unique ErrorCode.
func register(desc ErrorDescriptor) ErrorCode {
	code := ErrorCode(nextCode)
	nextCode++
	desc.Code = code
	codeToDescriptors[code] = desc
	idToDescriptors[desc.Value] = desc
	return code
}

// ServeJSON writes err to w as the standard JSON error envelope and sets
// the matching HTTP status code, per spec.md §7's HTTP mapping. HEAD
// requests never carry a body even on error (spec.md §7); callers must
// check the method before calling ServeJSON for HEAD.
func ServeJSON(w http.ResponseWriter, err error) error {
	w.Header().Set("Content-Type", "application/json")

	var errs Errors
	switch e := err.(type) {
	case Errors:
		errs = e
	default:
		errs = Errors{err}
	}

	status := http.StatusInternalServerError
	if len(errs) > 0 {
		if coder, ok := errs[0].(ErrorCoder); ok {
			status = coder.ErrorCode().Descriptor().HTTPStatusCode
		}
	}

	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(errs)
}
