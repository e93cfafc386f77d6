// Package mnemoerr defines the error kinds shared across mnemo's components.
package mnemoerr

import "fmt"

// Kind discriminates the error categories the tool surface must translate
// into a schema-bound {success:false, error_kind, message, context} envelope.
type Kind string

const (
	Validation      Kind = "ValidationError"
	Storage         Kind = "StorageError"
	Embedding       Kind = "EmbeddingError"
	LLMGeneration   Kind = "LLMGenerationError"
	JSONParse       Kind = "JSONParseError"
	Cache           Kind = "CacheError"
	Auth            Kind = "AuthError"
	ConfirmationReq Kind = "ConfirmationRequired"
)

// Error is a kinded error carrying optional structured context for callers
// that need to render {error_kind, message, context} without parsing strings.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no wrapped cause.
func New(kind Kind, message string, ctx map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: ctx}
}

// Wrap builds an Error decorating an existing cause.
func Wrap(kind Kind, message string, cause error, ctx map[string]any) *Error {
	return &Error{Kind: kind, Message: message, Context: ctx, Cause: cause}
}

// As extracts a *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if ok := asError(err, &target); ok {
		return target, true
	}
	return nil, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
