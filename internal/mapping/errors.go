package mapping

import (
	"errors"
	"fmt"

	"github.com/dgallion1/mapread/internal/grammar"
)

// Reasons carried by InvalidMappingError, matchable with errors.Is.
var (
	ErrNoRootElement  = errors.New("no root element")
	ErrGrammarInvalid = errors.New("error validating against grammar; see diagnostics")
	ErrSchemaInvalid  = errors.New("validation problem")
)

// MalformedDocumentError reports input that could not be parsed: malformed
// markup, an unresolvable entity or a fatal grammar error.
type MalformedDocumentError struct {
	Origin Origin
	Err    error
}

func (e *MalformedDocumentError) Error() string {
	return fmt.Sprintf("unable to read XML [%s]: %v", e.Origin, e.Err)
}

func (e *MalformedDocumentError) Unwrap() error { return e.Err }

// InvalidMappingError reports a parsed document that is not a valid mapping.
type InvalidMappingError struct {
	Origin Origin
	Reason error // one of ErrNoRootElement, ErrGrammarInvalid, ErrSchemaInvalid
	Err    error // underlying validation failure, if any

	// Violations holds the deferred grammar errors when Reason is ErrGrammarInvalid.
	Violations []grammar.Violation
}

func (e *InvalidMappingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid mapping [%s]: %v: %v", e.Origin, e.Reason, e.Err)
	}
	if len(e.Violations) > 0 {
		return fmt.Sprintf("invalid mapping [%s]: %v (%d errors, first: %v)", e.Origin, e.Reason, len(e.Violations), e.Violations[0])
	}
	return fmt.Sprintf("invalid mapping [%s]: %v", e.Origin, e.Reason)
}

func (e *InvalidMappingError) Unwrap() []error {
	errs := []error{e.Reason}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// UnsupportedVersionError reports a version token outside the supported set.
type UnsupportedVersionError struct {
	Origin Origin
	Token  string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported orm.xml version [%s] in [%s]", e.Token, e.Origin)
}

// SchemaLoadError reports a schema resource that could not be located, read
// or compiled. It is a configuration defect, not a document defect.
type SchemaLoadError struct {
	Origin   Origin // zero when raised outside a read
	Resource string
	Err      error
}

func (e *SchemaLoadError) Error() string {
	if e.Origin == (Origin{}) {
		return fmt.Sprintf("unable to load schema [%s]: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("unable to load schema [%s] for [%s]: %v", e.Resource, e.Origin, e.Err)
}

func (e *SchemaLoadError) Unwrap() error { return e.Err }

// OriginOf returns the origin recorded in any of the failure types above.
func OriginOf(err error) (Origin, bool) {
	var (
		malformed   *MalformedDocumentError
		invalid     *InvalidMappingError
		unsupported *UnsupportedVersionError
		load        *SchemaLoadError
	)
	switch {
	case errors.As(err, &malformed):
		return malformed.Origin, true
	case errors.As(err, &invalid):
		return invalid.Origin, true
	case errors.As(err, &unsupported):
		return unsupported.Origin, true
	case errors.As(err, &load):
		return load.Origin, true
	}
	return Origin{}, false
}
