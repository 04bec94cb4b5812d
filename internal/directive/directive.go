// Package directive holds the airworthiness directive record emitted by the
// extraction pipeline.
package directive

import "fmt"

// UnknownReference is the document reference of a record built without one.
const UnknownReference = "unknown"

// Type is the directive category code taken from the register. Codes outside
// the known set are kept as-is.
type Type string

const (
	TypeGeneral   Type = "GENERAL"
	TypeGlider    Type = "GLIDER"
	TypeEngine    Type = "ENGINE"
	TypePropeller Type = "PROPELLER"
	TypeEquipment Type = "EQUIPMENT"
)

func (t Type) Known() bool {
	switch t {
	case TypeGeneral, TypeGlider, TypeEngine, TypePropeller, TypeEquipment:
		return true
	default:
		return false
	}
}

// Directive is a single register entry. Values are built once by New and
// never mutated afterwards; nil pointers mean the source cell was empty.
type Directive struct {
	DocumentReference string  `json:"documentReference"`
	IssueNumber       *int    `json:"issueNumber,omitempty"`
	Active            bool    `json:"active"`
	IssueDate         *string `json:"issueDate,omitempty"`
	TypeCertificate   *string `json:"typeCertificate,omitempty"`
	Type              *Type   `json:"type,omitempty"`
	Description       *string `json:"description,omitempty"`
}

// ValidationError reports a field value the constructor refuses.
type ValidationError struct {
	Field string
	Value any
	// Reason defaults to "must be greater than 0".
	Reason string
}

func (e *ValidationError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "must be greater than 0"
	}
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, reason)
}

// Fields carries the optional parts of a directive.
type Fields struct {
	IssueDate       *string
	TypeCertificate *string
	Type            *Type
	Description     *string
}

// New builds a directive. A non-nil issue number must be positive; a nil one
// leaves the number unset and skips the check.
func New(ref string, issue *int, active bool, f Fields) (Directive, error) {
	if issue != nil && *issue <= 0 {
		return Directive{}, &ValidationError{Field: "issue number", Value: *issue}
	}
	if ref == "" {
		ref = UnknownReference
	}

	d := Directive{
		DocumentReference: ref,
		Active:            active,
		IssueDate:         f.IssueDate,
		TypeCertificate:   f.TypeCertificate,
		Type:              f.Type,
		Description:       f.Description,
	}
	if issue != nil {
		n := *issue
		d.IssueNumber = &n
	}
	return d, nil
}
