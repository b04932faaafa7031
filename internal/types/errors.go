package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every typed error below unwraps to one of these so callers
// can branch with errors.Is and still render the detailed message.
var (
	ErrValidation             = errors.New("validation error")
	ErrReorderNotAllowed      = errors.New("reorder not allowed")
	ErrTypeMismatch           = errors.New("type mismatch")
	ErrAlreadyMemberElsewhere = errors.New("already member elsewhere")
	ErrNotAMember             = errors.New("not a member")
	ErrAmbiguousPlacement     = errors.New("ambiguous placement")
	ErrDependentArtifacts     = errors.New("dependent artifacts require confirmation")
	ErrNotFound               = errors.New("not found")
	ErrStaleChange            = errors.New("schema changed since the change was planned")
)

// ValidationError reports a schema-shape or argument violation.
type ValidationError struct {
	TreeID string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation error")
	if e.TreeID != "" {
		fmt.Fprintf(&b, " in tree %s", e.TreeID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (%s)", e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ReorderNotAllowedError is returned when a reconfiguration reorders levels.
type ReorderNotAllowedError struct {
	TreeID  string
	Current []string
	Wanted  []string
}

func (e *ReorderNotAllowedError) Error() string {
	return fmt.Sprintf("tree %s: cannot change level order from [%s] to [%s]; remove the level and re-add it at the end instead",
		e.TreeID, strings.Join(e.Current, ", "), strings.Join(e.Wanted, ", "))
}

func (e *ReorderNotAllowedError) Unwrap() error { return ErrReorderNotAllowed }

// TypeMismatchError is returned when a card's type does not fit the level
// required by the operation.
type TypeMismatchError struct {
	TreeID       string
	CardID       string
	CardType     string
	ExpectedType string
	Property     string
	Reason       string
}

func (e *TypeMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tree %s: card %s", e.TreeID, e.CardID)
	if e.CardType != "" {
		fmt.Fprintf(&b, " of type %q", e.CardType)
	}
	if e.Property != "" {
		fmt.Fprintf(&b, " cannot use property %q", e.Property)
	}
	if e.ExpectedType != "" {
		fmt.Fprintf(&b, ", expected type %q", e.ExpectedType)
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	return b.String()
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// AlreadyMemberElsewhereError is returned by AddToTree when the card already
// has a different parent. Use MoveTo instead.
type AlreadyMemberElsewhereError struct {
	TreeID          string
	CardID          string
	CurrentParentID string
	WantedParentID  string
}

func (e *AlreadyMemberElsewhereError) Error() string {
	return fmt.Sprintf("tree %s: card %s is already a member under %s (requested %s); use move instead",
		e.TreeID, e.CardID, parentLabel(e.CurrentParentID), parentLabel(e.WantedParentID))
}

func (e *AlreadyMemberElsewhereError) Unwrap() error { return ErrAlreadyMemberElsewhere }

// NotAMemberError signals that a card is not in the tree. RemoveFromTree
// returns it for a no-op so callers can tell "nothing to do" from success.
type NotAMemberError struct {
	TreeID string
	CardID string
}

func (e *NotAMemberError) Error() string {
	return fmt.Sprintf("tree %s: card %s is not a member", e.TreeID, e.CardID)
}

func (e *NotAMemberError) Unwrap() error { return ErrNotAMember }

// AmbiguousPlacementError names the two relationship properties whose
// requested values cannot both hold.
type AmbiguousPlacementError struct {
	TreeID    string
	CardID    string
	Property  string
	Value     string
	Conflicts string
	With      string
}

func (e *AmbiguousPlacementError) Error() string {
	return fmt.Sprintf("tree %s: card %s: %q = %s conflicts with %q = %s",
		e.TreeID, e.CardID, e.Property, e.Value, e.Conflicts, e.With)
}

func (e *AmbiguousPlacementError) Unwrap() error { return ErrAmbiguousPlacement }

// Properties returns both conflicting property names.
func (e *AmbiguousPlacementError) Properties() []string {
	return []string{e.Property, e.Conflicts}
}

// DependentArtifactWarning lists every artifact a destructive schema change
// would delete. It is returned by Commit until the caller confirms.
type DependentArtifactWarning struct {
	TreeID    string
	Operation string
	Artifacts []Artifact
}

func (w *DependentArtifactWarning) Error() string {
	names := make([]string, len(w.Artifacts))
	for i, a := range w.Artifacts {
		names[i] = a.String()
	}
	return fmt.Sprintf("%s on tree %s will delete %d dependent artifact(s): %s",
		w.Operation, w.TreeID, len(w.Artifacts), strings.Join(names, ", "))
}

func (w *DependentArtifactWarning) Unwrap() error { return ErrDependentArtifacts }

func parentLabel(id string) string {
	if id == "" {
		return "root"
	}
	return id
}

// ErrorCode maps an engine error to a stable machine-readable code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrReorderNotAllowed):
		return "reorder_not_allowed"
	case errors.Is(err, ErrTypeMismatch):
		return "type_mismatch"
	case errors.Is(err, ErrAlreadyMemberElsewhere):
		return "already_member_elsewhere"
	case errors.Is(err, ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, ErrAmbiguousPlacement):
		return "ambiguous_placement"
	case errors.Is(err, ErrDependentArtifacts):
		return "dependent_artifact_warning"
	case errors.Is(err, ErrStaleChange):
		return "stale_change"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}
	return ""
}
