package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind categorizes an error for policy decisions (retry, HTTP mapping)
type Kind string

const (
	// KindNotFound covers missing nodes, relationships, choices and twists
	KindNotFound Kind = "not_found"
	// KindValidation covers illegal relationships, bad weights and rejected setups
	KindValidation Kind = "validation"
	// KindTransition covers illegal twist state machine transitions
	KindTransition Kind = "transition"
	// KindConflict covers optimistic version check failures after retry exhaustion
	KindConflict Kind = "conflict"
	// KindStore covers graph store faults that survived the retry policy
	KindStore Kind = "store"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Kind      Kind
	Message   string
	Timestamp time.Time
	Err       error // wrapped cause
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause
func (e *BaseError) Unwrap() error {
	return e.Err
}

func (e *BaseError) base() *BaseError { return e }

// NewBaseError creates a new base error
func NewBaseError(kind Kind, message string, err error) *BaseError {
	return &BaseError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// kinder is satisfied by every typed error in this package through embedding
type kinder interface {
	base() *BaseError
}

// NotFound errors

// NodeNotFound is returned when a graph node id does not resolve
type NodeNotFound struct {
	*BaseError
	NodeID string
}

func NewNodeNotFound(nodeID string) *NodeNotFound {
	return &NodeNotFound{
		BaseError: NewBaseError(KindNotFound, fmt.Sprintf("node not found: %s", nodeID), nil),
		NodeID:    nodeID,
	}
}

// RelationshipNotFound is returned when a relationship id does not resolve
type RelationshipNotFound struct {
	*BaseError
	RelationshipID string
}

func NewRelationshipNotFound(relID string) *RelationshipNotFound {
	return &RelationshipNotFound{
		BaseError:      NewBaseError(KindNotFound, fmt.Sprintf("relationship not found: %s", relID), nil),
		RelationshipID: relID,
	}
}

// ChoiceNotMapped is returned when a choice has no convergence record.
// This is an expected outcome on the simulation hot path, not a fault;
// the resolver converts it into a not-found result rather than an error.
type ChoiceNotMapped struct {
	*BaseError
	ChoiceID string
}

func NewChoiceNotMapped(choiceID string) *ChoiceNotMapped {
	return &ChoiceNotMapped{
		BaseError: NewBaseError(KindNotFound, fmt.Sprintf("no convergent path for choice: %s", choiceID), nil),
		ChoiceID:  choiceID,
	}
}

// TwistNotFound is returned when a twist node id does not resolve
type TwistNotFound struct {
	*BaseError
	TwistID string
}

func NewTwistNotFound(twistID string) *TwistNotFound {
	return &TwistNotFound{
		BaseError: NewBaseError(KindNotFound, fmt.Sprintf("twist not found: %s", twistID), nil),
		TwistID:   twistID,
	}
}

// Validation errors

// IllegalRelationship is returned when a (fromType, relType, toType) triple
// is outside the compatibility matrix
type IllegalRelationship struct {
	*BaseError
	FromType string
	RelType  string
	ToType   string
}

func NewIllegalRelationship(fromType, relType, toType string) *IllegalRelationship {
	return &IllegalRelationship{
		BaseError: NewBaseError(KindValidation,
			fmt.Sprintf("illegal relationship: (%s)-[%s]->(%s)", fromType, relType, toType), nil),
		FromType: fromType,
		RelType:  relType,
		ToType:   toType,
	}
}

// InvalidScope is returned when a retroactive scope violates the
// temporal-priority rule (contains the twist or a node downstream of it)
type InvalidScope struct {
	*BaseError
	TwistID string
	NodeID  string
}

func NewInvalidScope(twistID, nodeID string) *InvalidScope {
	return &InvalidScope{
		BaseError: NewBaseError(KindValidation,
			fmt.Sprintf("retroactive scope of %s may not include %s", twistID, nodeID), nil),
		TwistID: twistID,
		NodeID:  nodeID,
	}
}

// InvalidTransition is returned when a twist operation is called in the
// wrong state machine state
type InvalidTransition struct {
	*BaseError
	TwistID string
	From    string
	To      string
}

func NewInvalidTransition(twistID, from, to string) *InvalidTransition {
	return &InvalidTransition{
		BaseError: NewBaseError(KindTransition,
			fmt.Sprintf("twist %s cannot transition %s -> %s", twistID, from, to), nil),
		TwistID: twistID,
		From:    from,
		To:      to,
	}
}

// Conflict is returned when concurrent mutations on an overlapping node set
// exhaust the optimistic retry budget
type Conflict struct {
	*BaseError
	Resource string
	Attempts int
}

func NewConflict(resource string, attempts int, err error) *Conflict {
	return &Conflict{
		BaseError: NewBaseError(KindConflict,
			fmt.Sprintf("concurrent mutation conflict on %s after %d attempts", resource, attempts), err),
		Resource: resource,
		Attempts: attempts,
	}
}

// StoreUnavailable is returned when a store call keeps failing transiently
// until the retry budget is exhausted
type StoreUnavailable struct {
	*BaseError
	Operation string
	Attempts  int
}

func NewStoreUnavailable(operation string, attempts int, err error) *StoreUnavailable {
	return &StoreUnavailable{
		BaseError: NewBaseError(KindStore,
			fmt.Sprintf("store unavailable during %s after %d attempts", operation, attempts), err),
		Operation: operation,
		Attempts:  attempts,
	}
}

// Helpers

// KindOf returns the kind of an error, walking the unwrap chain.
// Untyped errors report an empty kind.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.base().Kind
		}
		err = stderrors.Unwrap(err)
	}
	return ""
}

// IsKind checks whether an error belongs to a kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsNotFound reports whether the error is any of the not-found family
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsRetryable reports whether a caller may reasonably retry the operation.
// Conflicts are retryable at a higher level; not-found and validation are not.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindConflict:
		return true
	case KindStore:
		// the bounded internal retry already ran; another round rarely helps
		return false
	default:
		return false
	}
}
