package completion

import "fmt"

// NotFoundError reports a referenced area, unit, or user that does not exist.
type NotFoundError struct {
	Kind string // "admin area", "coverage unit", ...
	Ref  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Ref)
}

// InvalidLevelError reports an operation that expected an area of one
// hierarchy level but received the other.
type InvalidLevelError struct {
	Code string
	Want int
	Got  int
}

func (e *InvalidLevelError) Error() string {
	return fmt.Sprintf("admin area %q is level %d, expected level %d", e.Code, e.Got, e.Want)
}

// InvalidGeometryError reports input geometry that failed validation at the
// catalogue boundary. Validation failures abort the enclosing transaction.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// ConsistencyError reports a violated cache invariant, e.g. a cache row
// referencing a deleted unit. It indicates a missed invalidation on the
// mutation path and is surfaced loudly rather than silently repaired.
type ConsistencyError struct {
	Detail string
}

func (e *ConsistencyError) Error() string {
	return "cache consistency violation: " + e.Detail
}
