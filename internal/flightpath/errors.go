package flightpath

import "fmt"

// InvalidGeometryError rejects a malformed or degenerate coverage polygon.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// InvalidParameterError rejects an out-of-range generation parameter.
type InvalidParameterError struct {
	Param  string
	Value  any
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Param, e.Value, e.Reason)
}
