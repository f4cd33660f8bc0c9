package pipeline

import (
	"encoding/json"
	"fmt"
)

// PortState is the cache state of one output port.
type PortState string

const (
	// PortStateEmpty indicates no information and no data yet.
	PortStateEmpty PortState = "empty"

	// PortStateInformed indicates information is published but no data was
	// ever produced.
	PortStateInformed PortState = "informed"

	// PortStateValid indicates the data satisfies the last request.
	PortStateValid PortState = "valid"

	// PortStateStale indicates the data is the last good version but is
	// outdated by an upstream change, a wider request or a failed execution.
	PortStateStale PortState = "stale"
)

// HasData returns true if the port holds a data object in this state.
func (s PortState) HasData() bool {
	return s == PortStateValid || s == PortStateStale
}

// Validate checks if the port state is valid.
func (s PortState) Validate() error {
	switch s {
	case PortStateEmpty, PortStateInformed, PortStateValid, PortStateStale:
		return nil
	default:
		return fmt.Errorf("invalid port state: %s", s)
	}
}

// RequestType is the closed set of requests an executive sends to an
// algorithm.
type RequestType string

const (
	// RequestDataObject asks for the concrete output data types. It never
	// computes values.
	RequestDataObject RequestType = "REQUEST_DATA_OBJECT"

	// RequestInformation asks which extents, times and structure the outputs
	// can provide.
	RequestInformation RequestType = "REQUEST_INFORMATION"

	// RequestUpdateTime asks a time-aware algorithm to translate the time
	// requested of its outputs into times requested of its inputs.
	RequestUpdateTime RequestType = "REQUEST_UPDATE_TIME"

	// RequestUpdateExtent asks which part of each input is needed to satisfy
	// the request on the outputs.
	RequestUpdateExtent RequestType = "REQUEST_UPDATE_EXTENT"

	// RequestData asks the algorithm to compute its outputs.
	RequestData RequestType = "REQUEST_DATA"
)

// Validate checks if the request type is valid.
func (r RequestType) Validate() error {
	switch r {
	case RequestDataObject, RequestInformation, RequestUpdateTime,
		RequestUpdateExtent, RequestData:
		return nil
	default:
		return fmt.Errorf("invalid request type: %s", r)
	}
}

// MarshalJSON implements json.Marshaler.
func (r RequestType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *RequestType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	rt := RequestType(s)
	if err := rt.Validate(); err != nil {
		return err
	}
	*r = rt
	return nil
}
