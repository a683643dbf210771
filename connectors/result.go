package connectors

// Status tags the outcome of one connector fetch. A connector never
// returns an error to its caller; failure is folded into the result.
type Status string

const (
	StatusOK          Status = "ok"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// Result is the tagged outcome of one source connector. Degraded carries
// partial but usable data; Unavailable carries only a last-error reason.
type Result[T any] struct {
	Status Status `json:"status"`
	Data   T      `json:"data"`
	Source string `json:"source,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func OK[T any](source string, data T) Result[T] {
	return Result[T]{Status: StatusOK, Source: source, Data: data}
}

func Degraded[T any](source string, data T, reason string) Result[T] {
	return Result[T]{Status: StatusDegraded, Source: source, Data: data, Reason: reason}
}

func Unavailable[T any](reason string) Result[T] {
	return Result[T]{Status: StatusUnavailable, Reason: reason}
}

// Available reports whether the result carries usable data.
func (r Result[T]) Available() bool {
	return r.Status == StatusOK || r.Status == StatusDegraded
}
