package dispatch

// Result classifies what happened to one sidecar.
type Result int

const (
	Success Result = iota
	TransportFailure
	UnrecognizedSidecar
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case TransportFailure:
		return "transport_failure"
	case UnrecognizedSidecar:
		return "unrecognized_sidecar"
	default:
		return "unknown"
	}
}

// Outcome is the result of one shutdown attempt. Detail is only set for
// TransportFailure.
type Outcome struct {
	Result Result
	Detail string
}

func succeeded() Outcome { return Outcome{Result: Success} }

func failed(detail string) Outcome { return Outcome{Result: TransportFailure, Detail: detail} }

// Unrecognized is the outcome for a running container with no registered
// action. The dispatcher never produces it.
func Unrecognized() Outcome { return Outcome{Result: UnrecognizedSidecar} }
