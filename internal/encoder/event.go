package encoder

// EventKind identifies an encoder lifecycle event.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventProgress
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Output is what a finished encode left on disk. For segmented formats Path
// is the manifest and Segments lists the media files beside it.
type Output struct {
	Path     string
	Segments []string
}

// Event is one item of an encode's event stream. A stream carries one
// EventStarted, any number of EventProgress, then exactly one of
// EventCompleted or EventFailed before it is closed.
type Event struct {
	Kind       EventKind
	Command    string
	Percent    int
	Output     Output
	Diagnostic string
}
