package coordinator

import "fmt"

// UnknownObjectError reports an operation against a feed object id the
// Coordinator has no record of — already closed, or never opened.
type UnknownObjectError struct {
	ObjectId string
}

func (e *UnknownObjectError) Error() string {
	return fmt.Sprintf("coordinator: unknown feed object %q", e.ObjectId)
}

// ObjectNotOpenError reports FeedObjectClose called against an object
// that is not yet externally OPEN — still OPENING, per spec §4.5's
// "object must be externally OPEN" precondition on feedObjectClose. An
// object waiting on its own open callback has no close to request yet.
type ObjectNotOpenError struct {
	ObjectId string
}

func (e *ObjectNotOpenError) Error() string {
	return fmt.Sprintf("coordinator: feed object %q is not open", e.ObjectId)
}
