package lifecycle

import (
	"strconv"
	"sync"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/transition"
)

// State is a state of the latest document state transition.
type State uint8

// All document states.
const (
	// Transition is built locally but not sent yet.
	StateUnsubmitted State = iota
	// Transition is sent, its outcome is not known yet. Set Err means the
	// outcome is lost, the document must be fetched before the next
	// transition.
	StateBroadcasting
	// Transition is executed by the platform.
	StateConfirmed
	// Transition is rejected by the platform. Terminal for the transition,
	// the document stays at its last confirmed state.
	StateRejected
)

func (x State) String() string {
	switch x {
	case StateUnsubmitted:
		return "unsubmitted"
	case StateBroadcasting:
		return "broadcasting"
	case StateConfirmed:
		return "confirmed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown#" + strconv.Itoa(int(x))
	}
}

// Status describes the document from the client perspective.
type Status struct {
	State State

	// Kind of the latest transition. Unset for fetched documents.
	Kind transition.Kind

	// Last confirmed state of the document. Nil if the document has never
	// been confirmed.
	Document *document.Document

	// Failure of the latest transition.
	Err error
}

type entry struct {
	Status
	inFlight bool
}

// Tracker holds states of the documents processed by the Controller. Tracker
// is safe for concurrent use.
type Tracker struct {
	mtx     sync.Mutex
	entries map[identifier.ID]*entry
}

func newTracker() *Tracker {
	return &Tracker{entries: make(map[identifier.ID]*entry)}
}

// Status returns status of the document. The second value is false if the
// document is unknown.
func (x *Tracker) Status(id identifier.ID) (Status, bool) {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	e, ok := x.entries[id]
	if !ok {
		return Status{}, false
	}

	res := e.Status
	if res.Document != nil {
		res.Document = res.Document.Clone()
	}

	return res, true
}

// acquire marks the document as having transition in progress. Confirmed
// state of the document is remembered unless already known. Returns false if
// another transition is already in progress.
func (x *Tracker) acquire(id identifier.ID, kind transition.Kind, confirmed *document.Document) bool {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	e, ok := x.entries[id]
	if !ok {
		e = new(entry)
		x.entries[id] = e
	} else if e.inFlight {
		return false
	}

	if e.Document == nil && confirmed != nil {
		e.Document = confirmed.Clone()
	}

	e.inFlight = true
	e.Kind = kind
	e.State = StateUnsubmitted
	e.Err = nil

	return true
}

func (x *Tracker) setState(id identifier.ID, s State) {
	x.mtx.Lock()
	if e, ok := x.entries[id]; ok {
		e.State = s
	}
	x.mtx.Unlock()
}

// release finishes the transition in progress.
func (x *Tracker) release(id identifier.ID, s State, err error) {
	x.mtx.Lock()
	if e, ok := x.entries[id]; ok {
		e.inFlight = false
		e.State = s
		e.Err = err
	}
	x.mtx.Unlock()
}

// confirm stores confirmed document state. The transition in progress, if
// any, is finished.
func (x *Tracker) confirm(doc *document.Document) {
	x.mtx.Lock()
	x.confirmLocked(doc)
	x.mtx.Unlock()
}

// observe records document state fetched from the platform unless the
// document has transition in progress.
func (x *Tracker) observe(doc *document.Document) {
	x.mtx.Lock()
	defer x.mtx.Unlock()

	if e, ok := x.entries[doc.ID]; ok && e.inFlight {
		return
	}

	x.confirmLocked(doc)
}

func (x *Tracker) confirmLocked(doc *document.Document) {
	e, ok := x.entries[doc.ID]
	if !ok {
		e = new(entry)
		x.entries[doc.ID] = e
	}

	if e.Document == nil || e.Document.Revision <= doc.Revision {
		e.Document = doc.Clone()
	}

	e.inFlight = false
	e.State = StateConfirmed
	e.Err = nil
}

// forget drops the document never reached the platform.
func (x *Tracker) forget(id identifier.ID) {
	x.mtx.Lock()
	delete(x.entries, id)
	x.mtx.Unlock()
}
