package lifecycle

import (
	"errors"
	"testing"

	"github.com/nspcc-dev/docstate/document"
	"github.com/nspcc-dev/docstate/identifier"
	"github.com/nspcc-dev/docstate/transition"
	"github.com/stretchr/testify/require"
)

func TestTracker(t *testing.T) {
	tr := newTracker()
	id := identifier.ID{1}

	_, ok := tr.Status(id)
	require.False(t, ok)

	require.True(t, tr.acquire(id, transition.KindCreate, nil))
	require.False(t, tr.acquire(id, transition.KindCreate, nil))

	s, ok := tr.Status(id)
	require.True(t, ok)
	require.Equal(t, StateUnsubmitted, s.State)
	require.Equal(t, transition.KindCreate, s.Kind)
	require.Nil(t, s.Document)

	tr.setState(id, StateBroadcasting)
	s, _ = tr.Status(id)
	require.Equal(t, StateBroadcasting, s.State)

	doc := &document.Document{ID: id, Revision: 1}
	tr.confirm(doc)

	s, _ = tr.Status(id)
	require.Equal(t, StateConfirmed, s.State)
	require.Equal(t, doc, s.Document)

	// status is a copy
	s.Document.Revision = 100
	s, _ = tr.Status(id)
	require.EqualValues(t, 1, s.Document.Revision)

	require.True(t, tr.acquire(id, transition.KindUpdatePrice, &document.Document{ID: id, Revision: 7}))
	s, _ = tr.Status(id)
	require.EqualValues(t, 1, s.Document.Revision, "known confirmed state must be kept")

	// fetched states do not interfere with the transition in progress
	tr.observe(&document.Document{ID: id, Revision: 2})
	s, _ = tr.Status(id)
	require.Equal(t, StateUnsubmitted, s.State)
	require.EqualValues(t, 1, s.Document.Revision)

	failure := errors.New("any")
	tr.release(id, StateRejected, failure)

	s, _ = tr.Status(id)
	require.Equal(t, StateRejected, s.State)
	require.Equal(t, failure, s.Err)
	require.Equal(t, transition.KindUpdatePrice, s.Kind)
	require.EqualValues(t, 1, s.Document.Revision)

	tr.observe(&document.Document{ID: id, Revision: 2})
	s, _ = tr.Status(id)
	require.Equal(t, StateConfirmed, s.State)
	require.NoError(t, s.Err)
	require.EqualValues(t, 2, s.Document.Revision)

	// older states are ignored
	tr.observe(&document.Document{ID: id, Revision: 1})
	s, _ = tr.Status(id)
	require.EqualValues(t, 2, s.Document.Revision)

	tr.forget(id)
	_, ok = tr.Status(id)
	require.False(t, ok)
}

func TestState_String(t *testing.T) {
	for s, str := range map[State]string{
		StateUnsubmitted:  "unsubmitted",
		StateBroadcasting: "broadcasting",
		StateConfirmed:    "confirmed",
		StateRejected:     "rejected",
		State(42):         "unknown#42",
	} {
		require.Equal(t, str, s.String())
	}
}
