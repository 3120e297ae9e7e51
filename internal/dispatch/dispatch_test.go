package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/communitycar/realtime/internal/protocol"
)

func TestDispatchRunsHandlersInOrder(t *testing.T) {
	var order []string
	table := Table{
		protocol.KindUserOnline: {
			func(protocol.Event) { order = append(order, "first") },
			func(protocol.Event) { order = append(order, "second") },
		},
	}
	d := New(table, nil)

	d.Dispatch(protocol.Event{Kind: protocol.KindUserOnline})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestDispatchUnknownKindIsNoOp(t *testing.T) {
	called := false
	d := New(Table{
		protocol.KindUserOnline: {func(protocol.Event) { called = true }},
	}, nil)

	d.Dispatch(protocol.Event{Kind: protocol.KindUnknown, Name: "SomeFutureEvent"})
	d.Dispatch(protocol.Event{Kind: protocol.KindUserOffline})

	assert.False(t, called)
}

func TestLegacyAliasReachesIdenticalHandler(t *testing.T) {
	// Both the current and the legacy wire names decode to the same kind,
	// so dispatching either must produce the identical mutation.
	var got []*protocol.AccessPayload
	d := New(Table{
		protocol.KindPostAccessGranted: {func(ev protocol.Event) {
			got = append(got, ev.Payload.(*protocol.AccessPayload))
		}},
	}, nil)

	for _, name := range []string{"PostAccessGranted", "GroupPostAccessGranted"} {
		ev, err := protocol.Decode([]byte(`{"id":"e","type":"` + name + `","payload":{"groupId":"g1","level":"read"}}`))
		require.NoError(t, err)
		d.Dispatch(ev)
	}

	require.Len(t, got, 2)
	assert.Equal(t, got[0], got[1])
}

func TestHandles(t *testing.T) {
	d := New(Table{protocol.KindReceiveMessage: {func(protocol.Event) {}}}, nil)

	assert.True(t, d.Handles(protocol.KindReceiveMessage))
	assert.False(t, d.Handles(protocol.KindReceiveNotification))
}
