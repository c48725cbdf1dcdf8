package gateway

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/planningpoker/go/internal/room"
	"github.com/mcdev12/planningpoker/go/internal/roundlog"
)

// panickingRecorder fails every reveal, which makes dispatch of the final vote panic.
type panickingRecorder struct{}

func (panickingRecorder) Record(roundlog.RoundOutcome) { panic("round log unavailable") }
func (panickingRecorder) Close() error                 { return nil }

func TestNewConnection_AssignsIDs(t *testing.T) {
	a := NewConnection("R1", nil, 1)
	b := NewConnection("R1", nil, 1)

	assert.NotEmpty(t, a.ID)
	assert.NotEmpty(t, a.ParticipantID)
	assert.NotEqual(t, a.ID, a.ParticipantID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ParticipantID, b.ParticipantID)
	assert.Equal(t, "R1", a.RoomID)
}

func TestHandleClientMessage_PanicClosesOnlyFaultingConnection(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := room.NewStore(room.Config{EmptyRoomTTL: time.Minute, Clock: clock})
	t.Cleanup(store.Close)

	coordinator := NewCoordinator(store, panickingRecorder{}, clock)
	cm := NewConnectionManager(DefaultConnectionConfig(), coordinator)

	bystander := NewConnection("R2", nil, 16)
	coordinator.Join(bystander, "B")
	drain(t, bystander)

	faulty := NewConnection("R1", nil, 16)
	coordinator.Join(faulty, "A")
	drain(t, faulty)

	assert.False(t, cm.handleClientMessage(faulty, []byte(`{"type":"select_card","payload":{"value":"5"}}`)))

	// the read pump leaves once the handler reports failure
	coordinator.Leave(faulty)
	_, ok := store.Participant("R1", faulty.ParticipantID)
	assert.False(t, ok)

	assert.True(t, cm.handleClientMessage(bystander, []byte(`{"type":"toggle_spectator"}`)))
	msgs := drain(t, bystander)
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].roomState(t).Users, 1)

	coordinator.Join(NewConnection("R2", nil, 16), "C")
	msgs = drain(t, bystander)
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].roomState(t).Users, 2)
}

func TestWebSocket_PanicDisconnectsOnlyFaultingParticipant(t *testing.T) {
	server, service := newTestServerWithRecorder(t, panickingRecorder{})

	bystander := dial(t, server, "/ws/R2?name=Bob")
	readMessage(t, bystander)

	faulty := dial(t, server, "/ws/R1?name=Alice")
	readMessage(t, faulty)

	writeMessage(t, faulty, `{"type":"select_card","payload":{"value":"5"}}`)

	require.NoError(t, faulty.SetReadDeadline(time.Now().Add(2*time.Second)))
	var err error
	for err == nil {
		_, _, err = faulty.ReadMessage()
	}
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "server should close the faulting connection")
	assert.Eventually(t, func() bool { return !service.store.Exists("R1") }, 2*time.Second, 10*time.Millisecond)

	carol := dial(t, server, "/ws/R2?name=Carol")
	assert.Len(t, readMessage(t, carol).roomState(t).Users, 2)
	assert.Len(t, readMessage(t, bystander).roomState(t).Users, 2)
}
