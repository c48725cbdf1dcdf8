package roundlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJetStreamConfig_Subject(t *testing.T) {
	cfg := DefaultJetStreamConfig()
	assert.Equal(t, "poker.rounds.revealed", cfg.Subject())

	cfg.SubjectPrefix = "team.a"
	assert.Equal(t, "team.a.revealed", cfg.Subject())
}

func TestRecord_DropsWhenQueueFull(t *testing.T) {
	cfg := DefaultJetStreamConfig()
	cfg.QueueSize = 1
	r := newRecorder(cfg)

	r.Record(RoundOutcome{RoomID: "R1"})
	r.Record(RoundOutcome{RoomID: "R2"})

	require.Len(t, r.queue, 1)
	assert.Equal(t, "R1", (<-r.queue).RoomID)
}

func TestRecord_AfterCloseIsIgnored(t *testing.T) {
	r := newRecorder(DefaultJetStreamConfig())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.NotPanics(t, func() { r.Record(RoundOutcome{RoomID: "R1"}) })
}

func TestNoOp(t *testing.T) {
	var rec Recorder = NoOp{}
	assert.NotPanics(t, func() { rec.Record(RoundOutcome{RoomID: "R1"}) })
	assert.NoError(t, rec.Close())
}
