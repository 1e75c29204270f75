package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/mentor/internal/domain"
)

func TestEncode_InlinesTypeTag(t *testing.T) {
	raw, err := Encode(StudentMessage{Message: "what is NDVI?", IsQuestion: true})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, TypeStudentMsg, got["type"])
	assert.Equal(t, "what is NDVI?", got["message"])
	assert.Equal(t, true, got["isQuestion"])
	assert.Equal(t, false, got["handRaised"])
}

func TestEncode_EmptyNotices(t *testing.T) {
	raw, err := Encode(StartSpeaking{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"student.start_speaking"}`, string(raw))

	raw, err = Encode(StopSpeaking{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"student.stop_speaking"}`, string(raw))
}

func TestEncode_JoinSession(t *testing.T) {
	raw, err := Encode(JoinSession{
		SessionID: "s-1",
		UserID:    "u-1",
		Config:    domain.DefaultSessionConfig(domain.SessionGroup),
	})
	require.NoError(t, err)

	var got struct {
		Type      string               `json:"type"`
		SessionID string               `json:"sessionId"`
		UserID    string               `json:"userId"`
		Config    domain.SessionConfig `json:"config"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, TypeJoinSession, got.Type)
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "u-1", got.UserID)
	assert.Equal(t, domain.SessionGroup, got.Config.SessionType)
	assert.True(t, got.Config.VoiceEnabled)
}

func TestDecodeInbound_KnownTypes(t *testing.T) {
	cases := []struct {
		raw  string
		want Inbound
	}{
		{`{"type":"avatar.video_frame","frame":"AAEC"}`, VideoFrame{Frame: "AAEC"}},
		{`{"type":"response.audio.delta","delta":"AQI="}`, AudioDelta{Delta: "AQI="}},
		{`{"type":"response.audio.done"}`, AudioDone{}},
		{`{"type":"response.text.delta","delta":"Hello"}`, TextDelta{Delta: "Hello"}},
		{`{"type":"session.participant_left","participantId":"p-9"}`, ParticipantLeft{ParticipantID: "p-9"}},
		{`{"type":"youtube.stream_started","streamUrl":"https://youtu.be/x"}`, StreamStarted{StreamURL: "https://youtu.be/x"}},
		{`{"type":"session.joined","sessionId":"s-1","participantCount":3}`, SessionJoined{SessionID: "s-1", ParticipantCount: 3}},
		{`{"type":"error","message":"boom"}`, ServiceError{Message: "boom"}},
		{`{"type":"student.speaking_started"}`, SpeakingAck{Started: true}},
		{`{"type":"transcription.result","text":"hi there"}`, Transcription{Text: "hi there"}},
	}
	for _, tc := range cases {
		got, err := DecodeInbound([]byte(tc.raw))
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
		assert.Equal(t, tc.want.InboundType(), got.InboundType())
	}
}

func TestDecodeInbound_ParticipantJoined(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"session.participant_joined","participant":{"id":"p-1","name":"Student 2","joinedAt":"2024-01-01T00:00:00Z"}}`))
	require.NoError(t, err)
	joined, ok := msg.(ParticipantJoined)
	require.True(t, ok, "decoded type = %T", msg)
	assert.Equal(t, domain.ParticipantID("p-1"), joined.Participant.ID)
	assert.Equal(t, "Student 2", joined.Participant.Name)
	assert.Empty(t, joined.Participant.Avatar)
}

func TestDecodeInbound_Annotations(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"whiteboard.annotation","annotation":{"type":"draw","points":[{"x":1,"y":2},{"x":3,"y":4}],"color":"#ef4444","width":3}}`))
	require.NoError(t, err)
	draw := msg.(WhiteboardAnnotation).Annotation
	assert.Equal(t, domain.AnnotationDraw, draw.Kind)
	assert.Equal(t, []domain.Point{{X: 1, Y: 2}, {X: 3, Y: 4}}, draw.Points)
	assert.Equal(t, 3.0, draw.StrokeWidth())

	msg, err = DecodeInbound([]byte(`{"type":"whiteboard.annotation","annotation":{"type":"pointer","x":960,"y":100,"message":"Welcome"}}`))
	require.NoError(t, err)
	ptr := msg.(WhiteboardAnnotation).Annotation
	assert.Equal(t, domain.AnnotationPointer, ptr.Kind)
	assert.Equal(t, domain.Point{X: 960, Y: 100}, ptr.At)
	assert.Equal(t, domain.DefaultPointerColor, ptr.StrokeColor())
	assert.Equal(t, "Welcome", ptr.Label)
}

func TestDecodeInbound_AvatarEvents(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"avatar.initialized","avatarId":"geova-mentor"}`))
	require.NoError(t, err)
	init := msg.(AvatarUpdate)
	assert.True(t, init.Initialized)
	assert.Equal(t, TypeAvatarInitialized, init.InboundType())

	msg, err = DecodeInbound([]byte(`{"type":"avatar.update","expression":"excited","gesture":"pointing"}`))
	require.NoError(t, err)
	upd := msg.(AvatarUpdate)
	assert.False(t, upd.Initialized)
	assert.Equal(t, "excited", upd.Expression)
}

func TestDecodeInbound_UnknownIsPreserved(t *testing.T) {
	msg, err := DecodeInbound([]byte(`{"type":"avatar.mood","mood":"calm"}`))
	require.NoError(t, err)
	u, ok := msg.(Unknown)
	require.True(t, ok)
	assert.Equal(t, "avatar.mood", u.InboundType())
	assert.Contains(t, string(u.Raw), "calm")
}

func TestDecodeInbound_Errors(t *testing.T) {
	_, err := DecodeInbound([]byte(`not json`))
	var de *DecodeError
	require.ErrorAs(t, err, &de)

	_, err = DecodeInbound([]byte(`{"delta":"x"}`))
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "frame missing type", de.Message)

	_, err = DecodeInbound([]byte(`{"type":"response.text.delta","delta":42}`))
	require.ErrorAs(t, err, &de)
	assert.Equal(t, TypeTextDelta, de.Type)
}
