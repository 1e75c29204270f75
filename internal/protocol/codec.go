package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type DecodeError struct {
	Type    string
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Type)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serialises an outbound message with its type tag inlined.
func Encode(msg Outbound) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode: nil message")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.outboundType(), err)
	}
	typ, _ := json.Marshal(msg.outboundType())
	if string(body) == "{}" {
		return []byte(`{"type":` + string(typ) + `}`), nil
	}
	out := make([]byte, 0, len(body)+len(typ)+9)
	out = append(out, `{"type":`...)
	out = append(out, typ...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// DecodeInbound parses one text frame into its typed message.
func DecodeInbound(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Message: "bad json", Err: err}
	}
	typ := strings.TrimSpace(env.Type)
	if typ == "" {
		return nil, &DecodeError{Message: "frame missing type"}
	}

	switch typ {
	case TypeVideoFrame:
		return decodeAs[VideoFrame](typ, data)
	case TypeAudioDelta:
		return decodeAs[AudioDelta](typ, data)
	case TypeAudioDone:
		return AudioDone{}, nil
	case TypeTextDelta:
		return decodeAs[TextDelta](typ, data)
	case TypeWhiteboard:
		return decodeAs[WhiteboardAnnotation](typ, data)
	case TypeParticipantJoined:
		return decodeAs[ParticipantJoined](typ, data)
	case TypeParticipantLeft:
		return decodeAs[ParticipantLeft](typ, data)
	case TypeStreamStarted:
		return decodeAs[StreamStarted](typ, data)
	case TypeSessionJoined:
		return decodeAs[SessionJoined](typ, data)
	case TypeError:
		return decodeAs[ServiceError](typ, data)
	case TypeSpeakingStarted:
		return SpeakingAck{Started: true}, nil
	case TypeSpeakingStopped:
		return SpeakingAck{}, nil
	case TypeTranscription:
		return decodeAs[Transcription](typ, data)
	case TypeAvatarInitialized, TypeAvatarUpdate:
		msg, err := decodeAs[AvatarUpdate](typ, data)
		if err != nil {
			return nil, err
		}
		u := msg.(AvatarUpdate)
		u.Initialized = typ == TypeAvatarInitialized
		return u, nil
	default:
		return Unknown{Type: typ, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func decodeAs[T Inbound](typ string, data []byte) (Inbound, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &DecodeError{Type: typ, Message: "bad payload", Err: err}
	}
	return msg, nil
}
