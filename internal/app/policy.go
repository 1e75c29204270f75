package app

import "github.com/dkeye/mentor/internal/protocol"

type BackpressureAction int

const (
	// FailSend surfaces the backpressure error to the caller.
	FailSend BackpressureAction = iota
	// DropFrame discards the message silently.
	DropFrame
	// Disconnect closes the connection as if it had dropped.
	Disconnect
)

// Policy decides what happens when the outbound buffer is full.
type Policy interface {
	OnBackpressure(msg protocol.Outbound) BackpressureAction
}

// SimplePolicy drops microphone audio and fails everything else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(msg protocol.Outbound) BackpressureAction {
	if _, ok := msg.(protocol.AudioChunk); ok {
		return DropFrame
	}
	return FailSend
}
