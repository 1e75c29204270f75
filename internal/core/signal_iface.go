package core

// Frame is one encoded JSON message ready for the wire.
type Frame []byte

// SignalConnection is the raw side of the mentor link. TrySend never blocks:
// a full buffer yields ErrBackpressure and a closed link ErrClosed.
type SignalConnection interface {
	TrySend(Frame) error
	Close() error
}
