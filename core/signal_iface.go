package core

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts a control-plane messaging transport.
// Owned by the adapter that created it; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
