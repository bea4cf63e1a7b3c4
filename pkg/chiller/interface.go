package chiller

// Transport is the polling capability the acquisition loop needs from a
// controller link (real or mocked).
type Transport interface {
	// Available reports whether a complete frame is ready to be read.
	Available() bool
	// ReadFrame returns up to n bytes of the ready frame. Only meaningful
	// after Available returned true.
	ReadFrame(n int) []byte
	// Status is the link status of the last Available call: >= 0 means
	// transient or no data, < 0 is a failure code.
	Status() int
}

// Ensure Serial implements Transport.
var _ Transport = (*Serial)(nil)

// Ensure Mock implements Transport.
var _ Transport = (*Mock)(nil)
