package arduino

// Transport is a synchronous line oriented request/response link to a single
// instrument. Query sends one command and blocks until the matching reply
// line arrives or the transport gives up.
type Transport interface {
	Query(command string) (string, error)
	Close() error
}

// Dialer opens a Transport to the instrument at endpoint.
type Dialer func(endpoint string) (Transport, error)

// Ensure Serial implements Transport.
var _ Transport = (*Serial)(nil)

// Ensure Mock implements Transport.
var _ Transport = (*Mock)(nil)
