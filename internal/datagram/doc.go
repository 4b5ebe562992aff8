// Package datagram owns the bridge's UDP socket.
//
// A Transport runs two goroutines. The receive loop issues exactly one read
// at a time into a single buffer; for every datagram it first records the
// sender as the current peer, valid payload or not, and then hands the bytes
// to the Handler before reading again. The send worker drains a bounded
// queue filled by Send, writing each datagram to the peer that was current
// when Send was called.
//
// # Errors
//
// Closing the transport ends the receive loop cleanly. Other receive errors
// are logged and the read is re-armed; with MaxReceiveErrors set, too many
// consecutive failures end the loop and are reported by Err. Write errors
// never stop the transport. Send before any datagram has arrived returns
// ErrNoPeer and sends nothing.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package datagram
