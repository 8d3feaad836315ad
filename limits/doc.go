// Package limits provides centralized size constants and validation functions
// for the socket layer. Every component that sizes a buffer, a channel table or
// a socket set reads its bounds from here, so the limits stay consistent.
//
// # Limits
//
//   - MaxUDPChannels (4): Number of address-filter channels on every UDP
//     socket. The table is fixed and never resized.
//
//   - MaxDatagramSize (65507 bytes): The largest IPv4 UDP payload
//     (65535 minus the 20 byte IP header and the 8 byte UDP header).
//
//   - DefaultListenBacklog (5): Pending-connection queue length for TCP
//     listeners unless configured otherwise.
//
//   - MaxSetCapacity (65536): Upper bound for a socket set's capacity,
//     checked before every allocation or growth.
//
// # Validation Functions
//
//	err := limits.ValidateDatagram(payload)
//	if err != nil {
//	    // ErrDatagramTooLarge
//	}
//
// ValidateChannel and ValidateSetCapacity follow the same pattern and wrap
// ErrChannelOutOfRange and ErrCapacityOutOfRange respectively.
package limits
