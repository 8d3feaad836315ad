// Package limits provides centralized size limits for the socket layer.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxUDPChannels is the fixed number of channels on a UDP socket.
	MaxUDPChannels = 4

	// MaxDatagramSize is the largest payload of a single IPv4 UDP datagram.
	MaxDatagramSize = 65535 - 20 - 8

	// DefaultListenBacklog is the listen(2) backlog used for TCP listeners.
	DefaultListenBacklog = 5

	// MaxListenBacklog bounds configured backlogs.
	MaxListenBacklog = 4096

	// MaxSetCapacity bounds the number of sockets a single set can hold.
	MaxSetCapacity = 65536
)

var (
	// ErrDatagramTooLarge indicates a payload that cannot fit in one datagram
	ErrDatagramTooLarge = errors.New("datagram too large")

	// ErrChannelOutOfRange indicates a channel id outside the fixed table
	ErrChannelOutOfRange = errors.New("channel out of range")

	// ErrCapacityOutOfRange indicates a socket set capacity that cannot be allocated
	ErrCapacityOutOfRange = errors.New("capacity out of range")
)

// ValidateDatagram validates a UDP payload against MaxDatagramSize.
// Empty payloads are legal datagrams.
func ValidateDatagram(payload []byte) error {
	if len(payload) > MaxDatagramSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDatagramTooLarge, len(payload), MaxDatagramSize)
	}
	return nil
}

// ValidateChannel validates a channel id against the fixed channel table.
func ValidateChannel(id int) error {
	if id < 0 || id >= MaxUDPChannels {
		return fmt.Errorf("%w: id %d not in [0, %d)", ErrChannelOutOfRange, id, MaxUDPChannels)
	}
	return nil
}

// ValidateSetCapacity validates a requested socket set capacity.
func ValidateSetCapacity(capacity int) error {
	if capacity < 1 || capacity > MaxSetCapacity {
		return fmt.Errorf("%w: capacity %d not in [1, %d]", ErrCapacityOutOfRange, capacity, MaxSetCapacity)
	}
	return nil
}
