// SPDX-License-Identifier: BSD-3-Clause

package hostwd

import "encoding/binary"

// pmonCommand is the first field of a PMON liveness datagram. No explicit
// healthy command exists; its absence (an all-zero datagram) already means
// "all healthy".
type pmonCommand uint32

const (
	pmonHealthy pmonCommand = iota
	pmonCrit
)

// pmonMessageSize is the wire size of the fixed PMON struct: a command word
// plus one reserved word for future use. Any datagram larger than this is
// rejected as corrupt without touching the grace counter.
const pmonMessageSize = 8

// decodePmonMessage parses a PMON datagram, rejecting any payload larger
// than the fixed wire struct.
func decodePmonMessage(buf []byte) (pmonCommand, error) {
	if len(buf) > pmonMessageSize {
		return 0, ErrOversizedDatagram
	}
	if len(buf) < 4 {
		return pmonHealthy, nil
	}
	return pmonCommand(binary.LittleEndian.Uint32(buf[:4])), nil
}
