// SPDX-License-Identifier: BSD-3-Clause

package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// ConnProvider hands out in-process connections to the embedded NATS server,
// implementing nats.InProcessConnProvider for every other service in the
// supervision tree.
type ConnProvider struct {
	server *server.Server
}

// InProcessConn creates a connection to the NATS server without going
// through the network stack. It blocks for up to a minute waiting for the
// server to become ready, which covers supervised restarts where a sibling
// service reconnects while the bus is still coming back up.
func (p *ConnProvider) InProcessConn() (net.Conn, error) {
	if p.server == nil {
		return nil, ErrConnectionNotAvailable
	}

	if !p.server.ReadyForConnections(time.Minute) {
		return nil, ErrServerNotReady
	}

	conn, err := p.server.InProcessConn()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInProcessConnFailed, err)
	}

	return conn, nil
}
