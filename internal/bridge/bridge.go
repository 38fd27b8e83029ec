// Package bridge pumps bytes between a local TCP socket and a tunnel
// session until either side ends.
package bridge

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/1ureka/mctunnel/internal/mux"
	"github.com/1ureka/mctunnel/internal/swarm"
)

// copyBufferSize bounds a single local read, and with it a single Send.
const copyBufferSize = 16 * 1024

// Bridge copies local→remote and remote→local concurrently. Whichever
// direction finishes first closes both ends exactly once, which unblocks
// the other direction. Cancelling ctx does the same. Ordinary disconnects
// are reported as nil.
func Bridge(ctx context.Context, local net.Conn, remote io.ReadWriteCloser) error {
	var once sync.Once
	closeBoth := func() {
		once.Do(func() {
			local.Close()
			remote.Close()
		})
	}
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		defer closeBoth()
		return pump(remote, local)
	})
	g.Go(func() error {
		defer closeBoth()
		return pump(local, remote)
	})
	return g.Wait()
}

func pump(dst io.Writer, src io.Reader) error {
	buf := make([]byte, copyBufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	if Expected(err) {
		return nil
	}
	return err
}

// Expected reports whether err is an ordinary way for a bridged session to
// end.
func Expected(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, mux.ErrClosed),
		errors.Is(err, mux.ErrStreamClosed),
		errors.Is(err, mux.ErrReplaced),
		errors.Is(err, swarm.ErrConnClosed):
		return true
	}
	return false
}
