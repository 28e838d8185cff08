// Package server implements the issuance engine's TCP front door (spec
// §4.1 "Connection handling" and §6 "Engine TCP listener"): it accepts
// connections, decodes framed GrantRequests, dispatches each to the engine,
// and writes back framed GrantReplies in the order requests were read —
// never reordering replies within a connection, even though many
// connections are served concurrently.
package server

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"

	uuid "github.com/hashicorp/go-uuid"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"

	"github.com/aconrad/pulley-interview/internal/engine"
	"github.com/aconrad/pulley-interview/internal/wire"
)

// IdleTimeout is how long a connection may sit without a request before the
// server closes it. Spec §5 recommends a keepalive window of at least 60s.
var IdleTimeout = 60 * time.Second

// Serve accepts connections on |ln| and serves them against |eng| until
// |ctx| is cancelled, at which point it stops accepting, closes |ln| and
// every open connection, and waits for all connection goroutines to return.
// A request still awaiting its engine decision at that moment gets no
// reply. Each connection is served by its own goroutine; the accept
// loop and all connection goroutines are supervised by an errgroup so a
// panic or unexpected error in one doesn't silently vanish.
func Serve(ctx context.Context, ln net.Listener, eng *engine.Engine) error {
	var g, gctx = errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			var conn, err = ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return nil // Expected: Close() above unblocked Accept.
				default:
					return errors.WithMessage(err, "accept")
				}
			}
			g.Go(func() error {
				serveConn(gctx, conn, eng)
				return nil
			})
		}
	})

	return g.Wait()
}

// serveConn reads and decides requests from |conn| one at a time, in
// arrival order, replying to each before reading the next. A malformed
// frame is fatal only to this connection (spec §4.1 "Failure semantics");
// other connections are unaffected.
func serveConn(ctx context.Context, conn net.Conn, eng *engine.Engine) {
	defer conn.Close()

	var connID, _ = uuid.GenerateUUID()
	var tr = trace.New("issuance.conn", connID)
	defer tr.Finish()
	ctx = trace.NewContext(ctx, tr)

	var log = log.WithFields(log.Fields{"conn": connID, "remote": conn.RemoteAddr()})
	log.Info("connection accepted")
	defer log.Info("connection closed")

	// Mirrors Serve's own ctx.Done()-closes-the-listener goroutine: a
	// connection idle-blocked in wire.ReadRequest must not make shutdown
	// wait out the full IdleTimeout, so closing conn unblocks it promptly.
	var stopWatch = make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stopWatch:
		}
	}()

	var br = bufio.NewReader(conn)
	var bw = bufio.NewWriter(conn)

	for {
		if IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		}

		var req, err = wire.ReadRequest(br)
		if err != nil {
			if err == io.EOF {
				return // Client closed cleanly.
			}
			log.WithError(err).Warn("malformed request frame; closing connection")
			return
		}
		tr.LazyPrintf("request: class=%s amount=%d", req.ClassTag, req.Amount)

		var res, gerr = eng.Grant(ctx, req.ClassTag, req.HolderName, uint64(req.Amount))
		if gerr != nil {
			log.WithError(gerr).Warn("engine unavailable; closing connection")
			return
		}

		var reply = wire.GrantReply{Status: res.Reason, CertificateNumber: res.CertificateNumber}
		if err = wire.WriteReply(bw, reply); err != nil {
			log.WithError(err).Warn("failed writing reply; closing connection")
			return
		}
	}
}
