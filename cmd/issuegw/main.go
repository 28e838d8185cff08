// Command issuegw runs the HTTP Adapter (spec §4.5): a stateless gateway
// translating POSTed JSON grant requests into wire-protocol calls against a
// pool of connections to an issuanced process, and back into HTTP
// responses. Many issuegw processes may run in front of one issuanced.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/aconrad/pulley-interview/internal/adapter"
	mbp "github.com/aconrad/pulley-interview/internal/mainboilerplate"
	"github.com/aconrad/pulley-interview/pool"
)

var Config = new(struct {
	Gateway struct {
		mbp.AddressConfig `group:"Listener"`
		EngineAddress     string `long:"engine-address" env:"ENGINE_ADDRESS" required:"true" description:"Address of the issuanced TCP listener"`
		PoolSize          int    `long:"pool-size" env:"POOL_SIZE" default:"8" description:"Maximum concurrent connections to the engine"`
	} `group:"Gateway" namespace:"gateway" env-namespace:"GATEWAY"`
	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	mbp.MustParseArgs(parser)
	Config.Log.MustConfigure()

	var p = pool.New(Config.Gateway.PoolSize, pool.DialTCP(Config.Gateway.EngineAddress))
	defer p.Close()

	var reaper = time.NewTicker(30 * time.Second)
	defer reaper.Stop()
	go func() {
		for range reaper.C {
			p.ReapIdle(2 * time.Minute)
		}
	}()

	var httpSrv = &http.Server{
		Addr:    Config.Gateway.Address,
		Handler: adapter.NewEngine(p),
	}

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("issuegw: error during HTTP shutdown")
		}
	}()

	log.WithFields(log.Fields{
		"address":       Config.Gateway.Address,
		"engineAddress": Config.Gateway.EngineAddress,
		"poolSize":      Config.Gateway.PoolSize,
	}).Info("issuegw: starting")

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("issuegw: fatal HTTP server error")
	}
	log.Info("issuegw: clean shutdown")
}
