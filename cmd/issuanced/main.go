// Command issuanced runs the issuance engine: the single authoritative
// process owning per-class share inventory and certificate numbering (spec
// §4.1, §6). It opens (or creates) its append-only journal, replays it to
// reconstruct class state, then serves the wire protocol over TCP until a
// termination signal arrives.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/aconrad/pulley-interview/internal/config"
	"github.com/aconrad/pulley-interview/internal/engine"
	"github.com/aconrad/pulley-interview/internal/journal"
	mbp "github.com/aconrad/pulley-interview/internal/mainboilerplate"
	"github.com/aconrad/pulley-interview/internal/server"
)

var Config = new(struct {
	Engine struct {
		mbp.AddressConfig `group:"Listener"`
		JournalPath       string `long:"journal" env:"JOURNAL" required:"true" description:"Path to the engine's append-only journal file"`
		ClassManifest     string `long:"classes" env:"CLASSES" required:"true" description:"Path to the class manifest file (YAML/JSON)"`
	} `group:"Engine" namespace:"engine" env-namespace:"ENGINE"`
	Log mbp.LogConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	mbp.MustParseArgs(parser)
	Config.Log.MustConfigure()

	var classes, cerr = config.LoadClassManifest(Config.Engine.ClassManifest)
	mbp.Must(cerr, "loading class manifest", "path", Config.Engine.ClassManifest)

	var j, records, jerr = journal.Open(Config.Engine.JournalPath)
	mbp.Must(jerr, "opening journal", "path", Config.Engine.JournalPath)

	var eng, eerr = engine.Open(classes, j, records)
	mbp.Must(eerr, "starting engine from journal replay")

	var ln, lerr = Config.Engine.Listen()
	mbp.Must(lerr, "binding listener", "address", Config.Engine.Address)

	log.WithFields(log.Fields{
		"address": Config.Engine.Address,
		"journal": Config.Engine.JournalPath,
		"classes": len(classes),
	}).Info("issuanced: starting")

	var ctx, stop = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(gctx) })
	g.Go(func() error { return server.Serve(gctx, ln, eng) })

	var runErr = g.Wait()

	if closeErr := j.Close(); closeErr != nil && runErr == nil {
		runErr = closeErr
	}

	if runErr != nil && ctx.Err() == nil {
		// ctx.Err() is nil only when we weren't the ones who cancelled —
		// i.e. this is a genuine fault (fatal journal error, listener
		// failure), not ordinary signal-driven shutdown.
		log.WithError(runErr).Error("issuanced: exiting due to fatal error")
		os.Exit(1)
	}

	log.Info("issuanced: clean shutdown")
}
