// Package mainboilerplate collects the small conventions shared by both of
// this repo's command-line entry points: flag-group structs for address and
// logging configuration, and fatal-error plumbing. It plays the same role
// as the teacher's go.gazette.dev/core/mainboilerplate package (see
// examples/word-count/wordcountctl/main.go for the idiom it's adapted
// from), trimmed to what this repo's processes actually need — no gRPC
// dial helpers or Etcd address flags, since neither binary here talks to
// either.
package mainboilerplate

import (
	"errors"
	"net"
	"os"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// AddressConfig is the flag group for a process's bind or dial address.
type AddressConfig struct {
	Address string `long:"address" env:"ADDRESS" default:"127.0.0.1:9000" description:"Address to bind or dial"`
}

// Listen binds a TCP listener on the configured address.
func (c AddressConfig) Listen() (net.Listener, error) {
	return net.Listen("tcp", c.Address)
}

// LogConfig is the flag group controlling logrus's global configuration.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" description:"Logging level (debug, info, warn, error)"`
	Format string `long:"format" env:"FORMAT" default:"text" description:"Logging format (text, json)"`
}

// MustConfigure applies the LogConfig to the global logrus logger, or exits
// the process if the configured level is not recognized.
func (c LogConfig) MustConfigure() {
	var level, err = log.ParseLevel(c.Level)
	Must(err, "parsing --log.level")
	log.SetLevel(level)

	if c.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{})
	}
}

// Must logs |message| and exits the process with status 1 if |err| is
// non-nil. It's the uniform fatal-error path for both command-line tools:
// anything reaching it is a startup-time configuration or I/O failure the
// process cannot recover from.
func Must(err error, message string, args ...interface{}) {
	if err == nil {
		return
	}
	var fields = log.Fields{"error": err}
	if len(args)%2 == 0 {
		for i := 0; i+1 < len(args); i += 2 {
			if key, ok := args[i].(string); ok {
				fields[key] = args[i+1]
			}
		}
	}
	log.WithFields(fields).Fatal(message)
}

// MustParseArgs parses os.Args with |parser|, printing usage and exiting 0
// on --help, or exiting 1 on any other parse error.
func MustParseArgs(parser *flags.Parser) {
	var _, err = parser.Parse()
	if err == nil {
		return
	}

	var ferr *flags.Error
	if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
		os.Exit(0)
	}
	log.WithError(err).Error("failed to parse arguments")
	os.Exit(1)
}
