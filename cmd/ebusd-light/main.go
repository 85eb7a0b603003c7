package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/makischu/ebusd-light-B5/internal/adapter"
	"github.com/makischu/ebusd-light-B5/internal/broker"
	"github.com/makischu/ebusd-light-B5/internal/config"
	"github.com/makischu/ebusd-light-B5/internal/driver"
	"github.com/makischu/ebusd-light-B5/internal/observability"
)

// Version is the version number, typically injected via ldflags with git
// build, matching cmd/multiserver/main.go.
var Version = "dev"

// ConfigFileName is the default config file name, loaded if present.
var ConfigFileName = "ebusd-light.yml"

func root() {
	str := `ebusd-light bridges a TCP-exposed eBUS adapter to an MQTT broker.

Usage:
	ebusd-light <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `ebusd-light is configured via its .yaml file. For a primer on YAML, see
https://yaml.org/start.html

When no configuration file is present, the defaults are used (the same
defaults the original hardcoded #define block used). The command mkconf
writes the configuration file with the default values; there is no need to
do this unless you want to start from the prepopulated defaults.`
	fmt.Println(str)
}

func pversion() {
	fmt.Printf("ebusd-light version %v\n", Version)
}

func mkconf() {
	if err := config.WriteDefault(ConfigFileName); err != nil {
		log.Fatal(err)
	}
}

func printconf(cfg config.Config) {
	if err := config.Dump(cfg, os.Stdout); err != nil {
		log.Fatal(err)
	}
}

// run wires adapter, broker, driver and the stats HTTP server together and
// loops them until the process is signalled to stop. It is the idiomatic
// collapse of original_source/ebusd-light.cpp's
// START→INIT→WORK→RESTART→DEIN→PAUS state cascade: a context cancelled by
// signal.NotifyContext replaces the volatile run flag and sig_handler, and
// deferred Close calls replace the explicit DEIN* teardown states, in the
// same bus→adapter→broker order the original tears down in.
func run(cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for ctx.Err() == nil {
		if err := runOnce(ctx, cfg); err != nil {
			log.Printf("ebusd-light: %v, restarting in %s", err, cfg.RetryPause())
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.RetryPause()):
			}
		}
	}
}

func runOnce(ctx context.Context, cfg config.Config) error {
	a := adapter.New(cfg.AdapterHost+fmt.Sprintf(":%d", cfg.AdapterPort), cfg.Serial, nil)
	if err := a.Open(); err != nil {
		return err
	}

	b := broker.New(broker.BrokerConfig{
		URL:      cfg.BrokerURL,
		ClientID: cfg.ClientID,
		RxTopic:  cfg.RxTopic,
		TxTopic:  cfg.TxTopic,
	})
	if err := b.Connect(); err != nil {
		a.Close()
		return err
	}
	// Deferred calls run last-in first-out: the adapter closes before the broker.
	defer b.Close()
	defer a.Close()

	d := driver.New(a, b, cfg.Timeouts())

	srv := &http.Server{Addr: cfg.StatsAddr, Handler: observability.NewRouter(d)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ebusd-light: stats server: %v", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("ebusd-light: connected to adapter %s and broker %s", a.Addr, cfg.BrokerURL)
	return d.Run(ctx)
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}

	cfg, err := config.Load(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}

	switch strings.ToLower(args[1]) {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf(cfg)
	case "version":
		pversion()
	case "run":
		run(cfg)
	default:
		log.Fatal("unknown command")
	}
}
