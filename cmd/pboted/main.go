// Package main provides the entry point for the pboted node.
// The node relays mail over the I2P anonymity network: outgoing mail
// is encrypted and stored into a distributed hash table, incoming
// mail is fetched from it and served to local clients over POP3.
//
// Usage:
//
//	pboted [flags]
//
// Flags:
//
//	-datadir string    Data directory (default "pboted")
//	-pop3 string       POP3 listen address (default "127.0.0.1:110")
//	-pop3user string   POP3 account name (default "pboted")
//	-port int          I2P datagram port (default 5000)
//	-debug             Enable debug logging
//	-help              Show help message
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nesbox/pboted/lib/bote"
	"github.com/nesbox/pboted/lib/dht"
	"github.com/nesbox/pboted/lib/pop3"
	"github.com/nesbox/pboted/lib/transport"
	"github.com/nesbox/pboted/lib/worker"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Build info
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, port := parseFlags()

	log := logrus.StandardLogger()
	log.SetOutput(os.Stdout)
	switch cfg.LogLevel {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	log.WithFields(logrus.Fields{
		"version":   Version,
		"buildTime": BuildTime,
		"commit":    GitCommit,
	}).Info("Starting pboted node")

	ctx, err := bote.NewContext(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to initialize node context")
		os.Exit(1)
	}

	peers, err := dht.LoadPeers(ctx.Dirs.Path("peers.txt"))
	if err != nil {
		log.WithError(err).Error("Failed to read peer list")
		os.Exit(1)
	}
	log.WithField("peers", len(peers)).Info("Peer list loaded")

	// Connect to the I2P router
	dialCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	link, err := transport.Connect(dialCtx, port)
	cancel()
	if err != nil {
		log.WithError(err).Error("Failed to connect to I2P router")
		log.Info("Make sure I2P is running and I2CP is enabled")
		os.Exit(1)
	}
	log.WithField("destination", link.Destination()).Info("I2P session established")

	cache, err := dht.NewLocalCache(ctx.Dirs)
	if err != nil {
		log.WithError(err).Error("Failed to open the local packet cache")
		os.Exit(1)
	}

	dhtWorker := dht.NewWorker(ctx, cache, peers, cfg.Intervals.FetchTimeout)
	emailWorker := worker.NewEmailWorker(ctx, dhtWorker)

	tr := transport.NewTransport(ctx, link, port)
	link.SetReceiver(func(data []byte, from string) {
		if err := tr.Deliver(data, from); err != nil {
			log.WithError(err).Debug("Dropping malformed datagram")
		}
	})

	tr.Start()
	dhtWorker.Start()
	emailWorker.Start()

	server := pop3.NewServer(ctx, emailWorker)
	errChan := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.POP3Addr).Info("POP3 listening")
		if err := server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case err := <-errChan:
		log.WithError(err).Error("POP3 server error")
	}

	log.Info("Shutting down...")

	server.Close()
	emailWorker.Stop()
	dhtWorker.Stop()
	tr.Stop()

	log.WithFields(logrus.Fields{
		"uptime":    ctx.Uptime().Round(time.Second).String(),
		"bytesSent": ctx.BytesSent(),
		"bytesRecv": ctx.BytesRecv(),
	}).Info("pboted stopped")
}

func parseFlags() (*bote.Config, uint16) {
	cfg := bote.DefaultConfig()

	flag.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "Data directory")
	flag.StringVar(&cfg.POP3Addr, "pop3", cfg.POP3Addr, "POP3 listen address")
	flag.StringVar(&cfg.POP3User, "pop3user", cfg.POP3User, "POP3 account name")
	flag.StringVar(&cfg.LogLevel, "loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	port := flag.Int("port", 5000, "I2P datagram port")
	debug := flag.Bool("debug", false, "Enable debug logging")

	showVersion := flag.Bool("version", false, "Show version information")
	showHelp := flag.Bool("help", false, "Show help message")

	flag.Parse()

	if *showVersion {
		fmt.Printf("pboted %s\n", Version)
		fmt.Printf("Build time: %s\n", BuildTime)
		fmt.Printf("Git commit: %s\n", GitCommit)
		os.Exit(0)
	}

	if *showHelp {
		fmt.Println("pboted - I2P-Bote mail node")
		fmt.Println()
		fmt.Println("Usage: pboted [flags]")
		fmt.Println()
		fmt.Println("Flags:")
		flag.PrintDefaults()
		fmt.Println()
		fmt.Println("Environment variables:")
		fmt.Println("  PBOTED_DATADIR  Data directory (overrides -datadir)")
		fmt.Println("  PBOTED_DEBUG    Enable debug logging (overrides -debug)")
		os.Exit(0)
	}

	if envDir := os.Getenv("PBOTED_DATADIR"); envDir != "" {
		cfg.DataDir = envDir
	}
	if *debug || os.Getenv("PBOTED_DEBUG") != "" {
		cfg.LogLevel = "debug"
	}

	if *port < 0 || *port > 65535 {
		fmt.Fprintf(os.Stderr, "invalid port %d\n", *port)
		os.Exit(1)
	}

	return cfg, uint16(*port)
}
