// Command zit is the external entrypoint: it parses CLI flags, loads the
// effective config, parses a .torrent file, and drives a torrent.Session
// to completion, printing colorized status lines and a download progress
// bar along the way.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"

	"github.com/zit-go/zit/acceptor"
	"github.com/zit-go/zit/config"
	"github.com/zit-go/zit/logging"
	"github.com/zit-go/zit/netrt"
	"github.com/zit-go/zit/torrent"
)

// --------------------------------------------------------------------------------------------- //

func main() {
	os.Exit(run(os.Args[1:]))
}

// --------------------------------------------------------------------------------------------- //

func run(args []string) int {
	fs := flag.NewFlagSet("zit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		torrentPath   string
		listeningPort int
		logLevel      string
		dumpTorrent   bool
		dumpConfig    bool
	)
	fs.StringVar(&torrentPath, "torrent", "", "path to the .torrent file (required)")
	fs.IntVar(&listeningPort, "listening-port", 0, "TCP/UDP port to listen on; also passed to the tracker")
	fs.IntVar(&listeningPort, "p", 0, "shorthand for -listening-port")
	fs.StringVar(&logLevel, "log-level", "", "trace|debug|info|warning|error|critical|off")
	fs.BoolVar(&dumpTorrent, "dump-torrent", false, "parse and print metadata, then exit")
	fs.BoolVar(&dumpConfig, "dump-config", false, "print the effective config, then exit")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	log := logging.Default()
	if logLevel != "" {
		lvl, err := logging.ParseLevel(logLevel)
		if err != nil {
			fmt.Fprintln(os.Stderr, colorstring.Color(fmt.Sprintf("[red]zit: %v[reset]", err)))
			return 1
		}
		log.SetLevel(lvl)
	}

	cfg, err := config.Load(log)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorstring.Color(fmt.Sprintf("[red]zit: %v[reset]", err)))
		return 1
	}
	if listeningPort != 0 {
		cfg.ListeningPort = listeningPort
	}

	if dumpConfig {
		printConfig(cfg)
		return 0
	}

	if torrentPath == "" {
		fmt.Fprintln(os.Stderr, colorstring.Color("[red]zit: -torrent PATH is required[reset]"))
		fs.Usage()
		return 1
	}

	meta, err := torrent.ParseMetadata(torrentPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorstring.Color(fmt.Sprintf("[red]zit: %v[reset]", err)))
		return 1
	}

	if dumpTorrent {
		printMetadata(meta)
		return 0
	}

	return download(meta, cfg, log)
}

// --------------------------------------------------------------------------------------------- //

func download(meta *torrent.Metadata, cfg config.Config, log *logging.Logger) int {
	rt := netrt.Default()

	bar := progressbar.NewOptions64(int64(meta.NumPieces()),
		progressbar.OptionSetDescription(colorstring.Color(fmt.Sprintf("[cyan]%s[reset]", meta.Name))),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	onComplete := func(name string) {
		fmt.Fprintln(os.Stderr, colorstring.Color(fmt.Sprintf("\n[green]zit: completed %s[reset]", name)))
	}

	sessCfg := torrent.Config{
		OutputDir:               ".",
		ListeningPort:           cfg.ListeningPort,
		ConnectionPort:          cfg.ConnectionPort,
		InitiatePeerConnections: cfg.InitiatePeerConnections,
		AssumeFullOnHave:        cfg.AssumeFullOnHave,
		RewriteDockerBridge:     cfg.RewriteDockerBridge,
	}

	sess, err := torrent.NewSession(meta, sessCfg, rt, log, onComplete)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorstring.Color(fmt.Sprintf("[red]zit: %v[reset]", err)))
		return 1
	}
	bar.Set64(int64(sess.ClientPieces().Count()))

	registry := acceptor.NewRegistry()
	registry.Add(sess)
	a := acceptor.New(registry, log)
	if cfg.ListeningPort != 0 {
		addr := fmt.Sprintf(":%d", cfg.ListeningPort)
		if _, err := a.Listen(rt, "tcp", addr); err != nil {
			fmt.Fprintln(os.Stderr, colorstring.Color(fmt.Sprintf("[yellow]zit: listen %s: %v[reset]", addr, err)))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, colorstring.Color(fmt.Sprintf("[red]zit: %v[reset]", err)))
		return 1
	}

	clock := rt.Clock
	for {
		select {
		case <-ctx.Done():
			sess.Stop(context.Background())
			return 0
		case <-clock.After(500 * time.Millisecond):
			bar.Set64(int64(sess.ClientPieces().Count()))
			if sess.Done() {
				sess.Stop(context.Background())
				return 0
			}
		}
	}
}

// --------------------------------------------------------------------------------------------- //

func printMetadata(meta *torrent.Metadata) {
	fmt.Printf("name: %s\n", meta.Name)
	fmt.Printf("announce: %s\n", meta.Announce)
	fmt.Printf("piece length: %d\n", meta.PieceLength)
	fmt.Printf("pieces: %d\n", meta.NumPieces())
	fmt.Printf("info hash: %x\n", meta.InfoHash)
	if meta.IsSingleFile() {
		fmt.Printf("length: %d\n", meta.Length)
	} else {
		fmt.Printf("files:\n")
		for _, f := range meta.Files {
			fmt.Printf("  %s (%d bytes)\n", f.Path, f.Length)
		}
	}
}

// --------------------------------------------------------------------------------------------- //

func printConfig(cfg config.Config) {
	fmt.Printf("initiate_peer_connections=%v\n", cfg.InitiatePeerConnections)
	fmt.Printf("listening_port=%d\n", cfg.ListeningPort)
	fmt.Printf("connection_port=%d\n", cfg.ConnectionPort)
	fmt.Printf("assume_full_on_have=%v\n", cfg.AssumeFullOnHave)
	fmt.Printf("rewrite_docker_bridge=%v\n", cfg.RewriteDockerBridge)
}
