// Package main implements fakertm, a deterministic WebSocket responder
// speaking the JSON channel protocol for integration testing of channel
// clients. It models publish acknowledgment, subscription fanout, bounded
// per-channel history with position and history-count resume, filter
// subscriptions streaming their source channel, and optional fault injection
// that severs connections after a fixed number of frames.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

var (
	flagAddr      = flag.String("addr", "127.0.0.1:18800", "listen address")
	flagAppKey    = flag.String("appkey", "", "require this appkey on connect (empty accepts any)")
	flagGen       = flag.Uint("generation", 1, "position generation minted by this server instance")
	flagHistory   = flag.Int("history-depth", 1024, "per-channel history ring size (0 keeps everything)")
	flagDropAfter = flag.Uint64("drop-after", 0, "sever each connection after N frames (0 disables)")
	flagLogConn   = flag.Bool("log-conn", true, "log connect/disconnect events")
)

func main() {
	flag.Parse()

	srv := newServer(uint32(*flagGen), *flagHistory)
	srv.appKey = *flagAppKey
	srv.dropAfter = *flagDropAfter
	srv.logConn = *flagLogConn

	listener, err := net.Listen("tcp", *flagAddr)
	if err != nil {
		log.Fatalf("fakertm: listen %s failed: %v", *flagAddr, err)
	}

	httpServer := &http.Server{Handler: srv}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("fakertm: received %v, shutting down", sig)
		_ = httpServer.Close()
	}()

	log.Printf("fakertm listening on %s (generation=%d history-depth=%d drop-after=%d appkey=%v)",
		*flagAddr, *flagGen, *flagHistory, *flagDropAfter, *flagAppKey != "")
	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.Fatalf("fakertm: serve: %v", err)
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetOutput(os.Stderr)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "fakertm — deterministic channel-protocol WebSocket responder for testing\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
}
