// Command rendezvous runs the topic rendezvous server that pairs mctunnel peers.
//
// Peers connect over WebSocket, announce discovery keys, and exchange
// SDP/ICE through this server until their DataChannel opens. No game traffic
// passes through it.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/1ureka/mctunnel/internal/signaling"
	"github.com/1ureka/mctunnel/internal/util"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := flag.String("addr", ":8790", "Listen address")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	if err := signaling.NewServer().ListenAndServe(ctx, *addr); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}
	util.LogInfo("rendezvous server stopped")
}
