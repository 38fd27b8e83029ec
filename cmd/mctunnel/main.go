// Command mctunnel is the host/join CLI of the game tunnel.
//
// This tool lets two players share a LAN game server over the internet. The
// host forwards a local game server port; the joiner gets a local port that
// behaves like that server. Peers find each other through a rendezvous
// server and then talk directly over a WebRTC DataChannel.
//
// It can be launched interactively (no flags) or non-interactively via CLI
// flags (-role, -port, -code, -signal, -timeout).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/mctunnel/internal/config"
	"github.com/1ureka/mctunnel/internal/swarm"
	"github.com/1ureka/mctunnel/internal/swarm/rtcswarm"
	"github.com/1ureka/mctunnel/internal/tunnel"
	"github.com/1ureka/mctunnel/internal/util"
)

var version = "dev"

func main() {
	// Cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var cfg config.Config
	role := flag.String("role", "", "Role: host or join")
	flag.IntVar(&cfg.LANPort, "port", 0, "Game server port to forward (host only), 1~65535")
	flag.StringVar(&cfg.Code, "code", "", "Room code printed by the host (join only)")
	flag.StringVar(&cfg.SignalURL, "signal", config.DefaultSignalURL, "Rendezvous server URL")
	flag.DurationVar(&cfg.ConnectTimeout, "timeout", tunnel.DefaultConnectTimeout, "How long a local connection waits for the host (join only)")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if cfg.Debug {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("mctunnel v%s", version))
	pterm.Println()

	cfg.Role = config.Role(*role)
	if *role == "" {
		// No -role flag → interactive mode.
		askConfig(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		util.LogError("%v", err)
		os.Exit(1)
	}

	util.LogInfo("successfully closed tunnel")
}

// run connects to the rendezvous server, starts the requested session and
// keeps it up until ctx is cancelled.
func run(ctx context.Context, cfg config.Config) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	sw, err := rtcswarm.Dial(dialCtx, rtcswarm.Options{SignalURL: cfg.SignalURL})
	cancel()
	if err != nil {
		return err
	}
	defer sw.Destroy()

	mgr := tunnel.NewManager(sw, tunnel.Options{ConnectTimeout: cfg.ConnectTimeout})
	log := util.LogSink("")
	defer mgr.Stop(log)

	switch cfg.Role {
	case config.RoleHost:
		code, err := mgr.Host(ctx, cfg.LANPort, log)
		if err != nil {
			return fmt.Errorf("failed to host: %w", err)
		}
		util.LogSuccess("hosting 127.0.0.1:%d, share this room code:", cfg.LANPort)
		pterm.Println()
		pterm.DefaultBox.WithTitle("Room code").Println(code)
		pterm.Println()

	case config.RoleJoin:
		port, err := mgr.Join(ctx, cfg.Code, log)
		if err != nil {
			return fmt.Errorf("failed to join: %w", err)
		}
		util.LogSuccess("joined, connect your game to 127.0.0.1:%d", port)
	}

	util.StartStatsReporter(ctx)
	<-ctx.Done()
	return nil
}

// ---------------------------------------------------------------------------
// Interactive prompts
// ---------------------------------------------------------------------------

// askConfig fills cfg from interactive prompts when no -role flag is provided.
func askConfig(cfg *config.Config) {
	role, _ := pterm.DefaultInteractiveSelect.
		WithOptions([]string{"Host: share a LAN game server", "Join: connect to a host"}).
		WithDefaultText("Select your role").
		Show()

	pterm.Println()

	if strings.HasPrefix(role, "Host") {
		cfg.Role = config.RoleHost
		cfg.LANPort = askPort("Game server port to forward (1 ~ 65535)")
	} else {
		cfg.Role = config.RoleJoin
		cfg.Code = askCode()
	}
}

// askPort prompts the user for a port number until a valid one is entered.
func askPort(prompt string) int {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText(prompt).
			Show()

		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err == nil && port >= 1 && port <= 65535 {
			pterm.Println()
			return port
		}

		util.LogWarning("invalid port number: must be 1 ~ 65535")
		pterm.Println()
	}
}

// askCode prompts the user for a room code until a well-formed one is entered.
func askCode() string {
	for {
		raw, _ := pterm.DefaultInteractiveTextInput.
			WithDefaultText("Room code (64 hex characters)").
			Show()

		if topic, err := swarm.ParseTopic(raw); err == nil {
			pterm.Println()
			return topic.String()
		}

		pterm.Println()
		util.LogWarning("invalid input: please paste the room code printed by the host")
	}
}
