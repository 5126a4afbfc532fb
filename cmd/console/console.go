package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/veyra-ai/console/internal/config"
	"github.com/veyra-ai/console/internal/conn"
	"github.com/veyra-ai/console/internal/discovery"
	"github.com/veyra-ai/console/internal/feedback"
	"github.com/veyra-ai/console/internal/protocol"
	"github.com/veyra-ai/console/internal/section"
	"github.com/veyra-ai/console/internal/session"
	"github.com/veyra-ai/console/internal/storage"
	"github.com/veyra-ai/console/internal/transport"
)

// discoveryTimeout bounds the mDNS browse at startup.
const discoveryTimeout = 5 * time.Second

func runConsole(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("console", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &config.Config{}
	var (
		configPath  string
		noDiscovery bool
	)

	fs.StringVar(&configPath, "config", "", "Path to config file (default: ~/.veyra/console.toml)")
	fs.StringVar(&cfg.AgentURL, "agent-url", "", "Agent WebSocket endpoint (default: discovered or ws://127.0.0.1:8765/ws)")
	fs.StringVar(&cfg.FallbackURL, "fallback-url", "", "Agent HTTP fallback base URL (default: http://127.0.0.1:8766)")
	fs.IntVar(&cfg.MaxAttempts, "max-attempts", 0, "Connection attempts before going offline (default: 5)")
	fs.IntVar(&cfg.BackoffBaseMs, "backoff-base-ms", 0, "Initial reconnect delay in ms (default: 500)")
	fs.IntVar(&cfg.BackoffCeilingMs, "backoff-ceiling-ms", 0, "Reconnect delay cap in ms (default: 30000)")
	fs.IntVar(&cfg.ProbeIntervalMs, "probe-interval-ms", 0, "Offline health probe interval in ms (default: 15000)")
	fs.IntVar(&cfg.RequestTimeoutMs, "request-timeout-ms", 0, "Per-command response budget in ms (default: 10000)")
	fs.IntVar(&cfg.TranscriptLimit, "transcript-limit", 0, "Retained transcript entries (default: 500)")
	fs.StringVar(&cfg.DefaultSection, "section", "", "Section to open at startup (default: last used)")
	fs.StringVar(&cfg.Theme, "theme", "", "Display theme (default: last used)")
	fs.StringVar(&cfg.PrefsStore, "prefs-store", "", "Preference database path (default: ~/.veyra/console.db)")
	fs.BoolVar(&noDiscovery, "no-discovery", false, "Skip mDNS agent discovery")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: veyra-console [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Track which flags were explicitly set on the command line, so an
	// explicit CLI flag always beats the config file, including booleans.
	explicitFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicitFlags[f.Name] = true
	})

	fileCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	mergeConfig(cfg, fileCfg, explicitFlags)
	if explicitFlags["no-discovery"] {
		cfg.DiscoveryEnabled = !noDiscovery
	}

	logger := log.New(stderr, "console: ", log.LstdFlags)

	// No endpoint configured anywhere: try to find an agent on the LAN
	// before falling back to the loopback defaults.
	if cfg.AgentURL == "" && cfg.DiscoveryEnabled {
		if ep, err := discovery.Browse(context.Background(), discoveryTimeout, logger); err == nil {
			cfg.AgentURL = ep.URL()
			if cfg.FallbackURL == "" {
				cfg.FallbackURL = ep.FallbackURL()
			}
		} else {
			logger.Printf("no agent discovered, using defaults: %v", err)
		}
	}
	cfg.ApplyDefaults()

	// The preference store is a convenience, not a requirement; the console
	// runs fine without persistence.
	var prefs session.PreferenceStore
	var store *storage.SQLiteStore
	prefsPath := cfg.PrefsStore
	if prefsPath == "" {
		prefsPath, err = config.DefaultPrefsStorePath()
		if err != nil {
			prefsPath = ""
		}
	}
	if prefsPath != "" {
		if mkErr := os.MkdirAll(filepath.Dir(prefsPath), 0o755); mkErr != nil {
			logger.Printf("preference store disabled: %v", mkErr)
		} else if store, err = storage.Open(prefsPath); err != nil {
			logger.Printf("preference store disabled: %v", err)
			store = nil
		} else {
			prefs = store
			defer store.Close()
		}
	}

	// Stored choices apply unless overridden on the CLI or in the file.
	initialSection := cfg.DefaultSection
	theme := cfg.Theme
	if store != nil {
		if !explicitFlags["section"] && fileCfg.DefaultSection == "" {
			if last, found, _ := store.LastSection(); found {
				initialSection = last
			}
		}
		if !explicitFlags["theme"] && fileCfg.Theme == "" {
			if saved, found, _ := store.Theme(); found {
				theme = saved
			}
		}
	}
	initial, err := section.Parse(initialSection)
	if err != nil {
		logger.Printf("ignoring invalid startup section %q", initialSection)
		initial = section.Console
	}

	fallback := transport.NewFallback(cfg.FallbackURL,
		time.Duration(cfg.RequestTimeoutMs)*time.Millisecond, logger)

	dialer := func(onMessage func(protocol.Envelope), onClosed func(error)) (conn.Channel, error) {
		ch, dialErr := transport.Dial(transport.ChannelConfig{
			URL:       cfg.AgentURL,
			OnMessage: onMessage,
			OnClosed:  onClosed,
			Logger:    logger,
		})
		if dialErr != nil {
			return nil, dialErr
		}
		return ch, nil
	}

	manager := conn.NewManager(conn.ManagerConfig{
		Dialer:         dialer,
		Fallback:       fallback,
		MaxAttempts:    cfg.MaxAttempts,
		BackoffBase:    time.Duration(cfg.BackoffBaseMs) * time.Millisecond,
		BackoffCeiling: time.Duration(cfg.BackoffCeilingMs) * time.Millisecond,
		ProbeInterval:  time.Duration(cfg.ProbeIntervalMs) * time.Millisecond,
		Logger:         logger,
	})

	resolver := feedback.NewResolver(nil, nil, stdout, logger)

	coordinator := session.New(session.CoordinatorConfig{
		Manager:         manager,
		Resolver:        resolver,
		Prefs:           prefs,
		InitialSection:  initial,
		Theme:           theme,
		TranscriptLimit: cfg.TranscriptLimit,
		RequestTimeout:  time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
		Logger:          logger,
	})

	coordinator.SubscribeTranscript(func(e session.Entry) {
		if !e.Complete {
			return
		}
		fmt.Fprintf(stdout, "[%s] %s\n", e.Origin, e.Text)
	})
	coordinator.SubscribeConnectionState(func(state conn.State) {
		fmt.Fprintf(stdout, "-- connection: %s --\n", state)
	})
	coordinator.SubscribeSnapshot(func(snap session.Snapshot) {
		if coordinator.ActiveSection() != section.System {
			return
		}
		fmt.Fprintf(stdout, "-- system: cpu %.0f%% mem %.0f%% disk %.0f%% net %s --\n",
			snap.CPU, snap.Memory, snap.Disk, snap.NetworkState)
	})

	fmt.Fprintf(stdout, "veyra-console %s | agent %s | type 'help' for local commands\n",
		Version, cfg.AgentURL)

	coordinator.Start()

	// Read commands until stdin closes or a signal arrives.
	inputDone := make(chan struct{})
	go func() {
		defer close(inputDone)
		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			coordinator.Submit(scanner.Text())
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-inputDone:
	case sig := <-sigCh:
		fmt.Fprintf(stdout, "\nreceived %s, shutting down\n", sig)
	}

	coordinator.Stop()
	return 0
}

// mergeConfig overlays file values onto CLI values: a flag left at its zero
// value takes the file's value. Explicit CLI flags always win.
func mergeConfig(cfg, fileCfg *config.Config, explicitFlags map[string]bool) {
	if cfg.AgentURL == "" {
		cfg.AgentURL = fileCfg.AgentURL
	}
	if cfg.FallbackURL == "" {
		cfg.FallbackURL = fileCfg.FallbackURL
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = fileCfg.MaxAttempts
	}
	if cfg.BackoffBaseMs == 0 {
		cfg.BackoffBaseMs = fileCfg.BackoffBaseMs
	}
	if cfg.BackoffCeilingMs == 0 {
		cfg.BackoffCeilingMs = fileCfg.BackoffCeilingMs
	}
	if cfg.ProbeIntervalMs == 0 {
		cfg.ProbeIntervalMs = fileCfg.ProbeIntervalMs
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = fileCfg.RequestTimeoutMs
	}
	if cfg.TranscriptLimit == 0 {
		cfg.TranscriptLimit = fileCfg.TranscriptLimit
	}
	if cfg.DefaultSection == "" {
		cfg.DefaultSection = fileCfg.DefaultSection
	}
	if cfg.Theme == "" {
		cfg.Theme = fileCfg.Theme
	}
	if cfg.PrefsStore == "" {
		cfg.PrefsStore = fileCfg.PrefsStore
	}
	cfg.DiscoveryEnabled = fileCfg.DiscoveryEnabled
}
