// Package cmd wires up the CLI flags and dispatches to the chatd core.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"chatd/config"
	"chatd/internal/core"
	"chatd/internal/metrics"
	"chatd/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X chatd/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout receives --version and --dry-run output.
var stdout io.Writer = os.Stdout //nolint:gochecknoglobals

// Execute parses args and runs the server or, with --connect, the client.
func Execute(ctx context.Context, args []string) error {
	// ── config file & environment ────────────────────────────────
	// Flags must override the file, so --config is found before the
	// real flag set is bound to the loaded values.
	cfg, err := config.Load(configPath(args))
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("chatd", flag.ContinueOnError)

	// ── server ───────────────────────────────────────────────────
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "TCP chat port")
	fs.StringVarP(&cfg.BindAddress, "bind", "b", cfg.BindAddress, "Address to bind (default: all interfaces)")
	fs.StringVar(&cfg.WSAddress, "ws", cfg.WSAddress, "Serve WebSocket clients on this address, e.g. :8080")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origin", cfg.AllowedOrigins, "Allowed WebSocket origin (repeatable, * for any)")
	fs.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "Chat lines replayed to new users")
	fs.IntVar(&cfg.SendQueue, "send-queue", cfg.SendQueue, "Outbound lines buffered per client")
	fs.IntVar(&cfg.MaxLineBytes, "max-line", cfg.MaxLineBytes, "Longest accepted line in bytes")
	fs.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "Deadline for one line write")
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "Shutdown wait for sessions")
	fs.String("config", "", "YAML config file")

	// ── client ───────────────────────────────────────────────────
	fs.StringVarP(&cfg.Connect, "connect", "C", cfg.Connect, "Connect to a chat server at host:port")
	fs.StringVarP(&cfg.Name, "name", "n", cfg.Name, "Log in with this name (with --connect)")

	// ── SSH gateway ──────────────────────────────────────────────
	fs.StringVarP(&cfg.GatewaySpec, "gateway", "G", cfg.GatewaySpec, "Publish through an SSH gateway [user@]host[:port]")
	fs.IntVar(&cfg.RemotePort, "remote-port", cfg.RemotePort, "Port to open on the gateway")
	fs.StringVar(&cfg.RemoteBindAddress, "remote-bind", cfg.RemoteBindAddress, "Bind address on the gateway")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHostsPath, "known-hosts", cfg.KnownHostsPath, "Custom known_hosts path")
	fs.DurationVar(&cfg.KeepAliveInterval, "keep-alive", cfg.KeepAliveInterval, "Gateway keepalive interval (0 disables)")
	fs.BoolVar(&cfg.AutoReconnect, "auto-reconnect", cfg.AutoReconnect, "Re-establish the gateway after a disconnect")

	// ── output ───────────────────────────────────────────────────
	verbose := cfg.Verbose
	fs.CountVarP(&cfg.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	var showVersion, showHelp bool
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate and print the configuration, then exit")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "chatd %s\n", version)
		return nil
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}
	if !fs.Changed("verbose") {
		cfg.Verbose = verbose
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.Resolve(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.DryRun {
		return yaml.NewEncoder(stdout).Encode(cfg)
	}

	// ── build & run ──────────────────────────────────────────────
	// The server reports connections at the default level; the client
	// keeps stderr quiet unless asked.
	level := cfg.Verbose
	if !cfg.ClientMode() {
		level++
	}
	logger := util.NewLogger(level)

	mode, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// configPath returns the --config value from args without parsing any
// other flag.
func configPath(args []string) string {
	pre := flag.NewFlagSet("chatd", flag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	path := pre.String("config", "", "")
	pre.Parse(args) //nolint:errcheck // the real parse reports errors
	return *path
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatd – line-based chat relay v%s

Every client that connects gets "Welcome to the chat!", logs in with
login:<name>, and from then on every line it sends is broadcast to the
room.  New users are sent the last chat lines.

Usage:
  chatd [options]                             Serve
  chatd -C host:port [-n name]                Connect

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  Every option can also be set as CHATD_<NAME>, e.g. CHATD_PORT=7410,
  and is read from ./.env when present.

Examples:
  chatd                                       Serve on :%d
  chatd -p 9000 --ws :8080                    TCP on 9000, WebSocket on 8080
  chatd -G chat@gw.example.com --remote-port 7410 --auto-reconnect
                                              Publish through an SSH gateway
  chatd -C localhost:%d -n alice              Join as alice
`, config.DefaultPort, config.DefaultPort)
}
