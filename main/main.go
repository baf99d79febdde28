package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/synqronlabs/shrike"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("shrike", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		host       = fs.String("d", "", "daemon host or address literal")
		port       = fs.Int("p", 0, "daemon TCP port")
		socket     = fs.String("U", "", "daemon Unix socket path")
		useTLS     = fs.Bool("S", false, "connect over TLS")
		fallback   = fs.Bool("f", false, "safe fallback: echo the input on failure")
		check      = fs.Bool("c", false, "check only, print score/threshold")
		report     = fs.Bool("R", false, "print the full report")
		ifSpam     = fs.Bool("r", false, "print the report when the message is spam")
		symbols    = fs.Bool("y", false, "print the matched rule names")
		ping       = fs.Bool("K", false, "probe the daemon and exit")
		bsmtp      = fs.Bool("B", false, "input is a batched-SMTP transcript")
		compress   = fs.Bool("z", false, "compress the request body")
		maxSize    = fs.Int("s", 0, "maximum message size in bytes")
		timeout    = fs.Duration("t", 0, "deadline for the whole call")
		username   = fs.String("u", "", "username sent with the request")
		configPath = fs.String("config", "", "YAML configuration file")
	)

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return shrike.CodeUsage.ExitCode()
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument %q\n", fs.Arg(0))
		fs.Usage()
		return shrike.CodeUsage.ExitCode()
	}

	fileCfg, err := loadFileConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return shrike.CodeUsage.ExitCode()
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(fileCfg.Logging.Level),
	}))

	cfg := buildConfig(fs, fileCfg, logger,
		*host, *port, *socket, *useTLS, *fallback, *compress,
		*maxSize, *timeout, *username)

	if *ping {
		if err := shrike.Ping(context.Background(), cfg); err != nil {
			logger.Error("daemon did not answer", slog.Any("error", err))
			return shrike.CodeOf(err).ExitCode()
		}
		fmt.Println("PONG")
		return 0
	}

	op := shrike.OpProcess
	switch {
	case *check:
		op = shrike.OpCheck
	case *report:
		op = shrike.OpReport
	case *ifSpam:
		op = shrike.OpReportIfSpam
	case *symbols:
		op = shrike.OpSymbols
	}

	mode := shrike.ModeRaw
	if *bsmtp {
		mode = shrike.ModeBSMTP
	}

	p := shrike.NewProcessor(cfg)
	code := p.Run(context.Background(), op, mode, os.Stdin, os.Stdout)
	return code.ExitCode()
}

// buildConfig layers defaults, the config file, and flags, in that
// order of precedence.
func buildConfig(fs *flag.FlagSet, fileCfg *fileConfig, logger *slog.Logger,
	host string, port int, socket string, useTLS, fallback, compress bool,
	maxSize int, timeout time.Duration, username string) *shrike.ClientConfig {

	cfg := shrike.DefaultClientConfig()
	cfg.Logger = logger

	if fileCfg.Daemon.Host != "" {
		cfg.Host = fileCfg.Daemon.Host
	}
	if fileCfg.Daemon.Port != 0 {
		cfg.Port = fileCfg.Daemon.Port
	}
	cfg.SocketPath = fileCfg.Daemon.Socket
	if fileCfg.Daemon.TLS {
		cfg.TLSConfig = &tls.Config{}
	}
	cfg.Username = fileCfg.Client.Username
	if fileCfg.Client.MaxSize > 0 {
		cfg.MaxSize = fileCfg.Client.MaxSize
	}
	if fileCfg.Client.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(fileCfg.Client.TimeoutSeconds) * time.Second
	}
	cfg.SafeFallback = fileCfg.Client.SafeFallback
	cfg.Compress = fileCfg.Client.Compress

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["d"] {
		cfg.Host = host
	}
	if set["p"] {
		cfg.Port = port
	}
	if set["U"] {
		cfg.SocketPath = socket
	}
	if useTLS {
		cfg.TLSConfig = &tls.Config{}
	}
	if fallback {
		cfg.SafeFallback = true
	}
	if compress {
		cfg.Compress = true
	}
	if set["s"] {
		cfg.MaxSize = maxSize
	}
	if set["t"] {
		cfg.Timeout = timeout
	}
	if set["u"] {
		cfg.Username = username
	}

	if cfg.Username == "" {
		if u, err := user.Current(); err == nil {
			cfg.Username = u.Username
		}
	}
	return cfg
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
