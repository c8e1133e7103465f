// Package cli implements the clusterkv-cli subcommands: a thin
// command-line harness over the clusterkv package, useful for poking a
// cluster by hand or scripting smoke checks from shell.
package cli

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clusterkv"
	"clusterkv/internal/config"
	"clusterkv/internal/logger"
)

// Execute dispatches CLI subcommands.
func Execute(args []string) int {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[clusterkv-cli] ")

	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "get":
		return runGet(args[1:])
	case "set":
		return runSet(args[1:])
	case "mget":
		return runMGet(args[1:])
	case "ping":
		return runPing(args[1:])
	case "nodes":
		return runNodes(args[1:])
	case "pipeline":
		return runPipeline(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return 0
	case "version", "--version", "-v":
		fmt.Println("clusterkv-cli 0.1.0-dev")
		return 0
	default:
		log.Printf("Unknown subcommand: %s", args[0])
		printUsage()
		return 1
	}
}

// connFlags is the flag set every subcommand that talks to a cluster
// shares: seed addresses (by flag or config file), timeout, and the
// redirect ceiling.
type connFlags struct {
	addrs            string
	configPath       string
	timeout          time.Duration
	maxRedirect      int
	snapshotPath     string
	preferReplicaRead bool
}

func bindConnFlags(fs *flag.FlagSet) *connFlags {
	cf := &connFlags{}
	fs.StringVar(&cf.addrs, "addrs", "", "Comma-separated seed addresses (host:port,...)")
	fs.StringVar(&cf.configPath, "config", "", "Configuration file path (YAML)")
	fs.StringVar(&cf.configPath, "c", "", "Configuration file path (YAML)")
	fs.DurationVar(&cf.timeout, "timeout", 0, "Per-connection dial/read timeout")
	fs.IntVar(&cf.maxRedirect, "max-redirect", 0, "Retry ceiling for MOVED/ASK redirects and for reconnects, each counted separately")
	fs.StringVar(&cf.snapshotPath, "snapshot", "", "Topology snapshot path for warm start")
	fs.BoolVar(&cf.preferReplicaRead, "prefer-replica-read", false, "Route CommandReadPreferring calls to a rendezvous-hashed replica")
	return cf
}

func (cf *connFlags) resolve() (*config.Config, error) {
	base := config.Config{
		Timeout:          cf.timeout,
		MaxRedirectCount: cf.maxRedirect,
	}
	if cf.addrs != "" {
		base.Addrs = strings.Split(cf.addrs, ",")
	}
	cfg, err := config.Load(base, cf.configPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("no seed addresses: pass --addrs or --config")
	}
	return cfg, nil
}

func (cf *connFlags) connect(ctx context.Context) (*clusterkv.Context, error) {
	cfg, err := cf.resolve()
	if err != nil {
		return nil, err
	}
	return clusterkv.Connect(ctx, clusterkv.Options{
		Addrs:             cfg.Addrs,
		Timeout:           cfg.Timeout,
		MaxRedirect:       cfg.MaxRedirectCount,
		SnapshotPath:      cf.snapshotPath,
		PreferReplicaRead: cf.preferReplicaRead,
	})
}

func initCLILogger() {
	logDir := os.Getenv("CLUSTERKV_LOG_DIR")
	if logDir == "" {
		return
	}
	if err := logger.Init(logDir, logger.INFO, "clusterkv-cli"); err != nil {
		log.Printf("logger init failed, continuing without file logging: %v", err)
	}
}

func runGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	cf := bindConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errorToExitCode(fmt.Errorf("get requires exactly one key"))
	}

	initCLILogger()
	ctx := context.Background()
	cc, err := cf.connect(ctx)
	if err != nil {
		return errorToExitCode(err)
	}
	defer cc.Free()

	reply, err := cc.Command(ctx, "GET", fs.Arg(0))
	if err != nil {
		return errorToExitCode(err)
	}
	fmt.Println(reply)
	return 0
}

func runSet(args []string) int {
	fs := flag.NewFlagSet("set", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	cf := bindConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errorToExitCode(fmt.Errorf("set requires a key and a value"))
	}

	initCLILogger()
	ctx := context.Background()
	cc, err := cf.connect(ctx)
	if err != nil {
		return errorToExitCode(err)
	}
	defer cc.Free()

	reply, err := cc.Command(ctx, "SET", fs.Arg(0), fs.Arg(1))
	if err != nil {
		return errorToExitCode(err)
	}
	fmt.Println(reply)
	return 0
}

func runMGet(args []string) int {
	fs := flag.NewFlagSet("mget", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	cf := bindConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errorToExitCode(fmt.Errorf("mget requires at least one key"))
	}

	initCLILogger()
	ctx := context.Background()
	cc, err := cf.connect(ctx)
	if err != nil {
		return errorToExitCode(err)
	}
	defer cc.Free()

	keys := make([]interface{}, fs.NArg())
	for i, k := range fs.Args() {
		keys[i] = k
	}
	reply, err := cc.Command(ctx, "MGET", keys...)
	if err != nil {
		return errorToExitCode(err)
	}
	vals, ok := reply.([]interface{})
	if !ok {
		fmt.Println(reply)
		return 0
	}
	for i, v := range vals {
		fmt.Printf("%d) %v\n", i+1, v)
	}
	return 0
}

func runPing(args []string) int {
	fs := flag.NewFlagSet("ping", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	cf := bindConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}

	initCLILogger()
	ctx := context.Background()
	cc, err := cf.connect(ctx)
	if err != nil {
		return errorToExitCode(err)
	}
	defer cc.Free()

	reply, err := cc.Command(ctx, "PING")
	if err != nil {
		return errorToExitCode(err)
	}
	fmt.Println(reply)
	return 0
}

func runNodes(args []string) int {
	fs := flag.NewFlagSet("nodes", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	cf := bindConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}

	initCLILogger()
	ctx := context.Background()
	cc, err := cf.connect(ctx)
	if err != nil {
		return errorToExitCode(err)
	}
	defer cc.Free()

	if err := cc.Refresh(ctx); err != nil {
		return errorToExitCode(err)
	}
	reply, err := cc.Command(ctx, "CLUSTER", "NODES")
	if err != nil {
		return errorToExitCode(err)
	}
	fmt.Print(reply)
	return 0
}

func runPipeline(args []string) int {
	fs := flag.NewFlagSet("pipeline", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)
	cf := bindConnFlags(fs)
	if err := fs.Parse(args); err != nil {
		return errorToExitCode(err)
	}
	if fs.NArg() == 0 || fs.NArg()%2 != 0 {
		fs.Usage()
		return errorToExitCode(fmt.Errorf("pipeline requires an even number of key/value pairs, queued as SET commands"))
	}

	initCLILogger()
	ctx := context.Background()
	cc, err := cf.connect(ctx)
	if err != nil {
		return errorToExitCode(err)
	}
	defer cc.Free()

	pairs := fs.Args()
	for i := 0; i < len(pairs); i += 2 {
		if err := cc.AppendCommand(ctx, "SET", pairs[i], pairs[i+1]); err != nil {
			return errorToExitCode(err)
		}
	}
	for cc.Pending() > 0 {
		reply, err := cc.GetReply()
		if err != nil {
			return errorToExitCode(err)
		}
		fmt.Println(reply)
	}
	return 0
}

func errorToExitCode(err error) int {
	if err == flag.ErrHelp {
		return 0
	}
	log.Printf("Command execution failed: %v", err)
	return 1
}

func printUsage() {
	binary := filepath.Base(os.Args[0])
	fmt.Printf(`clusterkv-cli - command-line harness over the clusterkv cluster client

Usage:
  %[1]s <command> [options]

Available commands:
  get        GET a key
  set        SET a key to a value
  mget       MGET one or more keys, fragmented across owning nodes
  ping       PING the cluster
  nodes      Refresh topology and print CLUSTER NODES
  pipeline   Queue SET commands for a batch of key/value pairs and print replies in order
  help       Show this help
  version    Show version info

Every data command accepts --addrs or --config to locate the cluster, plus
--timeout, --max-redirect, --snapshot and --prefer-replica-read.

Examples:
  %[1]s set --addrs 127.0.0.1:7000,127.0.0.1:7001 foo bar
  %[1]s get --config cluster.yaml foo
  %[1]s nodes --addrs 127.0.0.1:7000
`, binary)
}
