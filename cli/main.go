package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/prepolicy/prepolicy"
	"github.com/prepolicy/prepolicy/core/config"
	"github.com/prepolicy/prepolicy/core/liveness"
	"github.com/prepolicy/prepolicy/core/policy"
	"github.com/prepolicy/prepolicy/core/reencrypt"
	"github.com/prepolicy/prepolicy/pkg/logging"
)

func main() {
	lf, command, args, err := parseGlobal(os.Args[1:])
	if err != nil {
		logging.GetLogger().Error("failed to parse global flags", "error", err)
		os.Exit(1)
	}

	var run func(ctx context.Context, logger logging.Logger) error
	switch command {
	case "check":
		ca, err := parseCheck(args, &lf)
		if err != nil {
			os.Exit(2)
		}
		run = func(ctx context.Context, logger logging.Logger) error {
			cfg, err := config.LoadFileConfig(ca.ConfigFile)
			if err != nil {
				return err
			}
			return runCheck(ctx, cfg, ca.IDs, os.Stdout, logger)
		}

	case "demo":
		da, err := parseDemo(args, &lf)
		if err != nil {
			os.Exit(2)
		}
		run = func(ctx context.Context, logger logging.Logger) error {
			cfg := config.Default()
			if da.ConfigFile != "" {
				loaded, err := config.LoadFileConfig(da.ConfigFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return runDemo(ctx, cfg, da.Options, os.Stdout, logger)
		}

	default:
		logging.GetLogger().Error("expected 'check' or 'demo' subcommands", "command", command)
		os.Exit(1)
	}

	logging.InitLogger(lf.Level, lf.Format, nil)
	logger := logging.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("command failed", "command", command, "error", err)
		stop()
		os.Exit(1)
	}
}

// logFlags are accepted both before and after the subcommand name; the later
// occurrence wins.
type logFlags struct {
	Level  string
	Format string
}

func (lf *logFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&lf.Level, "log-level", lf.Level, "Log level (debug, info, warn, error)")
	fs.StringVar(&lf.Format, "log-format", lf.Format, "Log format (console, json)")
}

// parseGlobal parses the flags preceding the subcommand and returns the
// subcommand with its remaining arguments.
func parseGlobal(args []string) (logFlags, string, []string, error) {
	lf := logFlags{Level: "info", Format: "console"}
	fs := flag.NewFlagSet("global", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	lf.register(fs)
	if err := fs.Parse(args); err != nil {
		return lf, "", nil, err
	}
	if fs.NArg() == 0 {
		return lf, "", nil, errors.New("expected 'check' or 'demo' subcommands")
	}
	return lf, fs.Arg(0), fs.Args()[1:], nil
}

type checkArgs struct {
	ConfigFile string
	IDs        []string
}

func parseCheck(args []string, lf *logFlags) (checkArgs, error) {
	var ca checkArgs
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&ca.ConfigFile, "config", "prepolicy.yaml", "Path to the network YAML file.")
	lf.register(fs)
	if err := fs.Parse(args); err != nil {
		return ca, err
	}
	ca.IDs = fs.Args()
	return ca, nil
}

type demoArgs struct {
	ConfigFile string
	Options    demoOptions
}

func parseDemo(args []string, lf *logFlags) (demoArgs, error) {
	var da demoArgs
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	fs.StringVar(&da.ConfigFile, "config", "", "Path to the network YAML file. Empty uses a static always-alive oracle.")
	fs.IntVar(&da.Options.Fragments, "fragments", 5, "Number of key fragments to grant")
	fs.IntVar(&da.Options.Threshold, "threshold", 3, "Capsule fragments requested per round")
	fs.IntVar(&da.Options.Rounds, "rounds", 3, "Reencryption rounds before revoking")
	lf.register(fs)
	if err := fs.Parse(args); err != nil {
		return da, err
	}
	return da, nil
}

// runCheck asks the configured oracle about each id and prints a table.
func runCheck(ctx context.Context, cfg *config.Config, ids []string, out io.Writer, logger logging.Logger) error {
	if len(ids) == 0 {
		return errors.New("check needs at least one policy id")
	}

	oracle, closer, err := prepolicy.NewOracle(cfg.Oracle, logger)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	fmt.Fprintln(w, "POLICY\tSTATUS\tREASON\tLATENCY")
	fmt.Fprintln(w, "------\t------\t------\t-------")
	for _, id := range ids {
		start := time.Now()
		st, err := oracle.Check(ctx, policy.ID(id))
		reason := "-"
		if err != nil {
			reason = string(liveness.ReasonOf(err))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", id, st, reason, time.Since(start).Round(time.Millisecond))
	}
	return w.Flush()
}

type demoOptions struct {
	Fragments int
	Threshold int
	Rounds    int
}

// macPrimitive stands in for a real PRE primitive: the capsule fragment is a
// blake2b MAC of the capsule keyed by the key fragment.
var macPrimitive = reencrypt.PrimitiveFunc(func(fragment policy.KeyFragment, capsule policy.Capsule) (policy.CapsuleFragment, error) {
	h, err := blake2b.New256(fragment)
	if err != nil {
		return nil, fmt.Errorf("failed to key mac: %w", err)
	}
	h.Write(capsule)
	return h.Sum(nil), nil
})

// runDemo grants random fragments, runs a few reencryption rounds, and revokes.
func runDemo(ctx context.Context, cfg *config.Config, opts demoOptions, out io.Writer, logger logging.Logger) error {
	network, err := prepolicy.New(cfg, macPrimitive, prepolicy.WithLogger(logger))
	if err != nil {
		return err
	}
	defer network.Close()

	fragments := make([]policy.KeyFragment, opts.Fragments)
	for i := range fragments {
		fragments[i] = make(policy.KeyFragment, 32)
		if _, err := rand.Read(fragments[i]); err != nil {
			return fmt.Errorf("failed to generate key fragment: %w", err)
		}
	}

	id, err := network.Grant(fragments)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "granted policy %s with %d fragments\n", id, len(fragments))

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	fmt.Fprintln(w, "ROUND\tCAPSULE\tFRAGMENTS\tDIGESTS")
	fmt.Fprintln(w, "-----\t-------\t---------\t-------")
	for round := 1; round <= opts.Rounds; round++ {
		capsule := policy.Capsule(fmt.Sprintf("capsule-%d", round))
		cfrags, err := network.Reencrypt(ctx, id, capsule, opts.Threshold)
		if err != nil {
			return err
		}
		digests := ""
		for i, cf := range cfrags {
			if i > 0 {
				digests += ","
			}
			digests += policy.FragmentDigest(policy.KeyFragment(cf))
		}
		if digests == "" {
			digests = "(withheld)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", round, capsule, len(cfrags), digests)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if err := network.Revoke(id); err != nil {
		return err
	}
	stats := network.Stats()
	fmt.Fprintf(out, "revoked policy %s (served=%d dead=%d unavailable=%d rejected=%d)\n",
		id, stats.Served, stats.Dead, stats.Unavailable, stats.Rejected)
	return nil
}
