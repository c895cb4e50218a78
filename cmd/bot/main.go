// Command bot runs the job listing sync bot.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jessevdk/go-flags"

	"jobsyncbot/internal/app"
	"jobsyncbot/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Options are the command line flags. Everything else comes from the environment.
type Options struct {
	ConfigFile string `short:"c" long:"config" env:"JOBSYNC_CONFIG" description:"optional TOML config file"`
	EnvFile    string `long:"env-file" description:"dotenv file (default .env when present)"`
	Check      bool   `long:"check" description:"validate configuration, print it and exit"`
	Version    bool   `short:"v" long:"version" description:"show version information"`
}

// ParseCLI parses args (without the program name).
func ParseCLI(args []string, out io.Writer) (*Options, error) {
	opts := new(Options)
	parser := flags.NewParser(opts, flags.HelpFlag)
	rest, err := parser.ParseArgs(args)
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			parser.WriteHelp(out)
		}
		return opts, err
	}
	if len(rest) > 0 {
		return opts, fmt.Errorf("unknown argument(s): %v", rest)
	}
	return opts, nil
}

func versionString() string {
	s := "jobsyncbot " + version
	if commit != "none" && commit != "" {
		s += " (" + commit + ")"
	}
	if date != "unknown" && date != "" {
		s += " built " + date
	}
	return s
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := ParseCLI(args, stdout)
	if err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}
	if opts.Version {
		fmt.Fprintln(stdout, versionString())
		return 0
	}

	cfg, err := config.Load(config.Options{EnvFile: opts.EnvFile, ConfigFile: opts.ConfigFile})
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return 1
	}
	if opts.Check {
		fmt.Fprint(stdout, cfg.Summary())
		return 0
	}

	if err := app.New(cfg, version).Run(); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
