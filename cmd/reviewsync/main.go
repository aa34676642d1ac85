package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentworkforce/reviewsync/internal/api"
	"github.com/agentworkforce/reviewsync/internal/config"
	"github.com/agentworkforce/reviewsync/internal/events"
	"github.com/agentworkforce/reviewsync/internal/review"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app is the state shared by every command once flags are parsed.
type app struct {
	out     io.Writer
	errOut  io.Writer
	cfg     config.Config
	logger  *log.Logger
	asJSON  bool
	service *review.Service
}

type rootFlags struct {
	configPath string
	apiURL     string
	transport  string
	verbose    bool
	asJSON     bool
}

// syncWriter serialises writes from stream callbacks and the command itself.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: &syncWriter{w: out}, errOut: errOut}
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "reviewsync",
		Short:         "Review email thread summaries with a live-synced local cache",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.service != nil {
				a.service.Close()
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ./"+config.FileName+")")
	pf.StringVar(&flags.apiURL, "api-url", "", "backend API root")
	pf.StringVar(&flags.transport, "transport", "", "event transport (sse, websocket)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log cache, stream and poller activity")
	pf.BoolVar(&flags.asJSON, "json", false, "print raw JSON")

	rootCmd.AddCommand(
		a.filesCmd(),
		a.fileCmd(),
		a.uploadCmd(),
		a.deleteFileCmd(),
		a.threadsCmd(),
		a.summariesCmd(),
		a.summarizeCmd(),
		a.editCmd(),
		a.approveCmd(),
		a.rejectCmd(),
		a.undoCmd(),
		a.taskCmd(),
		a.followCmd(),
		a.watchCmd(),
		a.healthCmd(),
		a.configCmd(),
	)
	return rootCmd
}

func (a *app) setup(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, flags, &cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.asJSON = flags.asJSON
	a.logger = log.New(a.errOut, "reviewsync: ", log.LstdFlags)

	transport, err := events.NewTransport(cfg.Transport, nil)
	if err != nil {
		return err
	}
	// Component logging is opt-in; errors still reach the caller.
	var logger review.Logger
	if cfg.Verbose {
		logger = a.logger
	}
	a.service = review.New(review.Options{
		Backend:        api.NewClient(cfg.ClientOptions(logger)),
		BaseURL:        cfg.APIURL,
		StaleTimes:     cfg.StaleTimes,
		Transport:      transport,
		ReconnectDelay: cfg.ReconnectDelay,
		PollInterval:   cfg.PollInterval,
		Logger:         logger,
	})
	return nil
}

// applyFlagOverrides lets explicitly set flags win over file and env values.
func applyFlagOverrides(cmd *cobra.Command, flags *rootFlags, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("api-url") {
		cfg.APIURL = flags.apiURL
	}
	if changed("transport") {
		cfg.Transport = flags.transport
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
	}
}
