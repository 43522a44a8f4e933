package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"shapebench/internal/app"
	"shapebench/internal/banner"
	"shapebench/internal/cli"
	"shapebench/internal/config"
	"shapebench/internal/dummy"
	"shapebench/internal/logger"
	"shapebench/internal/runner"
	"shapebench/internal/shaping"
	"shapebench/internal/tui"
	"shapebench/internal/tui/history"
)

var cfgFile string

// flag name -> viper key
var flagKeys = map[string]string{
	"host":       "host",
	"port":       "port",
	"cert":       "cert",
	"key":        "key",
	"output":     "output",
	"bandwidths": "bandwidths",
	"settle":     "settle",
	"tui":        "tui",
	"iface":      "shaping.iface",
	"ifb":        "shaping.ifb",
	"burst":      "shaping.burst",
	"latency":    "shaping.latency",
	"client":     "client.command",
	"client-arg": "client.extra_args",
	"no-verify":  "client.no_verify",
	"client-dir": "client.dir",
	"client-env": "client.env",
	"sentinel":   "client.sentinel",
	"interval":   "supervisor.interval",
	"grace":      "supervisor.grace",
	"out-dir":    "results.dir",
	"prefix":     "results.prefix",
	"log-level":  "logging.level",
	"log-file":   "logging.file",
}

var rootCmd = &cobra.Command{
	Use:   "shapebench",
	Short: "shapebench - CPU cost of a transfer client under inbound bandwidth caps",
	Long: `
shapebench runs a transfer client once per inbound bandwidth limit, shaping
traffic from the peer with tc/ifb, and records the client's average CPU usage
and completion time for each limit.

Results are written as cpu_opt.npy, dur_opt.npy and graph.png, plus CSV, JSON
and Prometheus textfile exports. Runs are kept in a local history.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	RunE:              runExperiment,
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(dummyCmd, historyCmd, resetCmd)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shapebench.yaml)")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-file", "", "Write logs to this file instead of stderr")

	f := rootCmd.Flags()
	f.String("host", "", "Server IP/hostname (required)")
	f.Int("port", 4433, "Server port")
	f.String("cert", "", "Certificate file forwarded to the client as --cert")
	f.String("key", "", "Private key file forwarded to the client as --key")
	f.String("output", "downloaded_video.mp4", "Output file name for the received file ({{bandwidth}} is expanded)")
	f.IntSlice("bandwidths", []int{10, 20, 30, 40, 50}, "Inbound bandwidth limits in Mbit/s, in trial order")
	f.Duration("settle", 0, "Pause between trials")
	f.Bool("tui", false, "Show the live terminal view")
	f.String("iface", "enp0s3", "Physical interface receiving the peer's traffic")
	f.String("ifb", "ifb0", "Intermediate functional block device used for shaping")
	f.String("burst", "10k", "Token bucket burst size")
	f.String("latency", "1000ms", "Token bucket latency")
	f.Bool("no-sudo", false, "Run ip/tc/modprobe without sudo")
	f.String("client", "python3 new_opt_client.py", "Transfer client command")
	f.StringArray("client-arg", nil, "Extra argument for the client, repeatable ({{bandwidth}}, {{trial}}, {{run}} are expanded)")
	f.Bool("no-verify", false, "Pass --no-verify to the client")
	f.String("client-dir", "", "Working directory of the client")
	f.StringArray("client-env", nil, "Extra KEY=VALUE environment entry for the client, repeatable")
	f.String("sentinel", config.DefaultSentinel, "Client output line that marks a completed transfer")
	f.Duration("interval", time.Second, "CPU sampling interval")
	f.Duration("grace", 5*time.Second, "Time between SIGTERM and SIGKILL when stopping the client")
	f.String("out-dir", ".", "Directory for result files")
	f.String("prefix", "shapebench", "File name prefix for CSV/JSON/metrics exports")
	f.Bool("no-history", false, "Do not record this run in the history store")

	for name, key := range flagKeys {
		flag := f.Lookup(name)
		if flag == nil {
			flag = pf.Lookup(name)
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			panic(err)
		}
	}
}

func initConfig(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	if err := config.InitConfig(v, cfgFile); err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("no-sudo"); f != nil && f.Changed {
		v.Set("shaping.sudo", false)
	}
	if f := cmd.Flags().Lookup("no-history"); f != nil && f.Changed {
		v.Set("history.disabled", true)
	}
	logger.InitLogger(v.GetString("logging.level"), nil)
	return nil
}

// logOutput opens the configured log file, or returns fallback.
func logOutput(cfg config.Config, fallback io.Writer) (io.Writer, func(), error) {
	if cfg.Logging.File == "" {
		return fallback, func() {}, nil
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open log file")
	}
	return f, func() { f.Close() }, nil
}

func runExperiment(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	// The live view owns the terminal; logs go to the file or nowhere.
	fallback := io.Writer(os.Stderr)
	if cfg.TUI {
		fallback = io.Discard
	}
	w, closeLog, err := logOutput(cfg, fallback)
	if err != nil {
		return err
	}
	defer closeLog()
	log := logger.InitLogger(cfg.Logging.Level, w)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	updates := make(runner.EventChan, 256)
	h, err := app.Build(ctx, cfg, nil, updates)
	if err != nil {
		return err
	}
	defer h.Close(context.Background())
	// Abort path: no-op unless a trial is still holding a limit.
	defer h.Controller.Teardown(log.WithContext(context.Background()))

	start := time.Now()
	var out app.Outcome
	if cfg.TUI {
		out, err = runTUI(ctx, cfg, h, updates)
	} else {
		out, err = runHeadless(ctx, cfg, h, updates)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Msg("run interrupted, shaping state cleared")
		}
		return err
	}

	cli.PrintSummary(cmd.OutOrStdout(), out, time.Since(start))
	return nil
}

func runHeadless(ctx context.Context, cfg config.Config, h *app.Harness, updates runner.EventChan) (app.Outcome, error) {
	cli.PrintHeader(os.Stdout, cfg)

	reported := make(chan struct{})
	go func() {
		cli.Report(os.Stdout, updates)
		close(reported)
	}()

	out, err := h.Experiment.Execute(ctx)
	select {
	case <-reported:
	case <-time.After(time.Second):
	}
	return out, err
}

func runTUI(ctx context.Context, cfg config.Config, h *app.Harness, updates runner.EventChan) (app.Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := tui.NewModel(cfg.Host, len(cfg.Bandwidths), updates, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	var (
		out    app.Outcome
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		out, runErr = h.Experiment.Execute(runCtx)
		p.Send(tui.DoneMsg{Err: runErr})
	}()

	_, uiErr := p.Run()
	// The view may have quit on its own; the run must still unwind.
	cancel()
	<-done

	if runErr != nil {
		return out, runErr
	}
	if uiErr != nil {
		return out, errors.Wrap(uiErr, "terminal view")
	}
	return out, nil
}

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Emulate the transfer client (for dry runs)",
	Long: `Emulates the transfer client: logs like it, burns CPU for --duration,
writes --output and prints the completion sentinel, then waits to be
terminated. Use it with --client "shapebench dummy".`,
	FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		host, _ := f.GetString("host")
		port, _ := f.GetInt("port")
		output, _ := f.GetString("output")
		duration, _ := f.GetDuration("duration")
		busy, _ := f.GetFloat64("busy")
		size, _ := f.GetInt64("size")
		sentinel, _ := f.GetString("sentinel")
		linger, _ := f.GetBool("linger")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return dummy.Run(ctx, dummy.ClientConfig{
			Host:     host,
			Port:     port,
			Output:   output,
			Duration: duration,
			Busy:     busy,
			Size:     size,
			Sentinel: sentinel,
			Linger:   linger,
		}, os.Stderr)
	},
}

func init() {
	f := dummyCmd.Flags()
	f.String("host", "127.0.0.1", "Server IP/hostname")
	f.Int("port", 4433, "Server port")
	f.String("output", "", "Output file to write")
	f.String("cert", "", "Ignored")
	f.String("key", "", "Ignored")
	f.Bool("no-verify", false, "Ignored")
	f.Duration("duration", 3*time.Second, "Emulated transfer time")
	f.Float64("busy", 0.3, "CPU duty cycle during the transfer (0..1)")
	f.Int64("size", 1<<20, "Bytes written to --output")
	f.String("sentinel", config.DefaultSentinel, "Line printed when the transfer completes")
	f.Bool("linger", true, "Keep running after the sentinel until terminated")
}

// --- History Subcommand ---
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "List recorded runs, or show one run's trials",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Decode(viper.GetViper())
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if len(args) == 1 {
			item, err := store.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), history.Detail(*item))
			return nil
		}

		items, err := store.List()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), history.NewModel(items).View())
		return nil
	},
}

// --- Reset Subcommand ---
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove shaping state left behind by a crashed run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f := cmd.Flags()
		if f.Changed("iface") {
			iface, _ := f.GetString("iface")
			viper.Set("shaping.iface", iface)
		}
		if f.Changed("ifb") {
			ifb, _ := f.GetString("ifb")
			viper.Set("shaping.ifb", ifb)
		}
		cfg, err := config.Decode(viper.GetViper())
		if err != nil {
			return err
		}

		var ctrl *shaping.Controller
		fxApp := fx.New(
			app.ConfigModule(cfg),
			app.ShapingModule(nil),
			fx.NopLogger,
			fx.Populate(&ctrl),
		)
		if err := fxApp.Err(); err != nil {
			return err
		}

		ctrl.Reset(context.Background())
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared shaping state on %s and %s\n", cfg.Shaping.Iface, cfg.Shaping.IFB)
		return nil
	},
}

func init() {
	f := resetCmd.Flags()
	f.String("iface", "enp0s3", "Physical interface")
	f.String("ifb", "ifb0", "Intermediate functional block device")
	f.Bool("no-sudo", false, "Run ip/tc without sudo")
}
