package cmds

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/softgpu/gpudbg/pkg/config"
	"github.com/softgpu/gpudbg/pkg/logflags"
	"github.com/softgpu/gpudbg/pkg/terminal"
	"github.com/softgpu/gpudbg/pkg/version"
	"github.com/softgpu/gpudbg/service/dap"
	"github.com/softgpu/gpudbg/service/debugger"
	"github.com/softgpu/gpudbg/service/web"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// controlPipe and telemetryPipe name the endpoints the simulator
	// connects to.
	controlPipe   string
	telemetryPipe string
	// socketDir is where relative endpoint names are created.
	socketDir string
	// startPaused asks the simulator to halt before its first cycle.
	startPaused bool
	// pollInterval is how often the control channel is polled.
	pollInterval time.Duration
	// checkLocalConnUser is true if the debugger should check that the
	// simulator runs as the same user.
	checkLocalConnUser bool
	// displayFloat shows register values as float32.
	displayFloat bool

	// initFile is the path to initialization file.
	initFile string
	// dapAddr and webAddr are the listen addresses of the dap and web
	// servers.
	dapAddr string
	webAddr string

	versionVerbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const gpudbgCommandLongDesc = `gpudbg is a debugger for a cycle level GPU simulator.

The simulator connects to two endpoints: a control channel used to pause,
step and resume it, and a telemetry channel on which it streams its clock
cycle, register files, contention counters and base registers.

Without a subcommand gpudbg starts an interactive terminal. The dap and web
subcommands serve the same session to an editor or an HTTP client.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}

	// Main gpudbg root command.
	rootCommand = &cobra.Command{
		Use:   "gpudbg",
		Short: "gpudbg is a debugger for a cycle level GPU simulator.",
		Long:  gpudbgCommandLongDesc,
		Args:  cobra.NoArgs,
		Run:   termCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'gpudbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'gpudbg help log').")
	rootCommand.PersistentFlags().StringVar(&controlPipe, "control", stringOr(conf.ControlPipe, config.DefaultControlPipe), "Name or path of the control endpoint.")
	rootCommand.PersistentFlags().StringVar(&telemetryPipe, "telemetry", stringOr(conf.TelemetryPipe, config.DefaultTelemetryPipe), "Name or path of the telemetry endpoint.")
	rootCommand.PersistentFlags().StringVar(&socketDir, "socket-dir", conf.SocketDir, "Directory relative endpoint names are created in (default: the system temporary directory).")
	rootCommand.PersistentFlags().BoolVar(&startPaused, "start-paused", conf.StartPaused, "Ask the simulator to halt before its first cycle.")
	rootCommand.PersistentFlags().DurationVar(&pollInterval, "poll-interval", conf.GetPollInterval(), "How often the control channel is polled.")
	rootCommand.PersistentFlags().BoolVar(&checkLocalConnUser, "check-local-conn-user", conf.CheckLocalConnUser, "Only a simulator run by the same user is allowed to connect.")
	rootCommand.PersistentFlags().BoolVar(&displayFloat, "fp", conf.DisplayFloat, "Show register values as float32 instead of hexadecimal.")

	rootCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")

	// 'term' subcommand.
	termCommand := &cobra.Command{
		Use:   "term",
		Short: "Starts an interactive terminal.",
		Long: `Starts an interactive terminal and waits for the simulator to connect.

Type 'help' at the prompt for the list of commands.`,
		Args: cobra.NoArgs,
		Run:  termCmd,
	}
	termCommand.Flags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.AddCommand(termCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a headless TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a headless TCP server communicating via Debug Adaptor Protocol (DAP).

The server accepts a single client. Both launch and attach requests attach
the client to the session, the simulator is never started by gpudbg. The
server exits when the client disconnects.`,
		Args: cobra.NoArgs,
		Run:  dapCmd,
	}
	dapCommand.Flags().StringVarP(&dapAddr, "listen", "l", stringOr(conf.DAPListen, "127.0.0.1:0"), "DAP server listen address.")
	rootCommand.AddCommand(dapCommand)

	// 'web' subcommand.
	webCommand := &cobra.Command{
		Use:   "web",
		Short: "Starts an HTTP server exposing the session as a JSON API.",
		Long: `Starts an HTTP server exposing the session as a JSON API.

	GET  /api/status
	POST /api/pause, /api/resume, /api/step
	POST /api/startpaused/{on|off}
	GET  /api/registers/{sm}?start=&count=&fp=
	GET  /api/window/{sm}/{du}/{slot}?fp=
	GET  /api/base/{sm}
	GET  /api/resource`,
		Args: cobra.NoArgs,
		Run:  webCmd,
	}
	webCommand.Flags().StringVarP(&webAddr, "listen", "l", stringOr(conf.WebListen, "127.0.0.1:8080"), "HTTP server listen address.")
	rootCommand.AddCommand(webCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gpudbg Debugger\n%s\n", version.GpudbgVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	transport	Log connections and disconnections of the simulator
	wire		Log every message header sent or received
	telemetry	Log telemetry records
	control		Log pause, step and resume
	dap		Log all DAP messages
	web		Log all HTTP requests

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func stringOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// debuggerConfig applies the command line flags to the configuration file.
func debuggerConfig() *debugger.Config {
	c := *conf
	c.ControlPipe = controlPipe
	c.TelemetryPipe = telemetryPipe
	c.SocketDir = socketDir
	return &debugger.Config{
		ControlPath:        c.ControlPath(),
		TelemetryPath:      c.TelemetryPath(),
		StartPaused:        startPaused,
		CheckLocalConnUser: checkLocalConnUser,
		PollInterval:       pollInterval,
	}
}

// startDebugger creates the endpoints and runs the session until the
// returned function is called.
func startDebugger() (*debugger.Debugger, func(), error) {
	d, err := debugger.New(debuggerConfig())
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := d.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}()
	return d, func() {
		cancel()
		<-done
	}, nil
}

func setupLogging() bool {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return false
	}
	atexit.Register(logflags.Close)
	return true
}

func termCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if !setupLogging() {
			return 1
		}
		d, stop, err := startDebugger()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer stop()

		c := *conf
		c.DisplayFloat = displayFloat
		term := terminal.New(d, &c)
		term.InitFile = initFile
		status, err := term.Run()
		if err != nil {
			fmt.Println(err)
		}
		return status
	}()
	atexit.Exit(status)
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if !setupLogging() {
			return 1
		}
		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}

		listener, err := net.Listen("tcp", dapAddr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		d, stop, err := startDebugger()
		if err != nil {
			listener.Close()
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer stop()

		disconnectChan := make(chan struct{})
		server := dap.NewServer(&dap.Config{
			Listener:       listener,
			DisconnectChan: disconnectChan,
			Debugger:       d,
			DisplayFloat:   displayFloat,
		})
		defer server.Stop()

		fmt.Printf("DAP server listening at: %s\n", listener.Addr())
		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	atexit.Exit(status)
}

func webCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if !setupLogging() {
			return 1
		}

		listener, err := net.Listen("tcp", webAddr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		d, stop, err := startDebugger()
		if err != nil {
			listener.Close()
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer stop()

		server, err := web.NewServer(&web.Config{
			Listener:     listener,
			Debugger:     d,
			DisplayFloat: displayFloat,
		})
		if err != nil {
			listener.Close()
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}

		fmt.Printf("Web server listening at: http://%s/api/status\n", listener.Addr())
		errChan := make(chan error, 1)
		go func() {
			errChan <- server.Run()
		}()

		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
		case err := <-errChan:
			if err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
				return 1
			}
		}
		server.Stop()
		return 0
	}()
	atexit.Exit(status)
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) or SIGTERM (kill -15) OS signal or for disconnectChan
// to be closed by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}
