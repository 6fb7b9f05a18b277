// Package logflags controls which layers of gpudbg emit debug logs and
// where those logs go.
package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var transport = false
var wire = false
var telemetry = false
var control = false
var dap = false
var web = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Transport returns true if channel connection events should be logged.
func Transport() bool {
	return transport
}

// TransportLogger returns a logger for the transport layer.
func TransportLogger() Logger {
	return makeFlaggableLogger(transport, Fields{"layer": "transport"})
}

// Wire returns true if every header sent or received on either channel
// should be logged.
func Wire() bool {
	return wire
}

// WireLogger returns a configured logger for the wire protocol.
func WireLogger() Logger {
	return makeFlaggableLogger(wire, Fields{"layer": "wire"})
}

// Telemetry returns true if the telemetry synchronizer should log.
func Telemetry() bool {
	return telemetry
}

// TelemetryLogger returns a logger for the telemetry synchronizer.
func TelemetryLogger() Logger {
	return makeFlaggableLogger(telemetry, Fields{"layer": "telemetry"})
}

// Control returns true if the control state machine should log.
func Control() bool {
	return control
}

// ControlLogger returns a logger for the control state machine.
func ControlLogger() Logger {
	return makeFlaggableLogger(control, Fields{"layer": "control"})
}

// DAP returns true if the DAP server should log.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for dap package.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// Web returns true if the HTTP monitor should log.
func Web() bool {
	return web
}

// WebLogger returns a logger for the HTTP monitor.
func WebLogger() Logger {
	return makeFlaggableLogger(web, Fields{"layer": "web"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "gpudbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "transport"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "transport":
			transport = true
		case "wire":
			wire = true
		case "telemetry":
			telemetry = true
		case "control":
			control = true
		case "dap":
			dap = true
		case "web":
			web = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

var textFormatterInstance = &textFormatter{}

// textFormatter wraps the logrus text formatter and decides on colors the
// first time it is used, based on whether the destination is a terminal.
type textFormatter struct {
	once  sync.Once
	inner *logrus.TextFormatter
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	f.once.Do(func() {
		f.inner = &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05Z07:00",
			DisableColors:   !isTerminal(entry.Logger.Out),
		}
	})
	return f.inner.Format(entry)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
