package mqtt

import (
	"fmt"
	"strings"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Logger is the subset of a structured logger the package writes to.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// libraryLogger adapts a structured log function to paho's Println/Printf
// logger interface.
type libraryLogger struct {
	log func(msg string, args ...any)
}

func (l libraryLogger) Println(v ...any) {
	l.log(strings.TrimSpace(fmt.Sprintln(v...)), "source", "paho")
}

func (l libraryLogger) Printf(format string, v ...any) {
	l.log(strings.TrimSpace(fmt.Sprintf(format, v...)), "source", "paho")
}

// RouteLibraryLogs sends paho's ERROR, CRITICAL and WARN output to logger.
// paho keeps these as package globals, so this affects every client in the
// process. Call once at startup.
func RouteLibraryLogs(logger Logger) {
	pahomqtt.ERROR = libraryLogger{log: logger.Error}
	pahomqtt.CRITICAL = libraryLogger{log: logger.Error}
	pahomqtt.WARN = libraryLogger{log: logger.Warn}
}
