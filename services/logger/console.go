package logsvc

import (
	"log"

	"github.com/g4mless/mykelas-web/core"
)

// ConsoleLogger writes events to std only. Debug events are dropped unless debug is on.
type ConsoleLogger struct {
	std   *log.Logger
	debug bool
}

var _ core.Logger = (*ConsoleLogger)(nil)

func NewConsoleLogger(std *log.Logger, debug bool) *ConsoleLogger {
	return &ConsoleLogger{std: std, debug: debug}
}

func (l ConsoleLogger) Debug(msg string, args ...interface{}) {
	if l.debug {
		printArgs(l.std, "DEBUG", msg, args)
	}
}

func (l ConsoleLogger) Info(msg string, args ...interface{}) {
	printArgs(l.std, "INFO", msg, args)
}

func (l ConsoleLogger) Warn(msg string, args ...interface{}) {
	printArgs(l.std, "WARN", msg, args)
}

func (l ConsoleLogger) Error(msg string, args ...interface{}) {
	printArgs(l.std, "ERROR", msg, args)
}

func (l ConsoleLogger) Fatal(msg string, args ...interface{}) {
	printArgs(l.std, "FATAL", msg, args)
	l.std.Fatal(msg)
}

func printArgs(std *log.Logger, level, msg string, args []interface{}) {
	usr, rest := splitUser(args)
	if usr != nil {
		std.Printf("%s: %s [user %s]\n", level, msg, usr.ID)
	} else {
		std.Printf("%s: %s\n", level, msg)
	}
	for _, arg := range rest {
		std.Printf("%+v\n", arg)
	}
}
