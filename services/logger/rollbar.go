package logsvc

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
)

// componentKey is the extras key carrying the logger's component name.
const componentKey = "component"

// RollbarLogger prints every entry to a std logger and reports it to Rollbar when enabled.
// Field maps passed to a single call are merged into one set of Rollbar extras.
type RollbarLogger struct {
	std       *log.Logger
	component string
}

var _ core.Logger = (*RollbarLogger)(nil)

// NewRollbarLogger reports to Rollbar, unless in debug or test mode, and always prints to `std`.
func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !(conf.Debug || conf.TestMode))
	return &RollbarLogger{std: std}
}

// Named returns a logger sharing the same output, tagging entries with `component`.
func (l *RollbarLogger) Named(component string) *RollbarLogger {
	return &RollbarLogger{std: l.std, component: component}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close waits for the queued reports to be sent.
func (l *RollbarLogger) Close() {
	rollbar.Close()
}

// entry is one log call split into what Rollbar and the printer need.
type entry struct {
	err    error
	fields map[string]interface{}
	extra  []interface{}
	person *user.User
}

// expected args: error, map[string]interface{}, user.User, anything else is printed as is
func (l *RollbarLogger) parse(args []interface{}) entry {
	var e entry
	for _, arg := range args {
		switch val := arg.(type) {
		case user.User:
			if e.person == nil { // only set one User
				usr := val
				e.person = &usr
			}
		case error:
			if e.err == nil {
				e.err = val
			} else {
				e.extra = append(e.extra, val)
			}
		case map[string]interface{}:
			if e.fields == nil {
				e.fields = make(map[string]interface{}, len(val)+1)
			}
			for k, v := range val {
				e.fields[k] = v
			}
		default:
			e.extra = append(e.extra, arg)
		}
	}
	if l.component != "" {
		if e.fields == nil {
			e.fields = make(map[string]interface{}, 1)
		}
		e.fields[componentKey] = l.component
	}
	return e
}

// prepare sets the Rollbar person and returns the args for a rollbar call.
func (l *RollbarLogger) prepare(msg string, e entry) []interface{} {
	if e.person != nil {
		rollbar.SetPerson(e.person.ID, e.person.Name, e.person.Email)
	} else {
		rollbar.ClearPerson()
	}

	args := make([]interface{}, 0, 3+len(e.extra))
	extras := e.fields
	if e.err != nil {
		// rollbar uses the error as the item and the message as its description
		extras = make(map[string]interface{}, len(e.fields)+1)
		for k, v := range e.fields {
			extras[k] = v
		}
		extras["message"] = msg
		args = append(args, e.err)
	} else {
		args = append(args, msg)
	}
	if extras != nil {
		args = append(args, extras)
	}
	return append(args, e.extra...)
}

// format renders `LEVEL [component] msg: err key=value ...` with sorted keys.
func (l *RollbarLogger) format(level, msg string, e entry) string {
	var b strings.Builder
	b.WriteString(level)
	if l.component != "" {
		fmt.Fprintf(&b, " [%s]", l.component)
	}
	b.WriteString(" ")
	b.WriteString(msg)
	if e.err != nil {
		fmt.Fprintf(&b, ": %v", e.err)
	}

	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		if k != componentKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.fields[k])
	}
	for _, arg := range e.extra {
		fmt.Fprintf(&b, " %+v", arg)
	}
	return b.String()
}

func (l *RollbarLogger) log(level string, report func(...interface{}), msg string, args []interface{}) entry {
	e := l.parse(args)
	report(l.prepare(msg, e)...)
	l.std.Println(l.format(level, msg, e))
	return e
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) {
	l.log("DEBUG", rollbar.Debug, msg, args)
}

func (l *RollbarLogger) Info(msg string, args ...interface{}) {
	l.log("INFO", rollbar.Info, msg, args)
}

func (l *RollbarLogger) Warn(msg string, args ...interface{}) {
	l.log("WARN", rollbar.Warning, msg, args)
}

func (l *RollbarLogger) Error(msg string, args ...interface{}) {
	l.log("ERROR", rollbar.Error, msg, args)
}

func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	e := l.log("FATAL", rollbar.Critical, msg, args)
	rollbar.Close()
	if e.err != nil {
		l.std.Fatalf("%s: %v", msg, e.err)
	}
	l.std.Fatal(msg)
}
