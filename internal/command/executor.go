// Package command runs text commands against a spool session. It backs the
// /command endpoint and the CLI.
package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/thereceipt/spool-engine/internal/spool"
	"github.com/thereceipt/spool-engine/internal/status"
)

// DefaultTimeout bounds how long a command waits for its operation
const DefaultTimeout = 60 * time.Second

// Executor executes commands on one session
type Executor struct {
	session *spool.Session
	timeout time.Duration
}

// NewExecutor creates a command executor. timeout <= 0 selects
// DefaultTimeout.
func NewExecutor(session *spool.Session, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Executor{session: session, timeout: timeout}
}

// Result represents the result of executing a command
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func ok(message string, data map[string]any) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

func fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

func failErr(err error) *Result {
	return &Result{Success: false, Error: err.Error()}
}

// Execute executes a command string and returns a result
func (e *Executor) Execute(ctx context.Context, cmdStr string) *Result {
	parts := parseCommand(cmdStr)
	if len(parts) == 0 {
		return fail("empty command")
	}

	command := parts[0]
	args := parts[1:]

	switch command {
	case "find":
		return e.handleFind(ctx, args)
	case "printer":
		return e.handlePrinter(args)
	case "append":
		return e.handleAppend(ctx, args)
	case "set":
		return e.handleSet(args)
	case "clear":
		e.session.ClearBuffer()
		return ok("Buffer cleared", nil)
	case "print":
		return e.handlePrint(ctx, args)
	case "port":
		return e.handlePort(ctx, args)
	case "network":
		return e.handleNetwork(ctx)
	case "job":
		return e.handleJob(args)
	case "exception":
		return e.handleException(args)
	case "status":
		return e.handleStatus()
	case "version":
		return ok(e.session.Version(), map[string]any{"version": e.session.Version()})
	case "help":
		return ok(helpText, nil)
	default:
		return fail("unknown command: %s. Type 'help' for available commands", command)
	}
}

// wait blocks until op finishes or the command times out
func (e *Executor) wait(ctx context.Context, op *status.Operation) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return op.Wait(ctx)
}

// parseCommand parses a command string into parts, handling quoted strings
// and backslash escapes (\n, \r, \t, \\) inside them
func parseCommand(cmdStr string) []string {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		return []string{}
	}

	var parts []string
	var current strings.Builder
	inQuotes := false
	quoted := false
	quoteChar := byte(0)

	for i := 0; i < len(cmdStr); i++ {
		char := cmdStr[i]

		switch {
		case inQuotes && char == '\\' && i+1 < len(cmdStr):
			i++
			switch cmdStr[i] {
			case 'n':
				current.WriteByte('\n')
			case 'r':
				current.WriteByte('\r')
			case 't':
				current.WriteByte('\t')
			default:
				current.WriteByte(cmdStr[i])
			}
		case char == '"' || char == '\'':
			if !inQuotes {
				inQuotes = true
				quoted = true
				quoteChar = char
			} else if char == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else {
				current.WriteByte(char)
			}
		case char == ' ' && !inQuotes:
			if current.Len() > 0 || quoted {
				parts = append(parts, current.String())
				current.Reset()
				quoted = false
			}
		default:
			current.WriteByte(char)
		}
	}

	if current.Len() > 0 || quoted {
		parts = append(parts, current.String())
	}

	return parts
}

// options splits key=value arguments from positional ones
func options(args []string) ([]string, map[string]string) {
	var positional []string
	opts := make(map[string]string)
	for _, arg := range args {
		if k, v, found := strings.Cut(arg, "="); found && k != "" && !strings.ContainsAny(k, " /:") {
			opts[strings.ToLower(k)] = v
			continue
		}
		positional = append(positional, arg)
	}
	return positional, opts
}

const helpText = `Available Commands:

  find [filter]                         discover printers and select one
  printer list | known | current
  printer select <id|name>
  printer add-network <host> [port] [description]
  printer rename <id> <name>
  printer forget <id>

  append text|hex|base64|html <data>
  append image <src> [lang=zpl] [density=double] [x=0] [y=0] [threshold=127] [width=] [height=]
  append file|pdf <src>
  append xml <src> <tag>
  append barcode <value> [format=CODE128] [width=] [height=] [lang=]
  append qrcode <value> [level=M] [width=] [lang=]

  set encoding <name>
  set paper <name> | set paper <width> <height> [in|mm|pt]
  set autosize <true|false>
  set orientation <portrait|landscape|reverse-landscape>
  set eod <marker>                      end-of-document marker, escapes allowed
  set per-spool <n>
  set title <title>
  clear

  print [raw|ps|html]
  print file <path>
  print host <host> [port]

  port list
  port open|close <name>
  port send <name> <data>
  port props <name> [baud=9600] [data=8] [stop=1] [parity=none] [flow=none]
  port begin|end <name> <byte>
  port last <name>

  network                               outbound IP and MAC address
  job list | job <index>
  exception [kind] | exception clear [kind]
  status | version | help

Examples:
  find zebra
  append text "N\nA50,50,0,4,1,1,N,\"hello\"\nP1,1\n"
  set eod "P1,1\n"; set per-spool 2; print
  append image ./logo.png lang=escp density=double
  print host 192.168.1.100 9100
`
