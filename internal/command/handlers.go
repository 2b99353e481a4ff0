package command

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/thereceipt/spool-engine/internal/spool"
	"github.com/thereceipt/spool-engine/internal/status"
)

// handleFind runs discovery
// Usage: find [filter]
func (e *Executor) handleFind(ctx context.Context, args []string) *Result {
	op := e.session.FindPrinter(strings.Join(args, " "))
	if err := e.wait(ctx, op); err != nil {
		return failErr(err)
	}
	p := e.session.Printer()
	return ok(fmt.Sprintf("Selected printer: %s", p), map[string]any{"printer": p})
}

// handlePrinter handles printer commands
// Usage: printer list | known | current | select <id> | add-network <host> [port] | rename <id> <name> | forget <id>
func (e *Executor) handlePrinter(args []string) *Result {
	if len(args) == 0 {
		return fail("usage: printer <list|known|current|select|add-network|rename|forget>")
	}

	switch args[0] {
	case "list":
		printers, err := e.session.Printers()
		if err != nil {
			return failErr(err)
		}
		return ok(fmt.Sprintf("Found %d printer(s)", len(printers)), map[string]any{"printers": printers})

	case "known":
		known := e.session.KnownPrinters()
		return ok(fmt.Sprintf("%d stored printer(s)", len(known)), map[string]any{"known": known})

	case "current":
		p := e.session.Printer()
		if p == nil {
			return fail("no printer selected")
		}
		return ok(p.String(), map[string]any{"printer": p})

	case "select":
		if len(args) < 2 {
			return fail("usage: printer select <id|name>")
		}
		p, err := e.session.SelectPrinter(strings.Join(args[1:], " "))
		if err != nil {
			return failErr(err)
		}
		return ok(fmt.Sprintf("Selected printer: %s", p), map[string]any{"printer": p})

	case "add-network":
		if len(args) < 2 {
			return fail("usage: printer add-network <host> [port] [description]")
		}
		host := args[1]
		port := 0
		if len(args) >= 3 {
			var err error
			port, err = strconv.Atoi(args[2])
			if err != nil {
				return fail("invalid port: %s", args[2])
			}
		}
		description := ""
		if len(args) >= 4 {
			description = strings.Join(args[3:], " ")
		}
		p, err := e.session.AddNetworkPrinter(host, port, description)
		if err != nil {
			return failErr(err)
		}
		return ok(fmt.Sprintf("Added network printer: %s", p.Description), map[string]any{
			"printer_id": p.ID,
			"printer":    p,
		})

	case "rename":
		if len(args) < 3 {
			return fail("usage: printer rename <id> <name>")
		}
		name := strings.Join(args[2:], " ")
		if err := e.session.SetPrinterName(args[1], name); err != nil {
			return failErr(err)
		}
		return ok(fmt.Sprintf("Renamed printer %s to %s", args[1], name), nil)

	case "forget":
		if len(args) != 2 {
			return fail("usage: printer forget <id>")
		}
		if err := e.session.ForgetPrinter(args[1]); err != nil {
			return failErr(err)
		}
		return ok(fmt.Sprintf("Forgot printer %s", args[1]), nil)

	default:
		return fail("unknown printer subcommand: %s. Use: list, known, current, select, add-network, rename, forget", args[0])
	}
}

func imageOptions(opts map[string]string) (spool.ImageOptions, error) {
	out := spool.ImageOptions{Lang: opts["lang"], Density: opts["density"]}
	ints := map[string]*int{
		"x":         &out.X,
		"y":         &out.Y,
		"threshold": &out.Threshold,
		"width":     &out.Width,
		"height":    &out.Height,
	}
	for key, dst := range ints {
		v, found := opts[key]
		if !found {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return out, fmt.Errorf("invalid %s: %s", key, v)
		}
		*dst = n
	}
	return out, nil
}

// handleAppend appends content to the buffer
// Usage: append <kind> <data...> [key=value...]
func (e *Executor) handleAppend(ctx context.Context, args []string) *Result {
	if len(args) < 2 {
		return fail("usage: append <text|hex|base64|html|image|file|xml|pdf|barcode|qrcode> <data>")
	}

	kind, rest := args[0], args[1:]
	data := strings.Join(rest, " ")

	var err error
	switch kind {
	case "text":
		err = e.session.AppendText(data)
	case "hex":
		err = e.session.AppendHex(data)
	case "base64":
		err = e.session.AppendBase64(data)
	case "html":
		err = e.session.AppendHTML(data)
	default:
		return e.appendAsync(ctx, kind, rest)
	}
	if err != nil {
		return failErr(err)
	}
	return ok(fmt.Sprintf("Appended %s", kind), nil)
}

func (e *Executor) appendAsync(ctx context.Context, kind string, args []string) *Result {
	positional, opts := options(args)
	if len(positional) == 0 {
		return fail("usage: append %s <source>", kind)
	}
	imgOpts, err := imageOptions(opts)
	if err != nil {
		return failErr(err)
	}

	var op *status.Operation
	switch kind {
	case "image":
		op = e.session.AppendImage(positional[0], imgOpts)
	case "file":
		op = e.session.AppendFile(positional[0])
	case "pdf":
		op = e.session.AppendPDF(positional[0])
	case "xml":
		if len(positional) < 2 {
			return fail("usage: append xml <src> <tag>")
		}
		op = e.session.AppendXML(positional[0], positional[1])
	case "barcode":
		op = e.session.AppendBarcode(opts["format"], strings.Join(positional, " "), imgOpts)
	case "qrcode":
		op = e.session.AppendQRCode(strings.Join(positional, " "), opts["level"], imgOpts)
	default:
		return fail("unknown append kind: %s", kind)
	}

	if err := e.wait(ctx, op); err != nil {
		return failErr(err)
	}
	return ok(fmt.Sprintf("Appended %s", kind), nil)
}

// handleSet changes buffer and segmentation settings
// Usage: set <setting> <value...>
func (e *Executor) handleSet(args []string) *Result {
	if len(args) < 2 {
		return fail("usage: set <encoding|paper|autosize|orientation|eod|per-spool|title> <value>")
	}

	setting, value := args[0], strings.Join(args[1:], " ")

	var err error
	switch setting {
	case "encoding":
		err = e.session.SetEncoding(value)
	case "paper":
		err = e.setPaper(args[1:])
	case "autosize":
		var auto bool
		if auto, err = strconv.ParseBool(value); err == nil {
			err = e.session.SetAutoSize(auto)
		}
	case "orientation":
		err = e.session.SetOrientation(value)
	case "eod":
		err = e.session.SetEndOfDocument(value)
	case "per-spool":
		var n int
		if n, err = strconv.Atoi(value); err == nil {
			err = e.session.SetDocumentsPerSpool(n)
		}
	case "title":
		err = e.session.SetJobTitle(value)
	default:
		return fail("unknown setting: %s", setting)
	}
	if err != nil {
		return failErr(err)
	}
	return ok(fmt.Sprintf("Set %s", setting), nil)
}

func (e *Executor) setPaper(args []string) error {
	if len(args) == 1 {
		return e.session.SetPaperSizeNamed(args[0])
	}
	width, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid width: %s", args[0])
	}
	height, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid height: %s", args[1])
	}
	units := "in"
	if len(args) >= 3 {
		units = args[2]
	}
	return e.session.SetPaperSize(width, height, units)
}

// handlePrint submits the buffer and waits for the result
// Usage: print [raw|ps|html] | print file <path> | print host <host> [port]
func (e *Executor) handlePrint(ctx context.Context, args []string) *Result {
	mode := "raw"
	if len(args) > 0 {
		mode = args[0]
	}

	var op *status.Operation
	switch mode {
	case "raw":
		op = e.session.Print()
	case "ps":
		op = e.session.PrintPS()
	case "html":
		op = e.session.PrintHTML()
	case "file":
		if len(args) < 2 {
			return fail("usage: print file <path>")
		}
		op = e.session.PrintToFile(args[1])
	case "host":
		if len(args) < 2 {
			return fail("usage: print host <host> [port]")
		}
		port := 0
		if len(args) >= 3 {
			var err error
			if port, err = strconv.Atoi(args[2]); err != nil {
				return fail("invalid port: %s", args[2])
			}
		}
		op = e.session.PrintToHost(args[1], port)
	default:
		return fail("unknown print mode: %s. Use: raw, ps, html, file, host", mode)
	}

	if err := e.wait(ctx, op); err != nil {
		return failErr(err)
	}
	result, _ := op.Value().(spool.PrintResult)
	return ok(fmt.Sprintf("Printed %s", result), map[string]any{
		"jobs":  result.Jobs,
		"bytes": result.Bytes,
	})
}

// handlePort drives serial ports
// Usage: port list | open|close|last <name> | send <name> <data> | props <name> [k=v] | begin|end <name> <byte>
func (e *Executor) handlePort(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return fail("usage: port <list|open|close|send|props|begin|end|last>")
	}
	if args[0] == "list" {
		if err := e.wait(ctx, e.session.FindPorts()); err != nil {
			return failErr(err)
		}
		ports := e.session.Ports()
		return ok(fmt.Sprintf("Found %d port(s)", len(ports)), map[string]any{"ports": ports})
	}
	if len(args) < 2 {
		return fail("usage: port %s <name>", args[0])
	}

	name := args[1]
	var err error
	switch args[0] {
	case "open":
		err = e.wait(ctx, e.session.OpenPort(name))
	case "close":
		err = e.wait(ctx, e.session.ClosePort(name))
	case "send":
		if len(args) < 3 {
			return fail("usage: port send <name> <data>")
		}
		err = e.session.SendSerial(name, strings.Join(args[2:], " "))
	case "props":
		_, o := options(args[2:])
		err = e.session.SetSerialProperties(name, o["baud"], o["data"], o["stop"], o["parity"], o["flow"])
	case "begin", "end":
		if len(args) < 3 {
			return fail("usage: port %s <name> <byte>", args[0])
		}
		if args[0] == "begin" {
			err = e.session.SetSerialBegin(name, args[2])
		} else {
			err = e.session.SetSerialEnd(name, args[2])
		}
	case "last":
		data := e.session.LastSerialData(name)
		return ok(data, map[string]any{"port": name, "data": data})
	default:
		return fail("unknown port subcommand: %s", args[0])
	}
	if err != nil {
		return failErr(err)
	}
	return ok(fmt.Sprintf("Port %s: %s", name, args[0]), map[string]any{
		"port":  name,
		"state": e.session.SerialState(name).String(),
	})
}

// handleNetwork resolves the outbound address
func (e *Executor) handleNetwork(ctx context.Context) *Result {
	if err := e.wait(ctx, e.session.FindNetworkInfo()); err != nil {
		return failErr(err)
	}
	info := e.session.NetworkInfo()
	return ok(info.String(), map[string]any{"ip": info.IP, "mac": info.MAC, "interface": info.Interface})
}

// handleJob shows the job log
// Usage: job list | job <index>
func (e *Executor) handleJob(args []string) *Result {
	if len(args) == 0 || args[0] == "list" {
		jobs := e.session.QueueInfo()
		return ok(fmt.Sprintf("Found %d job(s)", len(jobs)), map[string]any{"jobs": jobs})
	}

	index, err := strconv.Atoi(args[0])
	if err != nil {
		return fail("invalid job index: %s", args[0])
	}
	job, err := e.session.JobInfo(index)
	if err != nil {
		return failErr(err)
	}
	return ok(fmt.Sprintf("Job %d: %s", job.Index, job.State), map[string]any{"job": job})
}

// handleException shows or clears exception slots
// Usage: exception [kind] | exception clear [kind]
func (e *Executor) handleException(args []string) *Result {
	if len(args) > 0 && args[0] == "clear" {
		kind := ""
		if len(args) > 1 {
			kind = args[1]
		}
		e.session.ClearException(status.Kind(kind))
		return ok("Cleared exceptions", nil)
	}

	if len(args) > 0 {
		exc := e.session.Exception(status.Kind(args[0]))
		if exc == nil {
			return ok("No exception", nil)
		}
		return ok(exc.Message, map[string]any{"exception": exc})
	}

	excs := e.session.Exceptions()
	return ok(fmt.Sprintf("%d exception(s)", len(excs)), map[string]any{"exceptions": excs})
}

// handleStatus reports which operation kinds have finished
func (e *Executor) handleStatus() *Result {
	done := make(map[string]bool, len(status.Kinds))
	for _, kind := range status.Kinds {
		done[string(kind)] = e.session.IsDone(kind)
	}
	return ok("", map[string]any{
		"active":  e.session.Active() == nil,
		"done":    done,
		"printer": e.session.Printer(),
	})
}
