package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const (
	defaultServerURL = "http://localhost:12212"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	titleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	var serverURL, session string
	var keep bool
	flag.StringVar(&serverURL, "server", defaultServerURL, "Server URL")
	flag.StringVar(&serverURL, "s", defaultServerURL, "Server URL (short)")
	flag.StringVar(&session, "session", "", "Existing session id; a new session is opened when empty")
	flag.BoolVar(&keep, "keep", false, "Keep a newly opened session after the commands ran")
	flag.Usage = printUsage
	flag.Parse()

	if flag.NArg() == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{
		base: strings.TrimSuffix(serverURL, "/"),
		http: &http.Client{Timeout: 2 * time.Minute},
	}

	closeAfter := false
	if session == "" {
		id, err := c.openSession()
		if err != nil {
			printError(&CommandResult{Error: err.Error()})
			os.Exit(1)
		}
		session = id
		closeAfter = !keep
		if keep {
			fmt.Println(dimStyle.Render("session " + session))
		}
	}

	code := 0
	for _, command := range splitCommands(flag.Args()) {
		result := c.execute(session, command)
		if !result.Success {
			printError(result)
			code = 1
			break
		}
		printSuccess(result)
	}

	if closeAfter {
		c.closeSession(session)
	}
	os.Exit(code)
}

// splitCommands groups arguments into commands separated by a lone ";"
// and quotes arguments the server would otherwise split. Backslash escapes
// such as \n are passed through for the server to expand.
func splitCommands(args []string) []string {
	var commands []string
	var current []string
	for _, arg := range args {
		if arg == ";" {
			if len(current) > 0 {
				commands = append(commands, strings.Join(current, " "))
			}
			current = nil
			continue
		}
		current = append(current, quote(arg))
	}
	if len(current) > 0 {
		commands = append(commands, strings.Join(current, " "))
	}
	return commands
}

func quote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\"'\\") {
		return arg
	}
	return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Spool Engine CLI

Usage:
  spool-cli [flags] <command> [; <command>...]

Flags:
  -s, -server <url>    Server URL (default: %s)
  -session <id>        Run against an existing session
  -keep                Keep the session opened for this run

Commands:
  find [filter]
    Discover printers and select the first match
  printer list | known | current | select <id> | forget <id>
  printer add-network <host> [port] | rename <id> <name>
  append text|hex|base64|html <data>
  append image|file|pdf <src> [lang=zpl] [threshold=127] ...
  append xml <src> <tag>
  append barcode|qrcode <value> [format=CODE128] [level=M] ...
  set encoding|paper|autosize|orientation|eod|per-spool|title <value>
  print [raw|ps|html] | print file <path> | print host <host> [port]
  port list | open|close|last <name> | send <name> <data>
  port props <name> [baud=9600] [data=8] [stop=1] [parity=none] [flow=none]
  port begin|end <name> <byte>
  network
  job list | job <index>
  exception [kind] | exception clear [kind]
  status | version | help

Examples:
  spool-cli find zebra \; append text '^XA^FDhello^FS^XZ' \; print
  spool-cli find \; append text 'N\nP1\n' \; set eod 'P1\n' \; set per-spool 2 \; print
  spool-cli find Office \; append pdf ./invoice.pdf \; print ps
  spool-cli -keep port props COM3 baud=9600 \; port open COM3
  spool-cli -s http://localhost:8080 printer list

`, defaultServerURL)
}

type CommandResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"-"`
	Error   string         `json:"error,omitempty"`
}

type client struct {
	base string
	http *http.Client
}

func (c *client) openSession() (string, error) {
	resp, err := c.http.Post(c.base+"/sessions", "application/json", nil)
	if err != nil {
		return "", fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Session string `json:"session"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to open session: %s", body.Error)
	}
	return body.Session, nil
}

func (c *client) closeSession(id string) {
	req, err := http.NewRequest(http.MethodDelete, c.base+"/sessions/"+id, nil)
	if err != nil {
		return
	}
	if resp, err := c.http.Do(req); err == nil {
		resp.Body.Close()
	}
}

func (c *client) execute(session, command string) *CommandResult {
	url := c.base + "/sessions/" + session + "/command"

	jsonData, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to marshal request: %v", err),
		}
	}

	resp, err := c.http.Post(url, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to connect to server: %v", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to read response: %v", err),
		}
	}

	var result CommandResult
	if err := json.Unmarshal(body, &result); err != nil {
		return &CommandResult{
			Success: false,
			Error:   fmt.Sprintf("failed to parse response: %v", err),
		}
	}
	// the server flattens data into the top-level object
	if err := json.Unmarshal(body, &result.Data); err != nil {
		result.Data = nil
	}
	return &result
}

func printSuccess(result *CommandResult) {
	if result.Message != "" {
		fmt.Println(okStyle.Render(result.Message))
	}

	if printers, ok := result.Data["printers"].([]any); ok {
		fmt.Println(titleStyle.Render("Printers"))
		for _, p := range printers {
			if printer, ok := p.(map[string]any); ok {
				name := printer["custom_name"]
				if name == nil || name == "" {
					name = printer["name"]
				}
				fmt.Printf("  %s  %s %s\n", printer["id"], name,
					dimStyle.Render(fmt.Sprintf("(%s, %s)", printer["kind"], printer["capability"])))
			}
		}
	}

	if known, ok := result.Data["known"].([]any); ok {
		fmt.Println(titleStyle.Render("Stored printers"))
		for _, k := range known {
			if entry, ok := k.(map[string]any); ok {
				label := fmt.Sprintf("(%s)", entry["kind"])
				if name, ok := entry["name"].(string); ok && name != "" {
					label += " " + name
				}
				fmt.Printf("  %s  %s %s\n", entry["id"], entry["description"], dimStyle.Render(label))
			}
		}
	}

	if jobs, ok := result.Data["jobs"].([]any); ok {
		fmt.Println(titleStyle.Render("Jobs"))
		for _, j := range jobs {
			if job, ok := j.(map[string]any); ok {
				line := fmt.Sprintf("  %v  %s  %s -> %s", job["index"], job["state"], job["title"], job["printer"])
				if e, ok := job["error"].(string); ok && e != "" {
					line += " " + errStyle.Render(e)
				}
				fmt.Println(line)
			}
		}
	}

	if ports, ok := result.Data["ports"].([]any); ok {
		fmt.Println(titleStyle.Render("Serial ports"))
		for _, p := range ports {
			if port, ok := p.(map[string]any); ok {
				fmt.Printf("  %s %s\n", port["name"], dimStyle.Render(fmt.Sprintf("%v", port["product"])))
			}
		}
	}

	if excs, ok := result.Data["exceptions"].([]any); ok {
		for _, e := range excs {
			if exc, ok := e.(map[string]any); ok {
				fmt.Printf("  %s: %s\n", exc["kind"], errStyle.Render(fmt.Sprintf("%v", exc["message"])))
			}
		}
	}

	if printerID, ok := result.Data["printer_id"].(string); ok {
		fmt.Printf("Printer ID: %s\n", printerID)
	}
}

func printError(result *CommandResult) {
	if result.Error != "" {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error: "+result.Error))
	} else if result.Message != "" {
		fmt.Fprintln(os.Stderr, result.Message)
	}
}
