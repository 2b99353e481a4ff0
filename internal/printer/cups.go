package printer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Spooler drives the host print system through the lp and lpstat tools
type Spooler struct {
	lp     string
	lpstat string
	run    runFunc
}

type runFunc func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// NewSpooler creates a spooler. Empty paths select the tools on PATH.
func NewSpooler(lp, lpstat string) *Spooler {
	if lp == "" {
		lp = "lp"
	}
	if lpstat == "" {
		lpstat = "lpstat"
	}
	return &Spooler{lp: lp, lpstat: lpstat, run: execRun}
}

// Queue is a destination known to the print system
type Queue struct {
	Name        string
	Description string
	Enabled     bool
}

// Queues lists destinations and the default destination name
func (s *Spooler) Queues(ctx context.Context) ([]Queue, string, error) {
	out, err := s.run(ctx, s.lpstat, []string{"-l", "-p", "-d"}, nil)
	if err != nil && len(out) == 0 {
		return nil, "", fmt.Errorf("lpstat: %w", err)
	}
	queues, def := parseLPStat(string(out))
	return queues, def, nil
}

// Submit hands data to queue. raw bypasses the print system's filters.
func (s *Spooler) Submit(ctx context.Context, queue string, data []byte, raw bool, title string) error {
	args := []string{"-d", queue}
	if raw {
		args = append(args, "-o", "raw")
	}
	if title != "" {
		args = append(args, "-t", title)
	}

	if _, err := s.run(ctx, s.lp, args, data); err != nil {
		return fmt.Errorf("lp -d %s: %w", queue, err)
	}
	return nil
}

func execRun(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// parseLPStat reads `lpstat -l -p -d` output:
//
//	printer Office is idle.  enabled since ...
//		Description: Office laser
//	printer Zebra disabled since ...
//	system default destination: Office
func parseLPStat(out string) ([]Queue, string) {
	var queues []Queue
	var def string

	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "printer "):
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			queues = append(queues, Queue{
				Name:    fields[1],
				Enabled: !strings.Contains(line, " disabled"),
			})
		case strings.HasPrefix(trimmed, "Description:") && len(queues) > 0:
			queues[len(queues)-1].Description = strings.TrimSpace(strings.TrimPrefix(trimmed, "Description:"))
		case strings.HasPrefix(line, "system default destination:"):
			def = strings.TrimSpace(strings.TrimPrefix(line, "system default destination:"))
		}
	}
	return queues, def
}

// SystemSource lists the host's print queues
type SystemSource struct {
	spooler *Spooler
}

// NewSystemSource creates a source backed by spooler
func NewSystemSource(spooler *Spooler) *SystemSource {
	return &SystemSource{spooler: spooler}
}

func (s *SystemSource) Kind() Kind { return KindSystem }

func (s *SystemSource) Discover(ctx context.Context) ([]Printer, error) {
	queues, def, err := s.spooler.Queues(ctx)
	if err != nil {
		return nil, err
	}

	printers := make([]Printer, 0, len(queues))
	for _, q := range queues {
		desc := q.Description
		if desc == "" {
			desc = q.Name
		}
		printers = append(printers, Printer{
			Name:        q.Name,
			Description: desc,
			Kind:        KindSystem,
			Capability:  PostScript,
			Default:     q.Name == def,
			Queue:       q.Name,
		})
	}
	return printers, nil
}
