package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshp123/gohome-electra/internal/config"
	"github.com/joshp123/gohome-electra/internal/entry"
	"github.com/joshp123/gohome-electra/internal/flow"
	"github.com/joshp123/gohome-electra/internal/plugins"
)

var (
	setupOptions bool
	setupEntryID string
)

var setupCmd = &cobra.Command{
	Use:   "setup <domain>",
	Short: "Run a plugin's interactive setup and store the config entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Core.LogLevel)
		host, err := newHost(cfg, logger)
		if err != nil {
			return err
		}
		// plugin factories register their flows on host.Flows
		plugins.Compiled(cfg, host)

		w := &wizard{
			flows: host.Flows,
			in:    bufio.NewReader(os.Stdin),
			out:   cmd.OutOrStdout(),
		}
		if setupOptions {
			return w.runOptions(cmd.Context(), args[0], setupEntryID, host.Entries)
		}
		return w.run(cmd.Context(), args[0])
	},
}

func init() {
	setupCmd.Flags().BoolVar(&setupOptions, "options", false, "edit options of an existing entry")
	setupCmd.Flags().StringVar(&setupEntryID, "entry", "", "entry id for --options (defaults to the only entry)")
}

type wizard struct {
	flows *flow.Manager
	in    *bufio.Reader
	out   io.Writer
}

func (w *wizard) run(ctx context.Context, domain string) error {
	res, err := w.flows.Start(ctx, domain)
	if err != nil {
		return fmt.Errorf("%w (compiled flows: %s)", err, strings.Join(w.domains(), ", "))
	}
	return w.drive(ctx, res)
}

func (w *wizard) runOptions(ctx context.Context, domain, entryID string, entries *entry.Store) error {
	if entryID == "" {
		list, err := entries.Entries(ctx, domain)
		if err != nil {
			return err
		}
		if len(list) != 1 {
			return fmt.Errorf("%d %s entries found, pass --entry", len(list), domain)
		}
		entryID = list[0].EntryID
	}
	res, err := w.flows.StartOptions(ctx, domain, entryID)
	if err != nil {
		return err
	}
	return w.drive(ctx, res)
}

func (w *wizard) drive(ctx context.Context, res flow.Result) error {
	for {
		switch res.Type {
		case flow.ResultAbort:
			return fmt.Errorf("setup aborted: %s", res.Reason)
		case flow.ResultCreateEntry:
			if res.Options != nil && res.Title == "" {
				fmt.Fprintf(w.out, "Options saved for %s\n", res.EntryID)
			} else {
				fmt.Fprintf(w.out, "Saved entry %s (%s)\n", res.Title, res.EntryID)
			}
			return nil
		}

		input, err := w.prompt(res)
		if err != nil {
			w.flows.Cancel(res.FlowID)
			return err
		}
		res, err = w.flows.Submit(ctx, res.FlowID, input)
		if err != nil {
			return err
		}
	}
}

func (w *wizard) prompt(res flow.Result) (map[string]string, error) {
	for field, code := range res.Errors {
		fmt.Fprintf(w.out, "error (%s): %s\n", field, code)
	}
	if phone := res.Placeholders["phone_number"]; phone != "" {
		fmt.Fprintf(w.out, "A code was sent to %s\n", phone)
	}

	input := make(map[string]string, len(res.Fields))
	for _, field := range res.Fields {
		label := field.Name
		if field.Default != "" {
			label += " [" + field.Default + "]"
		}
		fmt.Fprintf(w.out, "%s: ", label)
		line, err := w.in.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read %s: %w", field.Name, err)
		}
		value := strings.TrimSpace(line)
		if value == "" {
			value = field.Default
		}
		input[field.Name] = value
	}
	return input, nil
}

func (w *wizard) domains() []string {
	domains := w.flows.Domains()
	sort.Strings(domains)
	return domains
}
