package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jllopis/soundscape/pkg/config"
	"github.com/jllopis/soundscape/pkg/core"
	"github.com/jllopis/soundscape/pkg/export"
	"github.com/jllopis/soundscape/pkg/storage"
)

func parseCyclesFlags(args []string) (export.JournalFilter, error) {
	cmd := flag.NewFlagSet("cycles", flag.ContinueOnError)
	cmd.SetOutput(io.Discard)
	outcome := cmd.String("outcome", "", "only cycles with this outcome")
	limit := cmd.Int("limit", 20, "maximum cycles to list")
	if err := cmd.Parse(args); err != nil {
		return export.JournalFilter{}, err
	}
	if cmd.NArg() > 0 {
		return export.JournalFilter{}, fmt.Errorf("unexpected args: %v", cmd.Args())
	}
	if *limit <= 0 {
		return export.JournalFilter{}, fmt.Errorf("--limit must be positive")
	}
	return export.JournalFilter{Outcome: core.Outcome(*outcome), Limit: *limit}, nil
}

func runCycles(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) error {
	filter, err := parseCyclesFlags(args)
	if err != nil {
		return NewInvalidArgumentError("cycles", err.Error())
	}
	if cfg.Storage.Driver != "sqlite" {
		return NewStorageError(cfg.Storage.Driver)
	}

	p, err := storage.OpenSQLite(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer p.Close()
	journal, err := export.NewSQLiteJournal(p.DB())
	if err != nil {
		return err
	}
	records, err := journal.List(ctx, filter)
	if err != nil {
		return err
	}

	if flags.JSON {
		if records == nil {
			records = []export.CycleRecord{}
		}
		printJSON(records)
		return nil
	}
	writeCycles(os.Stdout, records)
	return nil
}

func writeCycles(w io.Writer, records []export.CycleRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tOUTCOME\tSTARTED\tDURATION\tMISSING")
	for _, rec := range records {
		missing := make([]string, len(rec.Missing))
		for i, c := range rec.Missing {
			missing[i] = string(c)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			rec.CycleID,
			rec.Outcome,
			rec.StartedAt.Format(time.RFC3339),
			rec.Duration().Round(time.Millisecond),
			strings.Join(missing, ","),
		)
	}
	_ = tw.Flush()
}
