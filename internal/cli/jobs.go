package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/server/sweep"
)

// runJob runs a single pass. A skipped pass is not a failure: cron should not
// alert because the remote tier is inactive on this stage.
func (a *App) runJob(ctx context.Context, name string) int {
	job, ok := a.jobs[name]
	if !ok {
		fmt.Fprintln(a.errOut, "Unknown job:", name)
		return exitUsage
	}

	res, err := job.Run(ctx)
	switch {
	case errors.Is(err, sweep.ErrSkipped):
		fmt.Fprintf(a.out, "%s: skipped (%v)\n", name, err)
		return exitOK
	case err != nil:
		fmt.Fprintf(a.errOut, "%s: %v\n", name, err)
		printResult(a, name, res)
		return exitError
	}
	printResult(a, name, res)
	return exitOK
}

func printResult(a *App, name string, r sweep.Result) {
	fmt.Fprintf(a.out, "%s: checked=%d removed=%d uploaded=%d deleted=%d failed=%d\n",
		name, r.Checked, r.Removed, r.Uploaded, r.Deleted, r.Failed)
}

func (a *App) backlog() error {
	for _, n := range []checklist.Name{checklist.Local, checklist.Remote, checklist.Upload} {
		c, err := a.checklists.Count(n)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%-20s %d\n", n, c)
	}
	return nil
}
