// Package cli implements tierctl, the admin command line for the storage
// engine. Every command runs once and exits, so the sweeps can be driven from
// cron instead of the daemon.
//
// Commands:
//
//	upload | gc-local | gc-remote   run one sweep pass
//	put [-model m] [-res-id n] [-field f] [-name n] <file>
//	get [-o path] <id>
//	rm <id>...
//	settings [list] | set <key> <value> | unset <key>
//	backlog                         marker counts per checklist
//	version
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/tierstore/internal/buildinfo"
	"github.com/dmitrijs2005/tierstore/internal/checklist"
	"github.com/dmitrijs2005/tierstore/internal/server"
	"github.com/dmitrijs2005/tierstore/internal/server/services"
	"github.com/dmitrijs2005/tierstore/internal/server/settings"
	"github.com/dmitrijs2005/tierstore/internal/server/sweep"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type App struct {
	attachments *services.AttachmentService
	settings    *settings.Service
	checklists  *checklist.Store
	jobs        map[string]sweep.Job
	out         io.Writer
	errOut      io.Writer
}

func newApp(as *services.AttachmentService, st *settings.Service, lists *checklist.Store, jobs []sweep.Job) *App {
	m := make(map[string]sweep.Job, len(jobs))
	for _, j := range jobs {
		m[j.Name()] = j
	}
	return &App{
		attachments: as,
		settings:    st,
		checklists:  lists,
		jobs:        m,
		out:         os.Stdout,
		errOut:      os.Stderr,
	}
}

// NewApp builds the CLI over an opened engine. A nil engine is enough for
// the commands NeedsEngine reports false for.
func NewApp(e *server.Engine) *App {
	if e == nil {
		return newApp(nil, nil, nil, nil)
	}
	return newApp(e.Attachments, e.Settings, e.Checklists, e.Jobs())
}

var commands = map[string]bool{
	"upload": true, "gc-local": true, "gc-remote": true,
	"put": true, "get": true, "rm": true,
	"settings": true, "backlog": true, "version": true, "help": true,
}

// SplitCommand finds the command in args. Global flags may precede it; they
// are handled by the config loader and dropped here.
func SplitCommand(args []string) (string, []string) {
	for i, a := range args {
		if commands[a] {
			return a, args[i+1:]
		}
	}
	return "", nil
}

// NeedsEngine reports whether cmd touches the database.
func NeedsEngine(cmd string) bool {
	switch cmd {
	case "", "help", "version":
		return false
	}
	return true
}

// Run executes one command and returns the process exit code.
func (a *App) Run(ctx context.Context, cmd string, args []string) int {
	var err error
	switch cmd {
	case "upload":
		return a.runJob(ctx, "upload")
	case "gc-local":
		return a.runJob(ctx, "local_gc")
	case "gc-remote":
		return a.runJob(ctx, "remote_gc")
	case "put":
		err = a.put(ctx, args)
	case "get":
		err = a.get(ctx, args)
	case "rm":
		err = a.rm(ctx, args)
	case "settings":
		err = a.settingsCmd(ctx, args)
	case "backlog":
		err = a.backlog()
	case "version":
		buildinfo.PrintBuildData(a.out)
	case "help", "":
		a.usage()
		if cmd == "" {
			return exitUsage
		}
	default:
		fmt.Fprintln(a.errOut, "Unknown command:", cmd)
		a.usage()
		return exitUsage
	}

	if err != nil {
		if u, ok := err.(usageError); ok {
			fmt.Fprintln(a.errOut, "Usage:", string(u))
			return exitUsage
		}
		fmt.Fprintln(a.errOut, "Error:", err)
		return exitError
	}
	return exitOK
}

// usageError carries the synopsis of a misused command.
type usageError string

func (u usageError) Error() string { return "usage: " + string(u) }

func (a *App) usage() {
	fmt.Fprintln(a.out, "Available commands: upload, gc-local, gc-remote, put, get, rm, settings, backlog, version")
}
