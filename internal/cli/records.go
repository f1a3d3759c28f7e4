package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dmitrijs2005/tierstore/internal/server/services"
)

func (a *App) put(ctx context.Context, args []string) error {
	const synopsis = "put [-model m] [-res-id n] [-field f] [-name n] <file>"

	fs := flag.NewFlagSet("put", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	model := fs.String("model", "", "record type the attachment belongs to")
	resID := fs.Int64("res-id", 0, "owning record id")
	field := fs.String("field", "", "owning field")
	name := fs.String("name", "", "attachment name (defaults to the file name)")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return usageError(synopsis)
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	req := services.CreateRequest{Name: *name, ResModel: *model, Data: data}
	if req.Name == "" {
		req.Name = filepath.Base(path)
	}
	if *resID != 0 {
		req.ResID = resID
	}
	if *field != "" {
		req.ResField = field
	}

	att, err := a.attachments.Create(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "id=%d key=%s size=%d external=%t\n", att.ID, att.StoreFname, att.FileSize, att.IsExternal)
	return nil
}

func (a *App) get(ctx context.Context, args []string) error {
	const synopsis = "get [-o path] <id>"

	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	outPath := fs.String("o", "", "write the bytes to this file instead of stdout")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return usageError(synopsis)
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return usageError(synopsis)
	}

	_, data, err := a.attachments.ReadByID(ctx, id)
	if err != nil {
		return err
	}
	if *outPath == "" {
		_, err = a.out.Write(data)
		return err
	}
	return os.WriteFile(*outPath, data, 0o600)
}

func (a *App) rm(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("rm <id>...")
	}
	ids := make([]int64, 0, len(args))
	for _, s := range args {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return usageError("rm <id>...")
		}
		ids = append(ids, id)
	}

	n, err := a.attachments.Unlink(ctx, ids...)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %d record(s)\n", n)
	return nil
}
