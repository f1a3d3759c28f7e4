package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/tierstore/internal/server/settings"
)

func (a *App) settingsCmd(ctx context.Context, args []string) error {
	const synopsis = "settings [list] | set <key> <value> | unset <key>"

	if len(args) == 0 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		params, err := a.settings.List(ctx)
		if err != nil {
			return err
		}
		for _, p := range params {
			fmt.Fprintf(a.out, "%s=%s\n", p.Key, display(p.Key, p.Value))
		}
		return nil
	case "set":
		if len(args) != 3 {
			return usageError(synopsis)
		}
		return a.settings.Set(ctx, args[1], args[2])
	case "unset":
		if len(args) != 2 {
			return usageError(synopsis)
		}
		return a.settings.Set(ctx, args[1], "")
	default:
		return usageError(synopsis)
	}
}

func display(key, value string) string {
	if key == settings.KeySecretAccessKey && value != "" {
		return "********"
	}
	return value
}
