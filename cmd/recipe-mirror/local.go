package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/imdevinc/recipe-mirror/internal/app"
	"github.com/imdevinc/recipe-mirror/internal/outbox"
	"github.com/imdevinc/recipe-mirror/internal/recipe"
	"github.com/imdevinc/recipe-mirror/internal/worker"
)

// withLocal opens the cache and state store without touching the remote.
func withLocal(cmd *cli.Command, fn func(svc *app.Services) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, err := app.Open(cfg, false)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func printRecipes(w io.Writer, list []recipe.Recipe) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDIFFICULTY\tLIKES\tFAVORITE")
	for _, r := range list {
		fav := ""
		if r.IsFavorite {
			fav = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Difficulty, r.Likes(), fav)
	}
	return tw.Flush()
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search cached recipes by name",
		ArgsUsage: "<keyword>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "save", Usage: "Record the query in the search history"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			keyword := strings.Join(cmd.Args().Slice(), " ")
			if strings.TrimSpace(keyword) == "" {
				return fmt.Errorf("search needs a keyword")
			}
			return withLocal(cmd, func(svc *app.Services) error {
				list, err := svc.Repo.Search(ctx, keyword)
				if err != nil {
					return err
				}
				if cmd.Bool("save") {
					if err := svc.Repo.SaveSearch(ctx, keyword, ""); err != nil {
						return err
					}
				}
				return printRecipes(os.Stdout, list)
			})
		},
	}
}

func favoritesCommand() *cli.Command {
	return &cli.Command{
		Name:  "favorites",
		Usage: "List favorite recipes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withLocal(cmd, func(svc *app.Services) error {
				list, err := svc.Repo.Favorites(ctx)
				if err != nil {
					return err
				}
				return printRecipes(os.Stdout, list)
			})
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show cache counts, mirror checkpoints and the outbox",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withLocal(cmd, func(svc *app.Services) error {
				stats, err := svc.Repo.Stats(ctx)
				if err != nil {
					return err
				}
				pending, parked, err := outbox.New(svc.Store, nil, 0).Counts()
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintf(tw, "Cache\t%s\n", app.CachePath(svc.Config))
				fmt.Fprintf(tw, "  recipes\t%d\n", stats.Recipes)
				fmt.Fprintf(tw, "  indexed\t%d\n", stats.Indexed)
				fmt.Fprintf(tw, "  categories\t%d\n", stats.Categories)
				fmt.Fprintf(tw, "  favorites\t%d\n", stats.Favorites)
				fmt.Fprintf(tw, "  recent views\t%d\n", stats.RecentViews)
				fmt.Fprintf(tw, "  searches\t%d\n", stats.SearchQueries)
				fmt.Fprintf(tw, "Outbox\t%d pending, %d parked\n", pending, parked)

				for _, m := range svc.Config.Mirrors {
					settings, err := worker.ReadSettings(svc.Store, m.GetName(), m.GetType())
					if err != nil {
						return err
					}
					fmt.Fprintf(tw, "Mirror %s\t%s <- %s\n", m.GetName(), m.GetType(), m.GetCollection())
					keys := make([]string, 0, len(settings))
					for k := range settings {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						fmt.Fprintf(tw, "  %s\t%s\n", k, settings[k])
					}
				}
				return tw.Flush()
			})
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Clear local user data and process state",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "purge", Usage: "Also delete every mirrored row"},
			&cli.BoolFlag{Name: "discard-pending", Usage: "Also drop queued remote writes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withLocal(cmd, func(svc *app.Services) error {
				kept, err := svc.Reset(ctx, app.ResetOptions{
					Purge:          cmd.Bool("purge"),
					DiscardPending: cmd.Bool("discard-pending"),
				})
				if err != nil {
					return err
				}
				fmt.Println("Local state cleared")
				if kept > 0 {
					fmt.Printf("Kept %d queued remote writes; they are sent on the next run (--discard-pending drops them)\n", kept)
				}
				return nil
			})
		},
	}
}
