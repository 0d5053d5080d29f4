package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/querysight/pkg/apperrors"
	"github.com/ekaya-inc/querysight/pkg/cache"
	"github.com/ekaya-inc/querysight/pkg/models"
)

func newCacheCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the stage cache",
	}
	cmd.AddCommand(
		newCacheStatusCommand(root),
		newCacheInvalidateCommand(root),
		newCacheClearCommand(root),
		newCacheSetTTLCommand(root),
		newCacheSweepCommand(root),
	)
	return cmd
}

func newCacheStatusCommand(root *rootOptions) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show entries, TTLs and hit counters per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			status, err := app.Cache.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("read cache status: %w", err)
			}
			w := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(w, status)
			}

			state := "enabled"
			if !status.Enabled {
				state = "disabled"
			}
			fmt.Fprintf(w, "%s %s (%s)\n", headingStyle.Render("Cache"), status.Backend, state)
			t := newTable("CATEGORY", "TTL", "ENTRIES", "HITS", "MISSES", "WRITES")
			for _, c := range status.Categories {
				t.Row(string(c.Category), c.TTL,
					fmt.Sprintf("%d", c.Entries),
					fmt.Sprintf("%d", c.Hits),
					fmt.Sprintf("%d", c.Misses),
					fmt.Sprintf("%d", c.Writes))
			}
			fmt.Fprintln(w, t.Render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the status as JSON")
	return cmd
}

func newCacheInvalidateCommand(root *rootOptions) *cobra.Command {
	var key, category, prefix string
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Remove an entry, a key prefix or a whole category, with everything derived from it",
		Example: `  querysight cache invalidate --key querysight:v1:collection:3f2a...:3f2a...
  querysight cache invalidate --category patterns
  querysight cache invalidate --category collection --prefix 3f2a`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (key == "") == (category == "") {
				return fmt.Errorf("%w: exactly one of --key or --category is required", apperrors.ErrInvalidArgument)
			}
			if prefix != "" && category == "" {
				return fmt.Errorf("%w: --prefix requires --category", apperrors.ErrInvalidArgument)
			}

			var (
				parsedKey cache.Key
				cat       models.CacheCategory
				err       error
			)
			if key != "" {
				if parsedKey, err = cache.ParseKey(key); err != nil {
					return fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
				}
			} else if cat, err = models.ParseCacheCategory(category); err != nil {
				return fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
			}

			app, err := root.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			var removed int
			switch {
			case key != "":
				removed, err = app.Cache.Invalidate(cmd.Context(), parsedKey)
			case prefix != "":
				removed, err = app.Cache.InvalidatePrefix(cmd.Context(), cat, prefix)
			default:
				removed, err = app.Cache.InvalidateCategory(cmd.Context(), cat)
			}
			if err != nil {
				return fmt.Errorf("invalidate cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Full cache key to remove")
	cmd.Flags().StringVar(&category, "category", "", "Category to clear: collection, patterns, mappings or suggestions")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only remove keys of --category whose root starts with this prefix")
	return cmd
}

func newCacheClearCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cache entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.Cache.Clear(cmd.Context())
			if err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cache entries\n", removed)
			return nil
		},
	}
}

func newCacheSetTTLCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-ttl <category> <duration>",
		Short: "Apply a new TTL to a category and sweep entries older than it",
		Long: `Apply a new TTL to a category for this process and sweep the entries that
are already older than it. Expiry is evaluated against the configured TTL on
every read, so set cache.ttl.<category> in the config file to keep the value
for later runs.`,
		Example: "  querysight cache set-ttl patterns 2h",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := models.ParseCacheCategory(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, err)
			}
			ttl, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("%w: invalid duration %q: %w", apperrors.ErrInvalidArgument, args[1], err)
			}

			app, err := root.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Cache.SetTTL(cat, ttl); err != nil {
				return err
			}
			removed, err := app.Cache.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "TTL for %s is now %s; swept %d stale entries\n", cat, ttl, removed)
			return nil
		},
	}
}

func newCacheSweepCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired and corrupt entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := root.openApp(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer app.Close()

			removed, err := app.Cache.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep cache: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d stale cache entries\n", removed)
			return nil
		},
	}
}
