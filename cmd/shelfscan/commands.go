package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/hrygo/shelfscan/plugin/vision"
	"github.com/hrygo/shelfscan/server"
	"github.com/hrygo/shelfscan/server/capture"
	"github.com/hrygo/shelfscan/server/retrieval"
	"github.com/hrygo/shelfscan/store"
)

var (
	importCmd = &cobra.Command{
		Use:   "import <catalog.csv>",
		Short: "Import products and bookings from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, cmd *cobra.Command, s *server.Server, args []string) error {
			imageDir, _ := cmd.Flags().GetString("images")
			f, err := os.Open(args[0])
			if err != nil {
				return errors.Wrap(err, "failed to open catalog")
			}
			defer f.Close()
			result, err := s.Importer.ImportCSV(ctx, f, imageDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d, skipped %d\n", result.Imported, result.Skipped)
			return nil
		}),
	}

	searchCmd = &cobra.Command{
		Use:   "search",
		Short: "Search the catalog",
	}

	searchImageCmd = &cobra.Command{
		Use:   "image <file>...",
		Short: "Search by image; several files are replayed as camera frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: withServer(func(ctx context.Context, cmd *cobra.Command, s *server.Server, args []string) error {
			if len(args) == 1 {
				data, err := os.ReadFile(args[0])
				if err != nil {
					return errors.Wrap(err, "failed to read image")
				}
				img, err := vision.DecodeImage(data)
				if err != nil {
					return err
				}
				result, err := s.Coordinator.SearchImage(ctx, img)
				if err != nil {
					return err
				}
				printImageResult(cmd.OutOrStdout(), result.Path, result.Records)
				return nil
			}
			return replayFrames(ctx, cmd.OutOrStdout(), s, args)
		}),
	}

	searchTextCmd = &cobra.Command{
		Use:   "text <query>",
		Short: "Search products by name or category prefix",
		Args:  cobra.MinimumNArgs(1),
		RunE: withServer(func(ctx context.Context, cmd *cobra.Command, s *server.Server, args []string) error {
			records, err := s.Coordinator.SearchByText(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		}),
	}

	reindexCmd = &cobra.Command{
		Use:   "reindex",
		Short: "Compute all missing or stale vectors and exit",
		Args:  cobra.NoArgs,
		RunE: withServer(func(ctx context.Context, cmd *cobra.Command, s *server.Server, _ []string) error {
			only, _ := cmd.Flags().GetString("index")
			if only != "" {
				if _, ok := store.LookupVectorIndex(only); !ok {
					return errors.Errorf("unknown index %q", only)
				}
			}
			for _, runner := range s.Runners {
				name := runner.Index().Name
				if only != "" && name != only {
					continue
				}
				runner.Trigger(ctx)
				stale, err := s.Store.ListStaleEntries(ctx, runner.Index(), 1000, nil)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries still stale\n", name, len(stale))
			}
			return nil
		}),
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print catalog and index statistics",
		Args:  cobra.NoArgs,
		RunE: withServer(func(ctx context.Context, cmd *cobra.Command, s *server.Server, _ []string) error {
			if err := s.Stats.Collect(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s.Stats.GetStats().GetSummary())
			return nil
		}),
	}

	cartCmd = &cobra.Command{
		Use:   "cart",
		Short: "Manage the shopping cart",
	}

	cartAddCmd = &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: withServer(func(ctx context.Context, cmd *cobra.Command, s *server.Server, args []string) error {
			record, err := s.Store.GetRecord(ctx, args[0])
			if err != nil {
				return err
			}
			if record == nil {
				return errors.Errorf("product %s not found", args[0])
			}
			total, err := s.Ledger.AddToCart(ctx, record)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s, total %s\n", record.Name(), total.StringFixed(2))
			return nil
		}),
	}

	cartShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Show the cart lines and total",
		Args:  cobra.NoArgs,
		RunE: withServer(func(ctx context.Context, cmd *cobra.Command, s *server.Server, _ []string) error {
			items, err := s.Ledger.Cart(ctx)
			if err != nil {
				return err
			}
			total, err := s.Ledger.CartTotal(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, item := range items {
				fmt.Fprintf(w, "%s\t%s\n", item.Name, item.Price.StringFixed(2))
			}
			fmt.Fprintf(w, "TOTAL\t%s\n", total.StringFixed(2))
			return w.Flush()
		}),
	}

	cartClearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: withServer(func(ctx context.Context, _ *cobra.Command, s *server.Server, _ []string) error {
			return s.Ledger.ClearCart(ctx)
		}),
	}
)

func init() {
	importCmd.Flags().String("images", ".", "directory image and face file names are relative to")
	reindexCmd.Flags().String("index", "", "only reindex the named index")

	searchCmd.AddCommand(searchImageCmd, searchTextCmd)
	cartCmd.AddCommand(cartAddCmd, cartShowCmd, cartClearCmd)
}

type serverFunc func(ctx context.Context, cmd *cobra.Command, s *server.Server, args []string) error

// withServer opens the store for a one-shot command and closes it afterwards.
func withServer(fn serverFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openServer(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Store.Close(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to close store: %v\n", err)
			}
		}()
		return fn(ctx, cmd, s, args)
	}
}

func replayFrames(ctx context.Context, out io.Writer, s *server.Server, paths []string) error {
	session := s.NewSession()
	stop := make(chan struct{})
	done := make(chan struct{})
	show := func(result capture.Result) {
		fmt.Fprintf(out, "-- generation %d\n", result.Generation)
		printImageResult(out, result.Path, result.Records)
	}
	go func() {
		defer close(done)
		for {
			select {
			case result := <-session.Results():
				show(result)
			case <-stop:
				// Flush what was delivered before the session stopped.
				for {
					select {
					case result := <-session.Results():
						show(result)
					default:
						return
					}
				}
			}
		}
	}()
	err := session.Run(ctx, capture.NewFileSource(paths, capture.DefaultFrameInterval))
	close(stop)
	<-done
	return err
}

func printImageResult(out io.Writer, path retrieval.MatchPath, records []*store.Record) {
	if path == retrieval.MatchNone {
		fmt.Fprintln(out, "no match")
		return
	}
	fmt.Fprintf(out, "matched by %s\n", path)
	printRecords(out, records)
}

func printRecords(out io.Writer, records []*store.Record) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, r := range records {
		d := r.Display()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Kind, d.Title, d.Subtitle)
	}
	w.Flush()
}
