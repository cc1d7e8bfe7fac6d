// ops.go implements the peripheral operational commands named in spec
// §6: clean-extraneous, enqueue-outdated, enqueue-view, check-credentials.
// Progress reporting over the large scans run by clean-extraneous and
// enqueue-view uses schollz/progressbar/v3, the same library the wider
// example pack uses for long-running CLI operations.
package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/queue"
	"pkgsignal.dev/analyzer/store"
)

var (
	cleanExtraneousDryRun bool
	enqueueOutdatedDryRun bool
	enqueueViewDryRun     bool
)

// cleanExtraneousCmd drops AnalysisDocs whose source package the
// registry no longer carries, the document-level cleanup counterpart to
// the PACKAGE_NOT_FOUND path Engine.Analyze already runs inline for
// individual packages.
var cleanExtraneousCmd = &cobra.Command{
	Use:   "clean-extraneous",
	Short: "Remove AnalysisDocs for packages no longer present in the source registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		bar := progressbar.Default(-1, "scanning analysis store")
		removed := 0
		err = svc.store.EachAnalysisDoc(ctx, 200, func(doc *store.AnalysisDoc) error {
			bar.Add(1)
			if _, ferr := svc.engine.Registry.FetchRawPackageDoc(ctx, doc.Name); errkind.Is(ferr, errkind.PackageNotFound) {
				if cleanExtraneousDryRun {
					fmt.Printf("would remove: %s\n", doc.Name)
					return nil
				}
				if derr := svc.store.Delete(ctx, doc.ID, doc.Rev); derr != nil {
					return derr
				}
				_ = svc.scorer.Remove(ctx, doc.Name)
				removed++
			}
			return nil
		})
		fmt.Printf("\nremoved %d extraneous AnalysisDocs\n", removed)
		return err
	},
}

// enqueueOutdatedCmd runs the staleness sweep immediately instead of
// waiting for its cron schedule, useful after a staleness window change
// or a backfill.
var enqueueOutdatedCmd = &cobra.Command{
	Use:   "enqueue-outdated",
	Short: "Run the staleness sweep now and enqueue every outdated package",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		if enqueueOutdatedDryRun {
			svc.stale.Enqueue = func(ctx context.Context, name, reason string) error {
				fmt.Printf("would enqueue: %s (%s)\n", name, reason)
				return nil
			}
		}
		return svc.stale.SweepOnce(ctx)
	},
}

// enqueueViewCmd enqueues every package name the registry's _all_docs
// view reports, the backfill path for populating an empty analysis
// store without waiting for the CDC feed to replay history.
var enqueueViewCmd = &cobra.Command{
	Use:   "enqueue-view",
	Short: "Enqueue every package name from the registry's package list",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		lister, ok := svc.engine.Registry.(interface {
			ListAllNames(ctx context.Context, pageSize int) ([]string, error)
		})
		if !ok {
			return fmt.Errorf("enqueue-view: configured registry client cannot list all package names")
		}

		names, err := lister.ListAllNames(ctx, 1000)
		if err != nil {
			return err
		}

		bar := progressbar.Default(int64(len(names)), "enqueuing packages")
		for _, name := range names {
			bar.Add(1)
			if enqueueViewDryRun {
				fmt.Printf("would enqueue: %s\n", name)
				continue
			}
			if err := svc.pub.PublishMessage(queue.Message{Name: name, Reason: "view-backfill"}); err != nil {
				return err
			}
			if svc.stat != nil {
				_ = svc.stat.Pushed(ctx)
			}
		}
		fmt.Printf("\nenqueued %d packages\n", len(names))
		return nil
	},
}

// checkCredentialsCmd prints the TokenDealer's per-token state as a
// table, relative reset times rendered with go-humanize.
var checkCredentialsCmd = &cobra.Command{
	Use:   "check-credentials",
	Short: "Print the GitHub token pool's exhaustion/reset state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		usage := svc.dealer.Usage("github")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TOKEN\tGROUP\tEXHAUSTED\tRESET")
		for _, u := range usage {
			reset := "-"
			if !u.Reset.IsZero() {
				reset = humanize.Time(u.Reset)
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", maskToken(u.Token), u.Group, u.Exhausted, reset)
		}
		return w.Flush()
	},
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "…" + token[len(token)-4:]
}

func init() {
	cleanExtraneousCmd.Flags().BoolVar(&cleanExtraneousDryRun, "dry-run", false, "print what would be removed without deleting")
	enqueueOutdatedCmd.Flags().BoolVar(&enqueueOutdatedDryRun, "dry-run", false, "print what would be enqueued without publishing")
	enqueueViewCmd.Flags().BoolVar(&enqueueViewDryRun, "dry-run", false, "print what would be enqueued without publishing")
}
