package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/store"
)

var analyzeNoAnalyze bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze <name>",
	Short: "Run a one-shot analysis (and/or re-scoring) for one package",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		name := args[0]

		svc, err := newServices(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		var doc *store.AnalysisDoc
		if analyzeNoAnalyze {
			doc, err = svc.store.GetAnalysisDoc(ctx, name)
		} else {
			doc, err = svc.engine.Analyze(ctx, name)
		}
		if err != nil {
			printAnalysisError(name, err)
			os.Exit(1)
		}
		if doc == nil {
			fmt.Printf("package: %s\nstatus: blacklisted, skipped\n", name)
			return nil
		}

		printAnalysisDoc(doc)

		if doc.Evaluation != nil {
			score, err := svc.scorer.Score(ctx, doc)
			if err != nil {
				fmt.Printf("scoring error: %v\n", err)
				os.Exit(1)
			}
			printScore(score)
		}
		return nil
	},
}

func printAnalysisError(name string, err error) {
	fmt.Printf("package: %s\nerror kind: %s\nerror: %v\n", name, errkind.Of(err), err)
}

func printAnalysisDoc(doc *store.AnalysisDoc) {
	fmt.Printf("package: %s\nstartedAt: %s\nfinishedAt: %s\n", doc.Name, doc.StartedAt, doc.FinishedAt)
	if doc.Error != nil {
		fmt.Printf("error kind: %s\nerror message: %s\n", doc.Error.Kind, doc.Error.Message)
		return
	}
	e := doc.Evaluation
	if e == nil {
		fmt.Println("evaluation: none")
		return
	}
	fmt.Printf("quality.carefulness: %.4f\n", e.Quality.Carefulness)
	fmt.Printf("quality.tests: %.4f\n", e.Quality.Tests)
	fmt.Printf("quality.dependenciesHealth: %.4f\n", e.Quality.DependenciesHealth)
	fmt.Printf("quality.branding: %.4f\n", e.Quality.Branding)
	fmt.Printf("popularity.communityInterest: %.4f\n", e.Popularity.CommunityInterest)
	fmt.Printf("popularity.downloadsCount: %.4f\n", e.Popularity.DownloadsCount)
	fmt.Printf("popularity.downloadsAcceleration: %.4f\n", e.Popularity.DownloadsAcceleration)
	fmt.Printf("popularity.dependentsCount: %.4f\n", e.Popularity.DependentsCount)
	fmt.Printf("maintenance.recentCommits: %.4f\n", e.Maintenance.RecentCommits)
	fmt.Printf("maintenance.commitsFrequency: %.4f\n", e.Maintenance.CommitsFrequency)
	fmt.Printf("maintenance.openIssues: %.4f\n", e.Maintenance.OpenIssues)
	fmt.Printf("maintenance.issuesDistribution: %.4f\n", e.Maintenance.IssuesDistribution)
}

func printScore(score *store.Score) {
	if score == nil {
		return
	}
	fmt.Printf("score.final: %.4f\n", score.Final)
	fmt.Printf("score.quality: %.4f\n", score.Detail.Quality)
	fmt.Printf("score.popularity: %.4f\n", score.Detail.Popularity)
	fmt.Printf("score.maintenance: %.4f\n", score.Detail.Maintenance)
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeNoAnalyze, "no-analyze", false,
		"skip re-analysis, only re-score the existing stored AnalysisDoc")
}
