package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hurttlocker/faqmine/internal/artifact"
	"github.com/hurttlocker/faqmine/internal/dedup"
	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/golden"
	"github.com/hurttlocker/faqmine/internal/miner"
	"github.com/hurttlocker/faqmine/internal/pipeline"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Mine, cluster, and score FAQ candidates",
	Long: `Run one mining pass for an app: fetch resolved conversations from the
cache, extract question/answer pairs, cluster the questions, score each
cluster as an FAQ candidate, and write artifacts. With --save the
candidates are also added to the review queue.

Examples:
  faqmine run --app app_1
  faqmine run --app app_1 --since 720h --save
  faqmine run --app app_1 --mode cluster --imported-dir ./clusters`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("since", "", "only conversations created after this date (2006-01-02, RFC3339) or duration ago (720h)")
	runCmd.Flags().Int("limit", 0, "maximum conversations to fetch (0 = all)")
	runCmd.Flags().String("version", "", "artifact version (default: timestamp)")
	runCmd.Flags().String("mode", pipeline.ModeScored, "candidate mode: scored or cluster")
	runCmd.Flags().Bool("save", false, "add candidates to the review queue")
	runCmd.Flags().String("imported-dir", "", "use clusters from an offline job's assignments.json instead of embedding")
	runCmd.Flags().Bool("json", false, "print the run report as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	appID, err := requireApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	flags := cmd.Flags()
	sinceStr, _ := flags.GetString("since")
	limit, _ := flags.GetInt("limit")
	runVersion, _ := flags.GetString("version")
	mode, _ := flags.GetString("mode")
	save, _ := flags.GetBool("save")
	importedDir, _ := flags.GetString("imported-dir")
	jsonOutput, _ := flags.GetBool("json")

	since, err := parseSince(sinceStr, time.Now())
	if err != nil {
		return err
	}

	clusterer, err := newClusterer(importedDir)
	if err != nil {
		return err
	}
	if clusterer == nil {
		return fmt.Errorf("%w: set --embed and the provider's API key", pipeline.ErrNoEmbedder)
	}

	src, err := openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	var goldenSet []faq.GoldenResponse
	if cfg.GoldenPath.Set() {
		goldenSet, err = golden.Load(cfg.GoldenPath.Value)
		if err != nil {
			return err
		}
	}

	deps := pipeline.Deps{
		Source:    src,
		Actions:   src,
		Clusterer: clusterer,
		Artifacts: artifact.NewWriter(cfg.ArtifactsDir.Value),
		Golden:    goldenSet,
		Log:       logger,
		Metrics:   appStats,
	}
	if save {
		review, err := openReview(ctx)
		if err != nil {
			return err
		}
		defer review.Close()
		deps.Queue = review.queue
	}

	p, err := pipeline.New(deps, pipeline.Config{
		Miner:          miner.Config{UnchangedWindow: cfg.UnchangedWindow.Duration(miner.DefaultUnchangedWindow)},
		DedupThreshold: cfg.DedupThreshold.Float(dedup.DefaultThreshold),
	})
	if err != nil {
		return err
	}

	report, err := p.Run(ctx, pipeline.Options{
		AppID:       appID,
		Since:       since,
		Limit:       limit,
		Version:     runVersion,
		Mode:        mode,
		SaveToQueue: save,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return printReport(cmd, report)
}

func printReport(cmd *cobra.Command, r *pipeline.Report) error {
	p := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	p.Header(fmt.Sprintf("Run %s (%s, %s)", r.Version, r.Mode, r.Strategy))

	t := newTable(cmd.OutOrStdout(), "stage", "count")
	t.add("conversations", strconv.Itoa(r.Conversations))
	t.add("mined", strconv.Itoa(r.Mined))
	if r.FilterStats != nil {
		t.add("filtered as noise", strconv.Itoa(r.FilterStats.Filtered))
	}
	for _, reason := range sortedKeys(r.Skipped) {
		t.add("skipped: "+reason, strconv.Itoa(r.Skipped[reason]))
	}
	t.add("clusters", strconv.Itoa(r.Clustering.ClusterCount))
	if r.Dedup != nil {
		t.add("merged duplicates", strconv.Itoa(r.Dedup.Merged))
	}
	t.add("candidates", strconv.Itoa(r.Candidates))
	t.add("queued", strconv.Itoa(r.Queued))
	if err := t.render(); err != nil {
		return err
	}

	if r.Candidates == 0 {
		p.Warning("no candidates produced")
	}
	p.Success("done in %s, artifacts in %s", r.Duration, artifact.NewWriter(cfg.ArtifactsDir.Value).VersionDir(r.Version))
	return nil
}

// parseSince accepts a date, an RFC3339 timestamp, or a duration before now.
func parseSince(v string, now time.Time) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		t := now.Add(-d)
		return &t, nil
	}
	return nil, fmt.Errorf("invalid --since %q: want 2006-01-02, RFC3339, or a duration like 720h", v)
}
