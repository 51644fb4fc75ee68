package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/hurttlocker/faqmine/internal/golden"
	"github.com/spf13/cobra"
)

var goldenCmd = &cobra.Command{
	Use:   "golden",
	Short: "Manage the golden response set",
}

var goldenExtractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract reused agent responses as golden references",
	Long: `Find outbound responses reused across archived conversations, drop
boilerplate, templatize personal details, and rank them by quality. The
result is written to <artifacts>/golden (or --out) and can be passed to
"faqmine run" with --golden to score answers against it.`,
	Args: cobra.NoArgs,
	RunE: runGoldenExtract,
}

func init() {
	rootCmd.AddCommand(goldenCmd)
	goldenCmd.AddCommand(goldenExtractCmd)

	d := golden.DefaultParams()
	goldenExtractCmd.Flags().String("out", "", "output directory (default: <artifacts>/golden)")
	goldenExtractCmd.Flags().Int("min-reuse", d.MinReuse, "minimum conversations a response was sent in")
	goldenExtractCmd.Flags().Int("min-length", d.MinLength, "minimum response length in characters")
	goldenExtractCmd.Flags().Int("min-thread", d.MinThread, "minimum messages per conversation")
	goldenExtractCmd.Flags().Int("max-thread", d.MaxThread, "maximum messages per conversation")
	goldenExtractCmd.Flags().Int("top", 10, "responses to list after extraction")
}

func runGoldenExtract(cmd *cobra.Command, args []string) error {
	appID, err := requireApp()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	out, _ := flags.GetString("out")
	if out == "" {
		out = filepath.Join(cfg.ArtifactsDir.Value, "golden")
	}
	top, _ := flags.GetInt("top")

	p := golden.Params{AppID: appID}
	p.MinReuse, _ = flags.GetInt("min-reuse")
	p.MinLength, _ = flags.GetInt("min-length")
	p.MinThread, _ = flags.GetInt("min-thread")
	p.MaxThread, _ = flags.GetInt("max-thread")

	src, err := openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	res, err := golden.Extract(cmd.Context(), src, p, logger)
	if err != nil {
		return err
	}
	if err := golden.Write(out, res); err != nil {
		return fmt.Errorf("writing golden responses: %w", err)
	}

	pr := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	pr.Header(fmt.Sprintf("Golden responses: %d of %d reused responses", res.Stats.TotalGolden, res.Stats.TotalAnalyzed))
	t := newTable(cmd.OutOrStdout(), "id", "quality", "reuse", "topic", "text")
	for i, r := range res.Responses {
		if i >= top {
			break
		}
		t.add(r.ID, pr.confidence(r.QualityScore), strconv.Itoa(r.ReuseCount), r.Topic, truncate(r.Text, 60))
	}
	if err := t.render(); err != nil {
		return err
	}
	pr.Success("wrote %d responses and %d templates to %s", res.Stats.TotalGolden, res.Stats.TotalTemplates, out)
	return nil
}
