package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/hurttlocker/faqmine/internal/faq"
	"github.com/hurttlocker/faqmine/internal/queue"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Review FAQ candidates",
	Long: `Inspect and act on the review queue. Approving a candidate publishes it
to the knowledge base; rejecting it keeps it out of future proposals.`,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List candidates by status, highest confidence first",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one candidate",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueShow,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count candidates by status",
	Args:  cobra.NoArgs,
	RunE:  runQueueStats,
}

var queueApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a candidate and publish it",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueApprove,
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a candidate",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueReject,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove candidates from an app's queue",
	Long: `Remove candidate records and index entries for an app. Without --status
every status is cleared. Requires --yes.`,
	Args: cobra.NoArgs,
	RunE: runQueueClear,
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueShowCmd, queueStatsCmd, queueApproveCmd, queueRejectCmd, queueClearCmd)

	queueListCmd.Flags().String("status", string(faq.StatusPending), "pending, approved, or rejected")
	queueListCmd.Flags().Int("limit", 20, "maximum candidates to list")
	queueListCmd.Flags().Bool("json", false, "output as JSON")

	queueStatsCmd.Flags().Bool("json", false, "output as JSON")

	queueApproveCmd.Flags().String("question", "", "replacement question")
	queueApproveCmd.Flags().String("answer", "", "replacement answer")
	queueApproveCmd.Flags().String("category", "", "knowledge base category")
	queueApproveCmd.Flags().String("notes", "", "reviewer notes")
	queueApproveCmd.Flags().String("by", "", "reviewer name")

	queueRejectCmd.Flags().String("reason", "", "why the candidate was rejected")
	queueRejectCmd.Flags().String("by", "", "reviewer name")

	queueClearCmd.Flags().StringSlice("status", nil, "statuses to clear (default: all)")
	queueClearCmd.Flags().Bool("yes", false, "confirm removal")
}

func runQueueList(cmd *cobra.Command, args []string) error {
	appID, err := requireApp()
	if err != nil {
		return err
	}
	statusStr, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	status := faq.Status(statusStr)
	if !status.Valid() {
		return fmt.Errorf("invalid --status %q: must be pending, approved, or rejected", statusStr)
	}

	review, err := openReview(cmd.Context())
	if err != nil {
		return err
	}
	defer review.Close()

	cands, err := review.queue.ListCandidates(cmd.Context(), appID, status, limit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, cands)
	}

	p := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if len(cands) == 0 {
		p.Info("no %s candidates for %s", status, appID)
		return nil
	}
	t := newTable(cmd.OutOrStdout(), "id", "confidence", "size", "category", "question")
	for _, c := range cands {
		t.add(c.ID, p.confidence(c.Confidence), strconv.Itoa(c.ClusterSize), c.SuggestedCategory, truncate(c.Question, 70))
	}
	return t.render()
}

func runQueueShow(cmd *cobra.Command, args []string) error {
	review, err := openReview(cmd.Context())
	if err != nil {
		return err
	}
	defer review.Close()

	c, err := review.queue.GetCandidate(cmd.Context(), args[0])
	if errors.Is(err, queue.ErrNotFound) {
		return fmt.Errorf("candidate %s not found", args[0])
	}
	if err != nil {
		return err
	}
	return writeJSON(cmd, c)
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	appID, err := requireApp()
	if err != nil {
		return err
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")

	review, err := openReview(cmd.Context())
	if err != nil {
		return err
	}
	defer review.Close()

	st, err := review.queue.GetQueueStats(cmd.Context(), appID)
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd, st)
	}
	t := newTable(cmd.OutOrStdout(), "status", "count")
	t.add(string(faq.StatusPending), strconv.FormatInt(st.Pending, 10))
	t.add(string(faq.StatusApproved), strconv.FormatInt(st.Approved, 10))
	t.add(string(faq.StatusRejected), strconv.FormatInt(st.Rejected, 10))
	t.add("total", strconv.FormatInt(st.Total, 10))
	return t.render()
}

func runQueueApprove(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	var opts queue.ApproveOptions
	opts.Question, _ = flags.GetString("question")
	opts.Answer, _ = flags.GetString("answer")
	opts.Category, _ = flags.GetString("category")
	opts.EditNotes, _ = flags.GetString("notes")
	opts.ReviewedBy, _ = flags.GetString("by")

	review, err := openReview(cmd.Context())
	if err != nil {
		return err
	}
	defer review.Close()

	res := review.queue.ApproveCandidate(cmd.Context(), args[0], opts)
	if !res.Success {
		return errors.New(res.Error)
	}
	newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("%s %s, published as article %s", res.CandidateID, res.Action, res.ArticleID)
	return nil
}

func runQueueReject(cmd *cobra.Command, args []string) error {
	reason, _ := cmd.Flags().GetString("reason")
	by, _ := cmd.Flags().GetString("by")

	review, err := openReview(cmd.Context())
	if err != nil {
		return err
	}
	defer review.Close()

	res := review.queue.RejectCandidate(cmd.Context(), args[0], reason, by)
	if !res.Success {
		return errors.New(res.Error)
	}
	newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("%s rejected", res.CandidateID)
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	appID, err := requireApp()
	if err != nil {
		return err
	}
	yes, _ := cmd.Flags().GetBool("yes")
	raw, _ := cmd.Flags().GetStringSlice("status")
	if !yes {
		return fmt.Errorf("refusing to clear the %s queue without --yes", appID)
	}
	statuses := make([]faq.Status, 0, len(raw))
	for _, s := range raw {
		statuses = append(statuses, faq.Status(s))
	}

	review, err := openReview(cmd.Context())
	if err != nil {
		return err
	}
	defer review.Close()

	n, err := review.queue.ClearQueue(cmd.Context(), appID, statuses...)
	if err != nil {
		return err
	}
	newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr()).Success("removed %d candidates from %s", n, appID)
	return nil
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
