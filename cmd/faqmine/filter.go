package main

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hurttlocker/faqmine/internal/miner"
	"github.com/hurttlocker/faqmine/internal/noise"
	"github.com/hurttlocker/faqmine/internal/source"
	"github.com/spf13/cobra"
)

var filterCmd = &cobra.Command{
	Use:   "filter [text...]",
	Short: "Classify messages as noise",
	Long: `Classify message texts with the noise filter. Texts come from the
arguments, or one per line on stdin. With --cache, the first inbound message
of every cached conversation for the app is classified instead and a
summary by reason is printed.

Examples:
  faqmine filter "Your transcript is ready" --sender notify@castingwords.com
  faqmine filter --cache --app app_1`,
	RunE: runFilter,
}

func init() {
	rootCmd.AddCommand(filterCmd)

	filterCmd.Flags().String("sender", "", "sender email for the given texts")
	filterCmd.Flags().Bool("cache", false, "classify cached conversations and summarize")
}

func runFilter(cmd *cobra.Command, args []string) error {
	useCache, _ := cmd.Flags().GetBool("cache")
	if useCache {
		return filterCache(cmd)
	}

	sender, _ := cmd.Flags().GetString("sender")
	texts := args
	if len(texts) == 0 {
		sc := bufio.NewScanner(cmd.InOrStdin())
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				texts = append(texts, line)
			}
		}
		if err := sc.Err(); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
	}
	if len(texts) == 0 {
		return fmt.Errorf("nothing to classify: pass text arguments, pipe lines on stdin, or use --cache")
	}

	t := newTable(cmd.OutOrStdout(), "text", "filtered", "reason")
	for _, text := range texts {
		res := noise.Classify(text, sender)
		if res.Filtered {
			appStats.RecordFiltered(string(res.Reason))
		}
		t.add(truncate(text, 60), strconv.FormatBool(res.Filtered), string(res.Reason))
	}
	return t.render()
}

func filterCache(cmd *cobra.Command) error {
	appID, err := requireApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	src, err := openSource()
	if err != nil {
		return err
	}
	defer src.Close()

	convs, err := src.GetConversations(ctx, source.Query{AppID: appID})
	if err != nil {
		return fmt.Errorf("fetching conversations: %w", err)
	}

	stats := noise.NewFilterStats()
	for _, conv := range convs {
		msgs, err := src.GetMessages(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("fetching messages for %s: %w", conv.ID, err)
		}
		question := miner.ExtractQuestion(msgs)
		if question == "" {
			continue
		}
		stats.Record(noise.Classify(question, miner.FirstInboundSender(msgs)))
	}

	p := newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if totals, err := src.Stats(ctx); err == nil {
		p.Info("cache: %d conversations, %d messages, %d in inbox", totals.TotalConversations, totals.TotalMessages, totals.InboxCount)
	}
	p.Header(fmt.Sprintf("Noise filter: %d resolved conversations for %s", stats.Total, appID))

	t := newTable(cmd.OutOrStdout(), "reason", "count", "share")
	for _, reason := range noise.Reasons {
		n := stats.ByReason[reason]
		if n == 0 {
			continue
		}
		t.add(string(reason), strconv.Itoa(n), percent(n, stats.Total))
	}
	t.add("passed", strconv.Itoa(stats.Passed), percent(stats.Passed, stats.Total))
	return t.render()
}

func percent(n, total int) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", 100*float64(n)/float64(total))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
