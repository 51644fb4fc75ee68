package main

import (
	"fmt"

	faqmcp "github.com/hurttlocker/faqmine/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve review tools over MCP (stdio)",
	Long: `Start a Model Context Protocol server on stdin/stdout exposing the review
queue (faq_pending, faq_stats, faq_approve, faq_reject) and knowledge base
search (faq_search). Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("reviewer", "assistant", "default reviewed_by for approvals and rejections")
}

func runMCP(cmd *cobra.Command, args []string) error {
	reviewer, _ := cmd.Flags().GetString("reviewer")

	review, err := openReview(cmd.Context())
	if err != nil {
		return err
	}
	defer review.Close()

	srv := faqmcp.NewServer(faqmcp.ServerConfig{
		Queue:     review.queue,
		Knowledge: review.knowledge,
		AppID:     cfg.AppID.Value,
		Version:   version,
		Reviewer:  reviewer,
	})
	logger.Info().Str("app_id", cfg.AppID.Value).Msg("serving MCP on stdio")
	if err := server.ServeStdio(srv); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}
