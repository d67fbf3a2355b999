package cmd

import (
	"context"

	"komikbot/internal/bot"
	"komikbot/internal/deliver"
	"komikbot/internal/ui"

	"github.com/spf13/cobra"
)

func init() {
	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Download interactively from the terminal, no Telegram involved",
		RunE:  runConsole,
	}

	consoleCmd.Flags().StringVar(&flagDownloadDir, "download-dir", "", "working folder for chapter images and PDFs")
	consoleCmd.Flags().StringVar(&flagSiteBase, "site-base", "", "site base URL")
	consoleCmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")

	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, _ []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer close(c.stop)

	orch := deliver.NewOrchestrator(
		c.fetcher, c.assembler, c.uploader, &bot.ConsoleMessenger{Log: c.log},
		c.cfg.DownloadDir, c.cfg.InlineLimitMB, c.deleteDelay(), c.log,
	)

	stats := &ui.Stats{}
	return bot.NewConsole(c.machine, orch, stats, c.log).Run(context.Background())
}
