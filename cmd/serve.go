package cmd

import (
	"fmt"

	"komikbot/internal/bot"
	"komikbot/internal/deliver"

	"github.com/spf13/cobra"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot. Uses the config defaults, overwritten by CLI flags",
		RunE:  runServe,
	}

	serveCmd.Flags().StringVar(&flagBotToken, "bot-token", "", "Telegram bot token (or BOT_TOKEN env, or config)")
	serveCmd.Flags().Int64Var(&flagAdminChat, "admin-chat", 0, "chat id receiving /report relays and stray messages")
	serveCmd.Flags().StringVar(&flagDownloadDir, "download-dir", "", "working folder for chapter images and PDFs")
	serveCmd.Flags().StringVar(&flagSiteBase, "site-base", "", "site base URL")
	serveCmd.Flags().StringVar(&flagUserAgent, "user-agent", "", "override User-Agent")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	c, err := buildCore()
	if err != nil {
		return err
	}
	defer close(c.stop)

	if c.cfg.BotToken == "" {
		return fmt.Errorf("missing bot token: set --bot-token, BOT_TOKEN, or bot_token in the config")
	}

	fmt.Println("Full config:")
	c.cfg.Print()
	fmt.Println()

	tg, err := bot.NewTelegram(c.cfg.BotToken, c.machine, c.cfg.AdminChatID, c.log)
	if err != nil {
		return err
	}

	orch := deliver.NewOrchestrator(
		c.fetcher, c.assembler, c.uploader, tg,
		c.cfg.DownloadDir, c.cfg.InlineLimitMB, c.deleteDelay(), c.log,
	)
	tg.Attach(orch)

	tg.Start()
	return nil
}
