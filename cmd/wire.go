package cmd

import (
	"fmt"
	"os"
	"time"

	"komikbot/internal/catalog"
	"komikbot/internal/config"
	"komikbot/internal/fetch"
	"komikbot/internal/hosting"
	"komikbot/internal/pdf"
	"komikbot/internal/session"
	"komikbot/internal/ui"
	"komikbot/internal/util"
)

var (
	flagDownloadDir string
	flagSiteBase    string
	flagUserAgent   string
	flagBotToken    string
	flagAdminChat   int64
)

// core is everything both front-ends share: the merged config and the wired
// pipeline up to (but excluding) the transport-bound orchestrator.
type core struct {
	cfg       *config.Config
	log       *ui.Logger
	machine   *session.Machine
	fetcher   *fetch.Fetcher
	assembler *pdf.Assembler
	uploader  *hosting.Client
	stop      chan struct{}
}

func buildCore() (*core, error) {
	cfg, usedPath, err := config.LoadMerged(config.Options{
		IgnoreConfig: flagIgnoreConfig,
		Debug:        flagDebug,
		DownloadDir:  flagDownloadDir,
		SiteBase:     flagSiteBase,
		UserAgent:    flagUserAgent,
		BotToken:     flagBotToken,
		AdminChatID:  flagAdminChat,
	})
	if err != nil {
		return nil, err
	}

	logSvc := ui.NewLogger(cfg.Debug)
	if usedPath != "" {
		fmt.Printf("Config file: %s\n", usedPath)
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create download folder: %w", err)
	}

	// Leftovers from a previous run are stale by definition.
	util.CleanupDownloadDir(cfg.DownloadDir)
	util.SetupInterruptHandler(cfg.DownloadDir)

	client, err := util.NewHTTPClient(util.HTTPClientOptions{
		Timeout:     time.Duration(cfg.HTTPTimeoutSeconds) * time.Second,
		UserAgent:   util.PickUserAgent(cfg.UserAgent),
		DebugLogger: logSvc,
	})
	if err != nil {
		return nil, err
	}

	reg := session.NewRegistry(cfg.DownloadDir, logSvc)
	resolver := catalog.NewResolver(client, cfg.SiteBase, logSvc)

	c := &core{
		cfg:       cfg,
		log:       logSvc,
		machine:   session.NewMachine(reg, resolver, cfg.SiteBase, cfg.BigModeMaxChapters, logSvc),
		fetcher:   fetch.New(client, cfg.DownloadDir, cfg.SiteBase, cfg.AllowExt, cfg.AdPatterns, logSvc),
		assembler: pdf.New(logSvc),
		uploader:  hosting.NewClient(logSvc),
		stop:      make(chan struct{}),
	}

	reg.StartSweeper(
		time.Duration(cfg.SweepMinutes)*time.Minute,
		time.Duration(cfg.SessionTTLMinutes)*time.Minute,
		c.stop,
	)

	return c, nil
}

func (c *core) deleteDelay() time.Duration {
	return time.Duration(c.cfg.DeleteDelaySeconds) * time.Second
}
