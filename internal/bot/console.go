package bot

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"

	"komikbot/internal/deliver"
	"komikbot/internal/fetch"
	"komikbot/internal/session"
	"komikbot/internal/ui"
	"komikbot/internal/util"
)

// consoleChatID is the single pseudo-chat a console run lives in.
const consoleChatID int64 = 1

// Console drives the same session machine and orchestrator as the Telegram
// front-end, but from an interactive terminal: prompts instead of inline
// keyboards, progress bars instead of status messages, and documents copied
// into the working directory instead of sent over a chat.
type Console struct {
	machine *session.Machine
	orch    *deliver.Orchestrator
	stats   *ui.Stats
	log     Logger
}

func NewConsole(machine *session.Machine, orch *deliver.Orchestrator, stats *ui.Stats, log Logger) *Console {
	return &Console{machine: machine, orch: orch, stats: stats, log: log}
}

// Run walks one full download interactively and blocks until it finishes.
func (cs *Console) Run(ctx context.Context) error {
	defer cs.machine.Teardown(consoleChatID)

	mode, err := cs.pickMode()
	if err != nil {
		return err
	}

	fmt.Println(cs.machine.StartMode(consoleChatID, mode).Text)

	if err := cs.collectInput(ctx); err != nil {
		return err
	}

	choice, err := cs.pickDelivery()
	if err != nil {
		return err
	}

	run, err := cs.machine.SelectDelivery(consoleChatID, choice)
	if err != nil {
		return err
	}

	pm := ui.NewProgressManager()
	cs.orch.ProgressFor = func(label string) fetch.Progress {
		return pm.Register(label)
	}
	cs.orch.Stats = cs.stats

	err = cs.orch.Run(ctx, run)
	pm.Close()

	cs.printSummary()
	return err
}

// collectInput feeds stdin lines through the session machine until the
// machine is ready to offer delivery choices.
func (cs *Console) collectInput(ctx context.Context) error {
	in := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("> ")
		line, err := in.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		reply, err := cs.machine.HandleText(ctx, consoleChatID, line)
		if err != nil {
			return err
		}
		if reply.OfferDelivery {
			return nil
		}
		if reply.Text != "" {
			fmt.Println(reply.Text)
		}
	}
}

func (cs *Console) pickMode() (fetch.Mode, error) {
	prompt := promptui.Select{
		Label: "Download mode",
		Items: []string{"Normal", "Big (HD)"},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return fetch.ModeNormal, fmt.Errorf("prompt cancelled: %w", err)
	}
	if i == 1 {
		return fetch.ModeBig, nil
	}
	return fetch.ModeNormal, nil
}

func (cs *Console) pickDelivery() (session.DeliveryChoice, error) {
	prompt := promptui.Select{
		Label: "Delivery",
		Items: []string{
			"One merged PDF, saved locally",
			"One merged PDF, uploaded to GoFile",
			"One PDF per chapter, saved locally",
			"One PDF per chapter, uploaded to GoFile",
		},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return session.DeliveryChoice{}, fmt.Errorf("prompt cancelled: %w", err)
	}

	choices := []session.DeliveryChoice{
		{Grouping: session.GroupMerge, Via: session.ViaInline},
		{Grouping: session.GroupMerge, Via: session.ViaRemote},
		{Grouping: session.GroupPerChapter, Via: session.ViaInline},
		{Grouping: session.GroupPerChapter, Via: session.ViaRemote},
	}
	return choices[i], nil
}

func (cs *Console) printSummary() {
	if cs.stats == nil {
		return
	}
	fmt.Printf("\nChapters: %d  Images: %d (%s)  Documents: %d\n",
		cs.stats.TotalChapters.Load(), cs.stats.TotalImages.Load(),
		util.Human(cs.stats.TotalBytes.Load()), cs.stats.TotalDocuments.Load())
}

// ConsoleMessenger satisfies deliver.Messenger for local runs: texts go to
// stdout and "sent" documents are copied next to where the tool was invoked.
type ConsoleMessenger struct {
	Log Logger
}

func (m *ConsoleMessenger) SendText(chatID int64, text string) error {
	fmt.Println(text)
	return nil
}

func (m *ConsoleMessenger) SendDocument(chatID int64, path, caption string) error {
	dst := filepath.Base(path)
	if err := copyFile(path, dst); err != nil {
		return err
	}
	fmt.Printf("Saved %s (%s)\n", dst, caption)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Join(err, os.Remove(dst))
	}
	return out.Close()
}
