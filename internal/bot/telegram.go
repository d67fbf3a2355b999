package bot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"komikbot/internal/deliver"
	"komikbot/internal/fetch"
	"komikbot/internal/session"
)

type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

// Telegram is the chat front-end: it maps commands and callbacks onto the
// session machine and hands confirmed runs to the orchestrator on their own
// goroutine. It also implements deliver.Messenger.
type Telegram struct {
	bot     *tele.Bot
	machine *session.Machine
	orch    *deliver.Orchestrator
	adminID int64
	log     Logger

	modeMenu    *tele.ReplyMarkup
	deliverMenu *tele.ReplyMarkup
}

func NewTelegram(token string, machine *session.Machine, adminID int64, log Logger) (*Telegram, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start telegram bot: %w", err)
	}

	t := &Telegram{
		bot:     b,
		machine: machine,
		adminID: adminID,
		log:     log,
	}
	t.route()
	return t, nil
}

// Attach wires the orchestrator after construction; the orchestrator needs
// the Telegram as its Messenger, so the two cannot be built in one step.
func (t *Telegram) Attach(orch *deliver.Orchestrator) { t.orch = orch }

// Start begins long polling and blocks until Stop.
func (t *Telegram) Start() {
	t.log.Infof("telegram bot: polling as @%s\n", t.bot.Me.Username)
	t.bot.Start()
}

func (t *Telegram) Stop() { t.bot.Stop() }

func (t *Telegram) route() {
	t.modeMenu = &tele.ReplyMarkup{}
	btnNormal := t.modeMenu.Data("Normal", "mode", "normal")
	btnBig := t.modeMenu.Data("Big (HD)", "mode", "big")
	t.modeMenu.Inline(t.modeMenu.Row(btnNormal, btnBig))

	t.deliverMenu = &tele.ReplyMarkup{}
	mergeInline := t.deliverMenu.Data("One PDF, direct", "deliver", "merge_inline")
	mergeRemote := t.deliverMenu.Data("One PDF, GoFile", "deliver", "merge_remote")
	eachInline := t.deliverMenu.Data("Per chapter, direct", "deliver", "each_inline")
	eachRemote := t.deliverMenu.Data("Per chapter, GoFile", "deliver", "each_remote")
	t.deliverMenu.Inline(
		t.deliverMenu.Row(mergeInline, mergeRemote),
		t.deliverMenu.Row(eachInline, eachRemote),
	)

	t.bot.Handle("/start", t.guard(t.onStart))
	t.bot.Handle("/manga", t.guard(func(c tele.Context) error {
		return c.Send(t.machine.StartMode(c.Chat().ID, fetch.ModeNormal).Text)
	}))
	t.bot.Handle("/komik", t.guard(func(c tele.Context) error {
		return c.Send(t.machine.StartMode(c.Chat().ID, fetch.ModeBig).Text)
	}))
	t.bot.Handle("/cancel", t.guard(t.onCancel))
	t.bot.Handle("/myid", t.guard(func(c tele.Context) error {
		return c.Send(strconv.FormatInt(c.Chat().ID, 10))
	}))
	t.bot.Handle("/report", t.guard(t.onReport))
	t.bot.Handle("/reply", t.guard(t.onReply))
	t.bot.Handle(&btnNormal, t.guard(t.onMode))
	t.bot.Handle(&mergeInline, t.guard(t.onDeliver))
	t.bot.Handle(tele.OnText, t.guard(t.onText))
}

// guard catches handler panics so one bad update cannot kill the poller;
// the offending session is discarded and the user told to start over.
func (t *Telegram) guard(fn tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if p := recover(); p != nil {
				chatID := c.Chat().ID
				t.log.Errorf("handler panic for chat %d: %v\n", chatID, p)
				t.machine.Teardown(chatID)
				_ = c.Send("Something went wrong. Start again with /start.")
			}
		}()
		return fn(c)
	}
}

func (t *Telegram) onStart(c tele.Context) error {
	return c.Send("Hi! I turn manga chapters into PDFs.\n\nChoose a download mode:", t.modeMenu)
}

func (t *Telegram) onMode(c tele.Context) error {
	mode := fetch.ModeNormal
	if c.Data() == "big" {
		mode = fetch.ModeBig
	}

	reply := t.machine.StartMode(c.Chat().ID, mode)
	_ = c.Respond(&tele.CallbackResponse{})
	return c.Send(reply.Text)
}

func (t *Telegram) onText(c tele.Context) error {
	chatID := c.Chat().ID

	reply, err := t.machine.HandleText(context.Background(), chatID, c.Text())
	if errors.Is(err, session.ErrNoSession) {
		return t.forwardStray(c)
	}
	if err != nil {
		t.machine.Teardown(chatID)
		return c.Send("Something went wrong. Start again with /start.")
	}

	if reply.OfferDelivery {
		return c.Send(reply.Text, t.deliverMenu)
	}
	if reply.Text != "" {
		return c.Send(reply.Text)
	}
	return nil
}

func (t *Telegram) onDeliver(c tele.Context) error {
	chatID := c.Chat().ID

	choice, ok := parseChoice(c.Data())
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Unknown option."})
	}

	run, err := t.machine.SelectDelivery(chatID, choice)
	if err != nil {
		_ = c.Respond(&tele.CallbackResponse{})
		return c.Send("That choice no longer applies. Start again with /start.")
	}

	_ = c.Respond(&tele.CallbackResponse{Text: "Starting..."})
	go t.runBatch(run)
	return nil
}

func (t *Telegram) runBatch(run *session.Run) {
	defer t.machine.Teardown(run.ChatID)

	if err := t.orch.Run(context.Background(), run); err != nil {
		t.log.Errorf("run for chat %d: %v\n", run.ChatID, err)
	}
}

func (t *Telegram) onCancel(c tele.Context) error {
	chatID := c.Chat().ID

	if !t.machine.Registry().Cancel(chatID) {
		return c.Send("Nothing to cancel.")
	}

	t.machine.Teardown(chatID)
	return c.Send("Cancelled. Start again with /start.")
}

func (t *Telegram) onReport(c tele.Context) error {
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return c.Send("Usage: /report <your message>")
	}
	if t.adminID == 0 {
		return c.Send("Reporting is not configured on this bot.")
	}

	from := fmt.Sprintf("Report from %d", c.Sender().ID)
	if u := c.Sender().Username; u != "" {
		from += " (@" + u + ")"
	}
	if err := t.SendText(t.adminID, from+":\n"+text); err != nil {
		t.log.Errorf("report relay: %v\n", err)
		return c.Send("Could not deliver the report. Try again later.")
	}
	return c.Send("Report sent, thanks!")
}

// onReply lets the admin answer a /report: "/reply <chat id> <text>".
func (t *Telegram) onReply(c tele.Context) error {
	if c.Sender().ID != t.adminID {
		return nil
	}

	target, text, ok := splitReply(c.Message().Payload)
	if !ok {
		return c.Send("Usage: /reply <chat id> <message>")
	}

	if err := t.SendText(target, "Admin: "+text); err != nil {
		return c.Send(fmt.Sprintf("Send to %d failed: %v", target, err))
	}
	return c.Send("Delivered.")
}

// forwardStray relays messages from users without a session to the admin so
// nothing typed at the bot disappears unseen.
func (t *Telegram) forwardStray(c tele.Context) error {
	if t.adminID != 0 && c.Sender().ID != t.adminID {
		if err := c.ForwardTo(tele.ChatID(t.adminID)); err != nil {
			t.log.Errorf("stray forward: %v\n", err)
		}
	}
	return c.Send("No active session. Use /start to begin.")
}

func (t *Telegram) SendText(chatID int64, text string) error {
	_, err := t.bot.Send(tele.ChatID(chatID), text)
	return err
}

func (t *Telegram) SendDocument(chatID int64, path, caption string) error {
	doc := &tele.Document{
		File:     tele.FromDisk(path),
		FileName: filepath.Base(path),
		Caption:  caption,
	}
	_, err := t.bot.Send(tele.ChatID(chatID), doc)
	return err
}

func parseChoice(data string) (session.DeliveryChoice, bool) {
	var c session.DeliveryChoice
	switch data {
	case "merge_inline":
		c = session.DeliveryChoice{Grouping: session.GroupMerge, Via: session.ViaInline}
	case "merge_remote":
		c = session.DeliveryChoice{Grouping: session.GroupMerge, Via: session.ViaRemote}
	case "each_inline":
		c = session.DeliveryChoice{Grouping: session.GroupPerChapter, Via: session.ViaInline}
	case "each_remote":
		c = session.DeliveryChoice{Grouping: session.GroupPerChapter, Via: session.ViaRemote}
	default:
		return c, false
	}
	return c, true
}

func splitReply(payload string) (int64, string, bool) {
	id, rest, found := strings.Cut(strings.TrimSpace(payload), " ")
	if !found {
		return 0, "", false
	}
	target, err := strconv.ParseInt(id, 10, 64)
	if err != nil || strings.TrimSpace(rest) == "" {
		return 0, "", false
	}
	return target, strings.TrimSpace(rest), true
}
