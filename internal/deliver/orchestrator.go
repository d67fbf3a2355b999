package deliver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"komikbot/internal/cancel"
	"komikbot/internal/fetch"
	"komikbot/internal/hosting"
	"komikbot/internal/session"
	"komikbot/internal/ui"
	"komikbot/internal/util"
)

// Messenger is the slice of the chat transport the orchestrator needs.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendDocument(chatID int64, path, caption string) error
}

// Uploader is the remote file host collaborator.
type Uploader interface {
	Upload(ctx context.Context, path, name string) (*hosting.Result, error)
}

// Fetcher retrieves one chapter's images.
type Fetcher interface {
	Fetch(ctx context.Context, template, identifier string, mode fetch.Mode, tok *cancel.Token, ph fetch.Progress) ([]string, error)
}

// Assembler turns an ordered image list into one document.
type Assembler interface {
	Assemble(images []string, output string) error
}

type Logger interface {
	Debugf(string, ...any)
	Infof(string, ...any)
	Errorf(string, ...any)
}

// Orchestrator drives one confirmed batch run: fetch each chapter in range
// order, assemble documents per the grouping mode, attempt delivery, and
// clean up local artifacts on every exit path. It runs synchronously on its
// own goroutine, one per session, and only borrows the Run snapshot.
type Orchestrator struct {
	fetcher     Fetcher
	assembler   Assembler
	uploader    Uploader
	msg         Messenger
	downloadDir string
	inlineLimit int64
	deleteDelay time.Duration
	log         Logger

	// ProgressFor, when set, supplies a per-chapter progress handle
	// (console mode). Stats, when set, accumulates run counters.
	ProgressFor func(label string) fetch.Progress
	Stats       *ui.Stats
}

func NewOrchestrator(f Fetcher, a Assembler, u Uploader, m Messenger, downloadDir string, inlineLimitMB int, deleteDelay time.Duration, log Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:     f,
		assembler:   a,
		uploader:    u,
		msg:         m,
		downloadDir: downloadDir,
		inlineLimit: int64(inlineLimitMB) << 20,
		deleteDelay: deleteDelay,
		log:         log,
	}
}

// Run executes the batch. Any panic or escaping error is reported to the
// user and answered with full cleanup; the caller discards the session
// afterwards regardless of outcome.
func (o *Orchestrator) Run(ctx context.Context, run *session.Run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
		}
		if err != nil {
			o.say(run.ChatID, fmt.Sprintf("Something went wrong: %v", err))
			o.cleanupRange(run)
		}
	}()

	o.say(run.ChatID, fmt.Sprintf("Downloading chapters %s...", strings.Join(run.Range, " & ")))

	if run.Grouping == session.GroupMerge {
		err = o.runMerge(ctx, run)
	} else {
		err = o.runPerChapter(ctx, run)
	}

	if err == nil && !run.Token.Cancelled() {
		o.say(run.ChatID, "Done!")
	}
	return err
}

func (o *Orchestrator) runMerge(ctx context.Context, run *session.Run) error {
	var all []string

	for _, id := range run.Range {
		if run.Token.Cancelled() {
			o.abortCancelled(run)
			return nil
		}

		o.say(run.ChatID, fmt.Sprintf("Downloading chapter %s...", id))

		imgs, err := o.fetchChapter(ctx, run, id)
		if err != nil {
			return err
		}

		if run.Token.Cancelled() {
			o.abortCancelled(run)
			return nil
		}

		all = append(all, imgs...)
		o.count(imgs)
	}

	// Every chapter folder in the range goes away after the document is
	// produced, delivered or not.
	defer o.cleanupRange(run)

	if len(all) == 0 {
		o.say(run.ChatID, "No chapters could be fetched.")
		return nil
	}

	name := documentName(run.MangaName, run.Start+"-"+run.End)
	path := filepath.Join(o.downloadDir, name)

	if err := o.assembler.Assemble(all, path); err != nil {
		o.log.Errorf("merge assembly failed: %v\n", err)
		o.say(run.ChatID, "Could not build the document. Try fewer chapters.")
		return nil
	}

	o.deliver(ctx, run, path, name)
	return nil
}

func (o *Orchestrator) runPerChapter(ctx context.Context, run *session.Run) error {
	for _, id := range run.Range {
		if run.Token.Cancelled() {
			o.abortCancelled(run)
			return nil
		}

		o.say(run.ChatID, fmt.Sprintf("Downloading chapter %s...", id))

		imgs, err := o.fetchChapter(ctx, run, id)
		if err != nil {
			return err
		}

		if run.Token.Cancelled() {
			o.abortCancelled(run)
			return nil
		}

		if len(imgs) == 0 {
			o.say(run.ChatID, fmt.Sprintf("Chapter %s not found.", id))
			continue
		}
		o.count(imgs)

		name := documentName(run.MangaName, id)
		path := filepath.Join(o.downloadDir, name)

		if err := o.assembler.Assemble(imgs, path); err != nil {
			o.log.Errorf("assembly for chapter %s failed: %v\n", id, err)
			o.say(run.ChatID, fmt.Sprintf("Could not build the document for chapter %s.", id))
		} else {
			o.deliver(ctx, run, path, name)
		}

		o.bestEffort("chapter folder cleanup", func() error {
			return os.RemoveAll(filepath.Join(o.downloadDir, fetch.FolderName(id, run.FetchMode)))
		})
	}

	return nil
}

func (o *Orchestrator) fetchChapter(ctx context.Context, run *session.Run, id string) ([]string, error) {
	var ph fetch.Progress
	if o.ProgressFor != nil {
		ph = o.ProgressFor("Ch." + id)
	}

	return o.fetcher.Fetch(ctx, run.Template, id, run.FetchMode, run.Token, ph)
}

// deliver attempts one document's delivery per the chosen transport, then
// schedules the local file's deletion after a short grace period whatever
// the outcome.
func (o *Orchestrator) deliver(ctx context.Context, run *session.Run, path, name string) {
	defer o.scheduleDelete(path)

	fi, err := os.Stat(path)
	if err != nil {
		// Assembler failed silently; nothing to send.
		o.log.Errorf("document %s absent: %v\n", path, err)
		return
	}

	caption := fmt.Sprintf("%s (%s)", name, util.HumanMB(fi.Size()))

	if run.Via == session.ViaRemote {
		o.say(run.ChatID, "Uploading to GoFile...")

		res, err := o.uploader.Upload(ctx, path, name)
		if err == nil {
			o.say(run.ChatID, fmt.Sprintf(
				"%s uploaded!\n\nDirect link: %s\nDownload page: %s\nSize: %s",
				name, res.DirectLink, res.PageLink, util.HumanMB(res.Size)))
			o.countDoc()
			return
		}

		o.log.Errorf("upload of %s failed: %v\n", name, err)

		if fi.Size() <= o.inlineLimit {
			o.say(run.ChatID, "Upload failed. Sending the file directly instead.")
			o.sendInline(run.ChatID, path, caption)
			return
		}

		o.say(run.ChatID, fmt.Sprintf(
			"Upload failed and %s is too big (%s) to send directly.", name, util.HumanMB(fi.Size())))
		return
	}

	if fi.Size() > o.inlineLimit {
		o.say(run.ChatID, fmt.Sprintf(
			"%s is too big (%s). The direct-send limit is %s. Use the GoFile option for large files or pick fewer chapters.",
			name, util.HumanMB(fi.Size()), util.HumanMB(o.inlineLimit)))
		return
	}

	o.sendInline(run.ChatID, path, caption)
}

func (o *Orchestrator) sendInline(chatID int64, path, caption string) {
	if err := o.msg.SendDocument(chatID, path, caption); err != nil {
		o.log.Errorf("inline send of %s failed: %v\n", path, err)
		o.say(chatID, fmt.Sprintf("Failed to send %s: %v", filepath.Base(path), err))
		return
	}
	o.countDoc()
}

func (o *Orchestrator) abortCancelled(run *session.Run) {
	o.say(run.ChatID, "Download stopped! Cleaning up files...")
	o.cleanupRange(run)
}

// cleanupRange removes every chapter folder the run could have produced.
func (o *Orchestrator) cleanupRange(run *session.Run) {
	for _, id := range run.Range {
		folder := filepath.Join(o.downloadDir, fetch.FolderName(id, run.FetchMode))
		o.bestEffort("cleanup "+folder, func() error {
			return os.RemoveAll(folder)
		})
	}
}

// scheduleDelete removes the document after a fixed delay so an in-flight
// transport send can finish reading it.
func (o *Orchestrator) scheduleDelete(path string) {
	time.AfterFunc(o.deleteDelay, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			o.log.Errorf("delayed delete of %s: %v\n", path, err)
		}
	})
}

// bestEffort runs a cleanup-grade step whose failure must never abort the
// outer flow: log and continue.
func (o *Orchestrator) bestEffort(what string, fn func() error) {
	if err := fn(); err != nil {
		o.log.Errorf("best-effort %s: %v\n", what, err)
	}
}

// say is message delivery as a best-effort step: a transport hiccup must
// not kill a run.
func (o *Orchestrator) say(chatID int64, text string) {
	if err := o.msg.SendText(chatID, text); err != nil {
		o.log.Errorf("send to %d failed: %v\n", chatID, err)
	}
}

func (o *Orchestrator) count(imgs []string) {
	if o.Stats == nil || len(imgs) == 0 {
		return
	}

	o.Stats.TotalChapters.Add(1)
	o.Stats.TotalImages.Add(int64(len(imgs)))
	for _, p := range imgs {
		if fi, err := os.Stat(p); err == nil {
			o.Stats.TotalBytes.Add(fi.Size())
		}
	}
}

func (o *Orchestrator) countDoc() {
	if o.Stats != nil {
		o.Stats.TotalDocuments.Add(1)
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._ -]+`)

// documentName builds the user-visible PDF name from the manga slug and the
// chapter part, kept filesystem-safe.
func documentName(manga, part string) string {
	name := fmt.Sprintf("%s chapter %s.pdf", manga, part)
	return unsafeName.ReplaceAllString(name, "_")
}
