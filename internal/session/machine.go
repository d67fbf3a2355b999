package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"komikbot/internal/catalog"
	"komikbot/internal/fetch"
)

var (
	ErrNoSession           = errors.New("no active session")
	ErrInvalidLink         = errors.New("not a manga landing page link")
	ErrChapterNotAvailable = errors.New("chapter not available")
	ErrRangeOrder          = errors.New("end chapter precedes start chapter")
	ErrRangeTooLarge       = errors.New("range exceeds big mode limit")
	ErrWrongStep           = errors.New("input not valid for current step")
)

const sampleSize = 15

// Reply is what a step handler hands back to the transport: the text to
// show, whether to present the four delivery choices, and the input-error
// classification when the step rejected the input (the step itself is left
// unchanged in that case).
type Reply struct {
	Text          string
	OfferDelivery bool
	Err           error
}

// Machine validates user input against the session's step and advances it.
// It never talks to the network beyond catalog resolution and never runs
// the batch itself; SelectDelivery hands a Run snapshot to the caller.
type Machine struct {
	reg         *Registry
	resolver    *catalog.Resolver
	mangaPrefix string
	bigMax      int
	log         Logger
}

func NewMachine(reg *Registry, resolver *catalog.Resolver, siteBase string, bigMax int, log Logger) *Machine {
	return &Machine{
		reg:         reg,
		resolver:    resolver,
		mangaPrefix: strings.TrimRight(siteBase, "/") + "/manga/",
		bigMax:      bigMax,
		log:         log,
	}
}

func (m *Machine) Registry() *Registry { return m.reg }

// StartMode begins (or restarts) a session in the given fetch mode and
// returns the tutorial text.
func (m *Machine) StartMode(chatID int64, mode fetch.Mode) Reply {
	m.reg.Create(chatID, mode)

	if mode == fetch.ModeBig {
		return Reply{Text: "Big mode active! Downloads higher resolution pages.\n\n" +
			"1. Send the manga landing page link (not a chapter link)\n" +
			"   Example: " + m.mangaPrefix + "some-title/\n" +
			"2. Enter the start chapter\n" +
			"3. Enter the end chapter\n" +
			"4. Pick a delivery mode\n\n" +
			fmt.Sprintf("Limit: at most %d chapters per download in this mode.\n", m.bigMax) +
			"Commands: /cancel stops a download, /start restarts."}
	}

	return Reply{Text: "Normal mode active! Download manga as PDF.\n\n" +
		"1. Send the manga landing page link (not a chapter link)\n" +
		"   Example: " + m.mangaPrefix + "some-title/\n" +
		"2. Enter the start chapter\n" +
		"3. Enter the end chapter\n" +
		"4. Pick a delivery mode (inline is capped at 50MB, remote upload is not)\n\n" +
		"Commands: /cancel stops a download, /start restarts."}
}

// HandleText routes free-form user input to the current step's handler.
func (m *Machine) HandleText(ctx context.Context, chatID int64, text string) (Reply, error) {
	s, ok := m.reg.Get(chatID)
	if !ok {
		return Reply{}, ErrNoSession
	}

	text = strings.TrimSpace(text)

	switch s.Step {
	case StepLink:
		return m.handleLink(ctx, s, text), nil
	case StepStart:
		return m.handleStart(s, text), nil
	case StepEnd:
		return m.handleEnd(s, text), nil
	case StepDeliveryMode:
		return Reply{Text: "Pick one of the delivery options above.", OfferDelivery: true, Err: ErrWrongStep}, nil
	case StepRunning:
		return Reply{Text: "A download is already running. Use /cancel to stop it.", Err: ErrWrongStep}, nil
	default:
		return Reply{}, fmt.Errorf("session in unknown step %d", s.Step)
	}
}

func (m *Machine) handleLink(ctx context.Context, s *Session, text string) Reply {
	if !strings.HasPrefix(text, m.mangaPrefix) {
		return Reply{
			Text: "Invalid link. Example:\n" + m.mangaPrefix + "some-title/",
			Err:  ErrInvalidLink,
		}
	}

	cat, err := m.resolver.Resolve(ctx, text)
	if err != nil {
		m.log.Errorf("catalog resolution for %s: %v\n", text, err)
		reason := "could not reach the page"
		if errors.Is(err, catalog.ErrNoChapters) {
			reason = "no chapters found on that page"
		}
		return Reply{
			Text: fmt.Sprintf("Failed to read manga data (%s). Check the link and try again.", reason),
			Err:  err,
		}
	}

	s.Catalog = cat
	s.Step = StepStart

	total := "unknown"
	if cat.HasMax {
		total = trimFloat(cat.MaxKey)
	}

	return Reply{Text: fmt.Sprintf(
		"Found manga: %s\nLatest chapter: %s\n\nEnter the start chapter (decimals like 1.5 work too):",
		cat.MangaName, total)}
}

func (m *Machine) handleStart(s *Session, text string) Reply {
	id, ok := resolveIdentifier(s.Catalog, text)
	if !ok {
		return m.notAvailable(s, text)
	}

	s.Start = id.Raw
	s.Step = StepEnd

	return Reply{Text: fmt.Sprintf("Start chapter: %s\nNow enter the end chapter:", id.Raw)}
}

func (m *Machine) handleEnd(s *Session, text string) Reply {
	id, ok := resolveIdentifier(s.Catalog, text)
	if !ok {
		return m.notAvailable(s, text)
	}

	// Ordering compares catalog (page-appearance) positions, not numeric
	// values; the catalog itself is page-ordered.
	startPos := s.Catalog.Position(s.Start)
	endPos := s.Catalog.Position(id.Raw)

	if endPos < startPos {
		return Reply{
			Text: fmt.Sprintf("End chapter must come at or after the start chapter (%s).", s.Start),
			Err:  ErrRangeOrder,
		}
	}

	rng := resolvedRange(s.Catalog, startPos, endPos)

	if s.FetchMode == fetch.ModeBig && len(rng) > m.bigMax {
		return Reply{
			Text: fmt.Sprintf("Big mode is limited to %d chapters per download. Pick a smaller range.", m.bigMax),
			Err:  ErrRangeTooLarge,
		}
	}

	s.End = id.Raw
	s.Range = rng
	s.Step = StepDeliveryMode

	return Reply{
		Text: fmt.Sprintf("Chapters to download (%d):\n%s\n\nPick a delivery mode:",
			len(rng), rangePreview(rng)),
		OfferDelivery: true,
	}
}

// SelectDelivery consumes one of the four delivery choices, marks the
// session running and returns the immutable Run snapshot for the worker.
func (m *Machine) SelectDelivery(chatID int64, choice DeliveryChoice) (*Run, error) {
	s, ok := m.reg.Get(chatID)
	if !ok {
		return nil, ErrNoSession
	}
	if s.Step != StepDeliveryMode {
		return nil, ErrWrongStep
	}

	s.Grouping = choice.Grouping
	s.Via = choice.Via
	s.Step = StepRunning
	s.Token.Reset()

	rng := make([]string, len(s.Range))
	copy(rng, s.Range)

	return &Run{
		ChatID:    s.ChatID,
		MangaName: s.Catalog.MangaName,
		Template:  s.Catalog.Template,
		FetchMode: s.FetchMode,
		Start:     s.Start,
		End:       s.End,
		Range:     rng,
		Grouping:  choice.Grouping,
		Via:       choice.Via,
		Token:     s.Token,
	}, nil
}

// Teardown discards the session unconditionally and cleans its assets.
// Used for completion, cancellation and any unexpected handler error:
// corrupted sessions are discarded, never repaired.
func (m *Machine) Teardown(chatID int64) {
	m.reg.Delete(chatID)
}

func (m *Machine) notAvailable(s *Session, input string) Reply {
	sample := s.Catalog.Sample(sampleSize)
	return Reply{
		Text: fmt.Sprintf("Chapter %s is not available.\n\nAvailable chapters: %s",
			input, strings.Join(sample, ", ")),
		Err: ErrChapterNotAvailable,
	}
}

// resolveIdentifier matches user input against the catalog: exact string
// first, then by numeric key so "9" finds "09" and "1.5" finds "1.5".
func resolveIdentifier(cat *catalog.Catalog, input string) (catalog.Identifier, bool) {
	if id, ok := cat.FindExact(input); ok {
		return id, true
	}

	if key, orderable := catalog.ParseKey(input); orderable {
		return cat.FindNumeric(key)
	}

	return catalog.Identifier{}, false
}

// resolvedRange takes the inclusive catalog slice between the two positions
// and de-duplicates it preserving order.
func resolvedRange(cat *catalog.Catalog, startPos, endPos int) []string {
	seen := map[string]bool{}
	var out []string

	for _, id := range cat.Chapters[startPos : endPos+1] {
		if seen[id.Raw] {
			continue
		}
		seen[id.Raw] = true
		out = append(out, id.Raw)
	}

	return out
}

func rangePreview(rng []string) string {
	if len(rng) <= 10 {
		return strings.Join(rng, ", ")
	}
	return strings.Join(rng[:5], ", ") + ", ..., " + strings.Join(rng[len(rng)-3:], ", ")
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
