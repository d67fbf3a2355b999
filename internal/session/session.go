package session

import (
	"time"

	"komikbot/internal/cancel"
	"komikbot/internal/catalog"
	"komikbot/internal/fetch"
)

// Step is the linear per-user conversation state. There are no backward
// transitions; restarting replaces the session outright.
type Step int

const (
	StepLink Step = iota
	StepStart
	StepEnd
	StepDeliveryMode
	StepRunning
)

func (s Step) String() string {
	switch s {
	case StepLink:
		return "link"
	case StepStart:
		return "await-start"
	case StepEnd:
		return "await-end"
	case StepDeliveryMode:
		return "await-delivery-mode"
	case StepRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Grouping decides whether the resolved range becomes one document or one
// document per chapter.
type Grouping int

const (
	GroupMerge Grouping = iota
	GroupPerChapter
)

// Via decides how documents reach the user.
type Via int

const (
	ViaInline Via = iota
	ViaRemote
)

// DeliveryChoice is one of the four (grouping, transport) combinations
// offered after the range is resolved.
type DeliveryChoice struct {
	Grouping Grouping
	Via      Via
}

// Session is the per-user mutable record driving one conversation. The
// registry owns the map; the session owns its catalog and token.
type Session struct {
	ChatID    int64
	Step      Step
	FetchMode fetch.Mode

	Catalog *catalog.Catalog
	Start   string
	End     string
	Range   []string

	Grouping Grouping
	Via      Via

	Token    *cancel.Token
	LastSeen time.Time
}

// Run is the immutable snapshot handed to the delivery worker when the user
// confirms a mode. The worker must not reach back into the live session;
// cancellation state travels through the token.
type Run struct {
	ChatID    int64
	MangaName string
	Template  string
	FetchMode fetch.Mode
	Start     string
	End       string
	Range     []string
	Grouping  Grouping
	Via       Via
	Token     *cancel.Token
}
