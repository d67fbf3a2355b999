package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"komikbot/internal/catalog"
	"komikbot/internal/fetch"
)

type nopLog struct{}

func (nopLog) Debugf(string, ...any) {}
func (nopLog) Infof(string, ...any)  {}
func (nopLog) Errorf(string, ...any) {}

// newTestMachine serves one landing page whose chapter links appear in the
// given order and returns a machine bound to it.
func newTestMachine(t *testing.T, bigMax int, chapters ...string) (*Machine, string) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		fmt.Fprint(w, `<html><body>`)
		for _, c := range chapters {
			fmt.Fprintf(w, `<a href="/one-piece-chapter-%s/">Ch %s</a>`, c, c)
		}
		fmt.Fprint(w, `</body></html>`)
	}))
	t.Cleanup(srv.Close)

	reg := NewRegistry(t.TempDir(), nopLog{})
	resolver := catalog.NewResolver(srv.Client(), srv.URL, nopLog{})
	return NewMachine(reg, resolver, srv.URL, bigMax, nopLog{}), srv.URL + "/manga/one-piece/"
}

func walkToEnd(t *testing.T, m *Machine, link, start string) {
	t.Helper()
	ctx := context.Background()

	m.StartMode(7, fetch.ModeNormal)

	reply, err := m.HandleText(ctx, 7, link)
	require.NoError(t, err)
	require.NoError(t, reply.Err)

	reply, err = m.HandleText(ctx, 7, start)
	require.NoError(t, err)
	require.NoError(t, reply.Err)
}

func TestFullSessionWalk(t *testing.T) {
	m, link := newTestMachine(t, 3, "1", "2", "3", "4")
	ctx := context.Background()

	reply := m.StartMode(7, fetch.ModeNormal)
	assert.Contains(t, reply.Text, "Normal mode")

	reply, err := m.HandleText(ctx, 7, link)
	require.NoError(t, err)
	require.NoError(t, reply.Err)
	assert.Contains(t, reply.Text, "one-piece")
	assert.Contains(t, reply.Text, "Latest chapter: 4")

	reply, err = m.HandleText(ctx, 7, "2")
	require.NoError(t, err)
	require.NoError(t, reply.Err)

	reply, err = m.HandleText(ctx, 7, "4")
	require.NoError(t, err)
	require.NoError(t, reply.Err)
	assert.True(t, reply.OfferDelivery)
	assert.Contains(t, reply.Text, "2, 3, 4")

	run, err := m.SelectDelivery(7, DeliveryChoice{Grouping: GroupMerge, Via: ViaInline})
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, run.Range)
	assert.Equal(t, "one-piece", run.MangaName)
	assert.Equal(t, GroupMerge, run.Grouping)
	assert.Equal(t, ViaInline, run.Via)
	assert.False(t, run.Token.Cancelled())

	// once running, text input is refused until the run ends
	reply, err = m.HandleText(ctx, 7, "5")
	require.NoError(t, err)
	assert.ErrorIs(t, reply.Err, ErrWrongStep)
}

func TestHandleTextWithoutSession(t *testing.T) {
	m, _ := newTestMachine(t, 3, "1")

	_, err := m.HandleText(context.Background(), 99, "hello")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestInvalidLinkRejected(t *testing.T) {
	m, _ := newTestMachine(t, 3, "1")
	m.StartMode(7, fetch.ModeNormal)

	reply, err := m.HandleText(context.Background(), 7, "https://example.com/other/")
	require.NoError(t, err)
	assert.ErrorIs(t, reply.Err, ErrInvalidLink)
}

func TestNumericInputMatchesPaddedChapter(t *testing.T) {
	m, link := newTestMachine(t, 3, "09", "10", "11")
	walkToEnd(t, m, link, "9")

	s, ok := m.Registry().Get(7)
	require.True(t, ok)
	assert.Equal(t, "09", s.Start, "user types 9, catalog stores 09")
}

func TestChapterNotAvailableShowsSample(t *testing.T) {
	m, link := newTestMachine(t, 3,
		"1", "2", "3", "4", "5", "6", "7", "8", "9", "10",
		"11", "12", "13", "14", "15", "16", "17", "18")
	m.StartMode(7, fetch.ModeNormal)
	ctx := context.Background()

	_, err := m.HandleText(ctx, 7, link)
	require.NoError(t, err)

	reply, err := m.HandleText(ctx, 7, "99")
	require.NoError(t, err)
	assert.ErrorIs(t, reply.Err, ErrChapterNotAvailable)
	assert.Contains(t, reply.Text, "1, 2, 3")
	assert.NotContains(t, reply.Text, "16", "sample is capped at 15 entries")

	s, _ := m.Registry().Get(7)
	assert.Equal(t, StepStart, s.Step, "a rejected input does not advance the step")
}

func TestRangeOrderFollowsPageOrder(t *testing.T) {
	// Newest-first listing: positions run opposite to numeric order.
	m, link := newTestMachine(t, 3, "12", "11", "10")
	walkToEnd(t, m, link, "12")
	ctx := context.Background()

	reply, err := m.HandleText(ctx, 7, "10")
	require.NoError(t, err)
	require.NoError(t, reply.Err)

	s, _ := m.Registry().Get(7)
	assert.Equal(t, []string{"12", "11", "10"}, s.Range, "range follows page order")
}

func TestRangeOrderRejected(t *testing.T) {
	m, link := newTestMachine(t, 3, "1", "2", "3")
	walkToEnd(t, m, link, "3")

	reply, err := m.HandleText(context.Background(), 7, "1")
	require.NoError(t, err)
	assert.ErrorIs(t, reply.Err, ErrRangeOrder)

	s, _ := m.Registry().Get(7)
	assert.Equal(t, StepEnd, s.Step)
}

func TestBigModeRangeCap(t *testing.T) {
	m, link := newTestMachine(t, 3, "1", "2", "3", "4", "5")
	ctx := context.Background()

	m.StartMode(7, fetch.ModeBig)
	_, err := m.HandleText(ctx, 7, link)
	require.NoError(t, err)
	_, err = m.HandleText(ctx, 7, "1")
	require.NoError(t, err)

	reply, err := m.HandleText(ctx, 7, "5")
	require.NoError(t, err)
	assert.ErrorIs(t, reply.Err, ErrRangeTooLarge)

	// a range within the cap still goes through
	reply, err = m.HandleText(ctx, 7, "3")
	require.NoError(t, err)
	require.NoError(t, reply.Err)
	assert.True(t, reply.OfferDelivery)
}

func TestSelectDeliveryWrongStep(t *testing.T) {
	m, _ := newTestMachine(t, 3, "1")
	m.StartMode(7, fetch.ModeNormal)

	_, err := m.SelectDelivery(7, DeliveryChoice{})
	assert.ErrorIs(t, err, ErrWrongStep)

	_, err = m.SelectDelivery(99, DeliveryChoice{})
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRangePreviewTruncation(t *testing.T) {
	short := []string{"1", "2", "3"}
	assert.Equal(t, "1, 2, 3", rangePreview(short))

	long := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10", "11", "12"}
	assert.Equal(t, "1, 2, 3, 4, 5, ..., 10, 11, 12", rangePreview(long))
}

func TestTrimFloat(t *testing.T) {
	assert.Equal(t, "1050", trimFloat(1050))
	assert.Equal(t, "1050.5", trimFloat(1050.5))
	assert.Equal(t, "1.25", trimFloat(1.25))
}
