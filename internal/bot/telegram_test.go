package bot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"komikbot/internal/session"
)

func TestParseChoice(t *testing.T) {
	cases := map[string]session.DeliveryChoice{
		"merge_inline": {Grouping: session.GroupMerge, Via: session.ViaInline},
		"merge_remote": {Grouping: session.GroupMerge, Via: session.ViaRemote},
		"each_inline":  {Grouping: session.GroupPerChapter, Via: session.ViaInline},
		"each_remote":  {Grouping: session.GroupPerChapter, Via: session.ViaRemote},
	}

	for data, want := range cases {
		got, ok := parseChoice(data)
		require.True(t, ok, "data %q", data)
		assert.Equal(t, want, got)
	}

	_, ok := parseChoice("bogus")
	assert.False(t, ok)
}

func TestSplitReply(t *testing.T) {
	id, text, ok := splitReply("12345 your report was handled")
	require.True(t, ok)
	assert.EqualValues(t, 12345, id)
	assert.Equal(t, "your report was handled", text)

	_, _, ok = splitReply("12345")
	assert.False(t, ok)

	_, _, ok = splitReply("notanumber hello")
	assert.False(t, ok)

	_, _, ok = splitReply("12345   ")
	assert.False(t, ok)
}

func TestConsoleMessengerCopiesDocument(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "one-piece chapter 1.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-fake"), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	out := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(out, 0755))
	require.NoError(t, os.Chdir(out))

	m := &ConsoleMessenger{}
	require.NoError(t, m.SendDocument(1, src, "caption"))

	data, err := os.ReadFile(filepath.Join(out, "one-piece chapter 1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-fake"), data)
}
