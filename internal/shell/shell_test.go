package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyboard/internal/story/demo"
	"storyboard/internal/story/model"
	"storyboard/internal/story/storytest"
)

func run(t *testing.T, store *storytest.Store, script ...string) string {
	t.Helper()
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(script, "\n") + "\n")
	sh := New(store, demo.NewFSFetcher(), in, &out)
	require.NoError(t, sh.Run(context.Background(), "alice"))
	return out.String()
}

func TestShell_EditSaveDelete(t *testing.T) {
	store := storytest.NewStore()

	out := run(t, store,
		"title Trip",
		"project p1",
		"gallery",
		"media 1 a.jpg",
		"media 1",
		"save",
		"saveas Fork",
		"delete",
		"n",
		"delete",
		"y",
		"quit",
	)

	assert.Contains(t, out, "added gallery block 1")
	assert.Contains(t, out, `Delete "Fork"? [y/N]`)
	assert.Contains(t, out, "new story")
	assert.Equal(t, 1, store.Count("delete"))

	list, err := store.List(context.Background(), "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Trip", list[0].Title)
	assert.Equal(t, "p1", list[0].Project)

	st, err := store.Get(context.Background(), list[0].ID, "alice")
	require.NoError(t, err)
	require.Len(t, st.Blocks, 1)
	var g model.Gallery
	require.NoError(t, json.Unmarshal(st.Blocks[0], &g))
	assert.Equal(t, []string{"a.jpg"}, g.Media)
}

func TestShell_OpenByNumberAndDuplicate(t *testing.T) {
	store := storytest.NewStore()
	store.Seed("alice", "Old", time.Now())

	out := run(t, store,
		"list",
		"open 9",
		"open 2",
		"show",
		"dup",
		"bogus",
	)

	assert.Contains(t, out, "Demo Story")
	assert.Contains(t, out, "(read-only)")
	assert.Contains(t, out, "no story #9")
	assert.Contains(t, out, `opened "Old"`)
	assert.Contains(t, out, "title:   Old")
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.Equal(t, 2, store.Repo.Len())
}

func TestShell_DemoWorksWithoutBackend(t *testing.T) {
	store := storytest.NewStore()
	store.Repo.SetOffline(true)

	out := run(t, store,
		"demo",
		"show",
		"delete",
		"save",
	)

	assert.Contains(t, out, `opened demo "Demo Story" (read-only)`)
	assert.Contains(t, out, "story:   demo")
	assert.Contains(t, out, "  [1] gallery: projects/__demo__/media/harbour.jpg")
	assert.Contains(t, out, model.ErrReadOnly.Error())
	assert.Contains(t, out, model.ErrBackendUnavailable.Error())
	assert.Zero(t, store.Repo.Len())
}
