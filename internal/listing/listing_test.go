package listing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	id   string
	name string
}

func (i item) Key() string { return i.id }

func nameField(i item) []string { return []string{i.name} }

func makeItems(prefix string, n int) []item {
	out := make([]item, n)
	for i := range out {
		out[i] = item{id: fmt.Sprintf("%s%d", prefix, i), name: fmt.Sprintf("Patient %s%d", prefix, i)}
	}
	return out
}

// pagedFetch serves pages keyed by cursor and records every cursor requested.
type pagedFetch struct {
	mu      sync.Mutex
	pages   map[string]*models.Page[item]
	cursors []string
}

func (p *pagedFetch) fetch(ctx context.Context, cursor string, limit int) (*models.Page[item], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors = append(p.cursors, cursor)
	page, ok := p.pages[cursor]
	if !ok {
		return nil, fmt.Errorf("unexpected cursor %q", cursor)
	}
	return page, nil
}

func noDelete(ctx context.Context, ids []string) (int, error) { return 0, nil }

func TestLoadMoreAccumulates(t *testing.T) {
	src := &pagedFetch{pages: map[string]*models.Page[item]{
		"":   {Items: makeItems("a", 20), NextCursor: "c1"},
		"c1": {Items: makeItems("b", 20)},
	}}
	l := New("records", src.fetch, noDelete, nameField)
	ctx := context.Background()

	require.NoError(t, l.Refresh(ctx))
	assert.Equal(t, 20, l.Len())
	assert.True(t, l.HasMore())
	assert.Equal(t, "c1", l.Cursor())

	require.NoError(t, l.LoadMore(ctx))
	assert.Equal(t, 40, l.Len())
	assert.False(t, l.HasMore())
	assert.Equal(t, []string{"", "c1"}, src.cursors)

	items := l.Items()
	assert.Equal(t, "a0", items[0].id)
	assert.Equal(t, "b0", items[20].id)

	assert.ErrorIs(t, l.LoadMore(ctx), ErrNoMorePages)
	assert.Len(t, src.cursors, 2)
}

func TestLoadMoreKeepsOfferingWhileCursorReturned(t *testing.T) {
	src := &pagedFetch{pages: map[string]*models.Page[item]{
		"":   {Items: makeItems("a", 20), NextCursor: "c1"},
		"c1": {Items: makeItems("b", 20), NextCursor: "c2"},
	}}
	l := New("records", src.fetch, noDelete, nameField)
	require.NoError(t, l.Refresh(context.Background()))
	require.NoError(t, l.LoadMore(context.Background()))
	assert.Equal(t, 40, l.Len())
	assert.True(t, l.HasMore())
}

func TestRefreshReplacesItemsAndSelection(t *testing.T) {
	src := &pagedFetch{pages: map[string]*models.Page[item]{
		"":   {Items: makeItems("a", 3), NextCursor: "c1"},
		"c1": {Items: makeItems("b", 3)},
	}}
	l := New("records", src.fetch, noDelete, nameField)
	ctx := context.Background()
	require.NoError(t, l.Refresh(ctx))
	require.NoError(t, l.LoadMore(ctx))
	l.Toggle("a1")

	require.NoError(t, l.Refresh(ctx))
	assert.Equal(t, 3, l.Len())
	assert.Empty(t, l.Selected())
}

func TestFetchErrorLeavesListUnchanged(t *testing.T) {
	fail := true
	fetch := func(ctx context.Context, cursor string, limit int) (*models.Page[item], error) {
		if cursor == "c1" && fail {
			return nil, errors.New("boom")
		}
		if cursor == "" {
			return &models.Page[item]{Items: makeItems("a", 2), NextCursor: "c1"}, nil
		}
		return &models.Page[item]{Items: makeItems("b", 2)}, nil
	}
	l := New("records", fetch, noDelete, nameField)
	ctx := context.Background()
	require.NoError(t, l.Refresh(ctx))

	assert.Error(t, l.LoadMore(ctx))
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, "c1", l.Cursor())

	fail = false
	require.NoError(t, l.LoadMore(ctx))
	assert.Equal(t, 4, l.Len())
}

func TestStaleResponseDiscarded(t *testing.T) {
	slowStarted := make(chan struct{})
	releaseSlow := make(chan struct{})
	calls := 0
	var mu sync.Mutex

	fetch := func(ctx context.Context, cursor string, limit int) (*models.Page[item], error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(slowStarted)
			<-releaseSlow
			return &models.Page[item]{Items: makeItems("old", 5)}, nil
		}
		return &models.Page[item]{Items: makeItems("new", 2)}, nil
	}
	l := New("records", fetch, noDelete, nameField)
	ctx := context.Background()

	slowErr := make(chan error, 1)
	go func() {
		slowErr <- l.Refresh(ctx)
	}()
	<-slowStarted

	require.NoError(t, l.Refresh(ctx))
	close(releaseSlow)

	assert.ErrorIs(t, <-slowErr, ErrStaleResponse)
	items := l.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "new0", items[0].id)
}

func TestFilterIsCaseInsensitiveAndLocal(t *testing.T) {
	items := []item{
		{id: "1", name: "Alice Smith"},
		{id: "2", name: "BOB JONES"},
		{id: "3", name: "alicia keys"},
	}
	src := &pagedFetch{pages: map[string]*models.Page[item]{"": {Items: items, NextCursor: "c1"}}}
	l := New("records", src.fetch, noDelete, nameField)
	require.NoError(t, l.Refresh(context.Background()))

	l.SetFilter("  ALIC ")
	visible := l.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, "1", visible[0].id)
	assert.Equal(t, "3", visible[1].id)

	l.SetFilter("jones")
	assert.Len(t, l.Visible(), 1)

	l.SetFilter("")
	assert.Len(t, l.Visible(), 3)

	// Filtering never pulls more pages.
	assert.Equal(t, []string{""}, src.cursors)
}

func TestToggleAllVisible(t *testing.T) {
	items := []item{
		{id: "1", name: "Alice"},
		{id: "2", name: "Bob"},
		{id: "3", name: "Alina"},
	}
	src := &pagedFetch{pages: map[string]*models.Page[item]{"": {Items: items}}}
	l := New("records", src.fetch, noDelete, nameField)
	require.NoError(t, l.Refresh(context.Background()))

	l.SetFilter("ali")
	l.ToggleAllVisible()
	assert.Equal(t, []string{"1", "3"}, l.Selected())
	assert.False(t, l.IsSelected("2"))

	l.ToggleAllVisible()
	assert.Empty(t, l.Selected())

	l.Toggle("1")
	l.ToggleAllVisible()
	assert.Equal(t, []string{"1", "3"}, l.Selected())
}

func TestDeleteSelectedScenario(t *testing.T) {
	var deleted []string
	remove := func(ctx context.Context, ids []string) (int, error) {
		deleted = append(deleted, ids...)
		return len(ids), nil
	}
	src := &pagedFetch{pages: map[string]*models.Page[item]{"": {Items: makeItems("r", 5)}}}
	l := New("records", src.fetch, remove, nameField)
	require.NoError(t, l.Refresh(context.Background()))

	l.Toggle("r1")
	l.Toggle("r3")

	var prompt string
	confirm := ConfirmFunc(func(ctx context.Context, p string) (bool, error) {
		prompt = p
		return true, nil
	})
	n, err := l.DeleteSelected(context.Background(), confirm)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "Permanently delete 2 records and their stored images?", prompt)
	assert.ElementsMatch(t, []string{"r1", "r3"}, deleted)

	assert.Equal(t, 3, l.Len())
	assert.Empty(t, l.Selected())
	for _, it := range l.Items() {
		assert.NotContains(t, []string{"r1", "r3"}, it.id)
	}
}

func TestDeleteSelectedReportsBackendCount(t *testing.T) {
	remove := func(ctx context.Context, ids []string) (int, error) {
		return 0, nil
	}
	src := &pagedFetch{pages: map[string]*models.Page[item]{"": {Items: makeItems("r", 3)}}}
	l := New("records", src.fetch, remove, nameField)
	require.NoError(t, l.Refresh(context.Background()))
	l.Toggle("r1")

	n, err := l.DeleteSelected(context.Background(), AlwaysConfirm)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, l.Selected())
}

func TestDeleteSelectedFailureKeepsState(t *testing.T) {
	remove := func(ctx context.Context, ids []string) (int, error) {
		return 0, errors.New("server exploded")
	}
	src := &pagedFetch{pages: map[string]*models.Page[item]{"": {Items: makeItems("r", 4)}}}
	l := New("records", src.fetch, remove, nameField)
	require.NoError(t, l.Refresh(context.Background()))
	l.Toggle("r0")
	l.Toggle("r2")

	_, err := l.DeleteSelected(context.Background(), AlwaysConfirm)
	require.Error(t, err)
	assert.Equal(t, 4, l.Len())
	assert.Equal(t, []string{"r0", "r2"}, l.Selected())
}

func TestDeleteSelectedGuards(t *testing.T) {
	called := false
	remove := func(ctx context.Context, ids []string) (int, error) {
		called = true
		return len(ids), nil
	}
	src := &pagedFetch{pages: map[string]*models.Page[item]{"": {Items: makeItems("r", 2)}}}
	l := New("records", src.fetch, remove, nameField)
	require.NoError(t, l.Refresh(context.Background()))

	_, err := l.DeleteSelected(context.Background(), AlwaysConfirm)
	assert.ErrorIs(t, err, ErrEmptySelection)

	l.Toggle("r0")
	decline := ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
	_, err = l.DeleteSelected(context.Background(), decline)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	_, err = l.DeleteSelected(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	assert.False(t, called)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"r0"}, l.Selected())
}
