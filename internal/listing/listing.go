// Package listing implements cursor-paginated, filterable, multi-selectable
// record lists with bulk delete. Both the personal history view and the
// admin uploads view are built on it.
package listing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/endodetect/endodetect/internal/models"
	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

// PageSize is the number of records requested per page.
const PageSize = 20

var (
	// ErrEmptySelection is returned by DeleteSelected when nothing is selected.
	ErrEmptySelection = errors.New("no records selected")
	// ErrNotConfirmed is returned when the user declines a destructive action.
	ErrNotConfirmed = errors.New("action not confirmed")
	// ErrNoMorePages is returned by LoadMore after the last page.
	ErrNoMorePages = errors.New("no more pages")
	// ErrStaleResponse marks a page response superseded by a newer request.
	// The response is discarded and the list is left untouched.
	ErrStaleResponse = errors.New("stale page response discarded")
)

// Keyed is implemented by records with a stable identifier.
type Keyed interface {
	Key() string
}

// FetchFunc loads one page starting at cursor ("" for the first page).
type FetchFunc[T any] func(ctx context.Context, cursor string, limit int) (*models.Page[T], error)

// DeleteFunc removes the records with the given ids server-side and returns
// how many the backend actually deleted.
type DeleteFunc func(ctx context.Context, ids []string) (int, error)

// MatchFunc returns the fields of a record the filter is applied to.
type MatchFunc[T any] func(item T) []string

// Confirmer asks the user to approve an irreversible action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// AlwaysConfirm approves every prompt.
var AlwaysConfirm = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// Confirm runs c and maps a refusal to ErrNotConfirmed.
func Confirm(ctx context.Context, c Confirmer, prompt string) error {
	if c == nil {
		return ErrNotConfirmed
	}
	ok, err := c.Confirm(ctx, prompt)
	if err != nil {
		return fmt.Errorf("confirmation failed: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}

// List accumulates pages of T in request order and tracks filter and
// selection state. Filtering only looks at pages already loaded; it never
// requests more pages, so matches further back in history are not reported
// until they are loaded.
type List[T Keyed] struct {
	fetch  FetchFunc[T]
	remove DeleteFunc
	fields MatchFunc[T]
	noun   string
	fold   cases.Caser

	mu       sync.Mutex
	items    []T
	next     string
	loaded   bool
	latest   string
	query    string
	selected map[string]struct{}
}

// New creates an empty list. noun names the records in confirmation prompts.
func New[T Keyed](noun string, fetch FetchFunc[T], remove DeleteFunc, fields MatchFunc[T]) *List[T] {
	return &List[T]{
		fetch:    fetch,
		remove:   remove,
		fields:   fields,
		noun:     noun,
		fold:     cases.Fold(),
		selected: make(map[string]struct{}),
	}
}

// Refresh loads the first page and replaces everything loaded so far.
func (l *List[T]) Refresh(ctx context.Context) error {
	return l.load(ctx, "", true)
}

// LoadMore appends the page after the last one loaded.
func (l *List[T]) LoadMore(ctx context.Context) error {
	l.mu.Lock()
	if l.loaded && l.next == "" {
		l.mu.Unlock()
		return ErrNoMorePages
	}
	cursor := l.next
	l.mu.Unlock()

	return l.load(ctx, cursor, cursor == "")
}

func (l *List[T]) load(ctx context.Context, cursor string, replace bool) error {
	tag := uuid.NewString()
	l.mu.Lock()
	l.latest = tag
	l.mu.Unlock()

	page, err := l.fetch(ctx, cursor, PageSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.latest != tag {
		slog.Debug("Discarding stale page", "noun", l.noun, "cursor", cursor)
		return ErrStaleResponse
	}
	if err != nil {
		return err
	}

	if replace {
		l.items = append([]T(nil), page.Items...)
		l.selected = make(map[string]struct{})
	} else {
		l.items = append(l.items, page.Items...)
	}
	l.next = page.NextCursor
	l.loaded = true

	slog.Debug("Loaded page", "noun", l.noun, "cursor", cursor, "items", len(page.Items), "total", len(l.items), "more", l.next != "")
	return nil
}

// Items returns every loaded record in arrival order.
func (l *List[T]) Items() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]T(nil), l.items...)
}

// Len returns the number of loaded records.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// HasMore reports whether the last page carried a cursor.
func (l *List[T]) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next != ""
}

// Cursor returns the cursor LoadMore will request next.
func (l *List[T]) Cursor() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.next
}

// SetFilter sets the case-insensitive substring applied by Visible.
func (l *List[T]) SetFilter(query string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.query = query
}

// Filter returns the active filter.
func (l *List[T]) Filter() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.query
}

// Visible returns the loaded records matching the active filter.
func (l *List[T]) Visible() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.visibleLocked()
}

func (l *List[T]) visibleLocked() []T {
	q := l.fold.String(strings.TrimSpace(l.query))
	if q == "" || l.fields == nil {
		return append([]T(nil), l.items...)
	}

	out := make([]T, 0, len(l.items))
	for _, item := range l.items {
		for _, field := range l.fields(item) {
			if strings.Contains(l.fold.String(field), q) {
				out = append(out, item)
				break
			}
		}
	}
	return out
}

// Toggle flips the selection state of id.
func (l *List[T]) Toggle(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.selected[id]; ok {
		delete(l.selected, id)
		return
	}
	l.selected[id] = struct{}{}
}

// ToggleAllVisible selects every visible record, or deselects them all when
// they are already selected. Records hidden by the filter are not touched.
func (l *List[T]) ToggleAllVisible() {
	l.mu.Lock()
	defer l.mu.Unlock()

	visible := l.visibleLocked()
	allSelected := len(visible) > 0
	for _, item := range visible {
		if _, ok := l.selected[item.Key()]; !ok {
			allSelected = false
			break
		}
	}
	for _, item := range visible {
		if allSelected {
			delete(l.selected, item.Key())
		} else {
			l.selected[item.Key()] = struct{}{}
		}
	}
}

// IsSelected reports whether id is selected.
func (l *List[T]) IsSelected(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.selected[id]
	return ok
}

// Selected returns the selected ids in list order.
func (l *List[T]) Selected() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selectedLocked()
}

func (l *List[T]) selectedLocked() []string {
	ids := make([]string, 0, len(l.selected))
	seen := make(map[string]struct{}, len(l.selected))
	for _, item := range l.items {
		id := item.Key()
		if _, ok := l.selected[id]; ok {
			ids = append(ids, id)
			seen[id] = struct{}{}
		}
	}
	// ids selected but not (or no longer) loaded are kept so they are still deleted.
	for id := range l.selected {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// ClearSelection empties the selection set.
func (l *List[T]) ClearSelection() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected = make(map[string]struct{})
}

// DeleteSelected removes every selected record after confirmation and
// returns the count the backend reported. On success the ids are dropped
// from the local list and the selection is cleared; on failure local state
// is left unchanged.
func (l *List[T]) DeleteSelected(ctx context.Context, c Confirmer) (int, error) {
	ids := l.Selected()
	if len(ids) == 0 {
		return 0, ErrEmptySelection
	}

	prompt := fmt.Sprintf("Permanently delete %d %s and their stored images?", len(ids), l.noun)
	if err := Confirm(ctx, c, prompt); err != nil {
		return 0, err
	}

	n, err := l.remove(ctx, ids)
	if err != nil {
		return 0, err
	}
	if n != len(ids) {
		slog.Warn("Backend deleted a different number of records than requested", "noun", l.noun, "requested", len(ids), "deleted", n)
	}

	// Ids the backend did not delete no longer exist for this user either.
	l.Remove(ids...)
	l.ClearSelection()
	slog.Info("Deleted records", "noun", l.noun, "count", n)
	return n, nil
}

// Remove drops records from the local list without contacting the backend.
func (l *List[T]) Remove(ids ...string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.items[:0]
	for _, item := range l.items {
		if _, ok := drop[item.Key()]; !ok {
			kept = append(kept, item)
		}
	}
	l.items = kept
	for id := range drop {
		delete(l.selected, id)
	}
}
