package chatclient

import (
	"context"

	"github.com/stayhub/chat/internal/model"
)

// ThreadListEntry is one row of the grouped thread list. GroupStart marks
// the rows that open a new kind section, so the caller can render a
// header above them without a second pass over the data.
type ThreadListEntry struct {
	Thread     model.Thread
	GroupStart bool
}

// Directory resolves and lists threads for the signed-in user. It is a
// thin layer over the REST collaborator: thread records live server-side
// and the directory never caches them.
type Directory struct {
	api *Client
}

// NewDirectory wires a directory over the REST client.
func NewDirectory(api *Client) *Directory {
	return &Directory{api: api}
}

// FindOrCreate resolves the thread for (current user, other party,
// listing). Idempotent: the same tuple always yields the same thread id,
// no matter how many times or from which side it is called.
func (d *Directory) FindOrCreate(ctx context.Context, req FindOrCreateRequest) (*model.Thread, error) {
	return d.api.FindOrCreateThread(ctx, req)
}

// Get fetches a single thread. A thread the user does not participate in
// surfaces as ErrForbidden, not a not-found error.
func (d *Directory) Get(ctx context.Context, threadID string) (*model.Thread, error) {
	return d.api.GetThread(ctx, threadID)
}

// List returns one page of the user's threads ordered by last activity,
// newest first, with group boundaries precomputed.
func (d *Directory) List(ctx context.Context, page, limit int) ([]ThreadListEntry, error) {
	threads, err := d.api.MyThreads(ctx, page, limit)
	if err != nil {
		return nil, err
	}
	return GroupThreads(threads), nil
}

// GroupThreads marks kind-group boundaries in an already-sorted thread
// sequence. The boundary is computed per entry against its predecessor,
// not by an upfront grouping pass, so headers stay stable when more
// pages are appended to the tail.
func GroupThreads(threads []model.Thread) []ThreadListEntry {
	entries := make([]ThreadListEntry, len(threads))
	for i, t := range threads {
		entries[i] = ThreadListEntry{
			Thread:     t,
			GroupStart: i == 0 || threads[i-1].Kind != t.Kind,
		}
	}
	return entries
}
