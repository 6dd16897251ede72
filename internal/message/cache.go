// Package message keeps the per-channel message cache in sync with the
// realtime socket.
package message

import (
	"go-chatsync/pkg/chat"
)

// Cache is an immutable view of a channel's loaded history. Pages[0] is the
// newest page; messages inside a page are oldest first. Message ids are
// unique across pages. Reducers never modify a Cache in place.
type Cache struct {
	Pages [][]chat.Message

	// ReachedStart is set once an older-page fetch comes back short.
	ReachedStart bool
}

// Messages returns every cached message oldest first.
func (c Cache) Messages() []chat.Message {
	out := make([]chat.Message, 0, c.Len())
	for i := len(c.Pages) - 1; i >= 0; i-- {
		out = append(out, c.Pages[i]...)
	}
	return out
}

func (c Cache) Len() int {
	n := 0
	for _, p := range c.Pages {
		n += len(p)
	}
	return n
}

// Find locates a message by id.
func (c Cache) Find(id string) (page, index int, ok bool) {
	for p, msgs := range c.Pages {
		for i := range msgs {
			if msgs[i].ID == id {
				return p, i, true
			}
		}
	}
	return 0, 0, false
}

func (c Cache) Get(id string) (chat.Message, bool) {
	p, i, ok := c.Find(id)
	if !ok {
		return chat.Message{}, false
	}
	return c.Pages[p][i], true
}

// OldestID is the pagination cursor for the next older page.
func (c Cache) OldestID() string {
	for i := len(c.Pages) - 1; i >= 0; i-- {
		if len(c.Pages[i]) > 0 {
			return c.Pages[i][0].ID
		}
	}
	return ""
}

// withPage returns a copy of c whose page p is replaced.
func (c Cache) withPage(p int, page []chat.Message) Cache {
	pages := make([][]chat.Message, len(c.Pages))
	copy(pages, c.Pages)
	pages[p] = page
	return Cache{Pages: pages, ReachedStart: c.ReachedStart}
}

// withMessage returns a copy of c where message (p, i) is replaced by m.
func (c Cache) withMessage(p, i int, m chat.Message) Cache {
	page := make([]chat.Message, len(c.Pages[p]))
	copy(page, c.Pages[p])
	page[i] = m
	return c.withPage(p, page)
}

// Reset replaces the whole cache with the newest page from the server.
func Reset(newest []chat.Message, pageSize int) Cache {
	page := dedupe(nil, newest)
	return Cache{
		Pages:        [][]chat.Message{page},
		ReachedStart: pageSize > 0 && len(newest) < pageSize,
	}
}

// CatchUp folds the newest page fetched after a reconnect into c. Unlike
// Reset it keeps older pages, so history the user already scrolled through
// survives a flapping connection. Messages missed while offline are added
// and cached copies are replaced by the server's version.
func CatchUp(c Cache, newest []chat.Message, pageSize int) Cache {
	if len(c.Pages) == 0 {
		return Reset(newest, pageSize)
	}
	for _, m := range dedupe(nil, newest) {
		if p, i, ok := c.Find(m.ID); ok {
			c = c.withMessage(p, i, m)
			continue
		}
		c = c.withPage(0, insertSorted(c.Pages[0], m))
	}
	return c
}

// MergeOlder appends a page fetched with the OldestID cursor. Messages
// already cached are skipped so pages never overlap.
func MergeOlder(c Cache, older []chat.Message, pageSize int) Cache {
	page := dedupe(&c, older)

	out := Cache{ReachedStart: c.ReachedStart || (pageSize > 0 && len(older) < pageSize)}
	out.Pages = make([][]chat.Message, len(c.Pages), len(c.Pages)+1)
	copy(out.Pages, c.Pages)
	if len(page) > 0 {
		out.Pages = append(out.Pages, page)
	}
	return out
}

// dedupe drops messages already present in c or repeated in msgs, and
// sorts the rest oldest first.
func dedupe(c *Cache, msgs []chat.Message) []chat.Message {
	seen := make(map[string]struct{}, len(msgs))
	out := make([]chat.Message, 0, len(msgs))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		if c != nil {
			if _, _, ok := c.Find(m.ID); ok {
				continue
			}
		}
		seen[m.ID] = struct{}{}
		out = insertSorted(out, m)
	}
	return out
}

// insertSorted places m after every message created at or before it.
func insertSorted(page []chat.Message, m chat.Message) []chat.Message {
	i := len(page)
	for i > 0 && page[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	out := make([]chat.Message, 0, len(page)+1)
	out = append(out, page[:i]...)
	out = append(out, m)
	return append(out, page[i:]...)
}
