package message

import (
	"go-chatsync/pkg/chat"
)

// Reducer computes the cache after one event. Reducers are pure and
// idempotent: the same frame applied twice yields the same cache as once.
// Events that reference unknown messages return the input unchanged.
type Reducer func(Cache, chat.Frame) (Cache, error)

var reducers = map[string]Reducer{
	chat.EventMessageCreated:  messageCreated,
	chat.EventMessageUpdated:  messageUpdated,
	chat.EventMessageDeleted:  messageDeleted,
	chat.EventReactionAdded:   reactionAdded,
	chat.EventReactionRemoved: reactionRemoved,
}

// Apply runs the reducer registered for f.Type. handled is false for event
// types this package does not reduce.
func Apply(c Cache, f chat.Frame) (next Cache, handled bool, err error) {
	r, ok := reducers[f.Type]
	if !ok {
		return c, false, nil
	}
	next, err = r(c, f)
	if err != nil {
		return c, true, err
	}
	return next, true, nil
}

func messageCreated(c Cache, f chat.Frame) (Cache, error) {
	var msg chat.Message
	if err := f.Decode(&msg); err != nil {
		return c, err
	}
	if _, _, ok := c.Find(msg.ID); ok {
		return c, nil
	}
	if len(c.Pages) == 0 {
		return Cache{Pages: [][]chat.Message{{msg}}, ReachedStart: c.ReachedStart}, nil
	}
	return c.withPage(0, insertSorted(c.Pages[0], msg)), nil
}

func messageUpdated(c Cache, f chat.Frame) (Cache, error) {
	var msg chat.Message
	if err := f.Decode(&msg); err != nil {
		return c, err
	}
	p, i, ok := c.Find(msg.ID)
	if !ok {
		return c, nil
	}
	return c.withMessage(p, i, msg), nil
}

func messageDeleted(c Cache, f chat.Frame) (Cache, error) {
	var ref chat.MessageRef
	if err := f.Decode(&ref); err != nil {
		return c, err
	}
	p, i, ok := c.Find(ref.MessageID)
	if !ok {
		return c, nil
	}
	old := c.Pages[p]
	page := make([]chat.Message, 0, len(old)-1)
	page = append(page, old[:i]...)
	page = append(page, old[i+1:]...)
	return c.withPage(p, page), nil
}

func reactionAdded(c Cache, f chat.Frame) (Cache, error) {
	var ev chat.ReactionEvent
	if err := f.Decode(&ev); err != nil {
		return c, err
	}
	p, i, ok := c.Find(ev.MessageID)
	if !ok {
		return c, nil
	}
	msg := c.Pages[p][i]
	r := ev.Reaction()
	if msg.HasReaction(r) {
		return c, nil
	}
	reactions := make([]chat.Reaction, 0, len(msg.Reactions)+1)
	reactions = append(reactions, msg.Reactions...)
	msg.Reactions = append(reactions, r)
	return c.withMessage(p, i, msg), nil
}

func reactionRemoved(c Cache, f chat.Frame) (Cache, error) {
	var ev chat.ReactionEvent
	if err := f.Decode(&ev); err != nil {
		return c, err
	}
	p, i, ok := c.Find(ev.MessageID)
	if !ok {
		return c, nil
	}
	msg := c.Pages[p][i]
	r := ev.Reaction()
	if !msg.HasReaction(r) {
		return c, nil
	}
	reactions := make([]chat.Reaction, 0, len(msg.Reactions)-1)
	for _, existing := range msg.Reactions {
		if existing != r {
			reactions = append(reactions, existing)
		}
	}
	msg.Reactions = reactions
	return c.withMessage(p, i, msg), nil
}
