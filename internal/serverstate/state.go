// Package serverstate mirrors one server's channels, categories, members,
// roles, invites and voice presence from the server socket.
package serverstate

import (
	"go-chatsync/pkg/chat"
)

// State is an immutable snapshot of a server. Reducers return a new State
// and never modify slices or maps of the input.
type State struct {
	ServerID   string
	Channels   []chat.Channel
	Categories []chat.Category
	Members    []chat.Member
	Roles      []chat.Role
	Invites    []chat.Invite

	// Statuses maps user id to online status as last reported.
	Statuses map[string]string
}

func (s State) Channel(id string) (chat.Channel, bool) {
	if i := indexOf(s.Channels, id, channelID); i >= 0 {
		return s.Channels[i], true
	}
	return chat.Channel{}, false
}

func (s State) Member(userID string) (chat.Member, bool) {
	if i := indexOf(s.Members, userID, memberID); i >= 0 {
		return s.Members[i], true
	}
	return chat.Member{}, false
}

func channelID(c chat.Channel) string   { return c.ID }
func categoryID(c chat.Category) string { return c.ID }
func memberID(m chat.Member) string     { return m.UserID }
func roleID(r chat.Role) string         { return r.ID }
func inviteCode(i chat.Invite) string   { return i.Code }

func indexOf[T any](list []T, id string, key func(T) string) int {
	for i := range list {
		if key(list[i]) == id {
			return i
		}
	}
	return -1
}

// upsertAbsent appends item unless an entry with the same key exists.
func upsertAbsent[T any](list []T, item T, key func(T) string) []T {
	if indexOf(list, key(item), key) >= 0 {
		return list
	}
	out := make([]T, 0, len(list)+1)
	out = append(out, list...)
	return append(out, item)
}

// replacePresent swaps the entry with item's key. Unknown keys are ignored.
func replacePresent[T any](list []T, item T, key func(T) string) []T {
	i := indexOf(list, key(item), key)
	if i < 0 {
		return list
	}
	out := make([]T, len(list))
	copy(out, list)
	out[i] = item
	return out
}

func removeKey[T any](list []T, id string, key func(T) string) []T {
	i := indexOf(list, id, key)
	if i < 0 {
		return list
	}
	out := make([]T, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

func cloneList[T any](list []T) []T {
	if list == nil {
		return nil
	}
	out := make([]T, len(list))
	copy(out, list)
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
