package serverstate

import (
	"go-chatsync/pkg/chat"
)

// Reducer computes the state after one event. Like the message reducers
// they are pure, idempotent and no-ops for unknown ids.
type Reducer func(State, chat.Frame) (State, error)

var reducers = map[string]Reducer{
	chat.EventChannelCreated:    decoded(func(s State, c chat.Channel) State { s.Channels = upsertAbsent(s.Channels, c, channelID); return s }),
	chat.EventChannelUpdated:    decoded(func(s State, c chat.Channel) State { s.Channels = replacePresent(s.Channels, c, channelID); return s }),
	chat.EventChannelDeleted:    decoded(func(s State, r chat.ChannelRef) State { s.Channels = removeKey(s.Channels, r.Key(), channelID); return s }),
	chat.EventChannelsReordered: decoded(func(s State, list []chat.Channel) State { s.Channels = cloneList(list); return s }),

	chat.EventCategoryCreated:     decoded(func(s State, c chat.Category) State { s.Categories = upsertAbsent(s.Categories, c, categoryID); return s }),
	chat.EventCategoryUpdated:     decoded(func(s State, c chat.Category) State { s.Categories = replacePresent(s.Categories, c, categoryID); return s }),
	chat.EventCategoryDeleted:     decoded(categoryDeleted),
	chat.EventCategoriesReordered: decoded(func(s State, list []chat.Category) State { s.Categories = cloneList(list); return s }),

	chat.EventMemberJoined:  decoded(memberJoined),
	chat.EventMemberLeft:    decoded(memberRemoved),
	chat.EventMemberKicked:  decoded(memberRemoved),
	chat.EventMemberBanned:  decoded(memberRemoved),
	chat.EventMemberUpdated: decoded(func(s State, m chat.Member) State { s.Members = replacePresent(s.Members, m, memberID); return s }),

	chat.EventRoleCreated:  decoded(func(s State, r chat.Role) State { s.Roles = upsertAbsent(s.Roles, r, roleID); return s }),
	chat.EventRoleUpdated:  decoded(func(s State, r chat.Role) State { s.Roles = replacePresent(s.Roles, r, roleID); return s }),
	chat.EventRoleDeleted:  decoded(roleDeleted),
	chat.EventRoleAssigned: decoded(roleAssigned),
	chat.EventRoleRemoved:  decoded(roleRemoved),

	chat.EventInviteCreated: decoded(func(s State, i chat.Invite) State { s.Invites = upsertAbsent(s.Invites, i, inviteCode); return s }),
	chat.EventInviteDeleted: decoded(func(s State, i chat.Invite) State { s.Invites = removeKey(s.Invites, i.Code, inviteCode); return s }),

	chat.EventUserStatusChanged: decoded(statusChanged),
}

// decoded adapts a typed reducer to the frame table.
func decoded[T any](fn func(State, T) State) Reducer {
	return func(s State, f chat.Frame) (State, error) {
		var payload T
		if err := f.Decode(&payload); err != nil {
			return s, err
		}
		return fn(s, payload), nil
	}
}

// Apply runs the reducer registered for f.Type. handled is false for
// event types that are not server state, e.g. voice presence.
func Apply(s State, f chat.Frame) (next State, handled bool, err error) {
	r, ok := reducers[f.Type]
	if !ok {
		return s, false, nil
	}
	next, err = r(s, f)
	if err != nil {
		return s, true, err
	}
	return next, true, nil
}

// categoryDeleted also detaches the category's channels.
func categoryDeleted(s State, ref chat.CategoryRef) State {
	id := ref.Key()
	if indexOf(s.Categories, id, categoryID) < 0 {
		return s
	}
	s.Categories = removeKey(s.Categories, id, categoryID)

	var channels []chat.Channel
	for i, c := range s.Channels {
		if c.CategoryID == nil || *c.CategoryID != id {
			continue
		}
		if channels == nil {
			channels = cloneList(s.Channels)
		}
		channels[i].CategoryID = nil
	}
	if channels != nil {
		s.Channels = channels
	}
	return s
}

func memberJoined(s State, ref chat.MemberRef) State {
	m := chat.Member{UserID: ref.UserID, ServerID: ref.ServerID}
	s.Members = upsertAbsent(s.Members, m, memberID)
	return s
}

func memberRemoved(s State, ref chat.MemberRef) State {
	s.Members = removeKey(s.Members, ref.UserID, memberID)
	return s
}

func roleDeleted(s State, ref chat.RoleRef) State {
	if indexOf(s.Roles, ref.RoleID, roleID) < 0 {
		return s
	}
	s.Roles = removeKey(s.Roles, ref.RoleID, roleID)

	members := make([]chat.Member, len(s.Members))
	for i, m := range s.Members {
		m.RoleIDs = without(m.RoleIDs, ref.RoleID)
		members[i] = m
	}
	s.Members = members
	return s
}

func roleAssigned(s State, ref chat.RoleRef) State {
	i := indexOf(s.Members, ref.UserID, memberID)
	if i < 0 || containsString(s.Members[i].RoleIDs, ref.RoleID) {
		return s
	}
	m := s.Members[i]
	roles := make([]string, 0, len(m.RoleIDs)+1)
	m.RoleIDs = append(append(roles, m.RoleIDs...), ref.RoleID)
	s.Members = replacePresent(s.Members, m, memberID)
	return s
}

func roleRemoved(s State, ref chat.RoleRef) State {
	i := indexOf(s.Members, ref.UserID, memberID)
	if i < 0 || !containsString(s.Members[i].RoleIDs, ref.RoleID) {
		return s
	}
	m := s.Members[i]
	m.RoleIDs = without(m.RoleIDs, ref.RoleID)
	s.Members = replacePresent(s.Members, m, memberID)
	return s
}

func statusChanged(s State, ev chat.StatusChanged) State {
	if ev.UserID == "" || s.Statuses[ev.UserID] == ev.Status {
		return s
	}
	statuses := make(map[string]string, len(s.Statuses)+1)
	for k, v := range s.Statuses {
		statuses[k] = v
	}
	statuses[ev.UserID] = ev.Status
	s.Statuses = statuses
	return s
}

func without(list []string, drop string) []string {
	if !containsString(list, drop) {
		return list
	}
	out := make([]string, 0, len(list)-1)
	for _, v := range list {
		if v != drop {
			out = append(out, v)
		}
	}
	return out
}
