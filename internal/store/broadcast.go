package store

import (
	"sort"
	"sync"
	"time"

	"github.com/communitycar/realtime/internal/protocol"
)

// AccessLevel is the client's view of its standing in a group.
type AccessLevel string

const (
	AccessNone    AccessLevel = "none"
	AccessPending AccessLevel = "pending"
	AccessMember  AccessLevel = "member"
	AccessAdmin   AccessLevel = "admin"
)

// JoinRequest tracks a pending membership request visible to the user.
type JoinRequest struct {
	GroupID    string
	UserID     string
	Message    string
	Resolution string // "", "approved" or "denied"
	Reason     string
	CreatedAt  time.Time
}

// BroadcastStore holds group access state, post listings and the
// join-request lifecycle for the broadcast feed.
type BroadcastStore struct {
	mu           sync.RWMutex
	access       map[string]AccessLevel
	groupPosts   map[string][]protocol.PostSummary
	accessible   []protocol.PostSummary
	postsByID    map[string]protocol.PostSummary
	interactions map[string]int // postID -> interaction count
	requests     []*JoinRequest
	lastDenied   string
}

func NewBroadcastStore() *BroadcastStore {
	return &BroadcastStore{
		access:       make(map[string]AccessLevel),
		groupPosts:   make(map[string][]protocol.PostSummary),
		postsByID:    make(map[string]protocol.PostSummary),
		interactions: make(map[string]int),
	}
}

// GrantAccess records a granted access level for a group.
func (s *BroadcastStore) GrantAccess(groupID string, level string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lv := AccessLevel(level)
	if lv == "" {
		lv = AccessMember
	}
	s.access[groupID] = lv
}

// DenyAccess drops any access for the group and remembers the reason.
// An empty group id records the reason only.
func (s *BroadcastStore) DenyAccess(groupID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if groupID != "" {
		s.access[groupID] = AccessNone
	}
	s.lastDenied = reason
}

// MarkPending records an in-flight access request.
func (s *BroadcastStore) MarkPending(groupID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access[groupID] != AccessMember && s.access[groupID] != AccessAdmin {
		s.access[groupID] = AccessPending
	}
}

// Access returns the recorded level for the group, AccessNone if unknown.
func (s *BroadcastStore) Access(groupID string) AccessLevel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if lv, ok := s.access[groupID]; ok {
		return lv
	}
	return AccessNone
}

// ReplaceAccess overwrites the whole access map from a server listing.
func (s *BroadcastStore) ReplaceAccess(groups []protocol.GroupAccess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = make(map[string]AccessLevel, len(groups))
	for _, g := range groups {
		s.access[g.GroupID] = AccessLevel(g.Level)
	}
}

// AccessibleGroups lists groups with member or admin access, sorted by id
// for stable output.
func (s *BroadcastStore) AccessibleGroups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.access))
	for id, lv := range s.access {
		if lv == AccessMember || lv == AccessAdmin {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// SetGroupPosts replaces the post listing for one group.
func (s *BroadcastStore) SetGroupPosts(groupID string, posts []protocol.PostSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groupPosts[groupID] = append([]protocol.PostSummary(nil), posts...)
	for _, p := range posts {
		s.postsByID[p.ID] = p
	}
}

// SetAccessiblePosts replaces the cross-group accessible feed.
func (s *BroadcastStore) SetAccessiblePosts(posts []protocol.PostSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessible = append([]protocol.PostSummary(nil), posts...)
	for _, p := range posts {
		s.postsByID[p.ID] = p
	}
}

// AddPost prepends a freshly broadcast post. Duplicates by ID are ignored.
func (s *BroadcastStore) AddPost(p protocol.PostSummary) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.postsByID[p.ID]; exists {
		return false
	}
	s.postsByID[p.ID] = p
	s.accessible = append([]protocol.PostSummary{p}, s.accessible...)
	s.groupPosts[p.GroupID] = append([]protocol.PostSummary{p}, s.groupPosts[p.GroupID]...)
	return true
}

// RecordInteraction bumps the interaction count for a post.
func (s *BroadcastStore) RecordInteraction(p *protocol.InteractionPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions[p.PostID]++
}

// Interactions returns the interaction count for a post.
func (s *BroadcastStore) Interactions(postID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interactions[postID]
}

// GroupPosts returns a copy of one group's listing.
func (s *BroadcastStore) GroupPosts(groupID string) []protocol.PostSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.PostSummary(nil), s.groupPosts[groupID]...)
}

// AccessiblePosts returns a copy of the accessible feed.
func (s *BroadcastStore) AccessiblePosts() []protocol.PostSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.PostSummary(nil), s.accessible...)
}

// AddJoinRequest records an incoming join request.
func (s *BroadcastStore) AddJoinRequest(p *protocol.JoinRequestPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.GroupID == p.GroupID && r.UserID == p.UserID && r.Resolution == "" {
			return
		}
	}
	s.requests = append(s.requests, &JoinRequest{
		GroupID:   p.GroupID,
		UserID:    p.UserID,
		Message:   p.Message,
		CreatedAt: time.Now(),
	})
}

// ResolveJoinRequest settles the open request for a group/user pair.
// Approval also grants member access.
func (s *BroadcastStore) ResolveJoinRequest(groupID, userID string, approved bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.GroupID == groupID && r.UserID == userID && r.Resolution == "" {
			if approved {
				r.Resolution = "approved"
			} else {
				r.Resolution = "denied"
			}
			r.Reason = reason
		}
	}
	if approved {
		s.access[groupID] = AccessMember
	}
}

// JoinRequests returns a snapshot of the request list.
func (s *BroadcastStore) JoinRequests() []JoinRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JoinRequest, len(s.requests))
	for i, r := range s.requests {
		out[i] = *r
	}
	return out
}

// LastDenialReason returns the most recent access denial message.
func (s *BroadcastStore) LastDenialReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastDenied
}
