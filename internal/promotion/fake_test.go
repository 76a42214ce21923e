package promotion

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/forwhat-rbx/clannr-sub000/internal/audit"
	"github.com/forwhat-rbx/clannr-sub000/internal/roblox"
	"github.com/forwhat-rbx/clannr-sub000/internal/storage"
)

// ------------------------
// Fake User Store
// ------------------------

type FakeUserStore struct {
	GetAllUsersFunc func(ctx context.Context) ([]*storage.User, error)
}

func (f *FakeUserStore) GetAllUsers(ctx context.Context) ([]*storage.User, error) {
	if f.GetAllUsersFunc != nil {
		return f.GetAllUsersFunc(ctx)
	}
	return nil, nil
}

// ------------------------
// Fake Group
// ------------------------

type FakeGroup struct {
	mu      sync.Mutex
	ranks   map[int64]int // userID -> current rank; absent = not in group
	roles   []roblox.Role
	updates []int64 // userIDs whose rank was updated, in call order

	GetRolesFunc     func(ctx context.Context) ([]roblox.Role, error)
	GetMemberFunc    func(ctx context.Context, userID int64) (*roblox.GroupMember, error)
	UpdateMemberFunc func(ctx context.Context, userID, roleID int64) error
	RefreshAuthFunc  func(ctx context.Context) error
	refreshCalls     int
}

func NewFakeGroup(roles []roblox.Role) *FakeGroup {
	return &FakeGroup{ranks: make(map[int64]int), roles: roles}
}

func (f *FakeGroup) SetRank(userID int64, rank int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ranks[userID] = rank
}

func (f *FakeGroup) roleByRank(rank int) roblox.Role {
	for _, r := range f.roles {
		if r.Rank == rank {
			return r
		}
	}
	return roblox.Role{Name: fmt.Sprintf("rank %d", rank), Rank: rank}
}

func (f *FakeGroup) Updates() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.updates...)
}

func (f *FakeGroup) GetRoles(ctx context.Context) ([]roblox.Role, error) {
	if f.GetRolesFunc != nil {
		return f.GetRolesFunc(ctx)
	}
	return append([]roblox.Role(nil), f.roles...), nil
}

func (f *FakeGroup) GetMember(ctx context.Context, userID int64) (*roblox.GroupMember, error) {
	if f.GetMemberFunc != nil {
		return f.GetMemberFunc(ctx, userID)
	}
	return f.lookup(userID)
}

func (f *FakeGroup) lookup(userID int64) (*roblox.GroupMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rank, ok := f.ranks[userID]
	if !ok {
		return nil, roblox.ErrNotInGroup
	}
	return &roblox.GroupMember{ID: userID, Name: "user" + strconv.FormatInt(userID, 10), Role: f.roleByRank(rank)}, nil
}

func (f *FakeGroup) UpdateMember(ctx context.Context, userID, roleID int64) error {
	if f.UpdateMemberFunc != nil {
		if err := f.UpdateMemberFunc(ctx, userID, roleID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, userID)
	for _, r := range f.roles {
		if r.ID == roleID {
			f.ranks[userID] = r.Rank
		}
	}
	return nil
}

func (f *FakeGroup) RefreshAuth(ctx context.Context) error {
	f.mu.Lock()
	f.refreshCalls++
	f.mu.Unlock()
	if f.RefreshAuthFunc != nil {
		return f.RefreshAuthFunc(ctx)
	}
	return nil
}

// ------------------------
// Fake Channel
// ------------------------

type FakeChannel struct {
	mu       sync.Mutex
	messages []Message
	nextID   int
	sent     []Status
	edits    []string
	bulk     [][]string
	deleted  []string

	EditFunc   func(ctx context.Context, id string, status Status) error
	DeleteFunc func(ctx context.Context, id string) error
}

func (f *FakeChannel) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...), nil
}

func (f *FakeChannel) BulkDelete(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulk = append(f.bulk, ids)
	f.remove(ids...)
	return nil
}

func (f *FakeChannel) Send(ctx context.Context, status Status) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := "msg-" + strconv.Itoa(f.nextID)
	f.sent = append(f.sent, status)
	f.messages = append(f.messages, Message{ID: id, Own: true})
	return id, nil
}

func (f *FakeChannel) Edit(ctx context.Context, id string, status Status) error {
	if f.EditFunc != nil {
		if err := f.EditFunc(ctx, id, status); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, id)
	return nil
}

func (f *FakeChannel) Delete(ctx context.Context, id string) error {
	if f.DeleteFunc != nil {
		if err := f.DeleteFunc(ctx, id); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	f.remove(id)
	return nil
}

func (f *FakeChannel) remove(ids ...string) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := f.messages[:0]
	for _, m := range f.messages {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	f.messages = kept
}

// ------------------------
// Fake Auditor
// ------------------------

type FakeAuditor struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *FakeAuditor) Record(ctx context.Context, e audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func (f *FakeAuditor) Entries() []audit.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]audit.Entry(nil), f.entries...)
}
