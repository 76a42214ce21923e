package roblox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGroupID = 4242

type fakeRoblox struct {
	t           *testing.T
	token       atomic.Value
	patchCalls  atomic.Int32
	userCalls   atomic.Int32
	rolesCalls  atomic.Int32
	rateLimited atomic.Bool
	lastRoleID  atomic.Int64
}

func (f *fakeRoblox) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/groups/4242", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, GroupInfo{ID: testGroupID, Name: "Test Group", MemberCount: 3})
	})
	mux.HandleFunc("GET /v1/groups/4242/roles", func(w http.ResponseWriter, r *http.Request) {
		f.rolesCalls.Add(1)
		writeJSON(w, rolesResponse{GroupID: testGroupID, Roles: []Role{
			{ID: 30, Name: "Officer", Rank: 10},
			{ID: 10, Name: "Recruit", Rank: 1},
			{ID: 20, Name: "Member", Rank: 5},
		}})
	})
	mux.HandleFunc("GET /v2/users/{id}/groups/roles", func(w http.ResponseWriter, r *http.Request) {
		switch r.PathValue("id") {
		case "1":
			writeJSON(w, map[string]any{"data": []map[string]any{
				{"group": GroupInfo{ID: 99}, "role": Role{ID: 1, Name: "Other", Rank: 200}},
				{"group": GroupInfo{ID: testGroupID}, "role": Role{ID: 20, Name: "Member", Rank: 5}},
			}})
		case "2":
			writeJSON(w, map[string]any{"data": []any{}})
		case "3":
			if f.rateLimited.CompareAndSwap(false, true) {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(w, map[string]any{"data": []map[string]any{
				{"group": GroupInfo{ID: testGroupID}, "role": Role{ID: 10, Name: "Recruit", Rank: 1}},
			}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("GET /v1/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.userCalls.Add(1)
		if r.PathValue("id") == "1" {
			writeJSON(w, userResponse{ID: 1, Name: "builderman"})
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("PATCH /v1/groups/4242/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.patchCalls.Add(1)
		if r.Header.Get(csrfHeader) != f.currentToken() {
			w.Header().Set(csrfHeader, f.currentToken())
			w.WriteHeader(http.StatusForbidden)
			writeJSON(w, map[string]any{"errors": []map[string]any{{"code": 0, "message": "Token Validation Failed"}}})
			return
		}
		cookie, err := r.Cookie(".ROBLOSECURITY")
		if err != nil || cookie.Value != "cookie" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			RoleID int64 `json:"roleId"`
		}
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.lastRoleID.Store(body.RoleID)
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("POST /v2/logout", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(csrfHeader, f.currentToken())
		w.WriteHeader(http.StatusForbidden)
	})
	return mux
}

func (f *fakeRoblox) currentToken() string {
	return f.token.Load().(string)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestGroup(t *testing.T) (*Group, *fakeRoblox) {
	t.Helper()
	fake := &fakeRoblox{t: t}
	fake.token.Store("token-1")
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	client := NewClient("cookie",
		WithBaseURLs(BaseURLs{Groups: srv.URL, Users: srv.URL, Auth: srv.URL}),
		WithRateLimit(1000, 100),
	)
	group, err := client.LoadGroup(context.Background(), testGroupID)
	require.NoError(t, err)
	return group, fake
}

func TestLoadGroup(t *testing.T) {
	group, _ := newTestGroup(t)
	assert.Equal(t, "Test Group", group.Info().Name)
	assert.Equal(t, "token-1", group.client.token())
}

func TestGetRolesSortedAndCached(t *testing.T) {
	group, fake := newTestGroup(t)
	ctx := context.Background()

	roles, err := group.GetRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, []int{1, 5, 10}, []int{roles[0].Rank, roles[1].Rank, roles[2].Rank})

	roles[0].Name = "mutated"
	again, err := group.GetRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Recruit", again[0].Name)
	assert.Equal(t, int32(1), fake.rolesCalls.Load())
}

func TestGetMember(t *testing.T) {
	group, fake := newTestGroup(t)
	ctx := context.Background()

	member, err := group.GetMember(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "builderman", member.Name)
	assert.Equal(t, 5, member.Role.Rank)

	_, err = group.GetMember(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fake.userCalls.Load(), "username should be cached")

	// Fresh entries survive a sweep
	group.SweepCaches()
	assert.Equal(t, 1, group.names.Len())

	_, err = group.GetMember(ctx, 2)
	assert.ErrorIs(t, err, ErrNotInGroup)

	_, err = group.GetMember(ctx, 500)
	assert.Equal(t, KindServer, KindOf(err))
}

func TestGetMemberRetriesRateLimitOnce(t *testing.T) {
	group, _ := newTestGroup(t)

	member, err := group.GetMember(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, member.Role.Rank)
	assert.Equal(t, "3", member.Name, "unresolvable usernames fall back to the id")
}

func TestUpdateMemberAuthExpired(t *testing.T) {
	group, fake := newTestGroup(t)
	ctx := context.Background()

	fake.token.Store("token-2")
	err := group.UpdateMember(ctx, 1, 30)
	require.Error(t, err)
	assert.True(t, IsAuthExpired(err))

	require.NoError(t, group.RefreshAuth(ctx))
	require.NoError(t, group.UpdateMember(ctx, 1, 30))
	assert.Equal(t, int64(30), fake.lastRoleID.Load())
	assert.Equal(t, int32(2), fake.patchCalls.Load())
}

func TestTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient("cookie", WithBaseURLs(BaseURLs{Groups: srv.URL}), WithTimeout(20*time.Millisecond))
	_, err := client.LoadGroup(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
	assert.Equal(t, KindRateLimited, KindOf(&APIError{Kind: KindRateLimited}))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, "rate_limited", KindRateLimited.String())
}

func TestWithTimeoutIgnoresOptionOrder(t *testing.T) {
	shared := &http.Client{Timeout: time.Minute}

	before := NewClient("cookie", WithTimeout(3*time.Second), WithHTTPClient(shared))
	after := NewClient("cookie", WithHTTPClient(shared), WithTimeout(3*time.Second))

	assert.Equal(t, 3*time.Second, before.httpClient.Timeout)
	assert.Equal(t, 3*time.Second, after.httpClient.Timeout)
	assert.Equal(t, time.Minute, shared.Timeout)

	assert.Equal(t, 20*time.Second, NewClient("cookie").httpClient.Timeout)
}
