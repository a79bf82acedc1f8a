package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oksasatya/homekeep/internal/apperr"
	"github.com/oksasatya/homekeep/internal/cache"
	"github.com/oksasatya/homekeep/internal/domain/entity"
	repo "github.com/oksasatya/homekeep/internal/domain/repository"
	"github.com/oksasatya/homekeep/internal/realtime"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestCache() *cache.Client {
	c := cache.NewClient(cache.NewMemoryStore(), nil)
	c.Retry = apperr.RetryOptions{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	return c
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev realtime.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) resources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Resource+":"+string(ev.Type))
	}
	return out
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*entity.User
}

func newFakeUsers(users ...entity.User) *fakeUsers {
	f := &fakeUsers{users: map[string]*entity.User{}}
	for i := range users {
		u := users[i]
		f.users[u.ID] = &u
	}
	return f
}

func (f *fakeUsers) Create(_ context.Context, u *entity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, x := range f.users {
		if x.Email == u.Email {
			return apperr.New(apperr.CodeUniqueViolation, "duplicate email")
		}
	}
	u.ID = fmt.Sprintf("u%d", len(f.users)+1)
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*entity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeUsers) Update(_ context.Context, u *entity.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *u
	f.users[u.ID] = &cp
	return nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id].Password = hash
	return nil
}

func (f *fakeUsers) SetVerified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id].IsVerified = true
	return nil
}

func (f *fakeUsers) IsVerified(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].IsVerified, nil
}

type fakeHouseholds struct {
	mu          sync.Mutex
	households  map[string]*entity.Household
	memberships []entity.Membership
	users       *fakeUsers
	calls       map[string]int
	seq         int
}

func newFakeHouseholds(users *fakeUsers) *fakeHouseholds {
	return &fakeHouseholds{households: map[string]*entity.Household{}, users: users, calls: map[string]int{}}
}

func (f *fakeHouseholds) next(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s%d", prefix, f.seq)
}

func (f *fakeHouseholds) Create(_ context.Context, h *entity.Household) (*entity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID = f.next("h")
	h.CreatedAt = testNow
	cp := *h
	f.households[h.ID] = &cp
	m := entity.Membership{ID: f.next("m"), HouseholdID: h.ID, UserID: h.CreatedBy, Role: entity.RoleOwner, CreatedAt: testNow.Add(time.Duration(f.seq) * time.Second)}
	f.memberships = append(f.memberships, m)
	return &m, nil
}

func (f *fakeHouseholds) GetByID(_ context.Context, id string) (*entity.Household, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.households[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (f *fakeHouseholds) GetByInviteCode(_ context.Context, code string) (*entity.Household, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.households {
		if h.InviteCode == code {
			cp := *h
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeHouseholds) Rename(_ context.Context, id, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.households[id].Name = name
	return nil
}

func (f *fakeHouseholds) CurrentForUser(_ context.Context, userID string) (*entity.Household, *entity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["current"]++
	var mine []entity.Membership
	for _, m := range f.memberships {
		if m.UserID == userID {
			mine = append(mine, m)
		}
	}
	if len(mine) == 0 {
		return nil, nil, repo.ErrNotFound
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.Before(mine[j].CreatedAt)
		}
		return mine[i].HouseholdID < mine[j].HouseholdID
	})
	h := *f.households[mine[0].HouseholdID]
	return &h, &mine[0], nil
}

func (f *fakeHouseholds) GetMembership(_ context.Context, householdID, userID string) (*entity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.HouseholdID == householdID && m.UserID == userID {
			cp := m
			return &cp, nil
		}
	}
	return nil, repo.ErrNotFound
}

func (f *fakeHouseholds) AddMember(_ context.Context, householdID, userID string, role entity.Role) (*entity.Membership, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memberships {
		if m.HouseholdID == householdID && m.UserID == userID {
			return nil, apperr.New(apperr.CodeUniqueViolation, "duplicate membership")
		}
	}
	m := entity.Membership{ID: f.next("m"), HouseholdID: householdID, UserID: userID, Role: role, CreatedAt: testNow.Add(time.Duration(f.seq) * time.Second)}
	f.memberships = append(f.memberships, m)
	return &m, nil
}

func (f *fakeHouseholds) RemoveMember(_ context.Context, householdID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.memberships[:0]
	for _, m := range f.memberships {
		if m.HouseholdID == householdID && m.UserID == userID {
			continue
		}
		out = append(out, m)
	}
	f.memberships = out
	return nil
}

func (f *fakeHouseholds) Members(_ context.Context, householdID string) ([]entity.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["members"]++
	var out []entity.Member
	for _, m := range f.memberships {
		if m.HouseholdID != householdID {
			continue
		}
		mem := entity.Member{Membership: m}
		if u, ok := f.users.users[m.UserID]; ok {
			mem.Name = u.Name
			mem.Email = u.Email
		}
		out = append(out, mem)
	}
	return out, nil
}

func (f *fakeHouseholds) Leaderboard(_ context.Context, householdID string) ([]entity.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["leaderboard"]++
	var out []entity.LeaderboardEntry
	for _, m := range f.memberships {
		if m.HouseholdID == householdID {
			out = append(out, entity.LeaderboardEntry{UserID: m.UserID, Points: m.Points})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func (f *fakeHouseholds) award(householdID, userID string, points int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.memberships {
		if f.memberships[i].HouseholdID == householdID && f.memberships[i].UserID == userID {
			f.memberships[i].Points += points
			return f.memberships[i].Points
		}
	}
	return 0
}

type fakeTasks struct {
	mu         sync.Mutex
	tasks      map[string]*entity.Task
	households *fakeHouseholds
	listCalls  int
	seq        int
}

func newFakeTasks(h *fakeHouseholds) *fakeTasks {
	return &fakeTasks{tasks: map[string]*entity.Task{}, households: h}
}

func (f *fakeTasks) Create(_ context.Context, t *entity.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t.ID = fmt.Sprintf("t%d", f.seq)
	t.CreatedAt = testNow
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeTasks) GetByID(_ context.Context, id string) (*entity.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTasks) List(_ context.Context, householdID string, filter repo.TaskFilter) ([]entity.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := []entity.Task{}
	for _, t := range f.tasks {
		if t.HouseholdID != householdID {
			continue
		}
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeTasks) Update(_ context.Context, t *entity.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.tasks[t.ID] = &cp
	return nil
}

func (f *fakeTasks) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tasks, id)
	return nil
}

func (f *fakeTasks) Complete(_ context.Context, id, userID string) (*entity.Task, int, error) {
	f.mu.Lock()
	t, ok := f.tasks[id]
	if !ok {
		f.mu.Unlock()
		return nil, 0, repo.ErrNotFound
	}
	if t.Status == entity.TaskCompleted {
		f.mu.Unlock()
		return nil, 0, repo.ErrTaskCompleted
	}
	now := testNow
	t.CompletedBy = &userID
	t.CompletedAt = &now
	if t.IsChore() {
		from := now
		if t.DueAt != nil {
			from = *t.DueAt
		}
		t.DueAt = t.Recurrence.Next(from)
	} else {
		t.Status = entity.TaskCompleted
	}
	cp := *t
	f.mu.Unlock()
	total := f.households.award(cp.HouseholdID, userID, cp.Points)
	return &cp, total, nil
}

type fakeMessages struct {
	mu        sync.Mutex
	msgs      []entity.Message
	listCalls int
}

func (f *fakeMessages) Create(_ context.Context, m *entity.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m.ID = fmt.Sprintf("msg%d", len(f.msgs)+1)
	m.CreatedAt = testNow.Add(time.Duration(len(f.msgs)) * time.Minute)
	f.msgs = append(f.msgs, *m)
	return nil
}

func (f *fakeMessages) ListRecent(_ context.Context, householdID string, before time.Time, limit int) ([]entity.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	out := []entity.Message{}
	for i := len(f.msgs) - 1; i >= 0 && len(out) < limit; i-- {
		m := f.msgs[i]
		if m.HouseholdID != householdID {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

type memPrefsStore struct {
	blobs   map[string][]byte
	legacy  map[string]*entity.LegacyTheme
	saves   int
	dropped []string
}

func newMemPrefsStore() *memPrefsStore {
	return &memPrefsStore{blobs: map[string][]byte{}, legacy: map[string]*entity.LegacyTheme{}}
}

func (s *memPrefsStore) Load(_ context.Context, userID string) ([]byte, *entity.LegacyTheme, error) {
	return s.blobs[userID], s.legacy[userID], nil
}

func (s *memPrefsStore) Save(_ context.Context, userID string, p entity.Preferences) error {
	s.saves++
	s.blobs[userID] = []byte(fmt.Sprintf(`{"version":%d,"theme":%q,"useSystemTheme":%t,"isOnboarded":%t,"hasSeenWelcome":%t,"notificationsEnabled":%t}`,
		p.Version, p.Theme, p.UseSystemTheme, p.IsOnboarded, p.HasSeenWelcome, p.NotificationsEnabled))
	return nil
}

func (s *memPrefsStore) DropLegacy(_ context.Context, userID string) error {
	delete(s.legacy, userID)
	s.dropped = append(s.dropped, userID)
	return nil
}

type fixture struct {
	users      *fakeUsers
	households *fakeHouseholds
	tasks      *fakeTasks
	messages   *fakeMessages
	pub        *recordingPublisher
	cache      *cache.Client

	householdSvc *HouseholdService
	taskSvc      *TaskService
	messageSvc   *MessageService
	sessionSvc   *SessionService
}

func newFixture() *fixture {
	f := &fixture{
		users: newFakeUsers(
			entity.User{ID: "alice", Email: "alice@example.com", Name: "Alice"},
			entity.User{ID: "bob", Email: "bob@example.com", Name: "Bob"},
			entity.User{ID: "carol", Email: "carol@example.com", Name: "Carol"},
		),
		pub:      &recordingPublisher{},
		messages: &fakeMessages{},
		cache:    newTestCache(),
	}
	f.households = newFakeHouseholds(f.users)
	f.tasks = newFakeTasks(f.households)
	f.householdSvc = NewHouseholdService(f.households, f.users, f.cache, f.pub, nil, nil, nil)
	f.taskSvc = NewTaskService(f.tasks, f.householdSvc, f.cache, f.pub, nil, nil, "")
	f.messageSvc = NewMessageService(f.messages, f.householdSvc, f.cache, f.pub, nil)
	f.sessionSvc = NewSessionService(f.householdSvc)
	return f
}
