package verify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"qme/internal/models"
	"qme/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type memStore struct {
	mu         sync.Mutex
	guests     map[string]models.Guest
	challenges map[string]models.Challenge
	failSave   error
}

func newMemStore(guests ...models.Guest) *memStore {
	m := &memStore{guests: map[string]models.Guest{}, challenges: map[string]models.Challenge{}}
	for _, guest := range guests {
		m.guests[guest.GuestID] = guest
	}
	return m
}

func (m *memStore) SaveChallenge(_ context.Context, challenge models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave != nil {
		return m.failSave
	}
	m.challenges[challenge.GuestID] = challenge
	return nil
}

func (m *memStore) GetChallenge(_ context.Context, guestID string) (models.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	challenge, ok := m.challenges[guestID]
	if !ok {
		return models.Challenge{}, store.ErrChallengeNotFound
	}
	return challenge, nil
}

func (m *memStore) DeleteChallenge(_ context.Context, guestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.challenges, guestID)
	return nil
}

func (m *memStore) CreateGuest(_ context.Context, guest models.Guest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guests[guest.GuestID] = guest
	return nil
}

func (m *memStore) GetGuest(_ context.Context, guestID string) (models.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	guest, ok := m.guests[guestID]
	if !ok {
		return models.Guest{}, store.ErrGuestNotFound
	}
	return guest, nil
}

func (m *memStore) GetGuestByPhone(_ context.Context, phone string) (models.Guest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, guest := range m.guests {
		if guest.Phone == phone {
			return guest, nil
		}
	}
	return models.Guest{}, store.ErrGuestNotFound
}

type captureSender struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (s *captureSender) Send(_ context.Context, message, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return s.err
}

var rana = models.Guest{GuestID: "g-1", Name: "Rana", Phone: "+96170123456"}

func newTestGate(st Store, sender *captureSender, now func() time.Time) *Gate {
	opts := Options{HashCost: bcrypt.MinCost, Now: now}
	if sender != nil {
		opts.Sender = sender
	}
	return NewGate(st, opts)
}

func TestCheckChallengeSucceedsOnce(t *testing.T) {
	sender := &captureSender{}
	gate := newTestGate(newMemStore(rana), sender, nil)
	ctx := context.Background()

	code, err := gate.IssueChallenge(ctx, rana.GuestID)
	require.NoError(t, err)
	assert.Len(t, code, DefaultDigits)
	require.Len(t, sender.messages, 1)
	assert.Contains(t, sender.messages[0], code)

	ok, err := gate.CheckChallenge(ctx, rana.GuestID, code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.CheckChallenge(ctx, rana.GuestID, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMismatchConsumesChallenge(t *testing.T) {
	gate := newTestGate(newMemStore(rana), &captureSender{}, nil)
	ctx := context.Background()

	code, err := gate.IssueChallenge(ctx, rana.GuestID)
	require.NoError(t, err)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	ok, err := gate.CheckChallenge(ctx, rana.GuestID, wrong)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = gate.CheckChallenge(ctx, rana.GuestID, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewChallengeSupersedesOld(t *testing.T) {
	gate := newTestGate(newMemStore(rana), &captureSender{}, nil)
	ctx := context.Background()

	first, err := gate.IssueChallenge(ctx, rana.GuestID)
	require.NoError(t, err)
	second, err := gate.IssueChallenge(ctx, rana.GuestID)
	require.NoError(t, err)

	if first != second {
		ok, err := gate.CheckChallenge(ctx, rana.GuestID, first)
		require.NoError(t, err)
		assert.False(t, ok)
		return
	}
	ok, err := gate.CheckChallenge(ctx, rana.GuestID, second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpiredChallengeFails(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	gate := NewGate(newMemStore(rana), Options{HashCost: bcrypt.MinCost, TTL: time.Minute, Now: clock})
	ctx := context.Background()

	code, err := gate.IssueChallenge(ctx, rana.GuestID)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	ok, err := gate.CheckChallenge(ctx, rana.GuestID, code)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckWithoutChallenge(t *testing.T) {
	gate := newTestGate(newMemStore(rana), nil, nil)
	ok, err := gate.CheckChallenge(context.Background(), rana.GuestID, "123456")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIssueChallengeErrors(t *testing.T) {
	st := newMemStore(rana)
	gate := newTestGate(st, nil, nil)
	ctx := context.Background()

	_, err := gate.IssueChallenge(ctx, "missing")
	assert.ErrorIs(t, err, ErrGuestNotFound)

	st.failSave = errors.New("disk full")
	_, err = gate.IssueChallenge(ctx, rana.GuestID)
	assert.ErrorIs(t, err, store.ErrStorage)
}

func TestSendFailureStillIssues(t *testing.T) {
	sender := &captureSender{err: errors.New("provider down")}
	gate := newTestGate(newMemStore(rana), sender, nil)

	code, err := gate.IssueChallenge(context.Background(), rana.GuestID)
	require.NoError(t, err)
	ok, err := gate.CheckChallenge(context.Background(), rana.GuestID, code)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterReusesPhone(t *testing.T) {
	gate := newTestGate(newMemStore(rana), nil, nil)
	ctx := context.Background()

	guest, err := gate.Register(ctx, "Someone", rana.Phone)
	require.NoError(t, err)
	assert.Equal(t, rana.GuestID, guest.GuestID)

	created, err := gate.Register(ctx, " Maya ", "+96171000000")
	require.NoError(t, err)
	assert.NotEqual(t, rana.GuestID, created.GuestID)
	assert.Equal(t, "Maya", created.Name)
}

func TestRegisterValidates(t *testing.T) {
	gate := newTestGate(newMemStore(), nil, nil)
	cases := []struct{ name, phone string }{
		{"", "+96170123456"},
		{"a name that is clearly longer than thirty", "+96170123456"},
		{"Rana", ""},
		{"Rana", "96170123456"},
		{"Rana", "+961-70-123"},
		{"Rana", "+123"},
		{"Rana", "+123456789012345678901"},
	}
	for _, tc := range cases {
		_, err := gate.Register(context.Background(), tc.name, tc.phone)
		assert.ErrorIs(t, err, ErrInvalidInput, "name=%q phone=%q", tc.name, tc.phone)
	}
}

func TestConcurrentChecksAcceptOnce(t *testing.T) {
	gate := newTestGate(newMemStore(rana), nil, nil)
	ctx := context.Background()
	code, err := gate.IssueChallenge(ctx, rana.GuestID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := gate.CheckChallenge(ctx, rana.GuestID, code)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, accepted)
}
