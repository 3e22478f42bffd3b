package live

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/lifecycle"
	"github.com/Rrens/classroom-live/internal/reaction"
	"github.com/Rrens/classroom-live/internal/registry/registrytest"
	"github.com/Rrens/classroom-live/internal/room"
	"github.com/Rrens/classroom-live/internal/room/wsprovider"
	"github.com/Rrens/classroom-live/internal/roomhub"
	"github.com/Rrens/classroom-live/internal/security"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

type fakeAPI struct {
	*registrytest.Backend

	signer *security.RoomTokenSigner
	wsURL  string
	host   bool

	issues   atomic.Int32
	issueErr error

	mu       sync.Mutex
	history  []domain.ChatMessage
	feedURLs []string
}

func (a *fakeAPI) credential(sessionID uuid.UUID, name string) (*domain.TokenCredential, error) {
	session, ok := a.Session(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, sessionID)
	}
	roomName, err := session.RoomName()
	if err != nil {
		return nil, err
	}
	token, err := a.signer.Sign(security.RoomGrant{Room: roomName, Identity: "me", Name: name, Host: a.host})
	if err != nil {
		return nil, err
	}
	role := domain.RoomRoleParticipant
	if a.host {
		role = domain.RoomRoleHost
	}
	return &domain.TokenCredential{
		Token:     token.Token,
		WSURL:     a.wsURL,
		RoomName:  roomName,
		Identity:  "me",
		Name:      name,
		Role:      role,
		SessionID: sessionID,
		IssuedAt:  token.IssuedAt,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (a *fakeAPI) IssueToken(ctx context.Context, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	a.issues.Add(1)
	if a.issueErr != nil {
		return nil, a.issueErr
	}
	return a.credential(sessionID, req.ParticipantName)
}

func (a *fakeAPI) RefreshToken(ctx context.Context, slug string, sessionID uuid.UUID, req domain.TokenRequest) (*domain.TokenCredential, error) {
	return a.credential(sessionID, req.ParticipantName)
}

func (a *fakeAPI) ListMessages(ctx context.Context, slug string, sessionID uuid.UUID, limit, offset int) ([]domain.ChatMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.ChatMessage(nil), a.history...), nil
}

func (a *fakeAPI) SendMessage(ctx context.Context, slug string, sessionID uuid.UUID, input domain.MessageCreate) (*domain.ChatMessage, error) {
	return &domain.ChatMessage{ID: "sent-1", SessionID: sessionID, Content: input.Content, Timestamp: testNow}, nil
}

func (a *fakeAPI) GetAttachment(ctx context.Context, slug string, id uuid.UUID) (*domain.Attachment, error) {
	return nil, fmt.Errorf("%w: attachment", domain.ErrNotFound)
}

func (a *fakeAPI) FeedURL(slug string, sessionID uuid.UUID) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	u := "ws://feed.test/" + slug + "/" + sessionID.String()
	a.feedURLs = append(a.feedURLs, u)
	return u
}

type fakeFeed struct {
	events    chan domain.MessageEvent
	closeOnce sync.Once
	closed    atomic.Bool
}

func (f *fakeFeed) Events() <-chan domain.MessageEvent { return f.events }
func (f *fakeFeed) Err() error                         { return nil }
func (f *fakeFeed) Close() error {
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.events)
	})
	return nil
}

type fixture struct {
	api    *fakeAPI
	feed   *fakeFeed
	hub    *roomhub.Hub
	signer *security.RoomTokenSigner
	wsURL  string
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T, host bool) *fixture {
	t.Helper()
	signer := security.NewRoomTokenSigner("devkey", "devsecret-devsecret-devsecret-00", time.Hour, nil)
	hub := roomhub.NewHub(signer)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	clock := clockwork.NewFakeClockAt(testNow)
	return &fixture{
		api: &fakeAPI{
			Backend: registrytest.NewBackend(clock.Now),
			signer:  signer,
			wsURL:   wsURL,
			host:    host,
		},
		feed:   &fakeFeed{events: make(chan domain.MessageEvent, 8)},
		hub:    hub,
		signer: signer,
		wsURL:  wsURL,
		clock:  clock,
	}
}

func (f *fixture) classroom(t *testing.T, privileged bool) *Classroom {
	t.Helper()
	c, err := New(Config{
		Classroom:       "Algebra",
		ParticipantName: "Ada",
		Privileged:      privileged,
		PollInterval:    time.Minute,
		Lifecycle:       lifecycle.Config{StartInterval: time.Minute, EndInterval: 5 * time.Minute},
	}, Deps{
		API: f.api,
		Feeds: func(ctx context.Context, url string) (Feed, error) {
			return f.feed, nil
		},
		Rooms: wsprovider.New(nil),
		Clock: f.clock,
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func (f *fixture) liveSession(t *testing.T) domain.LiveSession {
	t.Helper()
	started := testNow.Add(-10 * time.Minute)
	s := domain.LiveSession{
		ID:        uuid.New(),
		PublicID:  "abc123",
		Title:     "Algebra Review",
		StartsAt:  started,
		StartedAt: &started,
		Status:    domain.StatusLive,
	}
	f.api.Put(s)
	return s
}

func TestClassroom_JoinWiresEverything(t *testing.T) {
	f := newFixture(t, false)
	session := f.liveSession(t)
	f.api.history = []domain.ChatMessage{{ID: "m1", SessionID: session.ID, Content: "welcome", Timestamp: testNow.Add(-time.Minute)}}
	c := f.classroom(t, false)

	joined, err := c.Join(context.Background(), session.ID)
	require.NoError(t, err)
	assert.Same(t, joined, c.Current())
	assert.Equal(t, room.StateConnected, joined.Room().State())
	assert.Equal(t, "Algebra Review", joined.Info().Title)
	assert.Equal(t, []string{"ws://feed.test/algebra/" + session.ID.String()}, f.api.feedURLs)

	// history loaded, feed folded in
	f.feed.events <- domain.MessageEvent{MessageID: "m2", SessionID: session.ID, Content: "hi", CreatedAt: testNow}
	assert.Eventually(t, func() bool { return len(joined.Chat().Transcript()) == 2 }, 2*time.Second, 10*time.Millisecond)

	// remote reactions reach the layer
	roomName, err := session.RoomName()
	require.NoError(t, err)
	peerToken, err := f.signer.Sign(security.RoomGrant{Room: roomName, Identity: "peer", Name: "Grace"})
	require.NoError(t, err)
	peer, err := wsprovider.New(nil).Connect(context.Background(), f.wsURL, peerToken.Token)
	require.NoError(t, err)
	defer peer.Close()

	require.NoError(t, peer.Publish(context.Background(), reaction.Topic, []byte(`{"id":"r1","type":"clap"}`)))
	assert.Eventually(t, func() bool { return len(joined.Reactions().Active()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "peer", joined.Reactions().Active()[0].From)

	// a second join is refused
	_, err = c.Join(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	c.Leave()
	assert.Nil(t, c.Current())
	assert.Equal(t, room.StateDisconnected, joined.Room().State())
	assert.True(t, f.feed.closed.Load())
	assert.Nil(t, c.Broker().Current())
	assert.Empty(t, joined.Reactions().Active())
}

func TestClassroom_JoinDeletedSessionIsNotRetried(t *testing.T) {
	f := newFixture(t, false)
	session := f.liveSession(t)
	f.api.issueErr = fmt.Errorf("%w: session deleted", domain.ErrNotFound)
	c := f.classroom(t, false)

	_, err := c.Join(context.Background(), session.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, c.Current())

	f.clock.Advance(time.Hour)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), f.api.issues.Load())
}

func TestClassroom_JoinUnknownSession(t *testing.T) {
	f := newFixture(t, false)
	c := f.classroom(t, false)

	_, err := c.Join(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.api.issues.Load())

	_, err = c.Join(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestClassroom_EndForAll(t *testing.T) {
	f := newFixture(t, true)
	session := f.liveSession(t)
	c := f.classroom(t, true)

	joined, err := c.Join(context.Background(), session.ID)
	require.NoError(t, err)
	require.Equal(t, room.StateConnected, joined.Room().State())

	require.NoError(t, c.EndForAll(context.Background()))
	assert.Nil(t, c.Current())

	stored, ok := f.api.Session(session.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusEnded, stored.Status)
	assert.Eventually(t, func() bool { return len(f.hub.Participants("session-abc123")) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestClassroom_EndForAllRequiresHost(t *testing.T) {
	f := newFixture(t, false)
	session := f.liveSession(t)
	c := f.classroom(t, false)

	_, err := c.Join(context.Background(), session.ID)
	require.NoError(t, err)

	err = c.EndForAll(context.Background())
	assert.ErrorIs(t, err, domain.ErrPermission)
	assert.NotNil(t, c.Current())

	stored, _ := f.api.Session(session.ID)
	assert.Equal(t, domain.StatusLive, stored.Status)
}

func TestClassroom_PrivilegedClientStartsDueSessions(t *testing.T) {
	f := newFixture(t, true)
	c := f.classroom(t, true)

	startsAt := testNow.Add(10 * time.Minute)
	created, err := c.Registry().Create(context.Background(), domain.SessionCreate{
		Title:    "Algebra Review",
		StartsAt: &startsAt,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScheduled, created.Status)

	require.NoError(t, c.Start(context.Background()))

	assert.Eventually(t, func() bool {
		f.clock.Advance(time.Minute)
		s, _ := f.api.Session(created.ID)
		return s.Status == domain.StatusLive
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClassroom_CloseStopsEverything(t *testing.T) {
	f := newFixture(t, false)
	session := f.liveSession(t)
	c := f.classroom(t, false)

	require.NoError(t, c.Start(context.Background()))
	_, err := c.Join(context.Background(), session.ID)
	require.NoError(t, err)

	c.Close()
	assert.Nil(t, c.Current())

	_, err = c.Join(context.Background(), session.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.ErrorIs(t, c.Start(context.Background()), domain.ErrConflict)
}

func TestClassroom_LeavesWhenSessionEndsElsewhere(t *testing.T) {
	ctx := context.Background()

	t.Run("ended by another host", func(t *testing.T) {
		f := newFixture(t, false)
		session := f.liveSession(t)
		c := f.classroom(t, false)

		joined, err := c.Join(ctx, session.ID)
		require.NoError(t, err)
		require.Equal(t, room.StateConnected, joined.Room().State())

		// an unrelated ended session changes nothing
		other := domain.LiveSession{ID: uuid.New(), PublicID: "other1", StartsAt: testNow.Add(-time.Hour), Status: domain.StatusEnded}
		f.api.Put(other)
		require.NoError(t, c.Registry().Refresh(ctx))
		assert.Same(t, joined, c.Current())

		ended := session
		ended.Status = domain.StatusEnded
		f.api.Put(ended)
		require.NoError(t, c.Registry().Refresh(ctx))

		assert.Nil(t, c.Current())
		assert.Equal(t, room.StateDisconnected, joined.Room().State())
		assert.True(t, f.feed.closed.Load())
		assert.Nil(t, c.Broker().Current())
	})

	t.Run("deleted by the owner", func(t *testing.T) {
		f := newFixture(t, false)
		session := f.liveSession(t)
		c := f.classroom(t, false)

		joined, err := c.Join(ctx, session.ID)
		require.NoError(t, err)

		require.NoError(t, f.api.DeleteSession(ctx, "algebra", session.ID, true))
		require.NoError(t, c.Registry().Refresh(ctx))

		assert.Nil(t, c.Current())
		assert.Equal(t, room.StateDisconnected, joined.Room().State())
	})

	t.Run("still live keeps the session", func(t *testing.T) {
		f := newFixture(t, false)
		session := f.liveSession(t)
		c := f.classroom(t, false)

		joined, err := c.Join(ctx, session.ID)
		require.NoError(t, err)

		require.NoError(t, c.Registry().Refresh(ctx))
		assert.Same(t, joined, c.Current())
		assert.Equal(t, room.StateConnected, joined.Room().State())
	})
}
