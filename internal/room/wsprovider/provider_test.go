package wsprovider

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/Rrens/classroom-live/internal/room"
	"github.com/Rrens/classroom-live/internal/roomhub"
	"github.com/Rrens/classroom-live/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoom = "classroom-algebra-review"

type fixture struct {
	hub    *roomhub.Hub
	signer *security.RoomTokenSigner
	wsURL  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	signer := security.NewRoomTokenSigner("devkey", "devsecret-devsecret-devsecret-00", time.Hour, nil)
	hub := roomhub.NewHub(signer)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return &fixture{hub: hub, signer: signer, wsURL: "ws" + strings.TrimPrefix(server.URL, "http")}
}

func (f *fixture) credential(t *testing.T, identity, name string, host bool) *domain.TokenCredential {
	t.Helper()
	token, err := f.signer.Sign(security.RoomGrant{Room: testRoom, Identity: identity, Name: name, Host: host})
	require.NoError(t, err)

	role := domain.RoomRoleParticipant
	if host {
		role = domain.RoomRoleHost
	}
	return &domain.TokenCredential{
		Token:    token.Token,
		WSURL:    f.wsURL,
		RoomName: testRoom,
		Identity: identity,
		Name:     name,
		Role:     role,
	}
}

type collector struct {
	mu     sync.Mutex
	events []room.Event
}

func (c *collector) record(ev room.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) find(fn func(room.Event) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if fn(ev) {
			return true
		}
	}
	return false
}

func TestProvider_ConnectReturnsLocalAndRoster(t *testing.T) {
	f := newFixture(t)
	p := New(nil)

	hostCred := f.credential(t, "tutor-1", "Grace", true)
	host, err := p.Connect(context.Background(), hostCred.WSURL, hostCred.Token)
	require.NoError(t, err)
	defer host.Close()

	assert.Equal(t, "tutor-1", host.Local().Identity)
	assert.Equal(t, domain.RoleTutor, host.Local().Role)
	assert.Empty(t, host.Participants())

	studentCred := f.credential(t, "student-1", "Ada", false)
	student, err := p.Connect(context.Background(), studentCred.WSURL, studentCred.Token)
	require.NoError(t, err)
	defer student.Close()

	assert.Equal(t, domain.RoleStudent, student.Local().Role)
	require.Len(t, student.Participants(), 1)
	assert.Equal(t, "tutor-1", student.Participants()[0].Identity)

	select {
	case ev := <-host.Events():
		assert.Equal(t, room.EventParticipantJoined, ev.Type)
		assert.Equal(t, "student-1", ev.Participant.Identity)
	case <-time.After(2 * time.Second):
		t.Fatal("host did not see the student join")
	}
}

func TestProvider_RejectsInvalidToken(t *testing.T) {
	f := newFixture(t)

	_, err := New(nil).Connect(context.Background(), f.wsURL, "not-a-token")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestProvider_PublishRequiresJSON(t *testing.T) {
	f := newFixture(t)
	cred := f.credential(t, "student-1", "Ada", false)
	conn, err := New(nil).Connect(context.Background(), cred.WSURL, cred.Token)
	require.NoError(t, err)
	defer conn.Close()

	err = conn.Publish(context.Background(), "reaction", []byte("not json"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSupervisorOverHub(t *testing.T) {
	f := newFixture(t)
	provider := New(nil)

	host := room.NewSupervisor(provider, nil)
	hostEvents := &collector{}
	host.Subscribe(hostEvents.record)
	require.NoError(t, host.Connect(context.Background(), f.credential(t, "tutor-1", "Grace", true)))

	student := room.NewSupervisor(provider, nil)
	studentEvents := &collector{}
	student.Subscribe(studentEvents.record)
	require.NoError(t, student.Connect(context.Background(), f.credential(t, "student-1", "Ada", false)))

	assert.Eventually(t, func() bool { return len(host.Participants()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, student.Participants(), 2)

	// data relay
	require.NoError(t, host.Publish(context.Background(), "reaction", []byte(`{"type":"clap"}`)))
	assert.Eventually(t, func() bool {
		return studentEvents.find(func(ev room.Event) bool {
			return ev.Type == room.EventData && ev.From == "tutor-1" && string(ev.Payload) == `{"type":"clap"}`
		})
	}, 2*time.Second, 10*time.Millisecond)

	// media state reaches the other side
	require.NoError(t, student.SetMedia(context.Background(), true, true))
	assert.Eventually(t, func() bool {
		for _, p := range host.Participants() {
			if p.Identity == "student-1" && p.MicrophoneEnabled && p.CameraEnabled {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// students cannot moderate
	assert.ErrorIs(t, student.RemoveParticipant(context.Background(), "tutor-1"), domain.ErrPermission)

	// host removes the student
	require.NoError(t, host.RemoveParticipant(context.Background(), "student-1"))
	assert.Eventually(t, func() bool { return student.State() == room.StateDisconnected }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, student.LastError())
	assert.Eventually(t, func() bool { return len(host.Participants()) == 1 }, 2*time.Second, 10*time.Millisecond)

	// ending the session closes the host's own connection too
	require.NoError(t, host.EndSessionForAll(context.Background()))
	assert.Eventually(t, func() bool { return host.State() == room.StateDisconnected }, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(f.hub.Participants(testRoom)) == 0 }, 2*time.Second, 10*time.Millisecond)

	host.Wait()
	student.Wait()
}
