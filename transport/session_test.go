package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoopbackSessions() (*Session, *Session, *LoopbackChannel, *LoopbackChannel) {
	hostEp := Endpoint{IP: [4]byte{127, 0, 0, 1}, Port: 1919}
	clientEp := Endpoint{IP: [4]byte{127, 0, 0, 1}, Port: 2000}
	hostCh, clientCh := NewLoopbackPair(hostEp, clientEp)

	host := NewSession()
	client := NewSession()
	host.Host(hostCh)
	client.Join(clientCh, hostEp)
	return host, client, hostCh, clientCh
}

// pump drives both sessions forward until both report Ready, or fails the
// test if that doesn't happen within a generous number of ticks.
func pumpUntilReady(t *testing.T, host, client *Session) {
	t.Helper()
	now := time.Now()
	for i := 0; i < 200; i++ {
		now = now.Add(50 * time.Millisecond)
		require.NoError(t, host.Update(now))
		require.NoError(t, client.Update(now))
		if host.IsReady() && client.IsReady() {
			return
		}
	}
	t.Fatalf("join handshake never completed: host state=%v client state=%v", host.State(), client.State())
}

func TestJoinHandshakeLossless(t *testing.T) {
	host, client, _, _ := newLoopbackSessions()

	var joined bool
	host.OnConnectionJoined.Subscribe(func(s *Session, c *Connection) { joined = true })
	var sessionJoined bool
	client.OnSessionJoined.Subscribe(func(s *Session, c *Connection) { sessionJoined = true })

	pumpUntilReady(t, host, client)

	require.True(t, joined, "host never fired OnConnectionJoined")
	require.True(t, sessionJoined, "client never fired OnSessionJoined")
	require.Len(t, host.Connections(), 1)
}

func TestLeaveFiresLeftBeforeDestroy(t *testing.T) {
	host, client, _, _ := newLoopbackSessions()
	pumpUntilReady(t, host, client)

	var sawConnAtFireTime *Connection
	host.OnConnectionLeft.Subscribe(func(s *Session, c *Connection) {
		// the connection must still be present in the table at fire time,
		// proving the left-event precedes teardown.
		require.NotNil(t, s.connectionForIndex(c.Index), "connection was already destroyed when OnConnectionLeft fired")
		sawConnAtFireTime = c
	})

	require.NoError(t, client.Leave())

	now := time.Now()
	for i := 0; i < 20; i++ {
		now = now.Add(50 * time.Millisecond)
		require.NoError(t, host.Update(now))
		if sawConnAtFireTime != nil {
			break
		}
	}
	require.NotNil(t, sawConnAtFireTime, "host never observed the departing connection's LEAVE message")
	require.Empty(t, host.Connections())
}

func TestDuplicateMessageRegistrationPanics(t *testing.T) {
	defer func() {
		require.NotNil(t, recover(), "expected RegisterMessage to panic on a duplicate id")
	}()
	s := NewSession()
	s.RegisterMessage(FirstUserMessageID, 0, func(msg *Message) {})
	s.RegisterMessage(FirstUserMessageID, 0, func(msg *Message) {})
}

func TestUserMessageDeliveredReliably(t *testing.T) {
	host, client, _, _ := newLoopbackSessions()

	received := make(chan string, 1)
	host.RegisterMessage(FirstUserMessageID, FlagReliable, func(msg *Message) {
		received <- string(msg.Payload)
	})
	client.RegisterMessage(FirstUserMessageID, FlagReliable, func(msg *Message) {})

	pumpUntilReady(t, host, client)

	client.SendToHost(NewMessage(client.MessageDefinition(FirstUserMessageID), []byte("hi host")))

	now := time.Now()
	for i := 0; i < 50; i++ {
		now = now.Add(50 * time.Millisecond)
		_ = host.Update(now)
		_ = client.Update(now)
		select {
		case got := <-received:
			require.Equal(t, "hi host", got)
			return
		default:
		}
	}
	t.Fatal("host never received the client's reliable message")
}
