package terminal

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/gravitational/fleetctl/internal/model"
)

// startEchoSSHServer accepts one connection, grants any pty-req/shell
// request, and echoes stdin back as stdout, so Broker.Serve can be
// exercised against a real SSH session instead of a mocked client.
func startEchoSSHServer(t *testing.T) (addr string, port int) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{NoClientAuth: true}
	cfg.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	tcpAddr := listener.Addr().(*net.TCPAddr)

	go func() {
		for {
			nConn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				sconn, chans, reqs, err := ssh.NewServerConn(nConn, cfg)
				if err != nil {
					return
				}
				defer sconn.Close()
				go ssh.DiscardRequests(reqs)
				for newCh := range chans {
					ch, requests, err := newCh.Accept()
					if err != nil {
						continue
					}
					go func(ch ssh.Channel, requests <-chan *ssh.Request) {
						defer ch.Close()
						for req := range requests {
							switch req.Type {
							case "pty-req":
								if req.WantReply {
									req.Reply(true, nil)
								}
							case "shell":
								if req.WantReply {
									req.Reply(true, nil)
								}
								go io.Copy(ch, ch)
							case "window-change":
								if req.WantReply {
									req.Reply(true, nil)
								}
							default:
								if req.WantReply {
									req.Reply(false, nil)
								}
							}
						}
					}(ch, requests)
				}
			}()
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return tcpAddr.IP.String(), tcpAddr.Port
}

type fakeDialer struct {
	addr string
	port int
	err  error
}

func (d *fakeDialer) Dial(host *model.Host, creds Credentials) (*ssh.Client, error) {
	if d.err != nil {
		return nil, d.err
	}
	return ssh.Dial("tcp", net.JoinHostPort(d.addr, strconv.Itoa(d.port)), &ssh.ClientConfig{
		User:            "deploy",
		Auth:            []ssh.AuthMethod{ssh.Password("x")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	})
}

type fakeTerminalStore struct {
	mu       sync.Mutex
	created  []*model.TerminalSession
	touched  int
	ended    map[string]model.TerminalStatus
	touchErr error
}

func newFakeTerminalStore() *fakeTerminalStore {
	return &fakeTerminalStore{ended: make(map[string]model.TerminalStatus)}
}

func (f *fakeTerminalStore) CreateTerminalSession(t *model.TerminalSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, t)
	return nil
}

func (f *fakeTerminalStore) TouchTerminalSession(id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return f.touchErr
}

func (f *fakeTerminalStore) EndTerminalSession(id string, status model.TerminalStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[id] = status
	return nil
}

type fakeTerminalSink struct {
	mu     sync.Mutex
	opened int
	closed []model.TerminalStatus
}

func (f *fakeTerminalSink) TerminalOpened(sessionID string, hostRef, userRef int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
}

func (f *fakeTerminalSink) TerminalClosed(sessionID string, hostRef, userRef int64, duration time.Duration, status model.TerminalStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, status)
}

func dialTestWebsocket(t *testing.T, handler http.HandlerFunc) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

var testUpgrader = websocket.Upgrader{}

func TestBrokerServeEchoesInputAndClosesOnRequest(t *testing.T) {
	t.Parallel()

	addr, port := startEchoSSHServer(t)
	store := newFakeTerminalStore()
	sink := &fakeTerminalSink{}
	broker := New(store, &fakeDialer{addr: addr, port: port}, sink, time.Hour, clockwork.NewFakeClock())

	host := &model.Host{ID: 1, Name: "web-1"}
	shutdown := make(chan struct{})
	resultCh := make(chan model.TerminalStatus, 1)

	clientConn := dialTestWebsocket(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		resultCh <- broker.Serve(conn, host, 7, "", Credentials{Password: "x"}, shutdown)
	})

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"connected"`)

	require.NoError(t, clientConn.WriteJSON(inFrame{Type: "input", Data: "hello"}))
	_, data, err = clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")

	require.NoError(t, clientConn.WriteJSON(inFrame{Type: "close"}))
	_, data, err = clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"disconnected"`)

	status := <-resultCh
	require.Equal(t, model.TerminalClosed, status)

	store.mu.Lock()
	require.Len(t, store.created, 1)
	require.Equal(t, model.TerminalClosed, store.ended[store.created[0].ID])
	store.mu.Unlock()
	require.Equal(t, 1, sink.opened)
	require.Equal(t, []model.TerminalStatus{model.TerminalClosed}, sink.closed)
}

func TestBrokerServeDialFailureEndsWithError(t *testing.T) {
	t.Parallel()

	store := newFakeTerminalStore()
	broker := New(store, &fakeDialer{err: errors.New("connection refused")}, nil, time.Hour, clockwork.NewFakeClock())

	host := &model.Host{ID: 1, Name: "web-1"}
	resultCh := make(chan model.TerminalStatus, 1)
	clientConn := dialTestWebsocket(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		resultCh <- broker.Serve(conn, host, 7, "", Credentials{Password: "x"}, nil)
	})

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "failed to connect")

	status := <-resultCh
	require.Equal(t, model.TerminalError, status)
}

func TestBrokerServeCreateSessionFailureSendsError(t *testing.T) {
	t.Parallel()

	addr, port := startEchoSSHServer(t)
	store := &fakeTerminalStoreAlwaysFails{}
	broker := New(store, &fakeDialer{addr: addr, port: port}, nil, time.Hour, clockwork.NewFakeClock())

	host := &model.Host{ID: 1, Name: "web-1"}
	resultCh := make(chan model.TerminalStatus, 1)
	clientConn := dialTestWebsocket(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		resultCh <- broker.Serve(conn, host, 7, "", Credentials{Password: "x"}, nil)
	})

	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "failed to open session")

	status := <-resultCh
	require.Equal(t, model.TerminalError, status)
}

type fakeTerminalStoreAlwaysFails struct{}

func (fakeTerminalStoreAlwaysFails) CreateTerminalSession(*model.TerminalSession) error {
	return errors.New("db unavailable")
}
func (fakeTerminalStoreAlwaysFails) TouchTerminalSession(string, time.Time) error { return nil }
func (fakeTerminalStoreAlwaysFails) EndTerminalSession(string, model.TerminalStatus) error {
	return nil
}

func TestBrokerServeShutdownInterruptsSession(t *testing.T) {
	t.Parallel()

	addr, port := startEchoSSHServer(t)
	store := newFakeTerminalStore()
	broker := New(store, &fakeDialer{addr: addr, port: port}, nil, time.Hour, clockwork.NewFakeClock())

	host := &model.Host{ID: 1, Name: "web-1"}
	shutdown := make(chan struct{})
	close(shutdown)
	resultCh := make(chan model.TerminalStatus, 1)

	dialTestWebsocket(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		resultCh <- broker.Serve(conn, host, 7, "", Credentials{Password: "x"}, shutdown)
	})

	status := <-resultCh
	require.Equal(t, model.TerminalInterrupted, status)
}

func TestBrokerServeMalformedFrameSendsError(t *testing.T) {
	t.Parallel()

	addr, port := startEchoSSHServer(t)
	store := newFakeTerminalStore()
	broker := New(store, &fakeDialer{addr: addr, port: port}, nil, time.Hour, clockwork.NewFakeClock())

	host := &model.Host{ID: 1, Name: "web-1"}
	resultCh := make(chan model.TerminalStatus, 1)
	clientConn := dialTestWebsocket(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		resultCh <- broker.Serve(conn, host, 7, "", Credentials{Password: "x"}, nil)
	})

	_, _, err := clientConn.ReadMessage() // connected
	require.NoError(t, err)

	require.NoError(t, clientConn.WriteMessage(websocket.TextMessage, []byte("not json")))
	_, data, err := clientConn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), "malformed frame")

	require.NoError(t, clientConn.Close())
	<-resultCh
}
