package asyncmc

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// createListener starts a TCP server on a random port and runs handler for
// every accepted connection. It returns the server address.
func createListener(t testing.TB, handler func(conn net.Conn)) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "failed to start test server")

	t.Cleanup(func() {
		listener.Close()
	})

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func(c net.Conn) {
				defer c.Close()
				if handler != nil {
					handler(c)
				}
			}(conn)
		}
	}()

	return listener.Addr().String()
}

// startConn spawns a running connection against addr and waits until it is
// ready for commands.
func startConn(t testing.TB, addr string, opts ...Option) *Conn {
	t.Helper()

	conn := NewConn(addr, opts...)
	go conn.Run(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.WaitReady(ctx))

	t.Cleanup(func() {
		conn.Close()
	})
	return conn
}

// scriptedHandler replays a fixed request/response exchange: for each
// step, read the expected request bytes, then write the canned response.
type exchange struct {
	expect  string // full request bytes including CRLF (and payload for ms)
	respond string
}

func scriptedHandler(t testing.TB, steps []exchange) func(net.Conn) {
	return func(conn net.Conn) {
		r := bufio.NewReader(conn)
		for _, step := range steps {
			got := make([]byte, len(step.expect))
			if _, err := io.ReadFull(r, got); err != nil {
				return
			}
			require.Equal(t, step.expect, string(got))
			if step.respond != "" {
				if _, err := conn.Write([]byte(step.respond)); err != nil {
					return
				}
			}
		}
		// Hold the connection open until the client goes away.
		io.Copy(io.Discard, conn)
	}
}

// formatUnix renders the Unix timestamp of t the way the TTL encoder does.
func formatUnix(t time.Time) string {
	return strconv.FormatInt(t.Unix(), 10)
}

// fakeServer is a tiny in-memory memcached speaking just enough of the
// meta protocol for pool and client tests. Scripted handlers are used
// where exact wire bytes matter.
type fakeServer struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newFakeServer() *fakeServer {
	return &fakeServer{items: make(map[string][]byte)}
}

func (s *fakeServer) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return
		}
		cmd, key, flags := fields[0], fields[1], fields[2:]

		var reply string
		switch cmd {
		case "ms":
			size, _ := strconv.Atoi(flags[0])
			payload := make([]byte, size+2)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}
			reply = s.store(key, payload[:size], flags[1:])
		case "mg":
			reply = s.get(key, flags)
		case "md":
			reply = s.delete(key)
		case "ma":
			reply = s.arithmetic(key, flags)
		default:
			return
		}

		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (s *fakeServer) store(key string, value []byte, flags []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.items[key]
	for _, f := range flags {
		switch f {
		case "ME":
			if exists {
				return "NS\r\n"
			}
		case "MR":
			if !exists {
				return "NS\r\n"
			}
		case "MA":
			if !exists {
				return "NS\r\n"
			}
			s.items[key] = append(s.items[key], value...)
			return "HD\r\n"
		case "MP":
			if !exists {
				return "NS\r\n"
			}
			s.items[key] = append(append([]byte{}, value...), s.items[key]...)
			return "HD\r\n"
		}
	}
	s.items[key] = append([]byte{}, value...)
	return "HD\r\n"
}

func (s *fakeServer) get(key string, flags []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, exists := s.items[key]
	if !exists {
		return "EN\r\n"
	}

	returnValue := false
	for _, f := range flags {
		if f == "v" {
			returnValue = true
		}
	}
	if !returnValue {
		return "HD\r\n"
	}
	return "VA " + strconv.Itoa(len(value)) + "\r\n" + string(value) + "\r\n"
}

func (s *fakeServer) delete(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; !exists {
		return "NF\r\n"
	}
	delete(s.items, key)
	return "HD\r\n"
}

func (s *fakeServer) arithmetic(key string, flags []string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, exists := s.items[key]
	if !exists {
		return "NF\r\n"
	}

	current, err := strconv.ParseUint(string(value), 10, 64)
	if err != nil {
		return "NS\r\n"
	}

	delta := uint64(1)
	decrement := false
	for _, f := range flags {
		switch {
		case f == "M-":
			decrement = true
		case strings.HasPrefix(f, "D"):
			delta, _ = strconv.ParseUint(f[1:], 10, 64)
		}
	}

	if decrement {
		if delta > current {
			current = 0
		} else {
			current -= delta
		}
	} else {
		current += delta
	}
	s.items[key] = []byte(strconv.FormatUint(current, 10))
	return "HD\r\n"
}
