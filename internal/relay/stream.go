package relay

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"time"

	"go.bug.st/serial"
)

// Stream is the raw byte channel under a Conn. Reads honour the timeout
// set with SetReadTimeout: a read that times out returns (0, nil), not
// an error. This matches go.bug.st/serial port semantics; the TCP
// adapter below normalises net.Conn deadlines to the same contract.
type Stream interface {
	io.ReadWriteCloser
	SetReadTimeout(d time.Duration) error
}

// defaultBaudRate is used when neither config nor URL specify one.
const defaultBaudRate = 115200

// openStream opens the byte channel described by a connection URL.
//
// Supported formats:
//   - "serial:///dev/ttyUSB0" (optionally "?baud=9600")
//   - "tcp://192.168.1.50:8888"
func openStream(connection string, baud int, connectTimeout time.Duration) (Stream, error) {
	u, err := url.Parse(connection)
	if err != nil {
		return nil, fmt.Errorf("invalid connection URL: %w", err)
	}

	switch u.Scheme {
	case "serial":
		if v := u.Query().Get("baud"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid baud %q: %w", v, err)
			}
			baud = parsed
		}
		if baud == 0 {
			baud = defaultBaudRate
		}
		port, err := serial.Open(u.Path, &serial.Mode{BaudRate: baud})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", u.Path, err)
		}
		return port, nil

	case "tcp":
		conn, err := net.DialTimeout("tcp", u.Host, connectTimeout)
		if err != nil {
			return nil, fmt.Errorf("dial %s: %w", u.Host, err)
		}
		return &tcpStream{conn: conn}, nil

	default:
		return nil, fmt.Errorf("unsupported scheme %q (use serial or tcp)", u.Scheme)
	}
}

// tcpStream adapts a net.Conn to the Stream read-timeout contract:
// a deadline expiry surfaces as (0, nil) so the caller's read loop
// treats serial and socket channels identically.
type tcpStream struct {
	conn        net.Conn
	readTimeout time.Duration
}

func (s *tcpStream) Read(p []byte) (int, error) {
	if s.readTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return 0, err
		}
	}
	n, err := s.conn.Read(p)
	var netErr net.Error
	if err != nil && errors.As(err, &netErr) && netErr.Timeout() {
		return n, nil
	}
	return n, err
}

func (s *tcpStream) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

func (s *tcpStream) Close() error {
	return s.conn.Close()
}

func (s *tcpStream) SetReadTimeout(d time.Duration) error {
	s.readTimeout = d
	return nil
}
