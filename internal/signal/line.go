package signal

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.bug.st/serial"
)

const lineQueueSize = 256

// LineSource turns line-delimited sensor output into readings. Malformed or
// out-of-range lines are counted and skipped.
type LineSource struct {
	values    chan int
	connected atomic.Bool
	malformed atomic.Uint64
	dropped   atomic.Uint64

	closeOnce sync.Once
	closer    func() error
	link      func() bool // extra liveness check of the underlying transport
	logger    *slog.Logger
}

func newLineSource(logger *slog.Logger) *LineSource {
	if logger == nil {
		logger = slog.Default()
	}
	ls := &LineSource{
		values: make(chan int, lineQueueSize),
		logger: logger,
	}
	ls.connected.Store(true)
	return ls
}

// NewLineSource starts scanning r in a background goroutine. closer, if not
// nil, is called once by Close.
func NewLineSource(r io.Reader, closer func() error, logger *slog.Logger) *LineSource {
	ls := newLineSource(logger)
	ls.closer = closer
	go ls.scan(r)
	return ls
}

func (ls *LineSource) scan(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		ls.Feed(sc.Text())
	}
	if err := sc.Err(); err != nil {
		ls.logger.Warn("signal read failed", "error", err)
	} else {
		ls.logger.Info("signal stream ended")
	}
	ls.connected.Store(false)
}

// Feed parses one line and queues the reading. It never blocks.
func (ls *LineSource) Feed(line string) {
	v, err := ParseLine(line)
	if err != nil {
		ls.malformed.Add(1)
		ls.logger.Debug("skipping sample line", "line", line, "error", err)
		return
	}
	select {
	case ls.values <- v:
	default:
		ls.dropped.Add(1)
	}
}

func (ls *LineSource) Read() (int, bool) {
	select {
	case v := <-ls.values:
		return v, true
	default:
		return 0, false
	}
}

func (ls *LineSource) Connected() bool {
	if !ls.connected.Load() {
		return false
	}
	return ls.link == nil || ls.link()
}

func (ls *LineSource) Malformed() uint64 {
	return ls.malformed.Load()
}

func (ls *LineSource) Dropped() uint64 {
	return ls.dropped.Load()
}

func (ls *LineSource) Close() error {
	var err error
	ls.closeOnce.Do(func() {
		ls.connected.Store(false)
		if ls.closer != nil {
			err = ls.closer()
		}
	})
	return err
}

// OpenSerial connects to a sensor board on a serial port.
func OpenSerial(port string, baud int, logger *slog.Logger) (*LineSource, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", port, err)
	}
	if err := p.ResetInputBuffer(); err != nil {
		p.Close()
		return nil, fmt.Errorf("resetting serial input %s: %w", port, err)
	}
	return NewLineSource(p, p.Close, logger), nil
}

// DialTCP reads sensor lines from a TCP stream, e.g. a serial-to-network bridge.
func DialTCP(ctx context.Context, addr string, logger *slog.Logger) (*LineSource, error) {
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing signal stream %s: %w", addr, err)
	}
	return NewLineSource(conn, conn.Close, logger), nil
}

// SubscribeNATS reads sensor lines published on subject. A message may carry
// several newline-separated readings.
func SubscribeNATS(nc *nats.Conn, subject string, logger *slog.Logger) (*LineSource, error) {
	ls := newLineSource(logger)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		sc := bufio.NewScanner(bytes.NewReader(msg.Data))
		for sc.Scan() {
			ls.Feed(sc.Text())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	ls.closer = sub.Unsubscribe
	ls.link = nc.IsConnected
	return ls, nil
}

// ConnectNATS mirrors the reconnect policy used for the sensor bridge.
func ConnectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("mandalaquest"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(500*time.Millisecond),
		nats.MaxReconnects(-1),
	)
}
