// Package serial provides a buffered serial port modeled on the
// interrupt-driven hardware driver this linker's modules are loaded over
// in the field: a fixed-size ring buffer fed by an RX interrupt, a TX
// ring drained behind the UART, and a per-byte read callback for
// flow-control interception. Here the ring buffers are bounded channels
// and the interrupt handlers are pump goroutines; the
// critical-section bracketing around buffer bookkeeping becomes a plain
// mutex, since there is no interrupt to mask on the host side.
package serial

import (
	"errors"
	"io"
	"sync"
	"time"
)

// bufferLength is the ring buffer capacity: at most this many unread
// bytes are held before new arrivals are dropped.
const bufferLength = 128

// ReadCallback inspects every byte as it arrives, before it is buffered,
// so a caller can intercept flow-control characters. Returning true drops
// the byte instead of buffering it for ReadByte.
type ReadCallback func(b byte) (drop bool)

// Port is a buffered serial connection over an io.Reader/io.Writer pair.
// It implements dlink.ByteLoader via Load, so a module image (or a symbol
// map) can be streamed in over a serial link exactly as it can from a file
// or an mmap'd buffer.
type Port struct {
	mu       sync.Mutex
	callback ReadCallback

	rx     chan byte
	tx     chan byte
	rxErr  error
	closed chan struct{}
	once   sync.Once

	// Timeout bounds WriteByte's blocking send. Zero means block
	// indefinitely.
	Timeout time.Duration
}

// NewPort starts the rx/tx pump goroutines over r and w and returns a
// ready Port.
func NewPort(r io.Reader, w io.Writer) *Port {
	p := &Port{
		rx:     make(chan byte, bufferLength),
		tx:     make(chan byte, bufferLength),
		closed: make(chan struct{}),
	}
	go p.pumpRX(r)
	go p.pumpTX(w)
	return p
}

func (p *Port) pumpRX(r io.Reader) {
	buf := make([]byte, 1)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b := buf[0]
			p.mu.Lock()
			cb := p.callback
			p.mu.Unlock()
			if cb == nil || !cb(b) {
				select {
				case p.rx <- b:
				case <-p.closed:
					return
				default:
					// RX overrun: ring buffer full, drop the byte.
				}
			}
		}
		if err != nil {
			p.mu.Lock()
			p.rxErr = err
			p.mu.Unlock()
			close(p.rx)
			return
		}
	}
}

func (p *Port) pumpTX(w io.Writer) {
	for {
		select {
		case b, ok := <-p.tx:
			if !ok {
				return
			}
			if _, err := w.Write([]byte{b}); err != nil {
				return
			}
		case <-p.closed:
			return
		}
	}
}

// SetReadCallback installs cb as the per-byte interceptor, or clears it
// when cb is nil.
func (p *Port) SetReadCallback(cb ReadCallback) {
	p.mu.Lock()
	p.callback = cb
	p.mu.Unlock()
}

// ReadByte blocks until a byte is available or the port's underlying
// reader closes.
func (p *Port) ReadByte() (byte, error) {
	b, ok := <-p.rx
	if !ok {
		p.mu.Lock()
		err := p.rxErr
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	return b, nil
}

// TryReadByte is the non-blocking counterpart: it returns ok=false
// immediately if nothing is buffered.
func (p *Port) TryReadByte() (b byte, ok bool) {
	select {
	case b, ok = <-p.rx:
		return b, ok
	default:
		return 0, false
	}
}

// Pending reports how many bytes are currently buffered.
func (p *Port) Pending() int { return len(p.rx) }

// WriteByte queues value for transmission, blocking up to Timeout when it
// is nonzero.
func (p *Port) WriteByte(value byte) error {
	if p.Timeout <= 0 {
		select {
		case p.tx <- value:
			return nil
		case <-p.closed:
			return errPortClosed
		}
	}
	t := time.NewTimer(p.Timeout)
	defer t.Stop()
	select {
	case p.tx <- value:
		return nil
	case <-t.C:
		return errWriteTimeout
	case <-p.closed:
		return errPortClosed
	}
}

// Close signals both pump goroutines to stop. It does not interrupt a
// Read or Write already in progress on the underlying reader or writer;
// a pump blocked in one stays blocked until that call returns.
func (p *Port) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

var (
	errPortClosed   = errors.New("serial: port closed")
	errWriteTimeout = errors.New("serial: write timed out")
)

// Load implements dlink.ByteLoader: it reads bytes off the port until the
// underlying reader reaches EOF (or another error), accumulating them
// into a single buffer — a module image or symbol map streamed in over
// the link rather than read from a file. path is accepted only to satisfy
// the ByteLoader signature; a serial link has no namespace to index into.
func (p *Port) Load(path string) ([]byte, error) {
	var out []byte
	for {
		b, err := p.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, b)
	}
}
