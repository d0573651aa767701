package serialmux

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/presence.report/internal/monitoring"
)

// MockSerialPort implements SerialPorter for dev mode and testing. Reads come
// from a replayed fixture stream; writes are discarded after logging.
type MockSerialPort struct {
	io.Reader
	closeOnce sync.Once
	closed    chan struct{}
}

func (m *MockSerialPort) Write(p []byte) (n int, err error) {
	monitoring.Debugf("mock serial port write: %q", string(p))
	return len(p), nil
}

func (m *MockSerialPort) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// NewMockSerialMux creates a SerialMux backed by a mock port that replays the
// given fixture lines on a loop, one line every interval, simulating the
// 1-10 Hz cadence of the real sensor module.
func NewMockSerialMux(fixture []byte, interval time.Duration) *SerialMux[*MockSerialPort] {
	r, w := io.Pipe()
	mockPort := &MockSerialPort{
		Reader: r,
		closed: make(chan struct{}),
	}

	lines := bytes.Split(bytes.TrimSpace(fixture), []byte("\n"))

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-mockPort.closed:
				return
			case <-ticker.C:
				line := lines[i%len(lines)]
				if _, err := w.Write(append(line, '\n')); err != nil {
					return
				}
			}
		}
	}()

	return NewSerialMux(mockPort)
}

// TestableSerialPort implements SerialPorter with configurable behaviour for
// testing: scripted reads, captured writes, and injectable errors.
type TestableSerialPort struct {
	mu sync.Mutex

	// ReadBuffer holds data to be returned by Read calls
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port
	WriteBuffer *bytes.Buffer

	// ReadError is returned by Read once the buffer is drained, if set
	ReadError error

	// WriteError is returned by the next Write call if set
	WriteError error

	// ShortWrite truncates the next Write to half its length
	ShortWrite bool

	// Closed indicates whether Close was called
	Closed bool

	// BlockReads causes Read to block until data is added or Close is
	// called
	BlockReads bool

	readCond *sync.Cond
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	tsp := &TestableSerialPort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	tsp.readCond = sync.NewCond(&tsp.mu)
	return tsp
}

// Read reads from the read buffer, blocking if BlockReads is set and no data
// is available.
func (t *TestableSerialPort) Read(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.BlockReads && t.ReadBuffer.Len() == 0 && !t.Closed {
		t.readCond.Wait()
	}

	if t.Closed {
		return 0, errors.New("serial port closed")
	}

	if t.ReadBuffer.Len() == 0 {
		if t.ReadError != nil {
			return 0, t.ReadError
		}
		return 0, io.EOF
	}

	return t.ReadBuffer.Read(p)
}

// Write captures data in the write buffer, honouring any injected error.
func (t *TestableSerialPort) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.WriteError != nil {
		err = t.WriteError
		t.WriteError = nil
		return 0, err
	}
	if t.ShortWrite {
		t.ShortWrite = false
		return t.WriteBuffer.Write(p[:len(p)/2])
	}
	return t.WriteBuffer.Write(p)
}

// Close marks the port closed and wakes any blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	t.readCond.Broadcast()
	return nil
}

// AddReadData appends data for subsequent Read calls and wakes blocked
// readers.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadBuffer.Write(data)
	t.readCond.Broadcast()
}
