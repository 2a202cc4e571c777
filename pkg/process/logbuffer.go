package process

import (
	"strings"
	"sync"

	"github.com/armon/circbuf"
)

// DefaultLogBufferSize is how many bytes of a stream are kept in memory
const DefaultLogBufferSize = 1024 * 1024

// LogBuffer keeps the most recent output of a stream. Once more than its size
// has been written, the oldest bytes are dropped and the partial line at the
// start of the window is hidden.
type LogBuffer struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

// NewLogBuffer creates a buffer holding at most size bytes
func NewLogBuffer(size int64) *LogBuffer {
	if size <= 0 {
		size = DefaultLogBufferSize
	}
	buf, _ := circbuf.NewBuffer(size)
	return &LogBuffer{buf: buf}
}

func (lb *LogBuffer) init() {
	if lb.buf == nil {
		lb.buf, _ = circbuf.NewBuffer(DefaultLogBufferSize)
	}
}

// Append adds a log line to the buffer
func (lb *LogBuffer) Append(line string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.init()
	_, _ = lb.buf.Write([]byte(line + "\n"))
}

// window returns the complete lines still held
func (lb *LogBuffer) window() []string {
	lb.init()
	data := string(lb.buf.Bytes())
	if lb.buf.TotalWritten() > lb.buf.Size() {
		i := strings.IndexByte(data, '\n')
		if i < 0 {
			return nil
		}
		data = data[i+1:]
	}
	data = strings.TrimSuffix(data, "\n")
	if data == "" {
		return nil
	}
	return strings.Split(data, "\n")
}

// String returns the held lines as a single string
func (lb *LogBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lines := lb.window()
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Tail returns at most the last n lines
func (lb *LogBuffer) Tail(n int) []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lines := lb.window()
	if n < len(lines) {
		lines = lines[len(lines)-n:]
	}
	if lines == nil {
		return []string{}
	}
	return lines
}

// Contains checks if the held lines contain pattern
func (lb *LogBuffer) Contains(pattern string) bool {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.init()
	return strings.Contains(string(lb.buf.Bytes()), pattern)
}

// Clear drops everything held
func (lb *LogBuffer) Clear() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.init()
	lb.buf.Reset()
}

// Lines returns the number of held lines
func (lb *LogBuffer) Lines() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return len(lb.window())
}

// Size returns the capacity in bytes
func (lb *LogBuffer) Size() int64 {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.init()
	return lb.buf.Size()
}
