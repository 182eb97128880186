package connection

import (
	"io"
	"sync"
)

// Stream is a streamed response body, fed chunk by chunk from the connection
// read loop and consumed through io.ReadCloser. Feeding never blocks on a slow
// consumer so a stream held open cannot stall other invocations sharing the
// connection.
type Stream struct {
	mu      sync.Mutex
	chunks  [][]byte
	notify  chan struct{}
	done    bool
	doneErr error
	closed  bool
}

func newStream() *Stream {
	return &Stream{
		notify: make(chan struct{}, 1),
	}
}

// Read implements io.Reader, blocking until a chunk arrives or the stream ends
func (s *Stream) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()

		if s.closed {
			s.mu.Unlock()
			return 0, io.ErrClosedPipe
		}

		if len(s.chunks) > 0 {
			n := copy(p, s.chunks[0])
			if n < len(s.chunks[0]) {
				s.chunks[0] = s.chunks[0][n:]
			} else {
				s.chunks = s.chunks[1:]
			}
			s.mu.Unlock()
			return n, nil
		}

		if s.done {
			err := s.doneErr
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}

		s.mu.Unlock()
		<-s.notify
	}
}

// Close signals disinterest; subsequent chunks are discarded
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.chunks = nil
	s.mu.Unlock()

	s.signal()
	return nil
}

func (s *Stream) feed(chunk []byte) {
	s.mu.Lock()
	if !s.closed && !s.done {
		s.chunks = append(s.chunks, chunk)
	}
	s.mu.Unlock()

	s.signal()
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.done = true
	s.doneErr = err
	s.mu.Unlock()

	s.signal()
}

func (s *Stream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
