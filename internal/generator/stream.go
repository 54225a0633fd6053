package generator

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Stream delivers an answer in fragments. It is finite and cannot be
// restarted. Cancelling the context passed to StreamGenerate, or calling
// Close, stops the producer.
type Stream struct {
	fragments chan string
	cancel    context.CancelFunc
	// err is written by the producer before fragments is closed.
	err       error
	closeOnce sync.Once
	onClose   []func()
}

func staticStream(text string) *Stream {
	ch := make(chan string, 1)
	ch <- text
	close(ch)
	return &Stream{fragments: ch, cancel: func() {}}
}

// Recv returns the next fragment. It returns io.EOF after the last fragment,
// or the error that ended generation.
func (s *Stream) Recv() (string, error) {
	frag, ok := <-s.fragments
	if ok {
		return frag, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

// Close stops generation and waits for the producer to exit. It is safe to
// call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		for range s.fragments {
		}
		for _, fn := range s.onClose {
			fn()
		}
	})
	return nil
}

// OnClose registers fn to run once the stream is closed and its producer
// has exited. It must be called before the stream is handed to a reader.
func (s *Stream) OnClose(fn func()) {
	s.onClose = append(s.onClose, fn)
}

// Collect reads the remaining fragments and joins them.
func (s *Stream) Collect() (string, error) {
	defer s.Close()
	var b strings.Builder
	for {
		frag, err := s.Recv()
		if err == io.EOF {
			return b.String(), nil
		}
		if err != nil {
			return b.String(), err
		}
		b.WriteString(frag)
	}
}
