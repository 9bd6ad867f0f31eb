package output

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Spinner animates a message while a slow step runs, such as
// passphrase key derivation.
type Spinner struct {
	w        io.Writer
	message  string
	frames   []string
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewSpinner creates a spinner.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{
		w:       w,
		message: message,
		frames:  []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins the animation.
func (s *Spinner) Start() {
	go func() {
		defer close(s.stopped)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			fmt.Fprintf(s.w, "\r%s %s", s.frames[i%len(s.frames)], s.message)
			select {
			case <-s.done:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop ends the animation and prints a final line: ✓ when err is nil,
// ✗ and the error otherwise. Further calls do nothing.
func (s *Spinner) Stop(err error) {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.stopped
		if err != nil {
			fmt.Fprintf(s.w, "\r\033[K✗ %s: %v\n", s.message, err)
			return
		}
		fmt.Fprintf(s.w, "\r\033[K✓ %s\n", s.message)
	})
}
