package prompt

import (
	"bufio"
	"io"
	"os"
)

// LineReader reads lines from standard input on a dedicated goroutine,
// so that prompt handlers can wait for input and a timeout at the same
// time. It lives for the whole session since a blocked terminal read
// cannot be interrupted.
type LineReader struct {
	Source io.Reader

	ch chan string
}

// Initialize initializes the LineReader.
func (r *LineReader) Initialize() {
	if r.Source == nil {
		r.Source = os.Stdin
	}
	r.ch = make(chan string)

	go func() {
		defer close(r.ch)

		sc := bufio.NewScanner(r.Source)
		for sc.Scan() {
			r.ch <- sc.Text()
		}
	}()
}

// Lines returns the channel that delivers one entry per input line.
// The channel is closed when the input source ends.
func (r *LineReader) Lines() <-chan string {
	return r.ch
}
