// Package videostream contains the live video pipeline of stream
// verification prompts.
package videostream

import (
	"sync"
)

const readerQueueSize = 256

// Reader is a subscriber of the MP4 fan-out queue. Its channel is
// closed when the pipeline stops.
type Reader struct {
	ch chan []byte
}

// Chunks returns the channel that delivers MP4 chunks in production
// order. It is closed on end of stream.
func (r *Reader) Chunks() <-chan []byte {
	return r.ch
}

// Broadcaster distributes transcoder output to any number of readers.
// Each reader has a bounded queue; when it is full, the chunk is
// dropped for that reader so the ingest path never blocks.
type Broadcaster struct {
	mutex   sync.Mutex
	readers map[*Reader]struct{}
	closed  bool
}

// Initialize initializes a Broadcaster.
func (b *Broadcaster) Initialize() {
	b.readers = make(map[*Reader]struct{})
}

// AddReader creates a reader that receives the live tail of the stream
// from this point on.
func (b *Broadcaster) AddReader() *Reader {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	r := &Reader{ch: make(chan []byte, readerQueueSize)}
	if b.closed {
		close(r.ch)
		return r
	}

	b.readers[r] = struct{}{}
	return r
}

// RemoveReader detaches a reader.
func (b *Broadcaster) RemoveReader(r *Reader) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, ok := b.readers[r]; ok {
		delete(b.readers, r)
		close(r.ch)
	}
}

// Write distributes a chunk to every reader, dropping it for readers
// whose queue is full.
func (b *Broadcaster) Write(chunk []byte) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}

	for r := range b.readers {
		select {
		case r.ch <- chunk:
		default:
		}
	}
}

// Close signals end of stream to every reader.
func (b *Broadcaster) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for r := range b.readers {
		delete(b.readers, r)
		close(r.ch)
	}
}
