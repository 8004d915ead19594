package kfmt

import "io"

// ringBufferSize is the capacity of the early output buffer. It must be a
// power of 2. 4K is enough to hold the memory core's boot-time log.
const ringBufferSize = 4096

// ringBuffer keeps the most recent ringBufferSize bytes written to it. Once
// full, new writes overwrite the oldest data.
type ringBuffer struct {
	buffer [ringBufferSize]byte

	// start is the index of the oldest unread byte; count is the number of
	// unread bytes.
	start, count int
}

// Write appends p to the buffer, dropping the oldest bytes on overflow.
func (rb *ringBuffer) Write(p []byte) (int, error) {
	for _, b := range p {
		rb.buffer[(rb.start+rb.count)&(ringBufferSize-1)] = b
		if rb.count == ringBufferSize {
			rb.start = (rb.start + 1) & (ringBufferSize - 1)
		} else {
			rb.count++
		}
	}

	return len(p), nil
}

// Read copies unread bytes into p. It returns io.EOF when the buffer is empty.
func (rb *ringBuffer) Read(p []byte) (int, error) {
	if rb.count == 0 {
		return 0, io.EOF
	}

	// Copy the contiguous run that starts at rb.start; a wrapped buffer
	// needs a second Read call.
	n := ringBufferSize - rb.start
	if n > rb.count {
		n = rb.count
	}
	if n > len(p) {
		n = len(p)
	}

	copy(p, rb.buffer[rb.start:rb.start+n])
	rb.start = (rb.start + n) & (ringBufferSize - 1)
	rb.count -= n
	return n, nil
}
