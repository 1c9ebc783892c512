package dispatch

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// maxLineBytes bounds one protocol line. Screenshot payloads travel in
// replies, not requests, so requests stay well under this.
const maxLineBytes = 16 * 1024 * 1024

// orderedLaneDepth bounds how many serialized commands a channel pipelines
// before reading blocks on the oldest reply.
const orderedLaneDepth = 256

// LineChannel runs the line protocol over a reader/writer pair, typically
// stdin/stdout. Each request line becomes one submitted command. Replies for
// serialized-class commands are written in the order the commands were
// issued on this channel; parallel-class replies are written as they
// complete. Reply writes are serialized so concurrent completions never
// interleave bytes.
type LineChannel struct {
	d  *Dispatcher
	w  io.Writer
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewLineChannel creates a channel writing replies to w.
func NewLineChannel(d *Dispatcher, w io.Writer) *LineChannel {
	return &LineChannel{d: d, w: w}
}

// Serve reads request lines from r until EOF or ctx ends, then waits for
// every outstanding reply to be written.
func (c *LineChannel) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	// Single writer for the serialized class: pendings enter in issue
	// order and are awaited one at a time, so their replies cannot invert.
	ordered := make(chan *PendingCommand, orderedLaneDepth)
	var lane sync.WaitGroup
	lane.Add(1)
	go func() {
		defer lane.Done()
		for p := range ordered {
			r, err := p.Wait(ctx)
			if err != nil {
				continue
			}
			c.write(ctx, r)
		}
	}()

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer across Scan calls.
		buf := make([]byte, len(line))
		copy(buf, line)

		p := c.d.SubmitRaw(buf)
		if p.Serialized() {
			ordered <- p
			continue
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			r, err := p.Wait(ctx)
			if err != nil {
				return
			}
			c.write(ctx, r)
		}()
	}
	close(ordered)
	lane.Wait()
	c.wg.Wait()
	return scanner.Err()
}

func (c *LineChannel) write(ctx context.Context, r reply) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.w.Write(append(r, '\n')); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("unable to write reply")
	}
}
