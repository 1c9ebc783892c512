package dispatch

import (
	"context"
	"sync"
)

// PendingCommand pairs a command with a one-shot reply slot. Whatever
// combination of scheduling paths touches the command, exactly one reply is
// delivered: the first resolve wins and every later one is dropped.
type PendingCommand struct {
	cmd  *Command
	once sync.Once
	done chan reply
}

// NewPendingCommand wraps a command for submission.
func NewPendingCommand(cmd *Command) *PendingCommand {
	return &PendingCommand{
		cmd:  cmd,
		done: make(chan reply, 1),
	}
}

// Command returns the wrapped command.
func (p *PendingCommand) Command() *Command {
	return p.cmd
}

// Serialized reports whether the command belongs to the serialized class,
// whose replies a channel must deliver in issue order. Unknown or malformed
// commands report serialized: their error replies resolve immediately, and
// the ordered lane keeps them in stream position.
func (p *PendingCommand) Serialized() bool {
	spec, ok := methodTable[p.cmd.Method]
	if !ok {
		return true
	}
	return spec.affinity == affinitySerialized
}

// resolve delivers the reply. Only the first call has any effect.
func (p *PendingCommand) resolve(r reply) {
	p.once.Do(func() {
		p.done <- r
	})
}

// Wait blocks until the reply is delivered or the context ends. A context
// cancellation does not cancel the command; a late reply is simply dropped
// into the buffered slot.
func (p *PendingCommand) Wait(ctx context.Context) ([]byte, error) {
	select {
	case r := <-p.done:
		return []byte(r), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
