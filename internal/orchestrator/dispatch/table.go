package dispatch

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/backend"
	"github.com/charterhq/charter/internal/orchestrator/executor"
	"github.com/charterhq/charter/internal/orchestrator/registry"
)

// affinity classifies how commands of one method may be scheduled.
type affinity int

const (
	// affinitySerialized commands run one at a time, in arrival order.
	// Anything that mutates page or session state belongs here.
	affinitySerialized affinity = iota
	// affinityParallel commands run concurrently with each other and with
	// the serialized stream. Reads and session bookkeeping belong here.
	affinityParallel
)

type handlerFunc func(ctx context.Context, d *Dispatcher, cmd *Command) reply

type methodSpec struct {
	affinity affinity
	handler  handlerFunc
}

// methodTable is the closed set of protocol methods. The affinity of a
// method is a fixed property of the method, never a per-request choice.
var methodTable = map[string]methodSpec{
	"create":   {affinitySerialized, handleCreate},
	"close":    {affinitySerialized, handleClose},
	"navigate": {affinitySerialized, handleNavigate},
	"click":    {affinitySerialized, handleClick},
	"type":     {affinitySerialized, handleType},
	"pick":     {affinitySerialized, handlePick},
	"hover":    {affinitySerialized, handleHover},
	"scroll":   {affinitySerialized, handleScroll},
	"upload":   {affinitySerialized, handleUpload},

	"release":     {affinityParallel, handleRelease},
	"list":        {affinityParallel, handleList},
	"query":       {affinityParallel, handleQuery},
	"evaluate":    {affinityParallel, handleEvaluate},
	"capture":     {affinityParallel, handleCapture},
	"wait_stable": {affinityParallel, handleWaitStable},
}

// execAction resolves the target session, executes one primitive through
// the executor, and records the result. Session lookup failures resolve
// into a context_not_found result rather than an error reply, so a stale
// context id never breaks the caller's batch.
func execAction(ctx context.Context, d *Dispatcher, cmd *Command, act executor.Action, verification string) action.Result {
	sess, err := d.reg.Get(cmd.SessionID)
	if err != nil {
		res := action.NewResult(action.StatusContextNotFound, "no session with id "+cmd.SessionID)
		d.record(ctx, cmd, res)
		return res
	}
	level := sess.DefaultVerification()
	if verification != "" {
		if parsed, perr := action.ParseVerificationLevel(verification); perr == nil {
			level = parsed
		}
	}
	res := d.exec.Do(ctx, sess, act, level)
	d.record(ctx, cmd, res)
	return res
}

func runAction(ctx context.Context, d *Dispatcher, cmd *Command, act executor.Action, verification string) reply {
	return encodeResult(cmd.ID, execAction(ctx, d, cmd, act, verification))
}

func handleCreate(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p createParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	headless := true
	if p.Headless != nil {
		headless = *p.Headless
	}
	params := registry.CreateParams{
		Profile: backend.Profile{
			Proxy:          p.Proxy,
			Fingerprint:    p.Fingerprint,
			Headless:       headless,
			BlockResources: p.BlockResources,
		},
	}
	if p.Verification != "" {
		level, err := action.ParseVerificationLevel(p.Verification)
		if err != nil {
			return encodeError(cmd.ID, err.Error())
		}
		params.Verification = level
		params.HasLevel = true
	}

	sess, err := d.reg.Create(ctx, params)
	if err != nil {
		status := action.StatusInternalError
		if errors.Is(err, registry.ErrResourceExhausted) {
			status = action.StatusResourceExhausted
		}
		res := action.NewResult(status, err.Error())
		d.record(ctx, cmd, res)
		return encodeResult(cmd.ID, res)
	}
	res := action.OK("session created")
	cmd.SessionID = sess.ID()
	d.record(ctx, cmd, res)
	return encodeResultWithContextID(cmd.ID, res, sess.ID())
}

func handleClose(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	closed, err := d.reg.Close(ctx, cmd.SessionID)
	var res action.Result
	switch {
	case err != nil:
		res = action.NewResult(action.StatusSessionBusy, err.Error())
	case !closed:
		res = action.NewResult(action.StatusContextNotFound, "no session with id "+cmd.SessionID)
	default:
		res = action.OK("session closed")
	}
	d.record(ctx, cmd, res)
	return encodeResult(cmd.ID, res)
}

func handleRelease(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var res action.Result
	if err := d.reg.Release(cmd.SessionID); err != nil {
		res = action.NewResult(action.StatusContextNotFound, "no session with id "+cmd.SessionID)
	} else {
		res = action.OK("session released")
	}
	d.record(ctx, cmd, res)
	return encodeResult(cmd.ID, res)
}

func handleList(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	ids := d.reg.List()
	type sessionInfo struct {
		ContextID string `json:"context_id"`
		CreatedAt string `json:"created_at"`
		IdleMs    int64  `json:"idle_ms"`
		InUse     bool   `json:"in_use"`
		ActiveOps int    `json:"active_ops"`
	}
	infos := make([]sessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := d.reg.Get(id)
		if err != nil {
			continue
		}
		infos = append(infos, sessionInfo{
			ContextID: sess.ID(),
			CreatedAt: sess.CreatedAt().UTC().Format(time.RFC3339),
			IdleMs:    sess.IdleFor().Milliseconds(),
			InUse:     sess.InUse(),
			ActiveOps: sess.ActiveOps(),
		})
	}
	return encodeResult(cmd.ID, map[string]any{
		"sessions":     infos,
		"count":        len(infos),
		"memory_bytes": d.reg.EstimatedMemory(),
	})
}

func handleNavigate(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p navigateParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:    executor.KindNavigate,
		URL:     p.URL,
		Wait:    backend.WaitPolicy(p.WaitUntil),
		Timeout: time.Duration(p.TimeoutMs) * time.Millisecond,
	}, p.Verification)
}

func handleClick(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p clickParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:     executor.KindClick,
		Selector: p.Selector,
		Button:   p.Button,
		Clicks:   p.Clicks,
		Timeout:  time.Duration(p.TimeoutMs) * time.Millisecond,
	}, p.Verification)
}

func handleType(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p typeParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:     executor.KindType,
		Selector: p.Selector,
		Text:     p.Text,
		Clear:    p.Clear,
		Timeout:  time.Duration(p.TimeoutMs) * time.Millisecond,
	}, p.Verification)
}

func handlePick(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p pickParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:     executor.KindPick,
		Selector: p.Selector,
		Value:    p.Value,
	}, p.Verification)
}

func handleHover(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p hoverParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:     executor.KindHover,
		Selector: p.Selector,
	}, p.Verification)
}

func handleScroll(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p scrollParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:   executor.KindScroll,
		DeltaX: p.DeltaX,
		DeltaY: p.DeltaY,
	}, p.Verification)
}

func handleUpload(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p uploadParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:     executor.KindUpload,
		Selector: p.Selector,
		Paths:    p.Paths,
	}, p.Verification)
}

func handleQuery(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p queryParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:     executor.KindQuery,
		Selector: p.Selector,
	}, "")
}

func handleEvaluate(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p evaluateParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:   executor.KindEvaluate,
		Script: p.Script,
		Return: p.Return,
	}, "")
}

func handleCapture(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p captureParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	mode := backend.CaptureViewport
	if p.Mode != "" {
		mode = backend.CaptureMode(p.Mode)
	}
	res := execAction(ctx, d, cmd, executor.Action{
		Kind: executor.KindCapture,
		Mode: mode,
	}, "")

	// When an artifact store is configured, the capture is persisted and
	// the reply carries both the bytes and where they landed.
	if data, ok := res.Value.([]byte); ok && res.Success && d.artifacts != nil {
		if path, err := d.artifacts.Save(cmd.SessionID, data); err == nil {
			res = res.WithValue(map[string]any{"data": data, "path": path})
		} else {
			log.Ctx(ctx).Warn().Err(err).Msg("unable to persist capture artifact")
		}
	}
	return encodeResult(cmd.ID, res)
}

func handleWaitStable(ctx context.Context, d *Dispatcher, cmd *Command) reply {
	var p waitStableParams
	if err := decodeParams(cmd, &p); err != nil {
		return encodeError(cmd.ID, err.Error())
	}
	return runAction(ctx, d, cmd, executor.Action{
		Kind:    executor.KindWaitStable,
		Timeout: time.Duration(p.TimeoutMs) * time.Millisecond,
	}, "")
}
