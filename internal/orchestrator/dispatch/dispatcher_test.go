package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/charterhq/charter/internal/orchestrator/backend"
	"github.com/charterhq/charter/internal/orchestrator/executor"
	"github.com/charterhq/charter/internal/orchestrator/registry"
)

type testRig struct {
	d       *Dispatcher
	factory *backend.FakeFactory
	cancel  context.CancelFunc
}

func newTestRig(t *testing.T, configure func(*backend.FakeBackend)) *testRig {
	t.Helper()
	factory := &backend.FakeFactory{Configure: configure}
	reg := registry.New(factory, registry.Options{MaxSessions: 8})
	exec := executor.New(executor.Options{
		VerifyWindow: 200 * time.Millisecond,
		PollInterval: 10 * time.Millisecond,
	})
	d := New(reg, exec, nil, Options{CoalesceDelay: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)
	return &testRig{d: d, factory: factory, cancel: cancel}
}

// submit runs one request line to completion and returns the parsed reply.
func (r *testRig) submit(t *testing.T, line string) gjson.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rep, err := r.d.SubmitRaw([]byte(line)).Wait(ctx)
	require.NoError(t, err)
	return gjson.ParseBytes(rep)
}

func (r *testRig) createSession(t *testing.T) string {
	t.Helper()
	rep := r.submit(t, `{"id":1,"method":"create"}`)
	require.True(t, rep.Get("result.success").Bool(), "create failed: %s", rep.Raw)
	id := rep.Get("result.context_id").String()
	require.NotEmpty(t, id)
	return id
}

func TestCreateReplyCarriesContextID(t *testing.T) {
	rig := newTestRig(t, nil)
	rep := rig.submit(t, `{"id":7,"method":"create"}`)

	assert.EqualValues(t, 7, rep.Get("id").Int())
	assert.Equal(t, "ok", rep.Get("result.status").String())
	assert.NotEmpty(t, rep.Get("result.context_id").String())
	assert.False(t, rep.Get("error").Exists())
}

func TestCreateBlockResourcesReachesBackendProfile(t *testing.T) {
	rig := newTestRig(t, nil)

	rep := rig.submit(t, `{"id":1,"method":"create","block_resources":true,"headless":true}`)
	require.True(t, rep.Get("result.success").Bool(), "create failed: %s", rep.Raw)

	profiles := rig.factory.Profiles()
	require.Len(t, profiles, 1)
	assert.True(t, profiles[0].BlockResources)
	assert.True(t, profiles[0].Headless)
}

func TestNavigateRoundTrip(t *testing.T) {
	rig := newTestRig(t, nil)
	id := rig.createSession(t)

	rep := rig.submit(t, `{"id":2,"method":"navigate","context_id":"`+id+`","url":"https://example.com"}`)
	assert.True(t, rep.Get("result.success").Bool())
	assert.Equal(t, "https://example.com", rep.Get("result.url").String())
}

func TestSerializedCommandsRunInArrivalOrder(t *testing.T) {
	rig := newTestRig(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#field", backend.FakeElement{Visible: true, Enabled: true})
	})
	id := rig.createSession(t)

	first := rig.d.SubmitRaw([]byte(`{"id":10,"method":"type","context_id":"` + id + `","selector":"#field","text":"alpha-"}`))
	second := rig.d.SubmitRaw([]byte(`{"id":11,"method":"type","context_id":"` + id + `","selector":"#field","text":"beta"}`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := first.Wait(ctx)
	require.NoError(t, err)
	_, err = second.Wait(ctx)
	require.NoError(t, err)

	fb := rig.factory.Created()[0]
	el, ok := fb.Element("#field")
	require.True(t, ok)
	assert.Equal(t, "alpha-beta", el.Value)
}

func TestParallelQueryOverlapsSerializedStream(t *testing.T) {
	rig := newTestRig(t, func(fb *backend.FakeBackend) {
		fb.Latency = 20 * time.Millisecond
		fb.AddElement("#field", backend.FakeElement{Visible: true, Enabled: true, Text: "ready"})
	})
	id := rig.createSession(t)

	slow := rig.d.SubmitRaw([]byte(`{"id":20,"method":"type","context_id":"` + id + `","selector":"#field","text":"x"}`))
	query := rig.d.SubmitRaw([]byte(`{"id":21,"method":"query","context_id":"` + id + `","selector":"#field"}`))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	qrep, err := query.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(qrep, "result.success").Bool())

	srep, err := slow.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(srep, "result.success").Bool())
}

func TestStaleContextIDIsResultNotError(t *testing.T) {
	rig := newTestRig(t, nil)
	rep := rig.submit(t, `{"id":3,"method":"click","context_id":"gone","selector":"#btn"}`)

	assert.False(t, rep.Get("error").Exists())
	assert.False(t, rep.Get("result.success").Bool())
	assert.Equal(t, "context_not_found", rep.Get("result.status").String())
}

func TestCloseThenReuseReportsContextNotFound(t *testing.T) {
	rig := newTestRig(t, nil)
	id := rig.createSession(t)

	rep := rig.submit(t, `{"id":4,"method":"close","context_id":"`+id+`"}`)
	assert.True(t, rep.Get("result.success").Bool())

	rep = rig.submit(t, `{"id":5,"method":"navigate","context_id":"`+id+`","url":"https://example.com"}`)
	assert.Equal(t, "context_not_found", rep.Get("result.status").String())
}

func TestCreateOverLimitReportsResourceExhausted(t *testing.T) {
	factory := &backend.FakeFactory{}
	reg := registry.New(factory, registry.Options{MaxSessions: 1})
	d := New(reg, executor.New(executor.Options{}), nil, Options{CoalesceDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)
	rig := &testRig{d: d, factory: factory}

	rig.createSession(t)
	rep := rig.submit(t, `{"id":2,"method":"create"}`)
	assert.False(t, rep.Get("result.success").Bool())
	assert.Equal(t, "resource_exhausted", rep.Get("result.status").String())
}

func TestListReportsLiveSessions(t *testing.T) {
	rig := newTestRig(t, nil)
	a := rig.createSession(t)
	b := rig.createSession(t)

	rep := rig.submit(t, `{"id":9,"method":"list"}`)
	assert.EqualValues(t, 2, rep.Get("result.count").Int())
	ids := make([]string, 0, 2)
	for _, s := range rep.Get("result.sessions").Array() {
		ids = append(ids, s.Get("context_id").String())
	}
	assert.ElementsMatch(t, []string{a, b}, ids)
}

func TestReleaseClearsInUse(t *testing.T) {
	rig := newTestRig(t, nil)
	id := rig.createSession(t)

	rep := rig.submit(t, `{"id":6,"method":"release","context_id":"`+id+`"}`)
	assert.True(t, rep.Get("result.success").Bool())

	rep = rig.submit(t, `{"id":7,"method":"list"}`)
	assert.False(t, rep.Get("result.sessions.0.in_use").Bool())
}

func TestShutdownRejectsNewCommands(t *testing.T) {
	rig := newTestRig(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rig.d.Shutdown(ctx))

	rep := rig.submit(t, `{"id":8,"method":"list"}`)
	assert.True(t, rep.Get("error").Exists())
	assert.Contains(t, rep.Get("error").String(), "shutting down")
}

func TestPendingCommandResolvesExactlyOnce(t *testing.T) {
	p := NewPendingCommand(&Command{ID: 1})
	p.resolve(reply(`{"id":1,"result":"first"}`))
	p.resolve(reply(`{"id":1,"result":"second"}`))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r, err := p.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", gjson.GetBytes(r, "result").String())

	// No second reply is ever delivered.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = p.Wait(ctx2)
	assert.Error(t, err)
}

func TestLineChannelAnswersEveryRequest(t *testing.T) {
	rig := newTestRig(t, nil)

	input := strings.Join([]string{
		`{"id":1,"method":"create"}`,
		`{"id":2,"method":"bogus"}`,
		`not json at all`,
		`{"id":4,"method":"list"}`,
	}, "\n") + "\n"

	var out bytes.Buffer
	ch := NewLineChannel(rig.d, &out)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ch.Serve(ctx, strings.NewReader(input)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)

	seen := map[int64]gjson.Result{}
	for _, line := range lines {
		rep := gjson.Parse(line)
		seen[rep.Get("id").Int()] = rep
	}
	assert.True(t, seen[1].Get("result.success").Bool())
	assert.Contains(t, seen[2].Get("error").String(), "unknown method")
	assert.Contains(t, seen[-1].Get("error").String(), "not valid JSON")
	assert.True(t, seen[4].Get("result").Exists())
}

func TestLineChannelWritesSerializedRepliesInIssueOrder(t *testing.T) {
	rig := newTestRig(t, func(fb *backend.FakeBackend) {
		fb.AddElement("#field", backend.FakeElement{Visible: true, Enabled: true})
	})
	id := rig.createSession(t)

	const n = 400
	var in strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&in, `{"id":%d,"method":"type","context_id":%q,"selector":"#field","text":"x"}`+"\n", i, id)
	}

	var out bytes.Buffer
	ch := NewLineChannel(rig.d, &out)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, ch.Serve(ctx, strings.NewReader(in.String())))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, n)
	for i, line := range lines {
		require.EqualValues(t, i+1, gjson.Get(line, "id").Int(),
			"reply at position %d out of issue order", i)
	}
}

func TestLineChannelOrdersSerializedAroundParallel(t *testing.T) {
	rig := newTestRig(t, func(fb *backend.FakeBackend) {
		fb.Latency = 2 * time.Millisecond
		fb.AddElement("#field", backend.FakeElement{Visible: true, Enabled: true})
	})
	id := rig.createSession(t)

	// Serialized commands get even ids, parallel queries odd ids. The
	// serialized subsequence of the output must be ascending; the parallel
	// replies may land anywhere.
	const pairs = 50
	var in strings.Builder
	for i := 1; i <= pairs; i++ {
		fmt.Fprintf(&in, `{"id":%d,"method":"type","context_id":%q,"selector":"#field","text":"x"}`+"\n", 2*i, id)
		fmt.Fprintf(&in, `{"id":%d,"method":"query","context_id":%q,"selector":"#field"}`+"\n", 2*i+1, id)
	}

	var out bytes.Buffer
	ch := NewLineChannel(rig.d, &out)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, ch.Serve(ctx, strings.NewReader(in.String())))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2*pairs)

	var serialized []int64
	for _, line := range lines {
		if id := gjson.Get(line, "id").Int(); id%2 == 0 {
			serialized = append(serialized, id)
		}
	}
	require.Len(t, serialized, pairs)
	for i := 1; i < len(serialized); i++ {
		require.Greater(t, serialized[i], serialized[i-1],
			"serialized reply order inverted at position %d", i)
	}
}
