package server

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/charterhq/charter/internal/orchestrator/dispatch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Token auth gates the route; origin is not the trust boundary here.
		return true
	},
}

// orderedLaneDepth bounds how many serialized commands a connection
// pipelines before reading blocks on the oldest reply.
const orderedLaneDepth = 256

// serveWebSocket runs the command protocol over a websocket: each text
// message is one request, each reply one message. Serialized-class replies
// are written in the order their commands arrived on this connection;
// parallel-class replies are written as they complete, so a slow parallel
// command never blocks the stream.
func (s *OrchestratorServer) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var writeMu sync.Mutex
	var wg sync.WaitGroup

	write := func(reply []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("websocket write failed")
		}
	}

	// Single writer for the serialized class: pendings are awaited in the
	// order they were issued, so their replies cannot invert.
	ordered := make(chan *dispatch.PendingCommand, orderedLaneDepth)
	var lane sync.WaitGroup
	lane.Add(1)
	go func() {
		defer lane.Done()
		for p := range ordered {
			reply, err := p.Wait(ctx)
			if err != nil {
				continue
			}
			write(reply)
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Ctx(ctx).Warn().Err(err).Msg("websocket read failed")
			}
			break
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			continue
		}

		pending := s.dispatcher.SubmitRaw(data)
		if pending.Serialized() {
			ordered <- pending
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := pending.Wait(ctx)
			if err != nil {
				return
			}
			write(reply)
		}()
	}
	close(ordered)
	lane.Wait()
	wg.Wait()
}
