package rpcserver

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/luxfi/geth/log"

	"github.com/croncatd/croncatd/internal/bus"
)

// event is the wire shape pushed to every websocket subscriber: a kind
// discriminator plus the typed payload, so a thin client can dispatch on
// Kind without a schema registry (spec.md §6 "Events": "every mutating
// handler emits at minimum action=<name> and relevant identifiers").
type event struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveEvents upgrades the connection and fans out every internal/bus
// feed until the client disconnects, the websocket half of spec.md §6's
// "subscribe_events" push channel.
func (s *Service) serveEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("rpcserver: websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	taskCreated := make(chan bus.TaskCreated, 16)
	taskRemoved := make(chan bus.TaskRemoved, 16)
	nominationOpened := make(chan bus.AgentNominationOpened, 16)
	dispatched := make(chan bus.Dispatched, 16)
	agentsKicked := make(chan bus.AgentsKicked, 16)

	subs := []interface {
		Unsubscribe()
	}{
		s.bus.SubscribeTaskCreated(taskCreated),
		s.bus.SubscribeTaskRemoved(taskRemoved),
		s.bus.SubscribeAgentNominationOpened(nominationOpened),
		s.bus.SubscribeDispatched(dispatched),
		s.bus.SubscribeAgentsKicked(agentsKicked),
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	// closed reports a client disconnect so the write loop can exit
	// without leaking a goroutine reading from a dead connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		var ev event
		select {
		case e := <-taskCreated:
			ev = event{Kind: "task_created", Data: e}
		case e := <-taskRemoved:
			ev = event{Kind: "task_removed", Data: e}
		case e := <-nominationOpened:
			ev = event{Kind: "agent_nomination_opened", Data: e}
		case e := <-dispatched:
			ev = event{Kind: "dispatched", Data: e}
		case e := <-agentsKicked:
			ev = event{Kind: "agents_kicked", Data: e}
		case <-closed:
			return
		}
		if err := conn.WriteJSON(ev); err != nil {
			return
		}
	}
}
