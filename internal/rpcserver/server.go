package rpcserver

import (
	"net/http"

	"github.com/gorilla/rpc"
	"github.com/gorilla/rpc/json"

	"github.com/luxfi/geth/log"
)

// NewHandlers builds the map[string]http.Handler the daemon mounts,
// grounded on the teacher's own CreateHandlers shape in
// plugin/evm/vm.go (one handler per mount path, returned for the caller
// to wire into its own mux/listener).
func NewHandlers(svc *Service) (map[string]http.Handler, error) {
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(svc, ""); err != nil {
		return nil, err
	}

	handlers := make(map[string]http.Handler)
	handlers["/rpc"] = loggingHandler(rpcServer)
	handlers["/ws"] = http.HandlerFunc(svc.serveEvents)
	return handlers, nil
}

// loggingHandler wraps h with a one-line-per-request log entry, the same
// "<thing> called" shape the teacher's plugin/evm admin handlers log
// through github.com/luxfi/geth/log.
func loggingHandler(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("rpcserver: request", "method", r.Method, "remote", r.RemoteAddr)
		h.ServeHTTP(w, r)
	})
}
