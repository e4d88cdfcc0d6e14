// Package telemetry exposes the runtime profiling endpoint. The
// listener binds localhost only; production access goes through a
// port-forward.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/lyzr/agentflow/common/logger"
)

// Telemetry serves pprof alongside the API server
type Telemetry struct {
	log  *logger.Logger
	addr string
	srv  *http.Server
}

// New creates the pprof listener on the given port
func New(pprofPort int, log *logger.Logger) *Telemetry {
	return &Telemetry{
		log:  log,
		addr: fmt.Sprintf("localhost:%d", pprofPort),
	}
}

// Start serves pprof in the background. The pprof import registers its
// handlers on the default mux.
func (t *Telemetry) Start() {
	t.srv = &http.Server{Addr: t.addr}
	go func() {
		t.log.Info("pprof server starting", "addr", t.addr)
		if err := t.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("pprof server error", "error", err)
		}
	}()
}

// Stop shuts the pprof listener down
func (t *Telemetry) Stop(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}
