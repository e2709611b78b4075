package compose

import (
	"net/http"
	"sync/atomic"
)

// Server wraps a [Runtime] behind an atomic pointer so a host can swap in a
// newly built Runtime (e.g. after a config or template-source change)
// without interrupting in-flight requests (teacher idiom: xtemplate's
// Server/atomic.Pointer[Instance]).
type Server struct {
	rt atomic.Pointer[Runtime]
}

// NewServer builds a Server from an initial Config.
func NewServer(cfg *Config) (*Server, error) {
	rt, err := NewRuntime(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{}
	s.rt.Store(rt)
	return s, nil
}

// Reload atomically swaps in a Runtime built from cfg. In-flight requests
// keep using the Runtime they started with.
func (s *Server) Reload(cfg *Config) error {
	rt, err := NewRuntime(cfg)
	if err != nil {
		return err
	}
	s.rt.Store(rt)
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.rt.Load().ServeHTTP(w, r)
}
