package httpgw

import (
	"encoding/json"
	"net/http"
)

// HandleActive implements GET /streams/active (§4.4): a read-only
// snapshot of every Record in the Registry (ENDED ones included while
// their audit retention lasts) plus its consumer aliases.
func (s *Server) HandleActive(w http.ResponseWriter, r *http.Request) {
	snapshot := s.registry.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(snapshot)
}
