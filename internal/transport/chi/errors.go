package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/domain"
	"github.com/benkoppe/sustainabotily/internal/logger"
)

// ErrorResponse is the body of every non-streamed error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type sentinelMapping struct {
	err    error
	status int
	code   string
}

var sentinels = []sentinelMapping{
	{domain.ErrSessionNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrSessionBusy, http.StatusConflict, "session_busy"},
	{domain.ErrEmbeddingService, http.StatusBadGateway, "embedding_unavailable"},
	{domain.ErrGeneration, http.StatusBadGateway, "generation_unavailable"},
	{domain.ErrIndexCorrupt, http.StatusInternalServerError, "index_corrupt"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// handleDomainError maps sentinel errors to statuses. Only the sentinel text
// reaches the client.
func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	for _, m := range sentinels {
		if errors.Is(err, m.err) {
			log.Warn("domain error", zap.Error(err))
			writeError(w, m.status, m.code, m.err.Error())
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
