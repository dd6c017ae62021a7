package tools

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// httpSessionHeader lets an HTTP client pin requests to one session (e.g.
// to keep switch_agent in effect across calls); when absent, a fresh
// session is opened for the one request and closed after it, since HTTP
// has no persistent stream to key a session to.
const httpSessionHeader = "X-TMWS-Session-ID"

// httpAgentHeader authenticates a freshly opened ephemeral session, since
// an HTTP request has no prior stream on which switch_agent/Authenticate
// could already have run.
const httpAgentHeader = "X-TMWS-Agent-ID"

// HandleHTTP implements the REST subset of §6: one request/response per
// tool under /tools/{name}, using the same {id,tool,params}/
// {id,result|error} envelope minus the id framing (HTTP correlates by
// response, not by frame id).
func (r *Router) HandleHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(req.URL.Path, "/tools/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "tool name required", http.StatusBadRequest)
		return
	}

	var params json.RawMessage
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(&params); err != nil && err.Error() != "EOF" {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	sessionID := req.Header.Get(httpSessionHeader)
	ephemeral := sessionID == ""
	if ephemeral {
		sessionID = uuid.NewString()
		r.sessions.Open(sessionID)
		defer r.sessions.CloseSession(sessionID)
		if agentID := req.Header.Get(httpAgentHeader); agentID != "" {
			if err := r.sessions.Authenticate(sessionID, agentID); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
	}

	resp := r.Dispatch(req.Context(), sessionID, Request{Tool: name, Params: params})

	w.Header().Set("Content-Type", "application/json")
	if resp.Error != nil {
		w.WriteHeader(httpStatusForCode(resp.Error.Code))
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func httpStatusForCode(code string) int {
	switch code {
	case "ErrValidation":
		return http.StatusBadRequest
	case "ErrPermission":
		return http.StatusForbidden
	case "ErrNotFound", "ErrUnknownAgent", "ErrUnknownTool":
		return http.StatusNotFound
	case "ErrRateLimited":
		return http.StatusTooManyRequests
	case "ErrNameConflict", "ErrDuplicateId":
		return http.StatusConflict
	case "ErrTimeout":
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
