package api

import (
	"encoding/json"
	stdErrors "errors"
	"io"
	"net/http"

	"AgentCanvas/internal/catalog"
	"AgentCanvas/internal/editor"
	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/graph"
	"AgentCanvas/internal/run"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	message := err.Error()
	if e, ok := xerrors.From(err); ok {
		message = e.Message()
	}
	writeJSON(w, statusOf(code), map[string]errorBody{"error": {Code: string(code), Message: message}})
}

func writeErrorCode(w http.ResponseWriter, code xerrors.Code, message string) {
	writeError(w, xerrors.New(code, message))
}

func statusOf(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, editor.CodeInvalidPayload, editor.CodeNotContainer,
		graph.CodeDanglingEdge, graph.CodeInvalidParent:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, graph.CodeNodeNotFound, run.CodeRunNotFound,
		catalog.CodeSubnetNotFound, catalog.CodeAgentNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, editor.CodeAgentContainerExists, graph.CodeDuplicateNode, graph.CodeDuplicateEdge:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, map[string]errorBody{"error": {Code: "METHOD_NOT_ALLOWED", Message: "仅支持 " + allowed}})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// decodeOptionalBody 与 decodeBody 相同，但允许空请求体。
func decodeOptionalBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !stdErrors.Is(err, io.EOF) {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}
