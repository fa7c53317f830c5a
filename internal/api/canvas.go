package api

import (
	"encoding/json"
	"net/http"
	"strings"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/graph"
)

type dropRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Position graph.Position  `json:"position"`
}

type connectRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

func (s *Server) handleCanvas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.canvas.Graph())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, s.canvas.Export())
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	items := s.canvas.WorkflowItems()
	if items == nil {
		items = []graph.Node{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req dropRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Payload) == 0 {
		writeErrorCode(w, xerrors.CodeInvalidArgument, "payload 不能为空")
		return
	}
	result, err := s.canvas.Drop(r.Context(), req.Payload, req.Position)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req connectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	edge, err := s.canvas.Connect(r.Context(), req.Source, req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

// handleNode 处理 /api/v1/canvas/nodes/{id}[/collapse|/resize|/move]。
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/canvas/nodes/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeErrorCode(w, xerrors.CodeInvalidArgument, "缺少节点 id")
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w, http.MethodDelete)
			return
		}
		result, err := s.canvas.DeleteNode(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "collapse":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		collapsed, err := s.canvas.ToggleCollapse(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "collapsed": collapsed})
	case "resize":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var size graph.Size
		if err := decodeBody(r, &size); err != nil {
			writeError(w, err)
			return
		}
		applied, err := s.canvas.Resize(r.Context(), id, size)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "style": applied})
	case "move":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var pos graph.Position
		if err := decodeBody(r, &pos); err != nil {
			writeError(w, err)
			return
		}
		if err := s.canvas.MoveNode(r.Context(), id, pos); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "position": pos})
	default:
		writeErrorCode(w, xerrors.CodeNotFound, "未知的节点操作")
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.recorder == nil {
		writeJSON(w, http.StatusOK, map[string]any{"notifications": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": s.recorder.List()})
}
