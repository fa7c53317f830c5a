package api

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	xerrors "AgentCanvas/internal/errors"
	"AgentCanvas/internal/feed"
	"AgentCanvas/internal/run"
)

type startRunRequest struct {
	ID         string   `json:"id"`
	WorkflowID string   `json:"workflowId"`
	Items      []string `json:"items"`
	FromCanvas bool     `json:"fromCanvas"`
}

type failRunRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartRun(w, r)
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"runs": s.runs.List()})
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	items := req.Items
	if len(items) == 0 && req.FromCanvas && s.canvas != nil {
		for _, n := range s.canvas.WorkflowItems() {
			items = append(items, n.ID)
		}
	}
	snap, err := s.runs.Start(r.Context(), run.StartRequest{ID: req.ID, WorkflowID: req.WorkflowID, Items: items})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// handleRun 处理 /api/v1/runs/{id}[/events|/complete|/fail|/outputs/{itemId}]。
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/runs/"), "/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeErrorCode(w, xerrors.CodeInvalidArgument, "缺少运行 id")
		return
	}
	ctx := r.Context()

	switch {
	case action == "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		snap, err := s.runs.Get(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case action == "events":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取事件失败"))
			return
		}
		if s.producer != nil {
			s.enqueue(w, r, feed.EventMessage(id, raw))
			return
		}
		rec, applied, err := s.runs.Apply(ctx, id, raw)
		if err != nil {
			writeError(w, err)
			return
		}
		if !applied {
			s.log.Debug("事件未折叠", slog.String("run_id", id))
			writeJSON(w, http.StatusAccepted, map[string]any{"applied": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"applied": true, "record": rec})
	case action == "complete":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		if s.producer != nil {
			s.enqueue(w, r, feed.CompleteMessage(id))
			return
		}
		snap, err := s.runs.Complete(ctx, id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case action == "fail":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		var req failRunRequest
		if err := decodeOptionalBody(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if s.producer != nil {
			s.enqueue(w, r, feed.ErrorMessage(id, req.Reason))
			return
		}
		snap, err := s.runs.Fail(ctx, id, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	case strings.HasPrefix(action, "outputs/"):
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		itemID := strings.TrimPrefix(action, "outputs/")
		output, ok, err := s.runs.ChainedOutput(ctx, id, itemID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeErrorCode(w, xerrors.CodeNotFound, "该步骤没有可链接输出")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"itemId": itemID, "output": output})
	default:
		writeErrorCode(w, xerrors.CodeNotFound, "未知的运行操作")
	}
}

// enqueue 确认运行存在后投递消息，折叠结果由队列消费端产生。
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, msg feed.Message) {
	ctx := r.Context()
	if _, err := s.runs.Get(ctx, msg.RunID); err != nil {
		writeError(w, err)
		return
	}
	if err := s.producer.Publish(ctx, msg); err != nil {
		s.log.Warn("消息投递失败", slog.String("run_id", msg.RunID), slog.Any("error", err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true, "signal": msg.Signal})
}
