package server

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/engine"
	"github.com/meikuraledutech/btchat/requirements"
)

// MessageRequest is the body of the message endpoints.
type MessageRequest struct {
	Input    string `json:"input"`
	Mode     string `json:"mode"`
	Artifact string `json:"artifact,omitempty"`
}

// RowRequest is the JSON body of the rows endpoint.
type RowRequest struct {
	Row requirements.Row `json:"row"`
}

// SessionResponse describes a session, its history and its current tree.
type SessionResponse struct {
	SessionID string           `json:"session_id"`
	Messages  []btchat.Message `json:"messages"`
	Artifact  *btchat.Artifact `json:"artifact,omitempty"`
}

// ErrorResponse is returned for malformed requests and store failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createSession(c *gin.Context) {
	session, err := s.engine.Session(c.Request.Context(), uuid.NewString())
	if err != nil {
		s.abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, SessionResponse{SessionID: session.ID, Messages: []btchat.Message{}})
}

func (s *Server) getSession(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	msgs, err := s.engine.History(ctx, id)
	if err != nil {
		s.abort(c, http.StatusInternalServerError, err)
		return
	}
	if msgs == nil {
		msgs = []btchat.Message{}
	}

	resp := SessionResponse{SessionID: btchat.SessionID(id), Messages: msgs}
	artifact, err := s.engine.CurrentArtifact(ctx, id)
	switch {
	case err == nil:
		resp.Artifact = artifact
	case !errors.Is(err, btchat.ErrNoPriorArtifact):
		s.abort(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) resetSession(c *gin.Context) {
	if err := s.engine.Reset(c.Request.Context(), c.Param("id")); err != nil {
		s.abort(c, http.StatusInternalServerError, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) sendMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abort(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	// An omitted mode falls through to the engine's default.
	var mode btchat.Mode
	if req.Mode != "" {
		var err error
		if mode, err = btchat.ParseMode(req.Mode); err != nil {
			s.abort(c, http.StatusBadRequest, err)
			return
		}
	}
	s.respond(c, engine.Request{SessionID: c.Param("id"), Mode: mode, Input: req.Input, Artifact: req.Artifact})
}

func (s *Server) pinned(mode btchat.Mode) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.abort(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
		s.respond(c, engine.Request{SessionID: c.Param("id"), Mode: mode, Input: req.Input, Artifact: req.Artifact})
	}
}

// generateFromRow accepts either a JSON {"row": {...}} body or a multipart
// upload with a "file" CSV part and an optional zero-based "row" index.
func (s *Server) generateFromRow(c *gin.Context) {
	var row requirements.Row

	if file, err := c.FormFile("file"); err == nil {
		row, err = rowFromUpload(file, c.DefaultPostForm("row", "0"))
		if err != nil {
			s.abort(c, http.StatusBadRequest, err)
			return
		}
	} else {
		var req RowRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			s.abort(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
		row = req.Row
	}

	if row == nil {
		row = requirements.Row{}
	}
	s.respond(c, engine.Request{SessionID: c.Param("id"), Row: row})
}

func rowFromUpload(file *multipart.FileHeader, index string) (requirements.Row, error) {
	n, err := strconv.Atoi(index)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("invalid row index %q", index)
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	rows, err := requirements.ReadCSV(f)
	if err != nil {
		return nil, err
	}
	if n >= len(rows) {
		return nil, fmt.Errorf("row %d out of range: file has %d rows", n, len(rows))
	}
	return rows[n], nil
}

func (s *Server) respond(c *gin.Context, req engine.Request) {
	reply := s.engine.Handle(c.Request.Context(), req)
	status := http.StatusOK
	if reply.Kind == engine.KindError {
		status = http.StatusBadGateway
	}
	c.JSON(status, reply)
}

func (s *Server) abort(c *gin.Context, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(c.Request.Context(), "request failed", "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorResponse{Error: err.Error()})
}
