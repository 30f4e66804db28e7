package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/RecruitPipe/internal/models"
)

// PromptResponse is returned by GET /prompt.
type PromptResponse struct {
	PromptSHA string `json:"prompt_sha"`
	Model     string `json:"model"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) sendHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SendRequest
	if !s.decode(w, r, "sendHandler", &req) {
		return
	}
	res, err := s.svc.StartOutreach(r.Context(), req)
	if err != nil {
		writeError(w, "sendHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

func (s *Server) sendBatchHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SendBatchRequest
	if !s.decode(w, r, "sendBatchHandler", &req) {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.svc.SendBatch(r.Context(), req.Items)))
}

// moHandler processes a simulated inbound message synchronously and returns the
// turn result unwrapped.
func (s *Server) moHandler(w http.ResponseWriter, r *http.Request) {
	var req models.MORequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Sender()) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("msisdn is required"))
		return
	}
	res, err := s.svc.HandleInbound(r.Context(), models.Inbound{
		From: req.Sender(),
		Text: req.Body(),
		Time: time.Now().UTC(),
	})
	if err != nil {
		writeError(w, "moHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, res)
}

func (s *Server) threadHandler(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Thread(r.Context(), r.PathValue("phone"))
	if err != nil {
		writeError(w, "threadHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(v))
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	o, err := s.svc.Summary(r.Context(), r.PathValue("phone"))
	if err != nil {
		writeError(w, "summaryHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(o))
}

func (s *Server) promptHandler(w http.ResponseWriter, r *http.Request) {
	info := s.svc.Planner().PromptInfo()
	sha, model, _ := strings.Cut(info, " ")
	writeJSONResponse(w, http.StatusOK, models.Success(PromptResponse{PromptSHA: sha, Model: model}))
}

// decode reads a JSON body into dst and validates it, writing the error response
// itself when it returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, op string, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONResponse(w, http.StatusRequestEntityTooLarge, models.Error("Request body too large"))
			return false
		}
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON body"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, op, err)
		return false
	}
	return true
}
