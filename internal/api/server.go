package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MicKaranja/cms/internal/authz"
	"github.com/MicKaranja/cms/internal/monitor"
	"github.com/MicKaranja/cms/internal/notify"
	"github.com/MicKaranja/cms/internal/observability"
	"github.com/MicKaranja/cms/internal/registry"
	"github.com/MicKaranja/cms/internal/rpc"
	"github.com/MicKaranja/cms/internal/state"
	"github.com/MicKaranja/cms/internal/storage"
	"github.com/MicKaranja/cms/internal/upload"
	"github.com/MicKaranja/cms/pkg/cmsapi"
)

const evaluationService = "EvaluationService"

// Server is the administrative front end: contest and task management
// backed by the store, uploads through the content-addressed file
// store, and a gated proxy to the backend service mesh.
type Server struct {
	store         state.Store
	files         storage.FileStore
	uploads       *upload.Coordinator
	gate          *authz.Gate
	pool          *rpc.Pool
	reg           *registry.Registry
	notifications *notify.Queue
	monitor       *monitor.Monitor
	auth          *authorizer
	limiter       *uploadLimiter
	rpcTimeout    time.Duration
	uploadWait    time.Duration
	maxUploadSize int64
}

func NewServer(
	store state.Store,
	files storage.FileStore,
	uploads *upload.Coordinator,
	gate *authz.Gate,
	pool *rpc.Pool,
	reg *registry.Registry,
	notifications *notify.Queue,
	mon *monitor.Monitor,
) *Server {
	rpcTimeout := 30 * time.Second
	if raw := strings.TrimSpace(os.Getenv("CMS_PROXY_TIMEOUT_SECONDS")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			rpcTimeout = time.Duration(v) * time.Second
		}
	}
	uploadWait := 60 * time.Second
	if raw := strings.TrimSpace(os.Getenv("CMS_UPLOAD_WAIT_SECONDS")); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			uploadWait = time.Duration(v) * time.Second
		}
	}
	maxUpload := int64(getenvIntRL("CMS_MAX_UPLOAD_MB", 50)) << 20
	return &Server{
		store:         store,
		files:         files,
		uploads:       uploads,
		gate:          gate,
		pool:          pool,
		reg:           reg,
		notifications: notifications,
		monitor:       mon,
		auth:          newAuthorizerFromEnv(),
		limiter:       newUploadLimiterFromEnv(),
		rpcTimeout:    rpcTimeout,
		uploadWait:    uploadWait,
		maxUploadSize: maxUpload,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/metrics", s.handleMetrics)
	mux.HandleFunc("/v1/metrics/prometheus", s.handleMetricsPrometheus)
	mux.HandleFunc("/v1/contests", s.handleContests)
	mux.HandleFunc("/v1/contests/", s.handleContestSubresource)
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTaskSubresource)
	mux.HandleFunc("/v1/testcases/", s.handleTestcaseByID)
	mux.HandleFunc("/v1/files/", s.handleFileByDigest)
	mux.HandleFunc("/v1/users", s.handleUsers)
	mux.HandleFunc("/v1/users/", s.handleUserByID)
	mux.HandleFunc("/v1/announcements", s.handleAnnouncements)
	mux.HandleFunc("/v1/announcements/", s.handleAnnouncementByID)
	mux.HandleFunc("/v1/questions/", s.handleQuestionSubresource)
	mux.HandleFunc("/v1/messages", s.handleMessages)
	mux.HandleFunc("/v1/attachments/", s.handleAttachmentByID)
	mux.HandleFunc("/v1/managers/", s.handleManagerByID)
	mux.HandleFunc("/v1/rpc", s.handleRPCProxy)
	mux.HandleFunc("/v1/notifications", s.handleNotifications)
	mux.HandleFunc("/v1/resources", s.handleResources)
	mux.HandleFunc("/v1/reevaluate/", s.handleReevaluate)
	return withTracing(withLogging(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics", "admin"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, observability.Default.Snapshot())
}

func (s *Server) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "metrics", "admin"); !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
}

func (s *Server) handleContests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
			return
		}
		var req cmsapi.CreateContestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		if req.Stop < req.Start {
			writeError(w, http.StatusBadRequest, "stop must not precede start")
			return
		}
		rec := state.ContestRecord{
			ID:               uuid.NewString(),
			Name:             req.Name,
			Description:      req.Description,
			TokenInitial:     req.Tokens.Initial,
			TokenMax:         req.Tokens.Max,
			TokenTotal:       req.Tokens.Total,
			TokenMinInterval: req.Tokens.MinInterval,
			TokenGenTime:     req.Tokens.GenTime,
			TokenGenNumber:   req.Tokens.GenNumber,
			Start:            req.Start,
			Stop:             req.Stop,
		}
		if err := s.store.CreateContest(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, cmsapi.CreateContestResponse{ContestID: rec.ID})
	case http.MethodGet:
		if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
			return
		}
		contests, err := s.store.ListContests(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		now := time.Now().Unix()
		resp := cmsapi.ContestListResponse{Contests: make([]cmsapi.ContestSummary, 0, len(contests))}
		for _, c := range contests {
			resp.Contests = append(resp.Contests, contestSummary(c, now))
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleContestSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/contests/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "contest id is required")
		return
	}
	contestID := parts[0]
	if len(parts) == 1 {
		s.handleContestByID(w, r, contestID)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "questions":
			s.handleContestQuestions(w, r, contestID)
			return
		case "announcements":
			s.handleContestAnnouncements(w, r, contestID)
			return
		case "users":
			s.handleContestUsers(w, r, contestID)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown contest subresource")
}

func (s *Server) handleContestByID(w http.ResponseWriter, r *http.Request, contestID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
			return
		}
		c, ok, err := s.store.GetContest(r.Context(), contestID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "contest not found")
			return
		}
		writeJSON(w, http.StatusOK, contestSummary(c, time.Now().Unix()))
	case http.MethodPut:
		if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
			return
		}
		var req cmsapi.CreateContestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		c, ok, err := s.store.GetContest(r.Context(), contestID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "contest not found")
			return
		}
		if name := strings.TrimSpace(req.Name); name != "" {
			c.Name = name
		}
		c.Description = req.Description
		c.TokenInitial = req.Tokens.Initial
		c.TokenMax = req.Tokens.Max
		c.TokenTotal = req.Tokens.Total
		c.TokenMinInterval = req.Tokens.MinInterval
		c.TokenGenTime = req.Tokens.GenTime
		c.TokenGenNumber = req.Tokens.GenNumber
		if req.Start != 0 || req.Stop != 0 {
			if req.Stop < req.Start {
				writeError(w, http.StatusBadRequest, "stop must not precede start")
				return
			}
			c.Start = req.Start
			c.Stop = req.Stop
		}
		if err := s.store.UpdateContest(r.Context(), c); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, contestSummary(c, time.Now().Unix()))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleContestQuestions(w http.ResponseWriter, r *http.Request, contestID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
		return
	}
	questions, err := s.store.ListQuestionsByContest(r.Context(), contestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := cmsapi.QuestionListResponse{Questions: make([]cmsapi.QuestionSummary, 0, len(questions))}
	for _, q := range questions {
		resp.Questions = append(resp.Questions, cmsapi.QuestionSummary{
			QuestionID:     q.ID,
			UserID:         q.UserID,
			Timestamp:      q.QuestionTimestamp,
			Subject:        q.Subject,
			Text:           q.Text,
			ReplySubject:   q.ReplySubject,
			ReplyText:      q.ReplyText,
			ReplyTimestamp: q.ReplyTimestamp,
			Answered:       q.Answered(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContestAnnouncements(w http.ResponseWriter, r *http.Request, contestID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
		return
	}
	anns, err := s.store.ListAnnouncementsByContest(r.Context(), contestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := cmsapi.AnnouncementListResponse{Announcements: make([]cmsapi.AnnouncementSummary, 0, len(anns))}
	for _, a := range anns {
		resp.Announcements = append(resp.Announcements, cmsapi.AnnouncementSummary{
			AnnouncementID: a.ID,
			Timestamp:      a.Timestamp,
			Subject:        a.Subject,
			Text:           a.Text,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleContestUsers(w http.ResponseWriter, r *http.Request, contestID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
		return
	}
	users, err := s.store.ListUsersByContest(r.Context(), contestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type userSummary struct {
		UserID   string `json:"user_id"`
		RealName string `json:"real_name,omitempty"`
		Username string `json:"username"`
		Hidden   bool   `json:"hidden,omitempty"`
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		out = append(out, userSummary{UserID: u.ID, RealName: u.RealName, Username: u.Username, Hidden: u.Hidden})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	var req cmsapi.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" || req.ContestID == "" {
		writeError(w, http.StatusBadRequest, "contest_id and name are required")
		return
	}
	existing, err := s.store.ListTasksByContest(r.Context(), req.ContestID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec := state.TaskRecord{
		ID:                 uuid.NewString(),
		ContestID:          req.ContestID,
		Num:                len(existing),
		Name:               req.Name,
		Title:              req.Title,
		TimeLimit:          req.TimeLimit,
		MemoryLimit:        req.MemoryLimit,
		TaskType:           req.TaskType,
		TaskTypeParameters: req.TaskTypeParameters,
		ScoreType:          req.ScoreType,
		ScoreParameters:    req.ScoreParameters,
		SubmissionFormat:   req.SubmissionFormat,
		TokenInitial:       req.Tokens.Initial,
		TokenMax:           req.Tokens.Max,
		TokenTotal:         req.Tokens.Total,
		TokenMinInterval:   req.Tokens.MinInterval,
		TokenGenTime:       req.Tokens.GenTime,
		TokenGenNumber:     req.Tokens.GenNumber,
	}
	if err := s.store.CreateTask(r.Context(), rec); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contest not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cmsapi.CreateTaskResponse{TaskID: rec.ID})
}

func (s *Server) handleTaskSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/tasks/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "task id is required")
		return
	}
	taskID := parts[0]
	if len(parts) == 1 {
		s.handleTaskByID(w, r, taskID)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "statement":
			s.handleTaskStatement(w, r, taskID)
			return
		case "testcases":
			s.handleTaskTestcases(w, r, taskID)
			return
		case "attachments":
			s.handleTaskFileRef(w, r, taskID, "attachment")
			return
		case "managers":
			s.handleTaskFileRef(w, r, taskID, "manager")
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown task subresource")
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request, taskID string) {
	switch r.Method {
	case http.MethodGet:
		if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
			return
		}
		task, ok, err := s.store.GetTask(r.Context(), taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		cases, err := s.store.ListTestcasesByTask(r.Context(), taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		attachments, err := s.store.ListAttachmentsByTask(r.Context(), taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		names := make([]string, 0, len(attachments))
		for _, a := range attachments {
			names = append(names, a.Filename)
		}
		writeJSON(w, http.StatusOK, cmsapi.TaskStatusResponse{
			TaskID:          task.ID,
			ContestID:       task.ContestID,
			Name:            task.Name,
			Title:           task.Title,
			TimeLimit:       task.TimeLimit,
			MemoryLimit:     task.MemoryLimit,
			TaskType:        task.TaskType,
			StatementDigest: task.StatementDigest,
			Testcases:       len(cases),
			Attachments:     names,
		})
	case http.MethodPut:
		if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
			return
		}
		var req cmsapi.CreateTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		task, ok, err := s.store.GetTask(r.Context(), taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		if name := strings.TrimSpace(req.Name); name != "" {
			task.Name = name
		}
		if req.Title != "" {
			task.Title = req.Title
		}
		if req.TimeLimit > 0 {
			task.TimeLimit = req.TimeLimit
		}
		if req.MemoryLimit > 0 {
			task.MemoryLimit = req.MemoryLimit
		}
		if req.TaskType != "" {
			task.TaskType = req.TaskType
		}
		if req.TaskTypeParameters != nil {
			task.TaskTypeParameters = req.TaskTypeParameters
		}
		if req.ScoreType != "" {
			task.ScoreType = req.ScoreType
		}
		if req.ScoreParameters != "" {
			task.ScoreParameters = req.ScoreParameters
		}
		if req.SubmissionFormat != nil {
			task.SubmissionFormat = req.SubmissionFormat
		}
		task.TokenInitial = req.Tokens.Initial
		task.TokenMax = req.Tokens.Max
		task.TokenTotal = req.Tokens.Total
		task.TokenMinInterval = req.Tokens.MinInterval
		task.TokenGenTime = req.Tokens.GenTime
		task.TokenGenNumber = req.Tokens.GenNumber
		if err := s.store.UpdateTask(r.Context(), task); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, cmsapi.CreateTaskResponse{TaskID: task.ID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleTaskStatement(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "upload", "admin"); !ok {
		return
	}
	if !s.limiter.allow(taskID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}
	task, ok, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	data, err := s.readPart(r, "statement")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	digests, err := s.runUpload(
		map[string][]byte{"statement": data},
		map[string]string{"statement": fmt.Sprintf("statement for task %s", task.Name)},
	)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if err := s.store.SetTaskStatement(r.Context(), taskID, digests["statement"]); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmsapi.UploadResponse{Digest: digests["statement"]})
}

func (s *Server) handleTaskTestcases(w http.ResponseWriter, r *http.Request, taskID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "upload", "admin"); !ok {
		return
	}
	if !s.limiter.allow(taskID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}
	task, ok, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	input, err := s.readPart(r, "input")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	output, err := s.readPart(r, "output")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	public := r.FormValue("public") == "true"

	// Both halves go up in parallel; the testcase is recorded only if
	// both succeed.
	digests, err := s.runUpload(
		map[string][]byte{"input": input, "output": output},
		map[string]string{
			"input":  fmt.Sprintf("input for task %s", task.Name),
			"output": fmt.Sprintf("output for task %s", task.Name),
		},
	)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	existing, err := s.store.ListTestcasesByTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	rec := state.TestcaseRecord{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		Num:          len(existing),
		InputDigest:  digests["input"],
		OutputDigest: digests["output"],
		Public:       public,
	}
	if err := s.store.AddTestcase(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cmsapi.TestcaseUploadResponse{
		TestcaseID:   rec.ID,
		InputDigest:  rec.InputDigest,
		OutputDigest: rec.OutputDigest,
		Number:       rec.Num,
	})
}

func (s *Server) handleTaskFileRef(w http.ResponseWriter, r *http.Request, taskID, kind string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "upload", "admin"); !ok {
		return
	}
	if !s.limiter.allow(taskID, time.Now()) {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}
	task, ok, err := s.store.GetTask(r.Context(), taskID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	data, filename, err := s.readNamedPart(r, "file")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	digests, err := s.runUpload(
		map[string][]byte{"file": data},
		map[string]string{"file": fmt.Sprintf("%s %s for task %s", kind, filename, task.Name)},
	)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	id := uuid.NewString()
	switch kind {
	case "attachment":
		err = s.store.AddAttachment(r.Context(), state.AttachmentRecord{ID: id, TaskID: taskID, Filename: filename, Digest: digests["file"]})
	case "manager":
		err = s.store.AddManager(r.Context(), state.ManagerRecord{ID: id, TaskID: taskID, Filename: filename, Digest: digests["file"]})
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cmsapi.FileRefResponse{ID: id, Filename: filename, Digest: digests["file"]})
}

func (s *Server) handleTestcaseByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/testcases/"), "/")
	if err := s.store.DeleteTestcase(r.Context(), id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "testcase not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleFileByDigest serves stored content back by digest. Statement,
// testcase and attachment digests all resolve here.
func (s *Server) handleFileByDigest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
		return
	}
	digest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/files/"), "/")
	if digest == "" {
		writeError(w, http.StatusBadRequest, "digest is required")
		return
	}
	data, err := s.files.Get(r.Context(), digest)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no stored object with that digest")
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("api: write file %s: %v", digest, err)
	}
}

func (s *Server) handleAttachmentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/attachments/"), "/")
	if err := s.store.DeleteAttachment(r.Context(), id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "attachment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleManagerByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/managers/"), "/")
	if err := s.store.DeleteManager(r.Context(), id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "manager not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	var req cmsapi.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.ContestID == "" {
		writeError(w, http.StatusBadRequest, "contest_id and username are required")
		return
	}
	rec := state.UserRecord{
		ID:        uuid.NewString(),
		ContestID: req.ContestID,
		RealName:  req.RealName,
		Username:  req.Username,
		Password:  req.Password,
		IP:        req.IP,
		Hidden:    req.Hidden,
	}
	if err := s.store.CreateUser(r.Context(), rec); err != nil {
		switch {
		case errors.Is(err, state.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, "username already exists in contest")
		case errors.Is(err, state.ErrNotFound):
			writeError(w, http.StatusNotFound, "contest not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, cmsapi.CreateUserResponse{UserID: rec.ID})
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	userID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/users/"), "/")
	var req cmsapi.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	user, ok, err := s.store.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	if username := strings.TrimSpace(req.Username); username != "" && username != user.Username {
		writeError(w, http.StatusBadRequest, "username cannot be changed")
		return
	}
	if req.RealName != "" {
		user.RealName = req.RealName
	}
	if req.Password != "" {
		user.Password = req.Password
	}
	user.IP = req.IP
	user.Hidden = req.Hidden
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmsapi.CreateUserResponse{UserID: user.ID})
}

func (s *Server) handleAnnouncements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	var req cmsapi.AnnouncementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" || req.ContestID == "" {
		writeError(w, http.StatusBadRequest, "contest_id and subject are required")
		return
	}
	rec := state.AnnouncementRecord{
		ID:        uuid.NewString(),
		ContestID: req.ContestID,
		Timestamp: time.Now().Unix(),
		Subject:   req.Subject,
		Text:      req.Text,
	}
	if err := s.store.CreateAnnouncement(r.Context(), rec); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "contest not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cmsapi.AnnouncementResponse{AnnouncementID: rec.ID})
}

func (s *Server) handleAnnouncementByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/announcements/"), "/")
	if err := s.store.DeleteAnnouncement(r.Context(), id); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "announcement not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleQuestionSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/questions/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "reply" {
		writeError(w, http.StatusNotFound, "unknown question subresource")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	questionID := parts[0]
	var req cmsapi.QuestionReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Subject) == "" && strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "reply subject or text is required")
		return
	}
	if err := s.store.ReplyQuestion(r.Context(), questionID, req.Subject, req.Text, time.Now().Unix()); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "question not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "replied"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	var req cmsapi.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	if req.Subject == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id and subject are required")
		return
	}
	rec := state.MessageRecord{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Timestamp: time.Now().Unix(),
		Subject:   req.Subject,
		Text:      req.Text,
	}
	if err := s.store.CreateMessage(r.Context(), rec); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, cmsapi.MessageResponse{MessageID: rec.ID})
}

func (s *Server) handleRPCProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "rpc:proxy", "admin"); !ok {
		return
	}
	var req cmsapi.ProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	coord := registry.ServiceCoordinate{Name: req.Service, Shard: req.Shard}
	decision := s.gate.Evaluate(coord, req.Method, req.Arguments)
	if !decision.Allowed {
		observability.Default.IncCounter("rpc_proxy_total", map[string]string{"outcome": "denied"}, 1)
		log.Printf("rpc proxy denied %s.%s: %s", coord, req.Method, decision.ReasonCode)
		writeError(w, http.StatusForbidden, fmt.Sprintf("rpc not allowed: %s", decision.ReasonCode))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.rpcTimeout)
	defer cancel()
	result, err := s.pool.Call(ctx, coord, req.Method, req.Arguments)
	if err != nil {
		var remote *rpc.RemoteError
		switch {
		case errors.As(err, &remote):
			// The backend answered; its error travels in-band like a
			// normal RPC outcome.
			observability.Default.IncCounter("rpc_proxy_total", map[string]string{"outcome": "remote_error"}, 1)
			writeJSON(w, http.StatusOK, cmsapi.ProxyResponse{Error: remote.Description})
		case errors.Is(err, registry.ErrUnknownService):
			observability.Default.IncCounter("rpc_proxy_total", map[string]string{"outcome": "unknown_service"}, 1)
			writeError(w, http.StatusNotFound, err.Error())
		default:
			observability.Default.IncCounter("rpc_proxy_total", map[string]string{"outcome": "transport_error"}, 1)
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	observability.Default.IncCounter("rpc_proxy_total", map[string]string{"outcome": "ok"}, 1)
	writeJSON(w, http.StatusOK, cmsapi.ProxyResponse{Result: result})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
		return
	}
	var since int64
	if raw := strings.TrimSpace(r.URL.Query().Get("last_notification")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "last_notification must be a unix timestamp")
			return
		}
		since = v
	}
	drained := s.notifications.DrainAll()
	items := make([]cmsapi.NotificationItem, 0, len(drained))
	for _, n := range drained {
		items = append(items, cmsapi.NotificationItem{
			Type:      "notification",
			Timestamp: n.Timestamp,
			Subject:   n.Subject,
			Text:      n.Body,
		})
	}
	questions, err := s.store.ListUnansweredQuestions(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, q := range questions {
		items = append(items, cmsapi.NotificationItem{
			Type:      "new_question",
			Timestamp: q.QuestionTimestamp,
			Subject:   q.Subject,
			Text:      q.Text,
		})
	}
	unanswered, err := s.store.CountUnansweredQuestions(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cmsapi.NotificationsResponse{Notifications: items, Unanswered: unanswered})
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:read", "admin"); !ok {
		return
	}
	shards, err := s.reg.ShardCount("ResourceService")
	if err != nil {
		if errors.Is(err, registry.ErrUnknownService) {
			writeJSON(w, http.StatusOK, cmsapi.ResourcesResponse{Shards: []cmsapi.ResourceShard{}})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	usage := map[int]monitor.ShardResources{}
	if s.monitor != nil {
		for _, snap := range s.monitor.Snapshot() {
			usage[snap.Shard] = snap
		}
	}
	resp := cmsapi.ResourcesResponse{Shards: make([]cmsapi.ResourceShard, 0, shards)}
	for shard := 0; shard < shards; shard++ {
		ep, err := s.reg.Address(registry.ServiceCoordinate{Name: "ResourceService", Shard: shard})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		entry := cmsapi.ResourceShard{Shard: shard, Host: ep.Host, Port: ep.Port}
		if snap, ok := usage[shard]; ok {
			cpu, mem, up := snap.CPUPercent, snap.MemoryPercent, snap.Reachable
			entry.CPUPercent = &cpu
			entry.MemoryPercent = &mem
			entry.Reachable = &up
		}
		resp.Shards = append(resp.Shards, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.requireScopes(w, r, "contest:write", "admin"); !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/reevaluate/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		writeError(w, http.StatusNotFound, "expected /v1/reevaluate/{submission|task|user}/{id}")
		return
	}
	kind, id := parts[0], parts[1]

	var subs []state.SubmissionRecord
	switch kind {
	case "submission":
		sub, ok, err := s.store.GetSubmission(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		subs = []state.SubmissionRecord{sub}
	case "task":
		list, err := s.store.ListSubmissionsByTask(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		subs = list
	case "user":
		list, err := s.store.ListSubmissionsByUser(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		subs = list
	default:
		writeError(w, http.StatusNotFound, "expected /v1/reevaluate/{submission|task|user}/{id}")
		return
	}

	coord := registry.ServiceCoordinate{Name: evaluationService, Shard: 0}
	invalidated := 0
	for _, sub := range subs {
		if err := s.store.SetSubmissionStatus(r.Context(), sub.ID, state.SubmissionInvalidated); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		invalidated++
		submissionID := sub.ID
		s.pool.Invoke(coord, "new_submission", map[string]string{"submission_id": submissionID}, submissionID, func(_ json.RawMessage, tag any, err error) {
			if err != nil {
				log.Printf("reevaluation dispatch for submission %v failed: %v", tag, err)
				s.notifications.AddNow(
					"Reevaluation",
					fmt.Sprintf("could not hand submission %v to %s: %v", tag, evaluationService, err),
				)
			}
		})
	}
	observability.Default.IncCounter("reevaluations_total", map[string]string{"kind": kind}, float64(invalidated))
	writeJSON(w, http.StatusAccepted, cmsapi.ReevaluateResponse{Invalidated: invalidated})
}

func (s *Server) requireScopes(w http.ResponseWriter, r *http.Request, requiredAny ...string) (principal, bool) {
	p, status, msg := s.auth.authorize(r, requiredAny...)
	if status != http.StatusOK {
		writeError(w, status, msg)
		return principal{}, false
	}
	return p, true
}

type uploadOutcome struct {
	digests map[string]string
	err     error
}

// runUpload pushes every part to the file store and joins on the
// shared session: all parts must land before any digest is reported.
func (s *Server) runUpload(parts map[string][]byte, descriptions map[string]string) (map[string]string, error) {
	tags := make([]string, 0, len(parts))
	for tag := range parts {
		tags = append(tags, tag)
	}
	done := make(chan uploadOutcome, 1)
	session, err := s.uploads.Begin(tags,
		func(digests map[string]string) { done <- uploadOutcome{digests: digests} },
		func(err error) { done <- uploadOutcome{err: err} },
	)
	if err != nil {
		return nil, err
	}
	for tag, data := range parts {
		s.files.Put(data, descriptions[tag], tag, func(digest string, tag any, err error) {
			name, _ := tag.(string)
			if err != nil {
				_ = session.Failure(name, err)
				return
			}
			_ = session.Success(name, digest)
		})
	}
	select {
	case out := <-done:
		return out.digests, out.err
	case <-time.After(s.uploadWait):
		return nil, fmt.Errorf("upload did not finish within %s", s.uploadWait)
	}
}

func (s *Server) readPart(r *http.Request, field string) ([]byte, error) {
	data, _, err := s.readNamedPart(r, field)
	return data, err
}

func (s *Server) readNamedPart(r *http.Request, field string) ([]byte, string, error) {
	if err := r.ParseMultipartForm(s.maxUploadSize); err != nil {
		return nil, "", fmt.Errorf("invalid multipart body: %w", err)
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("part %q is required", field)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read part %q: %w", field, err)
	}
	if int64(len(data)) > s.maxUploadSize {
		return nil, "", fmt.Errorf("part %q exceeds %d bytes", field, s.maxUploadSize)
	}
	return data, header.Filename, nil
}

func contestSummary(c state.ContestRecord, now int64) cmsapi.ContestSummary {
	return cmsapi.ContestSummary{
		ContestID:   c.ID,
		Name:        c.Name,
		Description: c.Description,
		Start:       c.Start,
		Stop:        c.Stop,
		Phase:       c.Phase(now),
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func withTracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := observability.StartSpan(r.Context(), "http.request",
			attribute.String("http.method", r.Method),
			attribute.String("http.path", r.URL.Path),
		)
		defer span.End()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		traceID := span.SpanContext().TraceID().String()
		if traceID != "" {
			sw.Header().Set("X-Trace-ID", traceID)
		}
		next.ServeHTTP(sw, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", sw.status))
	})
}
