package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orcaops/releasecore/internal/domain"
	"github.com/orcaops/releasecore/internal/events"
	"github.com/orcaops/releasecore/internal/service/branch"
	"github.com/orcaops/releasecore/internal/service/environment"
	"github.com/orcaops/releasecore/internal/service/pipeline"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	branches   *branch.Service
	envs       *environment.Service
	pipelines  *pipeline.Service
	hub        *events.Hub
	upgrader   websocket.Upgrader
	limiter    RateLimiter
	authSecret string
	dbHealth   func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitRead      = 240
	rateLimitWrite     = 60
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, branchSvc *branch.Service, envSvc *environment.Service, pipelineSvc *pipeline.Service, hub *events.Hub, limiter RateLimiter, authSecret string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		branches:  branchSvc,
		envs:      envSvc,
		pipelines: pipelineSvc,
		hub:       hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    limiter,
		authSecret: strings.TrimSpace(authSecret),
		dbHealth:   dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/branches", r.audit("/branches", r.handlerAuthRate("/branches", rateLimitWrite, rateWindowDefault, r.handleBranches)))
	r.mux.HandleFunc("/branches/", r.audit("/branches/", r.handlerAuthRate("/branches/", rateLimitWrite, rateWindowDefault, r.handleBranchSubroutes)))
	r.mux.HandleFunc("/tracking-branches", r.audit("/tracking-branches", r.handlerAuthRate("/tracking-branches", rateLimitWrite, rateWindowDefault, r.handleTrackingBranches)))
	r.mux.HandleFunc("/merge", r.audit("/merge", r.handlerAuthRate("/merge", rateLimitWrite, rateWindowDefault, r.handleMerge)))
	r.mux.HandleFunc("/merge/validate", r.audit("/merge/validate", r.handlerAuthRate("/merge/validate", rateLimitRead, rateWindowDefault, r.handleMergeValidate)))
	r.mux.HandleFunc("/environments", r.audit("/environments", r.handlerAuthRate("/environments", rateLimitWrite, rateWindowDefault, r.handleEnvironments)))
	r.mux.HandleFunc("/environments/", r.audit("/environments/", r.handlerAuthRate("/environments/", rateLimitWrite, rateWindowDefault, r.handleEnvironmentSubroutes)))
	r.mux.HandleFunc("/promotions", r.audit("/promotions", r.handlerAuthRate("/promotions", rateLimitWrite, rateWindowDefault, r.handlePromotions)))
	r.mux.HandleFunc("/pipelines", r.audit("/pipelines", r.handlerAuthRate("/pipelines", rateLimitWrite, rateWindowDefault, r.handlePipelines)))
	r.mux.HandleFunc("/pipelines/", r.audit("/pipelines/", r.handlerAuthRate("/pipelines/", rateLimitWrite, rateWindowDefault, r.handlePipelineSubroutes)))
	r.mux.HandleFunc("/runs/", r.audit("/runs/", r.handlerAuthRate("/runs/", rateLimitWrite, rateWindowDefault, r.handleRunSubroutes)))
	r.mux.HandleFunc("/ws/events", r.audit("/ws/events", r.handlerAuthRate("/ws/events", rateLimitWebsocket, rateWindowRealtime, r.handleEventsWS)))
}

func (r *Router) handleBranches(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		branchType := domain.BranchType(req.URL.Query().Get("type"))
		protectedOnly, _ := strconv.ParseBool(req.URL.Query().Get("protected"))
		branches, err := r.branches.ListBranches(req.Context(), branchType, protectedOnly)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, branches)
	case http.MethodPost:
		var payload struct {
			Name   string `json:"name"`
			Source string `json:"source"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.branches.CreateBranch(req.Context(), payload.Name, payload.Source)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

// handleBranchSubroutes dispatches /branches/{name}[/protection|/sync].
// Branch names may themselves contain slashes (feature/x), so known
// action suffixes are peeled off the end instead of splitting the path.
func (r *Router) handleBranchSubroutes(w http.ResponseWriter, req *http.Request) {
	name := strings.TrimPrefix(req.URL.Path, "/branches/")
	if name == "" {
		r.notFound(w)
		return
	}
	if rest, ok := strings.CutSuffix(name, "/protection"); ok && rest != "" {
		r.handleBranchProtection(w, req, rest)
		return
	}
	if rest, ok := strings.CutSuffix(name, "/sync"); ok && rest != "" {
		r.handleBranchSync(w, req, rest)
		return
	}
	switch req.Method {
	case http.MethodGet:
		status, err := r.branches.GetBranchStatus(req.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case http.MethodDelete:
		force, _ := strconv.ParseBool(req.URL.Query().Get("force"))
		deleted, err := r.branches.DeleteBranch(req.Context(), name, force)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBranchProtection(w http.ResponseWriter, req *http.Request, name string) {
	switch req.Method {
	case http.MethodPost:
		var payload struct {
			Rules *domain.ProtectionRules `json:"rules"`
		}
		if req.ContentLength > 0 {
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}
		applied, err := r.branches.ApplyProtection(req.Context(), name, payload.Rules)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"protected": applied})
	case http.MethodDelete:
		removed, err := r.branches.RemoveProtection(req.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleBranchSync(w http.ResponseWriter, req *http.Request, name string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Source string `json:"source"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	result, err := r.branches.SyncBranch(req.Context(), name, payload.Source)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	r.writeResult(w, result.Success, result)
}

func (r *Router) handleTrackingBranches(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Kind   string `json:"kind"`
		Source string `json:"source"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var (
		created *domain.Branch
		err     error
	)
	switch payload.Kind {
	case "stable-demo":
		created, err = r.branches.CreateStableDemo(req.Context())
	case "working-beta":
		created, err = r.branches.CreateWorkingBeta(req.Context(), payload.Source)
	default:
		writeError(w, http.StatusBadRequest, "kind must be stable-demo or working-beta")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (r *Router) handleMerge(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Source   string               `json:"source"`
		Target   string               `json:"target"`
		Strategy domain.MergeStrategy `json:"strategy"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.branches.Merge(req.Context(), payload.Source, payload.Target, payload.Strategy)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	r.writeResult(w, result.Success, result)
}

func (r *Router) handleMergeValidate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	check, err := r.branches.ValidateMerge(req.Context(), payload.Source, payload.Target)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (r *Router) handleEnvironments(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		environments, err := r.envs.ListEnvironments(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, environments)
	case http.MethodPost:
		var payload struct {
			Name   string                    `json:"name"`
			Tier   string                    `json:"tier"`
			Config *domain.EnvironmentConfig `json:"config"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		tier, err := domain.ParseTier(payload.Tier)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		env, err := r.envs.CreateEnvironment(req.Context(), payload.Name, tier, payload.Config)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, env)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleEnvironmentSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/environments/")
	parts := strings.Split(trimmed, "/")
	name := parts[0]
	if name == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 1 {
		r.handleEnvironment(w, req, name)
		return
	}
	if len(parts) != 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "deploy":
		r.handleDeploy(w, req, name)
	case "rollback":
		r.handleRollback(w, req, name)
	case "health":
		r.handleEnvironmentHealth(w, req, name)
	case "history":
		r.handleEnvironmentHistory(w, req, name)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleEnvironment(w http.ResponseWriter, req *http.Request, name string) {
	switch req.Method {
	case http.MethodGet:
		environments, err := r.envs.ListEnvironments(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		for _, env := range environments {
			if env.Name == name {
				writeJSON(w, http.StatusOK, env)
				return
			}
		}
		r.notFound(w)
	case http.MethodPatch:
		var payload struct {
			Status *domain.EnvironmentStatus `json:"status"`
			Config *domain.EnvironmentConfig `json:"config"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		env, err := r.envs.UpdateEnvironment(req.Context(), name, payload.Status, payload.Config)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	case http.MethodDelete:
		deleted, err := r.envs.DeleteEnvironment(req.Context(), name)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request, name string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Version string `json:"version"`
		Force   bool   `json:"force"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deployed, err := r.envs.Deploy(req.Context(), name, payload.Version, payload.Force)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if !deployed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]any{"deployed": deployed, "version": payload.Version})
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request, name string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Version string `json:"version"`
		Reason  string `json:"reason"`
	}
	if req.ContentLength > 0 {
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	result, err := r.envs.Rollback(req.Context(), name, payload.Version, payload.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	r.writeResult(w, result.Success, result)
}

func (r *Router) handleEnvironmentHealth(w http.ResponseWriter, req *http.Request, name string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	health, err := r.envs.GetHealthStatus(req.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (r *Router) handleEnvironmentHistory(w http.ResponseWriter, req *http.Request, name string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	history, err := r.envs.GetVersionHistory(req.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (r *Router) handlePromotions(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Source  string `json:"source"`
		Target  string `json:"target"`
		Version string `json:"version"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.envs.Promote(req.Context(), payload.Source, payload.Target, payload.Version)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	r.writeResult(w, result.Success, result)
}

func (r *Router) handlePipelines(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		pipelines, err := r.pipelines.ListPipelines(req.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pipelines)
	case http.MethodPost:
		var payload struct {
			Name   string                 `json:"name"`
			Stages []domain.PipelineStage `json:"stages"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.pipelines.CreatePipeline(req.Context(), payload.Name, payload.Stages)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handlePipelineSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/pipelines/")
	if rest, ok := strings.CutSuffix(trimmed, "/runs"); ok && rest != "" {
		r.handlePipelineRuns(w, req, rest)
		return
	}
	if trimmed == "" || strings.Contains(trimmed, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	pl, err := r.pipelines.GetPipeline(req.Context(), trimmed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (r *Router) handlePipelineRuns(w http.ResponseWriter, req *http.Request, name string) {
	switch req.Method {
	case http.MethodGet:
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		runs, err := r.pipelines.ListRuns(req.Context(), name, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	case http.MethodPost:
		triggeredBy := "api"
		if info, ok := authInfoFromContext(req.Context()); ok && info.Operator != "" {
			triggeredBy = info.Operator
		}
		run, err := r.pipelines.StartRun(req.Context(), name, triggeredBy)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, run)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleRunSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/runs/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" {
		r.notFound(w)
		return
	}
	runID := parts[0]
	switch parts[1] {
	case "stages":
		r.handleRunStage(w, req, runID)
	case "gate":
		r.handleRunGate(w, req, runID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleRunStage(w http.ResponseWriter, req *http.Request, runID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Stage   string             `json:"stage"`
		Status  domain.StageStatus `json:"status"`
		Message string             `json:"message"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	run, err := r.pipelines.RecordStageResult(req.Context(), runID, payload.Stage, payload.Status, payload.Message)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (r *Router) handleRunGate(w http.ResponseWriter, req *http.Request, runID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Stage    string `json:"stage"`
		Approved bool   `json:"approved"`
		Approver string `json:"approver"`
		Note     string `json:"note"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	approver := payload.Approver
	if approver == "" {
		if info, ok := authInfoFromContext(req.Context()); ok {
			approver = info.Operator
		}
	}
	run, err := r.pipelines.RecordGateDecision(req.Context(), runID, payload.Stage, payload.Approved, approver, payload.Note)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (r *Router) handleEventsWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := authInfoFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for events websocket", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	topic := req.URL.Query().Get("topic")
	if topic == "" {
		topic = events.TopicAll
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := events.NewClient(conn, r.logger)
	r.hub.Register(topic, client)
	go func() {
		defer func() {
			r.hub.Unregister(topic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

// writeResult renders a business outcome. A failed result is still a
// well-formed response body, just with an unprocessable status.
func (r *Router) writeResult(w http.ResponseWriter, success bool, result any) {
	status := http.StatusOK
	if !success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)
		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "operator"
			fields = append(fields, "operator", info.Operator)
			if info.Role != "" {
				fields = append(fields, "role", info.Role)
			}
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
