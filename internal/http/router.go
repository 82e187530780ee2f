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
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/service/admin"
	"github.com/mskhalsa/EZPostgres-service/internal/service/auth"
	"github.com/mskhalsa/EZPostgres-service/internal/service/authz"
	"github.com/mskhalsa/EZPostgres-service/internal/service/deploy"
	"github.com/mskhalsa/EZPostgres-service/internal/service/report"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	authz    authz.Service
	admin    admin.Service
	deploy   deploy.Service
	report   report.Service
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitLogin     = 12
	rateLimitAdminOp   = 60
	rateLimitDeploy    = 60
	rateLimitRead      = 120
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, authzSvc authz.Service, adminSvc admin.Service, deploySvc deploy.Service, reportSvc report.Service, limiter RateLimiter, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		authz:    authzSvc,
		admin:    adminSvc,
		deploy:   deploySvc,
		report:   reportSvc,
		limiter:  limiter,
		dbHealth: dbHealth,
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
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/auth/login", r.audit(r.withRateLimit(rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/teams", r.audit(r.handlerAuthRate(rateLimitAdminOp, rateWindowDefault, r.handleTeams)))
	r.mux.HandleFunc("/teams/", r.audit(r.handlerAdminRate(rateLimitAdminOp, rateWindowDefault, r.handleTeamSubroutes)))
	r.mux.HandleFunc("/users", r.audit(r.handlerAdminRate(rateLimitAdminOp, rateWindowDefault, r.handleUsers)))
	r.mux.HandleFunc("/users/", r.audit(r.handlerAdminRate(rateLimitAdminOp, rateWindowDefault, r.handleUserByName)))
	r.mux.HandleFunc("/deploy", r.audit(r.handlerAuthRate(rateLimitDeploy, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/tables", r.audit(r.handlerAuthRate(rateLimitRead, rateWindowDefault, r.handleTables)))
	r.mux.HandleFunc("/report/usage", r.audit(r.handlerAdminRate(rateLimitRead, rateWindowDefault, r.handleUsageReport)))
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"admin":    user.IsAdmin,
		},
		"access_token": token.AccessToken,
		"expires_in":   int(token.ExpiresIn.Seconds()),
	})
}

func (r *Router) handleTeams(w http.ResponseWriter, req *http.Request) {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	switch req.Method {
	case http.MethodGet:
		teams, err := r.authz.VisibleTeams(req.Context(), info.Username)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"teams": teamsPayload(teams)})
	case http.MethodPost:
		if !r.checkAdmin(w, req) {
			return
		}
		var payload struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		team, err := r.admin.CreateTeam(req.Context(), payload.Name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, teamPayload(*team))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleTeamSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/teams/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "members" {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	teamName := parts[0]
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	added, err := r.admin.AddUserToTeam(req.Context(), payload.Username, teamName)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"added": added})
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		users, err := r.admin.ListUsers(req.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(users))
		for _, u := range users {
			payload = append(payload, map[string]any{
				"id":         u.ID,
				"username":   u.Username,
				"admin":      u.IsAdmin,
				"created_at": u.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": payload})
	case http.MethodPost:
		var payload struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Admin    bool   `json:"admin"`
			Team     string `json:"team"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		user, err := r.admin.CreateUser(req.Context(), admin.CreateUserInput{
			Username: payload.Username,
			Password: payload.Password,
			IsAdmin:  payload.Admin,
			TeamName: payload.Team,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":       user.ID,
			"username": user.Username,
			"admin":    user.IsAdmin,
		})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleUserByName(w http.ResponseWriter, req *http.Request) {
	username := strings.Trim(strings.TrimPrefix(req.URL.Path, "/users/"), "/")
	if username == "" || strings.Contains(username, "/") {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if err := r.admin.RemoveUser(req.Context(), username); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"removed": username})
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	var payload struct {
		TeamID     int64  `json:"team_id"`
		TableName  string `json:"table_name"`
		Definition string `json:"definition"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	record, err := r.deploy.Deploy(req.Context(), info.Username, payload.TeamID, payload.TableName, payload.Definition)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tablePayload(*record))
}

func (r *Router) handleTables(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	records, err := r.deploy.ListVisible(req.Context(), info.Username)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		payload = append(payload, tablePayload(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": payload})
}

func (r *Router) handleUsageReport(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	usage, err := r.report.TeamUsage(req.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usagePayload(usage))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := "ok"
	checkCtx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.dbHealth != nil {
		if err := r.dbHealth(checkCtx); err != nil {
			r.logger.Error("database health check failed", "error", err)
			status = "degraded"
		}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status})
}

// checkAdmin re-evaluates the administrator flag against the catalog for the
// request's principal.
func (r *Router) checkAdmin(w http.ResponseWriter, req *http.Request) bool {
	info, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return false
	}
	isAdmin, err := r.authz.IsAdministrator(req.Context(), info.Username)
	if err != nil {
		r.logger.Error("administrator check failed", "principal", info.Username, "error", err)
		writeError(w, http.StatusInternalServerError, "authorization check failed")
		return false
	}
	if !isAdmin {
		r.logger.Warn("administrator operation rejected", "principal", info.Username, "path", req.URL.Path)
		writeError(w, http.StatusForbidden, "administrator privileges required")
		return false
	}
	return true
}

func teamPayload(team domain.Team) map[string]any {
	return map[string]any{
		"id":          team.ID,
		"name":        team.Name,
		"schema_name": team.SchemaName,
		"created_at":  team.CreatedAt,
	}
}

func teamsPayload(teams []domain.Team) []map[string]any {
	out := make([]map[string]any, 0, len(teams))
	for _, t := range teams {
		out = append(out, teamPayload(t))
	}
	return out
}

func tablePayload(rec domain.TableRecord) map[string]any {
	return map[string]any{
		"id":          rec.ID,
		"team_id":     rec.TeamID,
		"schema_name": rec.SchemaName,
		"table_name":  rec.TableName,
		"created_by":  rec.CreatedBy,
		"created_at":  rec.CreatedAt,
		"updated_at":  rec.UpdatedAt,
	}
}

func usagePayload(usage *report.Usage) map[string]any {
	teams := make([]map[string]any, 0, len(usage.Teams))
	for _, u := range usage.Teams {
		teams = append(teams, map[string]any{
			"team_id":     u.TeamID,
			"team":        u.TeamName,
			"members":     u.Members,
			"tables":      u.Tables,
			"total_bytes": u.TotalBytes,
		})
	}
	largest := make([]map[string]any, 0, len(usage.LargestTables))
	for _, t := range usage.LargestTables {
		largest = append(largest, map[string]any{
			"team":       t.TeamName,
			"schema":     t.SchemaName,
			"table":      t.TableName,
			"size_bytes": t.SizeBytes,
		})
	}
	return map[string]any{"teams": teams, "largest_tables": largest}
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
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
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		actor := "anonymous"
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Username
		}
		fields = append(fields, "actor", actor)

		r.recordRequestMetrics(req.Method, req.URL.Path, status, time.Since(start))

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
