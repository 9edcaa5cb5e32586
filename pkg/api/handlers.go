package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openfroyo/cloudpilot/pkg/auth"
	"github.com/openfroyo/cloudpilot/pkg/engine"
	"github.com/openfroyo/cloudpilot/pkg/service"
	"github.com/openfroyo/cloudpilot/pkg/stores"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the session token.
type LoginResponse struct {
	Token       string    `json:"token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Username    string    `json:"username"`
	Permissions []string  `json:"permissions"`
}

// CredentialsBody is the per-request cloud credentials.
type CredentialsBody struct {
	AccessKey    string `json:"access_key" binding:"required_with=SecretKey"`
	SecretKey    string `json:"secret_key" binding:"required_with=AccessKey"`
	SessionToken string `json:"session_token"`
	Region       string `json:"region"`
}

// ProcessRequestBody is the body of POST /api/requests and the first
// message of the request stream.
type ProcessRequestBody struct {
	RequestID      string                 `json:"request_id" binding:"omitempty,max=128"`
	Environment    string                 `json:"environment" binding:"required,max=64"`
	CloudProvider  string                 `json:"cloud_provider" binding:"omitempty,oneof=aws"`
	Text           string                 `json:"natural_language_request" binding:"max=8000"`
	RegionHint     string                 `json:"region"`
	Credentials    *CredentialsBody       `json:"credentials"`
	InputVariables map[string]interface{} `json:"input_variables"`
}

func (b *ProcessRequestBody) payload() *engine.RequestPayload {
	p := &engine.RequestPayload{
		RequestID:      b.RequestID,
		Environment:    b.Environment,
		CloudProvider:  b.CloudProvider,
		Text:           b.Text,
		RegionHint:     b.RegionHint,
		InputVariables: b.InputVariables,
	}
	if b.Credentials != nil {
		p.Credentials = &engine.Credentials{
			AccessKey:    b.Credentials.AccessKey,
			SecretKey:    b.Credentials.SecretKey,
			SessionToken: b.Credentials.SessionToken,
			Region:       b.Credentials.Region,
		}
	}
	return p
}

// ImprovePromptBody is the body of POST /api/prompts/improve.
type ImprovePromptBody struct {
	Text        string `json:"text" binding:"max=8000"`
	Environment string `json:"environment"`
	Region      string `json:"region"`
}

// DecisionBody is the body of POST /api/remediations/:run_id/decision.
type DecisionBody struct {
	Approved *bool  `json:"approved" binding:"required"`
	Note     string `json:"note" binding:"max=1000"`
}

// AuditQuery filters GET /api/audit.
type AuditQuery struct {
	Action    string `form:"action"`
	Actor     string `form:"actor"`
	RequestID string `form:"request_id"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

// RunQuery filters GET /api/remediations.
type RunQuery struct {
	Status    string `form:"status" binding:"omitempty,oneof=pending_approval in_progress completed failed denied expired"`
	RequestID string `form:"request_id"`
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset    int    `form:"offset" binding:"omitempty,min=0"`
}

func (s *Server) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ctx := c.Request.Context()
	actor := service.Actor{Name: req.Username, IPAddress: c.ClientIP()}

	user, err := s.users.Authenticate(req.Username, req.Password)
	if err != nil {
		s.svc.RecordLogin(ctx, actor, false)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	token, expires, err := s.jwt.GenerateToken(ctx, user.Username, user.Permissions)
	if err != nil {
		s.logger.Error().Err(err).Str("username", user.Username).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	s.svc.RecordLogin(ctx, actor, true)

	c.JSON(http.StatusOK, LoginResponse{
		Token:       token,
		ExpiresAt:   expires,
		Username:    user.Username,
		Permissions: user.Permissions,
	})
}

func (s *Server) processRequest(c *gin.Context) {
	var body ProcessRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	wf, err := s.svc.Process(c.Request.Context(), actorFrom(c), body.payload())
	if err != nil {
		s.respondError(c, err)
		return
	}
	wf.RemediationRun = service.RedactRun(wf.RemediationRun)
	c.JSON(http.StatusOK, wf)
}

func (s *Server) improvePrompt(c *gin.Context) {
	var body ImprovePromptBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	improvement, err := s.svc.ImprovePrompt(c.Request.Context(), body.Text, body.Environment, body.Region)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, improvement)
}

func (s *Server) listRuns(c *gin.Context) {
	var q RunQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runs, err := s.svc.ListRuns(c.Request.Context(), stores.RunFilter{
		Status:    engine.RemediationStatus(q.Status),
		RequestID: q.RequestID,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	actor := actorFrom(c)
	visible := make([]*engine.RemediationRun, 0, len(runs))
	for _, run := range runs {
		if actor.Privileged || run.OwnerID == "" || run.OwnerID == actor.Name {
			visible = append(visible, service.RedactRun(run))
		}
	}
	c.JSON(http.StatusOK, gin.H{"runs": visible})
}

func (s *Server) getRun(c *gin.Context) {
	run, err := s.svc.GetRun(c.Request.Context(), actorFrom(c), c.Param("run_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":        service.RedactRun(run),
		"is_expired": run.IsExpired(time.Now()),
	})
}

func (s *Server) decideRun(c *gin.Context) {
	var body DecisionBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.svc.Decide(c.Request.Context(), actorFrom(c), service.Decision{
		RunID:    c.Param("run_id"),
		Approved: *body.Approved,
		Note:     body.Note,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": res.Run.RunID,
		"status": res.Run.Status,
		"run":    service.RedactRun(res.Run),
		"result": res.Result,
	})
}

func (s *Server) listAudit(c *gin.Context) {
	var q AuditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entries, err := s.svc.ListAudit(c.Request.Context(), stores.AuditFilter{
		Action:    q.Action,
		Actor:     q.Actor,
		RequestID: q.RequestID,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) listDeployments(c *gin.Context) {
	var q AuditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deployments, err := s.svc.ListDeployments(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deployments": deployments})
}

// respondError maps domain errors onto status codes.
func (s *Server) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, stores.ErrNotFound), engine.IsNotFound(err):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, stores.ErrRunExpired):
		status = http.StatusGone
	case errors.Is(err, stores.ErrRunConsumed), errors.Is(err, stores.ErrAttemptsExhausted):
		status = http.StatusConflict
	case engine.IsRemediationUnsafe(err), engine.IsPolicyViolation(err):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func actorFrom(c *gin.Context) service.Actor {
	actor := service.Actor{IPAddress: c.ClientIP()}
	if claims, ok := auth.ClaimsFrom(c); ok {
		actor.Name = claims.Username
		actor.Privileged = claims.HasPermission(auth.PermissionAll)
	}
	return actor
}
