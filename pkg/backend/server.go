package backend

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cloudpilot/pkg/engine"
)

// HandlerLister is implemented by backends that can enumerate their fixed handlers.
type HandlerLister interface {
	Handlers() []string
}

// Server exposes a Backend over HTTP for RemoteBackend clients.
type Server struct {
	backend engine.Backend
	logger  zerolog.Logger
}

// NewServer wraps a backend.
func NewServer(b engine.Backend, logger zerolog.Logger) *Server {
	return &Server{
		backend: b,
		logger:  logger.With().Str("component", "backend-server").Logger(),
	}
}

// Mount registers the backend routes on the group.
func (s *Server) Mount(rg gin.IRoutes) {
	rg.GET(RouteHandlers, s.handlers)
	rg.POST(RouteExecute, s.execute)
	rg.POST(RouteDescribe, s.describe)
	rg.POST(RouteList, s.list)
	rg.POST(RouteChoices, s.choices)
	rg.POST(RouteInventory, s.inventory)
	rg.POST(RouteInvoke, s.invoke)
	rg.POST(RouteAutoFill, s.autofill)
	rg.POST(RouteStep, s.step)
}

func (s *Server) handlers(c *gin.Context) {
	lister, ok := s.backend.(HandlerLister)
	if !ok {
		c.JSON(http.StatusOK, handlersResponse{Handlers: []string{}})
		return
	}
	c.JSON(http.StatusOK, handlersResponse{Handlers: lister.Handlers()})
}

// bind decodes the body and returns the request context carrying its credentials.
func (s *Server) bind(c *gin.Context) (context.Context, *wireRequest, bool) {
	var req wireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request"})
		return nil, nil, false
	}
	ctx := c.Request.Context()
	if req.Credentials != nil {
		ctx = engine.WithCredentials(ctx, req.Credentials)
	}
	return ctx, &req, true
}

func (s *Server) fail(c *gin.Context, route string, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var ee *engine.EngineError
	if errors.As(err, &ee) {
		resp.Code = ee.Code
		if ee.Message != "" {
			resp.Error = ee.Message
		}
	}
	switch {
	case errors.Is(err, engine.ErrUnsupported):
		status = http.StatusNotImplemented
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case engine.IsValidation(err):
		status = http.StatusBadRequest
	default:
		s.logger.Error().Err(err).Str("route", route).Msg("Backend call failed")
	}
	c.JSON(status, resp)
}

func (s *Server) execute(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	if req.Execute == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "execute request is required"})
		return
	}
	res, err := s.backend.Execute(ctx, *req.Execute)
	if err != nil {
		s.fail(c, RouteExecute, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) describe(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	out, err := s.backend.Describe(ctx, req.ResourceType, req.Identifier)
	if err != nil {
		s.fail(c, RouteDescribe, err)
		return
	}
	c.JSON(http.StatusOK, objectResponse{Result: out})
}

func (s *Server) list(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	items, err := s.backend.List(ctx, req.ResourceType, req.Limit)
	if err != nil {
		s.fail(c, RouteList, err)
		return
	}
	if items == nil {
		items = []map[string]interface{}{}
	}
	c.JSON(http.StatusOK, listResponse{Items: items})
}

func (s *Server) choices(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	choices, err := s.backend.ListChoices(ctx, req.ResourceType, req.Limit)
	if err != nil {
		s.fail(c, RouteChoices, err)
		return
	}
	if choices == nil {
		choices = []string{}
	}
	c.JSON(http.StatusOK, choicesResponse{Choices: choices})
}

func (s *Server) inventory(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	inv, err := s.backend.DiscoverInventory(ctx, req.ResourceTypes, req.Limit)
	if err != nil {
		s.fail(c, RouteInventory, err)
		return
	}
	c.JSON(http.StatusOK, inventoryResponse{Inventory: inv})
}

func (s *Server) invoke(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	if req.Call == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "call is required"})
		return
	}
	out, err := s.backend.Invoke(ctx, *req.Call)
	if err != nil {
		s.fail(c, RouteInvoke, err)
		return
	}
	c.JSON(http.StatusOK, objectResponse{Result: out})
}

func (s *Server) autofill(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	if req.AutoFill == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "autofill request is required"})
		return
	}
	out, err := s.backend.AutoFill(ctx, *req.AutoFill)
	if err != nil {
		s.fail(c, RouteAutoFill, err)
		return
	}
	c.JSON(http.StatusOK, objectResponse{Result: out})
}

func (s *Server) step(c *gin.Context) {
	ctx, req, ok := s.bind(c)
	if !ok {
		return
	}
	if req.Step == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "step is required"})
		return
	}
	out, err := s.backend.RunRemediationStep(ctx, *req.Step)
	if err != nil {
		s.fail(c, RouteStep, err)
		return
	}
	c.JSON(http.StatusOK, objectResponse{Result: out})
}
