// Package api serves the model catalog and graph toolchain over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/logger"
)

type Server struct {
	store   *JobStore
	service *ToolchainService
	log     logger.Logger
	clock   func() time.Time
}

func NewServer(store *JobStore, service *ToolchainService, log logger.Logger) *Server {
	if store == nil {
		store = NewJobStore()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		store:   store,
		service: service,
		log:     log,
		clock:   time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/models", s.handleListModels)
	e.GET("/v1/graph", s.handleGraph)
	e.POST("/v1/jobs", s.handleCreateJob)
	e.GET("/v1/jobs/:id", s.handleGetJob)
	e.DELETE("/v1/jobs/:id", s.handleDeleteJob)
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data:   s.service.Models(),
	})
}

func (s *Server) handleGraph(c *echo.Context) error {
	name := c.QueryParam("model")
	if name == "" {
		return writeBadRequest(c, "model query parameter is required")
	}
	report, err := s.service.Graph(name)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleCreateJob(c *echo.Context) error {
	req, err := decodeJSON[JobRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Model == "" {
		return writeBadRequest(c, "model is required")
	}

	started := s.clock()
	metrics, err := s.service.Run(&req)
	if err != nil {
		return s.writeServiceError(c, err)
	}
	job := &JobResponse{
		ID:        newJobID(),
		Object:    "job",
		CreatedAt: started.Unix(),
		Model:     req.Model,
		Kind:      req.Kind,
		Status:    "completed",
		Metrics:   metrics,
	}
	s.store.Put(job)
	s.log.Info("job completed",
		"id", job.ID,
		"model", job.Model,
		"kind", job.Kind,
		"duration", s.clock().Sub(started).String(),
	)
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleGetJob(c *echo.Context) error {
	job, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "job not found")
	}
	return c.JSON(http.StatusOK, job)
}

func (s *Server) handleDeleteJob(c *echo.Context) error {
	id := c.Param("id")
	if !s.store.Delete(id) {
		return writeNotFound(c, "job not found")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"id":      id,
		"object":  "job.deleted",
		"deleted": true,
	})
}

func (s *Server) writeServiceError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, hub.ErrUnknownModel), errors.Is(err, hub.ErrUnsupportedTask), errors.Is(err, ErrInvalidRequest):
		return writeBadRequest(c, err.Error())
	default:
		s.log.Error("job failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
		},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("invalid JSON body: %w", err)
	}
	return v, nil
}
