package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/railzwaylabs/membership/internal/migration"
)

type ReadinessState string

const (
	ReadinessStateReady    ReadinessState = "ready"
	ReadinessStateNotReady ReadinessState = "not_ready"
	ReadinessStateOptional ReadinessState = "optional"
)

type ReadinessIssue struct {
	ID       string            `json:"id"`
	Status   ReadinessState    `json:"status"`
	Evidence map[string]string `json:"evidence,omitempty"`
}

type ReadinessResponse struct {
	SystemState ReadinessState   `json:"system_state"`
	Issues      []ReadinessIssue `json:"issues"`
}

// Healthz reports liveness only.
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz checks the database, the schema version and Redis when enabled.
func (s *Server) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	issues := make([]ReadinessIssue, 0, 3)
	ready := true
	check := func(id string, err error) {
		if err != nil {
			ready = false
			issues = append(issues, ReadinessIssue{ID: id, Status: ReadinessStateNotReady, Evidence: map[string]string{"error": err.Error()}})
			return
		}
		issues = append(issues, ReadinessIssue{ID: id, Status: ReadinessStateReady})
	}

	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	check("database", err)

	if err == nil && isPostgres(s.cfg.Database.Driver) {
		check("schema", migration.CheckSchema(ctx, sqlDB))
	} else {
		issues = append(issues, ReadinessIssue{ID: "schema", Status: ReadinessStateOptional})
	}

	if s.redis != nil {
		check("redis", s.redis.Ping(ctx).Err())
	} else {
		issues = append(issues, ReadinessIssue{ID: "redis", Status: ReadinessStateOptional})
	}

	resp := ReadinessResponse{SystemState: ReadinessStateReady, Issues: issues}
	status := http.StatusOK
	if !ready {
		resp.SystemState = ReadinessStateNotReady
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func isPostgres(driver string) bool {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "":
		return true
	}
	return false
}
