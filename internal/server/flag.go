package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	flagdomain "github.com/smallbiznis/rollout/internal/flag/domain"
)

func (s *Server) CreateFlag(c *gin.Context) {
	var req flagdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.flagSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListFlags(c *gin.Context) {
	req := flagdomain.ListRequest{
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 50),
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := flagdomain.FlagStatus(raw)
		req.Status = &status
	}

	resp, err := s.flagSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFlag(c *gin.Context) {
	resp, err := s.flagSvc.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateFlag(c *gin.Context) {
	var req flagdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Key = c.Param("key")

	resp, err := s.flagSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteFlag(c *gin.Context) {
	if err := s.flagSvc.Delete(c.Request.Context(), c.Param("key")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

func (s *Server) ToggleFlag(c *gin.Context) {
	var req struct {
		IsEnabled *bool `json:"is_enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IsEnabled == nil {
		AbortWithError(c, newValidationError("is_enabled", "invalid_is_enabled", "is_enabled is required"))
		return
	}

	resp, err := s.flagSvc.Toggle(c.Request.Context(), c.Param("key"), *req.IsEnabled)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFlagAudit(c *gin.Context) {
	flag, err := s.flagSvc.Get(c.Request.Context(), c.Param("key"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	flagID, err := snowflake.ParseString(flag.ID)
	if err != nil {
		AbortWithError(c, ErrInternal)
		return
	}

	entries, err := s.auditSvc.ListByFlag(c.Request.Context(), flagID, queryInt(c, "limit", 50))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 1 {
		return def
	}
	return value
}
