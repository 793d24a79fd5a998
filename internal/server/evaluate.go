package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type evaluationContext struct {
	UserID string `json:"user_id"`
}

func (s *Server) Evaluate(c *gin.Context) {
	var req struct {
		FlagKey      string            `json:"flag_key"`
		Context      evaluationContext `json:"context"`
		DefaultValue bool              `json:"default_value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.evalSvc.Evaluate(c.Request.Context(), req.FlagKey, req.Context.UserID, req.DefaultValue)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) EvaluateBulk(c *gin.Context) {
	var req struct {
		FlagKeys     []string          `json:"flag_keys"`
		Context      evaluationContext `json:"context"`
		DefaultValue bool              `json:"default_value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.FlagKeys) == 0 {
		AbortWithError(c, newValidationError("flag_keys", "invalid_flag_keys", "flag_keys must not be empty"))
		return
	}

	results, err := s.evalSvc.EvaluateBulk(c.Request.Context(), req.FlagKeys, req.Context.UserID, req.DefaultValue)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"results":      results,
		"evaluated_at": time.Now().UTC(),
	}})
}

func (s *Server) EvaluateAll(c *gin.Context) {
	var req struct {
		Context evaluationContext `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	results, err := s.evalSvc.EvaluateAll(c.Request.Context(), req.Context.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"flags":        results,
		"evaluated_at": time.Now().UTC(),
	}})
}

func (s *Server) SDKConfig(c *gin.Context) {
	items, err := s.evalSvc.FlagConfig(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"flags":        items,
		"generated_at": time.Now().UTC(),
	}})
}
