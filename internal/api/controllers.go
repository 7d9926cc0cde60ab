package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) getPositions(c *gin.Context) {
	ps := s.svc.Positions()
	c.JSON(http.StatusOK, gin.H{"positions": ps, "count": len(ps)})
}

func (s *Server) getBalance(c *gin.Context) {
	b, err := s.svc.Balance(c.Request.Context())
	if err != nil {
		s.log.Warn("balance unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":  "BALANCE_UNAVAILABLE",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, b)
}

func (s *Server) getRiskReport(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.RiskReport())
}

func (s *Server) getKPISummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.KPISummary())
}

func (s *Server) getFilterSummary(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.FilterSummary())
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Metrics())
}

func (s *Server) getLastCycle(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.LastCycle())
}
