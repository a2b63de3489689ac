package rest

import (
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/sunspec-gateway/internal/auth"
	"github.com/KevinKickass/sunspec-gateway/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// GET /uptime
func (s *Server) uptime(c *gin.Context) {
	c.String(http.StatusOK, fmt.Sprintf("I've been awake %d seconds", int64(s.lm.Uptime()/time.Second)))
}

// POST /api/v1/system/reboot
func (s *Server) reboot(c *gin.Context) {
	if err := s.lm.ScheduleRestart(); err != nil {
		c.JSON(http.StatusConflict, types.NewErrorResponse(types.CodeRestartConflict, "Restart not possible", err.Error()))
		return
	}

	s.authService.LogEvent(c.Request.Context(), "reboot", c.GetString(auth.ContextUsername), c.ClientIP())

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Restart initiated",
		"delay":   s.lm.Config().Server.RebootDelay.String(),
	})
}
