package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/KevinKickass/sunspec-gateway/internal/auth"
	"github.com/KevinKickass/sunspec-gateway/internal/config"
	"github.com/KevinKickass/sunspec-gateway/internal/setup"
	"github.com/KevinKickass/sunspec-gateway/internal/types"
	"github.com/gin-gonic/gin"
)

const maxSetupBody = 4096

// GET /api/v1/setup
func (s *Server) getSetup(c *gin.Context) {
	current, err := s.lm.CurrentSetup()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSetupWrite, "Failed to read setup", err.Error()))
		return
	}
	c.JSON(http.StatusOK, current)
}

// POST /api/v1/setup accepts JSON or the form fields of the setup page.
func (s *Server) postSetup(c *gin.Context) {
	var (
		cfg config.Setup
		err error
	)

	switch c.ContentType() {
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if perr := c.Request.ParseMultipartForm(maxSetupBody); perr != nil && !errors.Is(perr, http.ErrNotMultipart) {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSetupInvalid, "Invalid form", perr.Error()))
			return
		}
		cfg, err = s.validator.DecodeForm(c.Request.PostForm)
	default:
		body, rerr := io.ReadAll(io.LimitReader(c.Request.Body, maxSetupBody))
		if rerr != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSetupInvalid, "Failed to read body", rerr.Error()))
			return
		}
		cfg, err = s.validator.Decode(body)
	}

	if err != nil {
		var ve *setup.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSetupInvalid, "Setup does not match the schema", ve.Fields))
			return
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeSetupInvalid, "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.ApplySetup(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse(types.CodeSetupWrite, "Failed to save setup", err.Error()))
		return
	}

	s.authService.LogEvent(c.Request.Context(), "setup", c.GetString(auth.ContextUsername), c.ClientIP())

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Setup saved, reboot to apply",
		"setup":   cfg,
	})
}
