package rest

import (
	"net/http"
	"strconv"

	"github.com/KevinKickass/sunspec-gateway/internal/modbus"
	"github.com/KevinKickass/sunspec-gateway/internal/register"
	"github.com/KevinKickass/sunspec-gateway/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/sunspec
func (s *Server) getSnapshot(c *gin.Context) {
	model := s.lm.Model()
	if model == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeGatewayDown, "Gateway is restarting", nil))
		return
	}
	c.JSON(http.StatusOK, model.Snapshot())
}

type RegistersResponse struct {
	Start  uint16   `json:"start"`
	Count  int      `json:"count"`
	Values []uint16 `json:"values"`
}

// GET /api/v1/sunspec/registers?start=40000&count=70
func (s *Server) getRegisters(c *gin.Context) {
	start, err := strconv.ParseUint(c.Query("start"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeRegistersInvalid, "start must be a register address 0..65535", c.Query("start")))
		return
	}

	count, err := strconv.Atoi(c.DefaultQuery("count", "1"))
	if err != nil || count < 1 || count > modbus.MaxReadQuantity {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeRegistersInvalid, "count must be 1..125", c.Query("count")))
		return
	}
	if !register.InRange(uint16(start), count) {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeRegistersInvalid, "range exceeds the register space", nil))
		return
	}

	model := s.lm.Model()
	if model == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse(types.CodeGatewayDown, "Gateway is restarting", nil))
		return
	}

	c.JSON(http.StatusOK, RegistersResponse{
		Start:  uint16(start),
		Count:  count,
		Values: model.Store().ReadRange(uint16(start), count),
	})
}
