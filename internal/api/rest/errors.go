package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenArmCore/internal/motion"
	"github.com/KevinKickass/OpenArmCore/internal/types"
	"github.com/gin-gonic/gin"
)

// errorStatus maps a robot error kind onto an HTTP status and API error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, types.ErrInvalidCommand):
		return http.StatusBadRequest, "INVALID_COMMAND"
	case errors.Is(err, types.ErrSafetyStop):
		return http.StatusConflict, "SAFETY_STOP"
	case errors.Is(err, types.ErrMotionTimeout):
		return http.StatusGatewayTimeout, "MOTION_TIMEOUT"
	case errors.Is(err, types.ErrConnection):
		return http.StatusServiceUnavailable, "ROBOT_UNAVAILABLE"
	case errors.Is(err, types.ErrProtocolDecode):
		return http.StatusBadGateway, "PROTOCOL_ERROR"
	case errors.Is(err, motion.ErrStopped), errors.Is(err, motion.ErrSuperseded), errors.Is(err, context.Canceled):
		return http.StatusConflict, "MOTION_CANCELLED"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "REQUEST_TIMEOUT"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// robotError writes err with the status of its kind. details are attached
// verbatim, e.g. the execution record of a failed move.
func robotError(c *gin.Context, err error, details any) {
	status, code := errorStatus(err)
	_ = c.Error(err)
	c.JSON(status, types.NewErrorResponse(code, err.Error(), details))
}
