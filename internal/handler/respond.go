package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"vault-service/internal/apperr"
	"vault-service/internal/model/actor"
	"vault-service/pkg/middleware"
)

// statusOf maps typed engine errors onto HTTP statuses.
func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidArgument, apperr.KindInvalidCRState, apperr.KindInvalidTransition:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindAlreadyExists, apperr.KindStaleBase, apperr.KindConcurrentHeadChanged:
		return http.StatusConflict
	case apperr.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusOf(err), gin.H{"error": err.Error()})
}

// mustActor aborts with 401 when Auth did not run; handlers behind the
// middleware can rely on the returned actor.
func mustActor(c *gin.Context) (actor.Actor, bool) {
	act, ok := middleware.ActorFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
	}
	return act, ok
}
