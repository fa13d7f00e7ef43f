package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kay-darko/vybe/internal/helpers"
	"github.com/kay-darko/vybe/internal/models"
	"github.com/kay-darko/vybe/internal/services"
	"github.com/kay-darko/vybe/internal/timeline"
)

func currentUser(c *gin.Context) (*helpers.EnhancedClaims, bool) {
	claims, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse("Unauthorized"))
		return nil, false
	}
	userClaims, ok := claims.(*helpers.EnhancedClaims)
	if !ok {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse("Invalid user claims"))
		return nil, false
	}
	return userClaims, true
}

func serviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrEventNotLive),
		errors.Is(err, services.ErrEventNotOver),
		errors.Is(err, services.ErrDiscussionClosed),
		errors.Is(err, services.ErrNotPublicEvent):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotEventHost):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func SubmitLiveRating(ls *services.LiveService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var rating models.LiveRating
		if err := c.ShouldBindJSON(&rating); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("Invalid request body: "+err.Error()))
			return
		}

		event, err := ls.SubmitLiveRating(c.Request.Context(), eventID, user.UserID, rating)
		if err != nil {
			c.JSON(serviceErrorStatus(err), models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
			"rating_count":   event.RatingCount,
			"rating_average": event.RatingAverage,
		}, "Rating submitted"))
	}
}

func SubmitAnonymousRating(ls *services.LiveService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))

		var rating models.AnonymousLiveRating
		if err := c.ShouldBindJSON(&rating); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("Invalid request body: "+err.Error()))
			return
		}

		if err := ls.SubmitAnonymousRating(c.Request.Context(), eventID, rating); err != nil {
			c.JSON(serviceErrorStatus(err), models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(nil, "Feedback submitted"))
	}
}

func MarkInterested(ls *services.LiveService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))
		user, ok := currentUser(c)
		if !ok {
			return
		}

		if err := ls.MarkInterested(c.Request.Context(), eventID, user.UserID); err != nil {
			c.JSON(serviceErrorStatus(err), models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(nil, "Marked as interested"))
	}
}

func Reserve(ls *services.LiveService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))
		user, ok := currentUser(c)
		if !ok {
			return
		}

		if err := ls.Reserve(c.Request.Context(), eventID, user.UserID); err != nil {
			c.JSON(serviceErrorStatus(err), models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(nil, "Reservation recorded"))
	}
}

func GetTimeline(ls *services.LiveService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))

		tl, err := ls.GetTimeline(c.Request.Context(), eventID)
		if errors.Is(err, timeline.ErrNoFeedback) {
			c.JSON(http.StatusOK, models.SuccessResponse(nil, "No feedback yet"))
			return
		}
		if err != nil {
			c.JSON(serviceErrorStatus(err), models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(tl, ""))
	}
}

func AddDiscussionComment(ls *services.LiveService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var reqBody struct {
			Comment string `json:"comment" binding:"required"`
		}
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("Invalid request body: "+err.Error()))
			return
		}

		if err := ls.AddDiscussionComment(c.Request.Context(), eventID, user.UserID, reqBody.Comment); err != nil {
			c.JSON(serviceErrorStatus(err), models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusOK, models.SuccessResponse(nil, "Comment added"))
	}
}

func PublishUpdate(ls *services.LiveService) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID := helpers.StringTrim(c.Param("id"))
		user, ok := currentUser(c)
		if !ok {
			return
		}

		var reqBody struct {
			Message string `json:"message" binding:"required"`
		}
		if err := c.ShouldBindJSON(&reqBody); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse("Invalid request body: "+err.Error()))
			return
		}

		update, err := ls.PublishUpdate(c.Request.Context(), eventID, user.UserID, reqBody.Message)
		if err != nil {
			c.JSON(serviceErrorStatus(err), models.ErrorResponse(err.Error()))
			return
		}
		c.JSON(http.StatusCreated, models.SuccessResponse(update, "Update published"))
	}
}
