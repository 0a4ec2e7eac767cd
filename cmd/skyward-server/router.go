package main

import (
	"fmt"
	"net/http"
	"strconv"

	scraper "skyassist-backend/lib/scrapers/skyward"
	"skyassist-backend/services/skyward"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// kindStatus is the http status a failed envelope is answered with.
var kindStatus = map[string]int{
	"invalid_request":       http.StatusBadRequest,
	"missing_credentials":   http.StatusUnauthorized,
	"invalid_credentials":   http.StatusUnauthorized,
	"auth_throttled":        http.StatusTooManyRequests,
	"session_expired":       http.StatusBadGateway,
	"retry_exhausted":       http.StatusBadGateway,
	"unrecognized_response": http.StatusBadGateway,
	"parse":                 http.StatusBadGateway,
	"transport":             http.StatusBadGateway,
}

func respond[T any](c *gin.Context, res skyward.Result[T]) {
	if res.Success {
		c.JSON(http.StatusOK, res)
		return
	}
	status, ok := kindStatus[res.Error.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	c.JSON(status, res)
}

func rejectRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, skyward.Result[struct{}]{
		Error: &skyward.ResultError{Kind: "invalid_request", Message: err.Error()},
	})
}

// queryLimit reads the optional limit parameter, absent means no limit.
func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return limit, nil
}

type sessionStatus struct {
	Valid bool `json:"valid"`
}

func newRouter(runtime *skyward.Runtime) *gin.Engine {
	service := runtime.Service

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("skyward-server"))

	router.PUT("/credentials", func(c *gin.Context) {
		var creds scraper.Credentials
		err := c.ShouldBindJSON(&creds)
		if err != nil {
			rejectRequest(c, err)
			return
		}
		err = runtime.SaveCredentials(c.Request.Context(), creds)
		if err != nil {
			c.JSON(http.StatusInternalServerError, skyward.Result[struct{}]{
				Error: &skyward.ResultError{Kind: skyward.ErrorKind(err), Message: err.Error()},
			})
			return
		}
		c.JSON(http.StatusOK, skyward.Result[struct{}]{Success: true, Data: &struct{}{}})
	})
	router.POST("/authenticate", func(c *gin.Context) {
		respond(c, service.Authenticate(c.Request.Context()))
	})
	router.GET("/session", func(c *gin.Context) {
		valid := service.HasValidSession(c.Request.Context())
		c.JSON(http.StatusOK, skyward.Result[sessionStatus]{
			Success: true,
			Data:    &sessionStatus{Valid: valid},
		})
	})
	router.POST("/logout", func(c *gin.Context) {
		respond(c, service.Logout(c.Request.Context()))
	})

	router.GET("/messages", func(c *gin.Context) {
		respond(c, service.LoadMessages(c.Request.Context()))
	})
	router.GET("/messages/more", func(c *gin.Context) {
		limit, err := queryLimit(c)
		if err != nil {
			rejectRequest(c, err)
			return
		}
		respond(c, service.LoadMoreMessages(c.Request.Context(), c.Query("lastId"), limit))
	})

	router.POST("/grade-info", func(c *gin.Context) {
		var params scraper.GradeInfoParams
		err := c.ShouldBindJSON(&params)
		if err != nil {
			rejectRequest(c, fmt.Errorf("grade info params: %w", err))
			return
		}
		respond(c, service.FetchGradeInfo(c.Request.Context(), params))
	})
	router.GET("/combined", func(c *gin.Context) {
		force := false
		if raw := c.Query("force"); raw != "" {
			parsed, err := strconv.ParseBool(raw)
			if err != nil {
				rejectRequest(c, fmt.Errorf("force must be a boolean, got %q", raw))
				return
			}
			force = parsed
		}
		respond(c, service.GetCombinedData(c.Request.Context(), force))
	})

	router.DELETE("/cache", func(c *gin.Context) {
		respond(c, service.ClearCache(c.Request.Context()))
	})
	router.POST("/cache/cleanup", func(c *gin.Context) {
		respond(c, service.CleanupCache(c.Request.Context()))
	})

	return router
}
