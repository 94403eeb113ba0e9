package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// writeError writes an error response with the given status code and message.
func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// writeJSON writes a 200 JSON response.
func writeJSON(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// writeAccepted writes a 202 JSON response.
func writeAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, data)
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}

// parseDuration accepts Go durations ("30s") or whole seconds ("30").
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
