package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"voxlate/internal/models"
	"voxlate/internal/version"
)

// StatusCounter はステータスごとのジョブ数を返す
type StatusCounter interface {
	CountByStatus(ctx context.Context) (map[models.Status]int, error)
}

// Health はヘルスチェック
// GET /health
func Health(counter StatusCounter) echo.HandlerFunc {
	return func(c echo.Context) error {
		counts, err := counter.CountByStatus(c.Request().Context())
		if err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status":  "unavailable",
				"version": version.Version,
				"error":   err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":  "ok",
			"version": version.Version,
			"jobs":    counts,
		})
	}
}
