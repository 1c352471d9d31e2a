package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewServer はミドルウェアとルートを登録した Echo インスタンスを作成
func NewServer(translations *TranslationHandler, stream *EventsHandler, counter StatusCounter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// ミドルウェアの設定
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// ルートの登録
	e.GET("/health", Health(counter))

	api := e.Group("/api")
	api.POST("/translations", translations.Submit)
	api.POST("/translations/youtube", translations.SubmitYouTube)
	api.GET("/translations/:id", translations.Status)
	api.GET("/translations/:id/download", translations.Download)
	api.POST("/translations/:id/cancel", translations.Cancel)
	api.POST("/translations/:id/retry", translations.Retry)
	api.GET("/translations/:id/events", stream.Stream)
	api.GET("/users/:user_id/translations", translations.ListByUser)

	return e
}
