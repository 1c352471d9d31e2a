package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"voxlate/internal/ingestion"
	"voxlate/internal/models"
	"voxlate/internal/validation"
)

// TranslationService は翻訳ジョブの受付と照会を行う
type TranslationService interface {
	Submit(ctx context.Context, req ingestion.SubmitRequest) (*ingestion.SubmitResult, error)
	SubmitYouTube(ctx context.Context, req ingestion.YouTubeRequest) (*ingestion.SubmitResult, error)
	Status(ctx context.Context, jobID string) (*ingestion.StatusResult, error)
	Result(ctx context.Context, jobID string) (*ingestion.Result, error)
	Cancel(ctx context.Context, jobID string) (bool, error)
	Retry(ctx context.Context, jobID string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*ingestion.StatusResult, error)
}

// TranslationHandler は翻訳APIのハンドラー
type TranslationHandler struct {
	svc       TranslationService
	maxUpload int64
}

// NewTranslationHandler は新しいTranslationHandlerを作成
// maxUpload を超える部分は読み込まない（サイズ超過は検証エラーになる）
func NewTranslationHandler(svc TranslationService, maxUpload int64) *TranslationHandler {
	return &TranslationHandler{svc: svc, maxUpload: maxUpload}
}

// errorResponse はエラー応答
type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
}

func jsonError(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Error: msg})
}

// submitError は受付時のエラーをステータスコードに変換
func submitError(c echo.Context, err error) error {
	var verr *validation.Error
	if errors.As(err, &verr) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Violations: verr.Violations})
	}
	if errors.Is(err, ingestion.ErrYouTubeDisabled) {
		return jsonError(c, http.StatusNotImplemented, err.Error())
	}
	c.Logger().Errorf("submit failed: %v", err)
	return jsonError(c, http.StatusInternalServerError, "failed to submit translation")
}

// parseOptions は quality と priority を読む
func parseOptions(quality, priority string) (models.Quality, int, error) {
	q, err := models.ParseQuality(quality)
	if err != nil {
		return "", 0, err
	}

	p := models.JobPriorityNormal
	if priority != "" {
		p, err = strconv.Atoi(priority)
		if err != nil || p < models.JobPriorityImmediate || p > models.JobPriorityBatch {
			return "", 0, fmt.Errorf("priority must be %d-%d", models.JobPriorityImmediate, models.JobPriorityBatch)
		}
	}
	return q, p, nil
}

// Submit は音声ファイルを受け付けてジョブを作成
// POST /api/translations
func (h *TranslationHandler) Submit(c echo.Context) error {
	ctx := c.Request().Context()

	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Violations: []string{"file is required"}})
	}
	quality, priority, err := parseOptions(c.FormValue("quality"), c.FormValue("priority"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Violations: []string{err.Error()}})
	}

	f, err := fh.Open()
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, "failed to open file")
	}
	defer f.Close()

	var r io.Reader = f
	if h.maxUpload > 0 {
		r = io.LimitReader(f, h.maxUpload+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "failed to read file")
	}

	res, err := h.svc.Submit(ctx, ingestion.SubmitRequest{
		Data:           data,
		Filename:       fh.Filename,
		ContentType:    fh.Header.Get("Content-Type"),
		SourceLanguage: c.FormValue("source_language"),
		TargetLanguage: c.FormValue("target_language"),
		UserID:         c.FormValue("user_id"),
		Quality:        quality,
		Priority:       priority,
	})
	if err != nil {
		return submitError(c, err)
	}
	return c.JSON(http.StatusAccepted, res)
}

// youtubeRequest は YouTube 受付のリクエストボディ
type youtubeRequest struct {
	URL            string `json:"url"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	UserID         string `json:"user_id"`
	Quality        string `json:"quality"`
	Priority       *int   `json:"priority"`
}

// SubmitYouTube は YouTube 動画の音声でジョブを作成
// POST /api/translations/youtube
func (h *TranslationHandler) SubmitYouTube(c echo.Context) error {
	var req youtubeRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}

	priority := ""
	if req.Priority != nil {
		priority = strconv.Itoa(*req.Priority)
	}
	quality, p, err := parseOptions(req.Quality, priority)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request", Violations: []string{err.Error()}})
	}

	res, err := h.svc.SubmitYouTube(c.Request().Context(), ingestion.YouTubeRequest{
		URL:            req.URL,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		UserID:         req.UserID,
		Quality:        quality,
		Priority:       p,
	})
	if err != nil {
		return submitError(c, err)
	}
	return c.JSON(http.StatusAccepted, res)
}

// Status はジョブの状態を取得
// GET /api/translations/:id
func (h *TranslationHandler) Status(c echo.Context) error {
	status, err := h.svc.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if status == nil {
		return jsonError(c, http.StatusNotFound, "translation not found")
	}
	return c.JSON(http.StatusOK, status)
}

// Download は翻訳済み音声を返す。未完了なら 202 で状態のみ返す。
// GET /api/translations/:id/download
func (h *TranslationHandler) Download(c echo.Context) error {
	res, err := h.svc.Result(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if res == nil {
		return jsonError(c, http.StatusNotFound, "translation not found")
	}
	if !res.Ready {
		return c.JSON(http.StatusAccepted, map[string]any{
			"status":   res.Status,
			"progress": res.Progress,
			"message":  "translation is not ready yet",
		})
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", res.Filename))
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(res.Size, 10))
	return c.Blob(http.StatusOK, res.ContentType, res.Data)
}

// Cancel はジョブをキャンセル
// POST /api/translations/:id/cancel
func (h *TranslationHandler) Cancel(c echo.Context) error {
	ok, err := h.svc.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": ok})
}

// Retry は失敗したジョブを再実行
// POST /api/translations/:id/retry
func (h *TranslationHandler) Retry(c echo.Context) error {
	ok, err := h.svc.Retry(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"retried": ok})
}

// ListByUser はユーザーのジョブ一覧を新しい順に取得
// GET /api/users/:user_id/translations
func (h *TranslationHandler) ListByUser(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	jobs, err := h.svc.ListByUser(c.Request().Context(), c.Param("user_id"), limit)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, jobs)
}
