package handler

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/marianozunino/relay/internal/apperr"
)

const streamBufferSize = 64 * 1024

var bufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, streamBufferSize)
		return &b
	},
}

// HandleDownload streams a file to a holder of a valid download token
func (h *Handler) HandleDownload(c echo.Context) error {
	filename := c.Param("filename")
	tok := firstNonEmpty(c.QueryParam("token"))
	if tok == "" {
		return apperr.New(apperr.BadRequest, "download token is required")
	}

	ctx := c.Request().Context()
	d, err := h.transfer.Download(ctx, filename, tok)
	if err != nil {
		return err
	}
	defer d.Close()

	header := c.Response().Header()
	header.Set(echo.HeaderContentType, d.ContentType)
	header.Set(echo.HeaderContentLength, strconv.FormatInt(d.Size, 10))
	header.Set(echo.HeaderContentDisposition, contentDisposition(d.SuggestedName))
	header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	header.Set(echo.HeaderLastModified, d.ModTime.UTC().Format(http.TimeFormat))
	if d.OneTime {
		header.Set("X-One-Time-View", "true")
	}

	c.Response().WriteHeader(http.StatusOK)

	buf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(buf)

	written, err := io.CopyBuffer(c.Response(), d, *buf)
	if err != nil {
		h.log.Warn("download interrupted",
			zap.String("filename", filename),
			zap.Int64("written", written),
			zap.Int64("size", d.Size),
			zap.Error(err))
		return nil
	}

	h.log.Info("file served",
		zap.String("filename", filename),
		zap.Int64("size", written),
		zap.String("remote_ip", c.RealIP()))

	if written == d.Size {
		if err := h.transfer.FinishOneTime(ctx, d); err != nil {
			h.log.Error("failed to remove one-time file", zap.String("filename", filename), zap.Error(err))
		}
	}
	return nil
}

func contentDisposition(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}
