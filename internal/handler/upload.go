package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/marianozunino/relay/internal/apperr"
	"github.com/marianozunino/relay/internal/model"
	"github.com/marianozunino/relay/internal/transfer"
)

type fileView struct {
	ID                string    `json:"id"`
	Filename          string    `json:"filename"`
	OriginalName      string    `json:"originalName"`
	Size              int64     `json:"size"`
	Mimetype          string    `json:"mimetype"`
	UploadDate        time.Time `json:"uploadDate"`
	ExpiresAt         time.Time `json:"expiresAt"`
	DownloadCount     int       `json:"downloadCount"`
	MaxDownloads      int       `json:"maxDownloads"`
	OneTime           bool      `json:"oneTime"`
	DownloadToken     string    `json:"downloadToken"`
	DownloadURLSuffix string    `json:"downloadUrlSuffix"`
}

func newFileView(f model.File, tok string) fileView {
	return fileView{
		ID:                f.ID,
		Filename:          f.Filename,
		OriginalName:      f.OriginalName,
		Size:              f.Size,
		Mimetype:          f.Mimetype,
		UploadDate:        f.UploadDate,
		ExpiresAt:         f.ExpiresAt,
		DownloadCount:     f.DownloadCount,
		MaxDownloads:      f.MaxDownloads,
		OneTime:           f.OneTime(),
		DownloadToken:     tok,
		DownloadURLSuffix: downloadPath(f.Filename, tok),
	}
}

func downloadPath(filename, tok string) string {
	return "/api/download/" + url.PathEscape(filename) + "?token=" + url.QueryEscape(tok)
}

// HandleUpload stores a multipart "file" in the caller's session
func (h *Handler) HandleUpload(c echo.Context) error {
	sess, err := h.authorize(c, sessionCredentials(c, credentials{}))
	if err != nil {
		return err
	}

	oneTime := false
	if v := c.FormValue("oneTime"); v != "" {
		if oneTime, err = strconv.ParseBool(v); err != nil {
			return apperr.New(apperr.BadRequest, "oneTime must be a boolean")
		}
	}

	header, err := c.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return apperr.New(apperr.BadRequest, "No file uploaded")
	}
	if err != nil {
		return apperr.Wrap(apperr.BadRequest, "invalid multipart form", err)
	}

	src, err := header.Open()
	if err != nil {
		return apperr.Wrap(apperr.IOFailure, "failed to read upload", err)
	}
	defer src.Close()

	result, err := h.transfer.Upload(c.Request().Context(), sess, transfer.UploadRequest{
		Reader:       src,
		DeclaredSize: header.Size,
		Mimetype:     header.Header.Get(echo.HeaderContentType),
		OriginalName: header.Filename,
		OneTime:      oneTime,
	})
	if err != nil {
		return err
	}

	return success(c, echo.Map{
		"success": true,
		"message": "File uploaded successfully",
		"file":    newFileView(result.File, result.Token.Token),
	})
}
