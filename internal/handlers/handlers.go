package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/image-check/internal/uistate"
	"github.com/example/image-check/internal/usecase"
	"github.com/example/image-check/internal/web"
)

// MaxUploadSize is the default upper bound of an uploaded image in bytes.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for part headers and the source field.
const multipartOverhead = 64 << 10

const fileField = "file"

// RegisterRoutes wires the page and its API to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.ImageCheckUseCase, maxUploadBytes int64) error {
	if maxUploadBytes <= 0 {
		maxUploadBytes = MaxUploadSize
	}
	if err := web.Register(router); err != nil {
		return err
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	app := router.Group("/", SessionMiddleware())

	app.GET("/", func(c *gin.Context) {
		view, err := uc.State(c.Request.Context(), sessionID(c))
		if err != nil {
			_ = c.Error(err)
			c.String(http.StatusInternalServerError, "session unavailable")
			return
		}
		c.HTML(http.StatusOK, web.IndexTemplate, withPreviewURL(view))
	})

	api := app.Group("/api")

	api.GET("/state", func(c *gin.Context) {
		view, err := uc.State(c.Request.Context(), sessionID(c))
		respond(c, view, err)
	})

	api.POST("/files", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes+multipartOverhead)

		source, files, status, err := readUpload(c, maxUploadBytes)
		if err != nil {
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		view, err := uc.SelectFiles(c.Request.Context(), sessionID(c), source, files)
		respond(c, view, err)
	})

	api.POST("/drag", func(c *gin.Context) {
		ev, err := uistate.ParseDragEvent(c.PostForm("event"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		view, err := uc.Drag(c.Request.Context(), sessionID(c), ev)
		respond(c, view, err)
	})

	api.POST("/check", func(c *gin.Context) {
		view, err := uc.Check(c.Request.Context(), sessionID(c))
		respond(c, view, err)
	})

	api.GET("/preview/:version", func(c *gin.Context) {
		version, err := strconv.ParseUint(c.Param("version"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid preview version"})
			return
		}
		file, err := uc.Preview(c.Request.Context(), sessionID(c), version)
		if errors.Is(err, usecase.ErrPreviewNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
			return
		}
		c.Header("Cache-Control", "private, max-age=3600")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Content-Security-Policy", previewPolicy)
		c.Data(http.StatusOK, previewContentType(file), file.Data)
	})

	api.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, uc.Metrics())
	})

	return nil
}

// previewPolicy stops a previewed document from running scripts when opened
// directly. Images rendered by the page are unaffected.
const previewPolicy = "default-src 'none'; img-src 'self'; style-src 'unsafe-inline'; sandbox"

// previewContentType serves images under their own type and anything else
// as opaque bytes, so an uploaded page is never rendered on this origin.
func previewContentType(file *uistate.File) string {
	contentType := file.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(file.Data)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return "application/octet-stream"
	}
	return mediaType
}

// readUpload parses the selection form. A body that is not multipart counts
// as an empty file list.
func readUpload(c *gin.Context, maxUploadBytes int64) (uistate.Source, []uistate.File, int, error) {
	form, err := c.MultipartForm()
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		source, err := uistate.ParseSource(c.Request.PostForm.Get("source"))
		if err != nil {
			return "", nil, http.StatusBadRequest, err
		}
		return source, nil, http.StatusOK, nil
	case isTooLarge(err):
		return "", nil, http.StatusRequestEntityTooLarge, fmt.Errorf("image exceeds %d bytes", maxUploadBytes)
	case err != nil:
		return "", nil, http.StatusBadRequest, errors.New("invalid multipart form")
	}

	var sourceName string
	if values := form.Value["source"]; len(values) > 0 {
		sourceName = values[0]
	}
	source, err := uistate.ParseSource(sourceName)
	if err != nil {
		return "", nil, http.StatusBadRequest, err
	}

	headers := form.File[fileField]
	if len(headers) == 0 {
		return source, nil, http.StatusOK, nil
	}

	// Only the first file is ever used.
	header := headers[0]
	if header.Size > maxUploadBytes {
		return "", nil, http.StatusRequestEntityTooLarge, fmt.Errorf("image exceeds %d bytes", maxUploadBytes)
	}
	data, err := readPart(header)
	if err != nil {
		return "", nil, http.StatusBadRequest, errors.New("unable to read image")
	}
	return source, []uistate.File{{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	}}, http.StatusOK, nil
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func respond(c *gin.Context, view uistate.View, err error) {
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session unavailable"})
		return
	}
	c.JSON(http.StatusOK, withPreviewURL(view))
}

func withPreviewURL(view uistate.View) uistate.View {
	if view.PreviewVersion > 0 {
		view.PreviewURL = fmt.Sprintf("/api/preview/%d", view.PreviewVersion)
	}
	return view
}
