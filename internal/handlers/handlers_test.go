package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/image-check/internal/inference"
	"github.com/example/image-check/internal/session"
	"github.com/example/image-check/internal/uistate"
	"github.com/example/image-check/internal/usecase"
)

type stubPredictor struct {
	label int
	err   error
}

func (s *stubPredictor) Predict(ctx context.Context, img inference.Image) (*inference.Prediction, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &inference.Prediction{Label: s.label, Numeric: true}, nil
}

type testServer struct {
	router *gin.Engine
	uc     *usecase.ImageCheckUseCase
}

func newTestServer(t *testing.T, predictor inference.Predictor) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize

	uc := usecase.NewImageCheckUseCase(session.NewMemoryStore(), predictor, zap.NewNop(), usecase.Options{})
	if err := RegisterRoutes(router, uc, MaxUploadSize); err != nil {
		t.Fatalf("failed to register routes: %v", err)
	}
	return &testServer{router: router, uc: uc}
}

func (s *testServer) do(t *testing.T, req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp := httptest.NewRecorder()
	s.router.ServeHTTP(resp, req)
	return resp
}

// startSession issues a first request and returns the session cookie it was given.
func (s *testServer) startSession(t *testing.T) *http.Cookie {
	t.Helper()
	resp := s.do(t, httptest.NewRequest(http.MethodGet, "/api/state", nil), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	for _, cookie := range resp.Result().Cookies() {
		if cookie.Name == SessionCookie {
			return cookie
		}
	}
	t.Fatal("session cookie not issued")
	return nil
}

func decodeView(t *testing.T, resp *httptest.ResponseRecorder) uistate.View {
	t.Helper()
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d body: %s", http.StatusOK, resp.Code, resp.Body.String())
	}
	var view uistate.View
	if err := json.Unmarshal(resp.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode view: %v", err)
	}
	return view
}

func uploadRequest(t *testing.T, source, contentType string, payload []byte) *http.Request {
	t.Helper()
	body, formType := buildMultipartBody(t, source, contentType, payload)
	req := httptest.NewRequest(http.MethodPost, "/api/files", body)
	req.Header.Set("Content-Type", formType)
	return req
}

func formRequest(path string, values map[string]string) *http.Request {
	var pairs []string
	for k, v := range values {
		pairs = append(pairs, k+"="+v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(strings.Join(pairs, "&")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestSelectPreviewAndCheckFlow(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{label: 1})
	cookie := srv.startSession(t)

	view := decodeView(t, srv.do(t, uploadRequest(t, "picker", "image/png", []byte("png-bytes")), cookie))
	if view.PreviewURL != "/api/preview/1" || !view.CanCheck || view.Message != "" {
		t.Fatalf("unexpected view after select: %+v", view)
	}

	preview := srv.do(t, httptest.NewRequest(http.MethodGet, view.PreviewURL, nil), cookie)
	if preview.Code != http.StatusOK {
		t.Fatalf("expected preview status %d, got %d", http.StatusOK, preview.Code)
	}
	if preview.Body.String() != "png-bytes" || preview.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected preview: %q (%s)", preview.Body.String(), preview.Header().Get("Content-Type"))
	}

	view = decodeView(t, srv.do(t, httptest.NewRequest(http.MethodPost, "/api/check", nil), cookie))
	if !view.Loading {
		t.Fatalf("expected loading after check, got %+v", view)
	}

	srv.uc.Wait()

	view = decodeView(t, srv.do(t, httptest.NewRequest(http.MethodGet, "/api/state", nil), cookie))
	if view.Message != inference.MessageAIGenerated || view.Loading {
		t.Fatalf("unexpected view after check: %+v", view)
	}

	page := srv.do(t, httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	if page.Code != http.StatusOK {
		t.Fatalf("expected page status %d, got %d", http.StatusOK, page.Code)
	}
	for _, want := range []string{"Real Vs Fake Image Checker", inference.MessageAIGenerated, `src="/api/preview/1"`} {
		if !strings.Contains(page.Body.String(), want) {
			t.Fatalf("page does not contain %q", want)
		}
	}
}

func TestCheckReportsBackendError(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{err: context.DeadlineExceeded})
	cookie := srv.startSession(t)

	decodeView(t, srv.do(t, uploadRequest(t, "drop", "image/jpeg", []byte("jpeg")), cookie))
	decodeView(t, srv.do(t, httptest.NewRequest(http.MethodPost, "/api/check", nil), cookie))
	srv.uc.Wait()

	view := decodeView(t, srv.do(t, httptest.NewRequest(http.MethodGet, "/api/state", nil), cookie))
	if view.Message != inference.MessageBackendError || view.Loading {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestCheckWithoutFilePrompts(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{label: 1})
	cookie := srv.startSession(t)

	view := decodeView(t, srv.do(t, httptest.NewRequest(http.MethodPost, "/api/check", nil), cookie))
	if view.Message != uistate.MessageNoFile || view.Loading {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestDragAndEmptyDrop(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{})
	cookie := srv.startSession(t)

	view := decodeView(t, srv.do(t, formRequest("/api/drag", map[string]string{"event": "enter"}), cookie))
	if !view.DragActive {
		t.Fatal("expected drag to be active")
	}

	view = decodeView(t, srv.do(t, formRequest("/api/files", map[string]string{"source": "drop"}), cookie))
	if view.DragActive || view.CanCheck || view.PreviewURL != "" {
		t.Fatalf("expected empty drop to only clear the highlight, got %+v", view)
	}

	resp := srv.do(t, formRequest("/api/drag", map[string]string{"event": "sideways"}), cookie)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{})
	first := srv.startSession(t)
	second := srv.startSession(t)
	if first.Value == second.Value {
		t.Fatal("expected distinct session ids")
	}

	decodeView(t, srv.do(t, uploadRequest(t, "picker", "image/png", []byte("a")), first))

	view := decodeView(t, srv.do(t, httptest.NewRequest(http.MethodGet, "/api/state", nil), second))
	if view.CanCheck {
		t.Fatal("expected second session to have no selection")
	}
	resp := srv.do(t, httptest.NewRequest(http.MethodGet, "/api/preview/1", nil), second)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestSelectRejectsLargeUpload(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{})
	cookie := srv.startSession(t)

	resp := srv.do(t, uploadRequest(t, "picker", "image/png", bytes.Repeat([]byte("a"), MaxUploadSize+1)), cookie)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestSelectAcceptsAnyContentType(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{})
	cookie := srv.startSession(t)

	view := decodeView(t, srv.do(t, uploadRequest(t, "picker", "text/plain", []byte("hello")), cookie))
	if !view.CanCheck {
		t.Fatalf("expected file to be accepted, got %+v", view)
	}
}

func TestPreviewServesOnlyImagesInline(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		payload     []byte
		want        string
	}{
		{name: "png", contentType: "image/png", payload: []byte("png-bytes"), want: "image/png"},
		{name: "jpeg with params", contentType: "image/jpeg; q=1", payload: []byte("jpeg"), want: "image/jpeg"},
		{name: "html", contentType: "text/html", payload: []byte("<script>alert(1)</script>"), want: "application/octet-stream"},
		{name: "sniffed html", contentType: "", payload: []byte("<html><script>alert(1)</script></html>"), want: "application/octet-stream"},
		{name: "bad media type", contentType: "image/", payload: []byte("x"), want: "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubPredictor{})
			cookie := srv.startSession(t)

			view := decodeView(t, srv.do(t, uploadRequest(t, "picker", tt.contentType, tt.payload), cookie))
			resp := srv.do(t, httptest.NewRequest(http.MethodGet, view.PreviewURL, nil), cookie)
			if resp.Code != http.StatusOK {
				t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
			}
			if got := resp.Header().Get("Content-Type"); got != tt.want {
				t.Fatalf("expected content type %q, got %q", tt.want, got)
			}
			if got := resp.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Fatalf("expected nosniff, got %q", got)
			}
			if !strings.Contains(resp.Header().Get("Content-Security-Policy"), "sandbox") {
				t.Fatalf("expected sandboxing policy, got %q", resp.Header().Get("Content-Security-Policy"))
			}
			if resp.Body.String() != string(tt.payload) {
				t.Fatalf("unexpected preview body: %q", resp.Body.String())
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &stubPredictor{})

	resp := srv.do(t, httptest.NewRequest(http.MethodGet, "/health", nil), nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", resp.Code, resp.Body.String())
	}

	resp = srv.do(t, httptest.NewRequest(http.MethodGet, "/api/metrics", nil), nil)
	var summary usecase.MetricsSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summary); err != nil {
		t.Fatalf("failed to decode metrics: %v", err)
	}
	if summary.ChecksStarted != 0 {
		t.Fatalf("expected no checks, got %+v", summary)
	}
}

func buildMultipartBody(t *testing.T, source, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("source", source); err != nil {
		t.Fatalf("failed to write source field: %v", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="upload.img"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}
