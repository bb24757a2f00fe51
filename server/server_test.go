package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/setanarut/voxelstl/config"
	"github.com/setanarut/voxelstl/stl"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(config.DefaultConfig(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := range 2 {
		for x := range 4 {
			c := color.RGBA{R: 255, A: 255}
			if x >= 2 {
				c = color.RGBA{B: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return encodePNG(t, img)
}

func uploadRequest(t *testing.T, path string, imgData []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if imgData != nil {
		fw, err := mw.CreateFormFile("image", "test.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(imgData)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var twoColorFields = map[string]string{
	"colors":      "2",
	"colorLayers": "1",
	"blockSize":   "1",
	"nozzleSize":  "0.2",
	"layerHeight": "0.2",
}

func TestIndex(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `name="image"`) {
		t.Error("index has no file picker")
	}
}

func TestSTLWithoutImage(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, uploadRequest(t, "/api/stl", nil, twoColorFields))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "no image uploaded") {
		t.Errorf("body %q", rec.Body.String())
	}
}

func TestSTLDownload(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, uploadRequest(t, "/api/stl", pngBytes(t), twoColorFields))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "model.stl") {
		t.Errorf("Content-Disposition %q", cd)
	}
	f, err := stl.Decode(rec.Body)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// two rows per color, each a strip of two tiles
	if len(f.Triangles) != 4*12 {
		t.Errorf("got %d triangles", len(f.Triangles))
	}
}

func TestPreview(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, uploadRequest(t, "/api/preview", pngBytes(t), twoColorFields))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Size() != image.Pt(4, 2) {
		t.Errorf("preview size %v", img.Bounds().Size())
	}
}

func TestModelSummary(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, uploadRequest(t, "/api/model", pngBytes(t), twoColorFields))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var sum modelSummary
	if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
		t.Fatal(err)
	}
	if len(sum.Palette) != 2 || sum.Tiles != 8 || sum.Boxes != 4 || sum.Triangles != 48 {
		t.Fatalf("summary %+v", sum)
	}
	if sum.Palette[0].Hex != "#ff0000" || sum.Palette[0].Tiles != 4 || sum.Palette[0].Boxes != 2 {
		t.Errorf("palette %+v", sum.Palette)
	}
}

func TestBadOptions(t *testing.T) {
	for name, fields := range map[string]map[string]string{
		"zero colors":   {"colors": "0"},
		"not a number":  {"nozzleSize": "wide"},
		"unknown order": {"order": "random"},
	} {
		rec := httptest.NewRecorder()
		newTestServer(t).Handler().ServeHTTP(rec, uploadRequest(t, "/api/stl", pngBytes(t), fields))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", name, rec.Code)
		}
	}
}

func TestUndecodableImage(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(t).Handler().ServeHTTP(rec, uploadRequest(t, "/api/stl", []byte("garbage"), nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d", rec.Code)
	}
}

func TestModelDerivesBlockSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 512, 256))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{G: 200, A: 255}), image.Point{}, draw.Src)
	for name, fields := range map[string]map[string]string{
		"unset": {"colors": "1"},
		"auto":  {"colors": "1", "blockSize": "auto"},
	} {
		rec := httptest.NewRecorder()
		newTestServer(t).Handler().ServeHTTP(rec, uploadRequest(t, "/api/model", encodePNG(t, img), fields))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", name, rec.Code, rec.Body.String())
		}
		var sum modelSummary
		if err := json.NewDecoder(rec.Body).Decode(&sum); err != nil {
			t.Fatal(err)
		}
		if sum.BlockSize != 2 || sum.Cols != 128 || sum.Rows != 64 {
			t.Errorf("%s: block %d, grid %dx%d", name, sum.BlockSize, sum.Cols, sum.Rows)
		}
	}
}

func TestNewRejectsUploadLimit(t *testing.T) {
	for _, mb := range []int64{0, -1} {
		cfg := config.DefaultConfig()
		cfg.Server.MaxUploadMB = mb
		if _, err := New(cfg, log.New(io.Discard, "", 0)); err == nil {
			t.Errorf("maxUploadMB %d accepted", mb)
		}
	}
}
