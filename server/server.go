// Package server exposes the voxel pipeline over HTTP: upload an image,
// get back an STL, a quantized preview or a JSON summary of the model.
package server

import (
	"context"
	"encoding/json"
	"html/template"
	"image/png"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/setanarut/voxelstl"
	"github.com/setanarut/voxelstl/config"
	"github.com/setanarut/voxelstl/utils"
)

// statusClientClosedRequest is the non-standard code for a request whose
// client went away before the build finished.
const statusClientClosedRequest = 499

type Server struct {
	cfg    *config.Config
	base   voxelstl.Options
	logger *log.Logger
	mux    *http.ServeMux
}

func New(cfg *config.Config, logger *log.Logger) (*Server, error) {
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	base, err := cfg.Options()
	if err != nil {
		return nil, errors.Wrap(err, "pipeline options")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{cfg: cfg, base: base, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /{$}", s.serveIndex)
	s.mux.HandleFunc("POST /api/stl", s.handleSTL)
	s.mux.HandleFunc("POST /api/preview", s.handlePreview)
	s.mux.HandleFunc("POST /api/model", s.handleModel)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Server.Addr,
		Handler:     s.mux,
		ReadTimeout: s.cfg.Server.ReadTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Printf("Starting server on %s...", srv.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Println("Shutting down server...")
	return errors.Wrap(srv.Shutdown(shutdownCtx), "shutdown")
}

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html>
<head><meta charset="utf-8"><title>voxelstl</title></head>
<body>
<h1>Image to layered STL</h1>
<form method="post" action="/api/stl" enctype="multipart/form-data">
<label>Layer height (mm) <input type="number" name="layerHeight" step="0.01" value="{{.LayerHeight}}"></label><br>
<label>Nozzle / pixel size (mm) <input type="number" name="nozzleSize" step="0.01" value="{{.NozzleSize}}"></label><br>
<label>Colors <input type="number" name="colors" min="1" value="{{.Colors}}"></label><br>
<label>Layers per color <input type="number" name="colorLayers" min="1" value="{{.ColorLayers}}"></label><br>
<label>Image <input type="file" name="image" accept="image/*"></label><br>
<button type="submit">Download STL</button>
<button type="submit" formaction="/api/preview">Preview</button>
</form>
</body>
</html>
`))

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, s.base); err != nil {
		s.logger.Printf("Error rendering index: %v", err)
	}
}

func (s *Server) handleSTL(w http.ResponseWriter, r *http.Request) {
	b, ok := s.build(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "model/stl")
	w.Header().Set("Content-Disposition", `attachment; filename="model.stl"`)
	if err := b.WriteSTL(w); err != nil {
		s.logger.Printf("Error writing STL: %v", err)
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	b, ok := s.build(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, b.Preview()); err != nil {
		s.logger.Printf("Error encoding preview: %v", err)
	}
}

type paletteEntry struct {
	Hex   string `json:"hex"`
	Band  int    `json:"band"`
	Tiles int    `json:"tiles"`
	Boxes int    `json:"boxes"`
}

type modelSummary struct {
	Palette   []paletteEntry `json:"palette"`
	BlockSize int            `json:"blockSize"`
	Cols      int            `json:"cols"`
	Rows      int            `json:"rows"`
	SizeMM    [3]float64     `json:"sizeMM"`
	Tiles     int            `json:"tiles"`
	Boxes     int            `json:"boxes"`
	Triangles int            `json:"triangles"`
	AvgRun    float64        `json:"avgRun"`
}

func summarize(b *voxelstl.Builder) modelSummary {
	st := b.Stats()
	sum := modelSummary{
		BlockSize: b.Options.BlockSize,
		Cols:      b.Grid.Cols,
		Rows:      b.Grid.Rows,
		SizeMM:    [3]float64{b.Model.Size.X, b.Model.Size.Y, b.Model.Size.Z},
		Tiles:     st.Tiles,
		Boxes:     st.Boxes,
		Triangles: st.Triangles,
		AvgRun:    st.AvgRun,
	}
	boxes := b.Model.BandBoxes()
	for band, hex := range b.Colors.Order {
		sum.Palette = append(sum.Palette, paletteEntry{
			Hex:   hex,
			Band:  band,
			Tiles: len(b.Colors.Positions[hex]),
			Boxes: boxes[band],
		})
	}
	return sum
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	b, ok := s.build(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summarize(b)); err != nil {
		s.logger.Printf("Error encoding model summary: %v", err)
	}
}

// build parses the upload and runs the pipeline. On failure it has already
// written the error response.
func (s *Server) build(w http.ResponseWriter, r *http.Request) (*voxelstl.Builder, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadMB << 20); err != nil {
		s.logger.Printf("Error parsing multipart form: %v", err)
		http.Error(w, "could not parse multipart form", http.StatusBadRequest)
		return nil, false
	}
	opt, err := s.formOptions(r)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}

	file, handler, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		s.fail(w, voxelstl.ErrNoImage)
		return nil, false
	}
	if err != nil {
		s.logger.Printf("Error retrieving image from form: %v", err)
		http.Error(w, "could not retrieve image from form", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	img, err := utils.DecodeImage(file)
	if err != nil {
		s.fail(w, err)
		return nil, false
	}

	start := time.Now()
	b := voxelstl.NewBuilder(img)
	if s.cfg.Output.Verbose {
		b.Logger = s.logger
	}
	if err := b.Build(r.Context(), opt); err != nil {
		s.fail(w, err)
		return nil, false
	}
	st := b.Stats()
	s.logger.Printf("Built %s: %d colors, %d boxes in %v", handler.Filename, len(b.Colors.Order), st.Boxes, time.Since(start))
	return b, true
}

// formOptions overlays the numeric form fields on the configured options.
// Empty fields keep the configured value.
func (s *Server) formOptions(r *http.Request) (voxelstl.Options, error) {
	opt := s.base
	ints := map[string]*int{
		"colors":      &opt.Colors,
		"colorLayers": &opt.ColorLayers,
		"maxSize":     &opt.MaxSize,
	}
	for name, dst := range ints {
		if v := r.FormValue(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return opt, errors.Wrapf(voxelstl.ErrInvalidOptions, "%s: %v", name, err)
			}
			*dst = n
		}
	}
	if v := r.FormValue("blockSize"); v != "" {
		bs, err := config.ParseBlockSize(v)
		if err != nil {
			return opt, errors.Wrapf(voxelstl.ErrInvalidOptions, "blockSize: %v", err)
		}
		opt.BlockSize = int(bs)
	}
	floats := map[string]*float64{
		"layerHeight": &opt.LayerHeight,
		"nozzleSize":  &opt.NozzleSize,
	}
	for name, dst := range floats {
		if v := r.FormValue(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return opt, errors.Wrapf(voxelstl.ErrInvalidOptions, "%s: %v", name, err)
			}
			*dst = f
		}
	}
	if v := r.FormValue("method"); v != "" {
		m, err := voxelstl.ParsePaletteMethod(v)
		if err != nil {
			return opt, err
		}
		opt.Method = m
	}
	if v := r.FormValue("order"); v != "" {
		o, err := voxelstl.ParseBandOrder(v)
		if err != nil {
			return opt, err
		}
		opt.Order = o
	}
	if v := r.FormValue("solid"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opt, errors.Wrapf(voxelstl.ErrInvalidOptions, "solid: %v", err)
		}
		opt.Solid = b
	}
	return opt, opt.Validate()
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voxelstl.ErrNoImage):
		http.Error(w, "no image uploaded", http.StatusBadRequest)
	case errors.Is(err, voxelstl.ErrInvalidOptions),
		errors.Is(err, voxelstl.ErrInvalidColorCount),
		errors.Is(err, voxelstl.ErrEmptyImage),
		errors.Is(err, utils.ErrDecode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.Canceled):
		s.logger.Printf("Build cancelled: %v", err)
		w.WriteHeader(statusClientClosedRequest)
	default:
		s.logger.Printf("Build failed: %v", err)
		http.Error(w, "could not build model", http.StatusInternalServerError)
	}
}
