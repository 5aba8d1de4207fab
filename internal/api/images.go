package api

import (
	"io"
	"net/http"

	"github.com/dunamismax/imagery/internal/bmp"
	"github.com/dunamismax/imagery/internal/domain"
	"github.com/dunamismax/imagery/internal/geometry"
	"github.com/dunamismax/imagery/internal/pipeline"
)

type inspectResponse struct {
	Format string         `json:"format"`
	Width  int            `json:"width"`
	Height int            `json:"height"`
	Bitmap *bitmapSummary `json:"bitmap,omitempty"`
}

type bitmapSummary struct {
	FileSize     uint32 `json:"file_size"`
	BitmapOffset uint32 `json:"bitmap_offset"`
	HeaderSize   uint32 `json:"header_size"`
	BitsPerPixel uint16 `json:"bits_per_pixel"`
	Compression  uint32 `json:"compression"`
	SizeBitmap   uint32 `json:"size_bitmap"`
	ColorsUsed   uint32 `json:"colors_used"`
	Colors       int    `json:"colors"`
	Palette      int    `json:"palette"`
	TopDown      bool   `json:"top_down"`
	RowStride    int    `json:"row_stride"`
	RowPadding   int    `json:"row_padding"`
}

func summarizeBitmap(h bmp.Header) *bitmapSummary {
	return &bitmapSummary{
		FileSize:     h.File.FileSize,
		BitmapOffset: h.File.BitmapOffset,
		HeaderSize:   h.Info.HeaderSize,
		BitsPerPixel: h.Info.BitsPerPixel,
		Compression:  h.Info.Compression,
		SizeBitmap:   h.Info.SizeBitmap,
		ColorsUsed:   h.Info.ColorsUsed,
		Colors:       h.Info.Colors(),
		Palette:      len(h.Palette),
		TopDown:      h.Info.TopDown(),
		RowStride:    h.Info.RowStride(),
		RowPadding:   h.Info.RowPadding(),
	}
}

// handleInspect reports what an uploaded image is. Bitmaps get their full
// header; other formats only size and format.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxInspectBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	info, err := pipeline.Inspect(data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s.metrics.inspectBytes.WithLabelValues(info.Format).Observe(float64(len(data)))

	resp := inspectResponse{Format: info.Format, Width: info.Size.Width, Height: info.Size.Height}
	if info.Bitmap != nil {
		resp.Bitmap = summarizeBitmap(*info.Bitmap)
	}
	writeJSON(w, http.StatusOK, resp)
}

type planRequest struct {
	Width    int                   `json:"width"`
	Height   int                   `json:"height"`
	Pipeline []domain.PipelineStep `json:"pipeline"`
}

// handlePlan resolves a pipeline against a source size without any pixels.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		writeError(w, http.StatusBadRequest, "width and height must be positive")
		return
	}
	if err := domain.ValidatePipeline(req.Pipeline); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := geometry.Size{Width: req.Width, Height: req.Height}
	steps, err := pipeline.PlanSteps(source, req.Pipeline)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Source geometry.Size       `json:"source"`
		Steps  []pipeline.StepPlan `json:"steps"`
	}{source, steps})
}

func (s *Server) handleDrivers(w http.ResponseWriter, _ *http.Request) {
	drivers := s.capabilities.Drivers()
	formats := make(map[string][]string, len(drivers))
	for _, d := range drivers {
		formats[d] = s.capabilities.OutputFormats(d)
	}
	writeJSON(w, http.StatusOK, struct {
		Drivers       []string            `json:"drivers"`
		OutputFormats map[string][]string `json:"output_formats"`
	}{drivers, formats})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usageStore == nil {
		writeError(w, http.StatusNotImplemented, "usage tracking is disabled")
		return
	}
	summary, err := s.usageStore.UsageByUser(r.Context(), s.userID(r))
	if err != nil {
		s.logger.Printf("usage lookup failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load usage")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
