package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/config"
	"github.com/hyperjump/mitsuke/internal/models"
	"github.com/hyperjump/mitsuke/internal/storage"
	"github.com/hyperjump/mitsuke/pkg/utils"
)

// allowedImageTypes are the sniffed MIME types accepted as image queries.
var allowedImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

type searchRequest struct {
	Text             string   `json:"text"`
	ImageBase64      string   `json:"image_base64"`
	TopK             int      `json:"top_k"`
	ImageWeight      *float64 `json:"image_weight"`
	IncludeSubScores bool     `json:"include_sub_scores"`
}

type embedRequest struct {
	Modality    string `json:"modality"`
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64"`
}

type embedResponse struct {
	Modality   models.Modality `json:"modality"`
	Dimensions int             `json:"dimensions"`
	Values     []float32       `json:"values"`
}

type errorBody struct {
	Kind     models.Kind `json:"kind"`
	Message  string      `json:"message"`
	Attempts int         `json:"attempts,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query, err := s.decodeSearch(w, r)
	if err != nil {
		s.respondModelError(w, err)
		return
	}
	s.logger.Debug("search request",
		zap.String("text", utils.Truncate(query.Text, 80)),
		zap.Int("image_bytes", len(query.Image)),
		zap.Int("top_k", query.TopK))
	response, err := s.engine.Search(r.Context(), query)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondModelError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

// decodeSearch reads a search query from a JSON body or a multipart form.
func (s *Server) decodeSearch(w http.ResponseWriter, r *http.Request) (*models.SearchQuery, error) {
	limit := s.config.Server.MaxUploadBytes
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		return s.decodeSearchForm(r)
	}

	// base64 inflates the image by a third.
	r.Body = http.MaxBytesReader(w, r.Body, limit/3*4+64<<10)
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, bodyError(err)
	}
	query := &models.SearchQuery{
		Text:             strings.TrimSpace(req.Text),
		TopK:             req.TopK,
		ImageWeight:      req.ImageWeight,
		IncludeSubScores: req.IncludeSubScores,
	}
	if req.ImageBase64 != "" {
		img, err := s.decodeImage(req.ImageBase64)
		if err != nil {
			return nil, err
		}
		query.Image = img
	}
	return query, nil
}

func (s *Server) decodeSearchForm(r *http.Request) (*models.SearchQuery, error) {
	if err := r.ParseMultipartForm(s.config.Server.MaxUploadBytes); err != nil {
		return nil, bodyError(err)
	}
	query := &models.SearchQuery{Text: strings.TrimSpace(r.FormValue("text"))}
	if v := r.FormValue("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return nil, models.NewError(models.KindInvalidInput, "parse form", fmt.Errorf("top_k: %w", err))
		}
		query.TopK = k
	}
	if v := r.FormValue("image_weight"); v != "" {
		weight, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, models.NewError(models.KindInvalidInput, "parse form", fmt.Errorf("image_weight: %w", err))
		}
		query.ImageWeight = &weight
	}
	if v := r.FormValue("include_sub_scores"); v != "" {
		sub, err := strconv.ParseBool(v)
		if err != nil {
			return nil, models.NewError(models.KindInvalidInput, "parse form", fmt.Errorf("include_sub_scores: %w", err))
		}
		query.IncludeSubScores = sub
	}

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return query, nil
	}
	if err != nil {
		return nil, bodyError(err)
	}
	defer file.Close()
	img, err := io.ReadAll(file)
	if err != nil {
		return nil, bodyError(err)
	}
	if err := checkImage(img); err != nil {
		return nil, err
	}
	query.Image = img
	query.ImageRef = header.Filename
	return query, nil
}

func (s *Server) decodeImage(encoded string) ([]byte, error) {
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, models.NewError(models.KindInvalidInput, "decode image", err)
	}
	if int64(len(img)) > s.config.Server.MaxUploadBytes {
		return nil, models.NewError(models.KindInvalidInput, "decode image",
			fmt.Errorf("image is %d bytes, limit is %d", len(img), s.config.Server.MaxUploadBytes))
	}
	if err := checkImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// checkImage rejects payloads whose content is not a supported image format.
func checkImage(img []byte) error {
	if len(img) == 0 {
		return models.NewError(models.KindInvalidInput, "check image", errors.New("empty image"))
	}
	mt := mimetype.Detect(img)
	for _, allowed := range allowedImageTypes {
		if mt.Is(allowed) {
			return nil
		}
	}
	return models.NewError(models.KindInvalidInput, "check image", fmt.Errorf("unsupported image type %s", mt.String()))
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return models.NewError(models.KindInvalidInput, "read body", fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
	}
	return models.NewError(models.KindInvalidInput, "read body", fmt.Errorf("invalid request body: %w", err))
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes/3*4+64<<10)
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondModelError(w, bodyError(err))
		return
	}
	modality, err := models.ParseModality(req.Modality)
	if err != nil {
		s.respondModelError(w, err)
		return
	}

	var payload []byte
	switch modality {
	case models.ModalityText:
		payload = []byte(strings.TrimSpace(req.Text))
	case models.ModalityImage:
		if req.ImageBase64 == "" {
			s.respondModelError(w, models.NewError(models.KindInvalidInput, "embed", errors.New("image_base64 is required")))
			return
		}
		if payload, err = s.decodeImage(req.ImageBase64); err != nil {
			s.respondModelError(w, err)
			return
		}
	}

	s.logger.Debug("embed request", zap.String("modality", string(modality)), zap.Int("payload_bytes", len(payload)))
	vec, err := s.engine.Embed(r.Context(), modality, payload)
	if err != nil {
		s.logger.Error("embed failed", zap.Error(err))
		s.respondModelError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, embedResponse{
		Modality:   vec.Modality,
		Dimensions: vec.Dimensions(),
		Values:     vec.Values,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"corpus": s.engine.Status(),
	}

	configInfo := map[string]interface{}{
		"corpus_source":        s.config.Corpus.Source,
		"text_backend":         s.config.Providers.Text.Backend,
		"image_backend":        s.config.Providers.Image.Backend,
		"max_attempts":         s.config.Retry.MaxAttempts,
		"attempt_timeout":      s.config.Retry.AttemptTimeout.String(),
		"default_top_k":        s.config.Search.DefaultTopK,
		"default_image_weight": s.config.Search.ImageWeightOrDefault(),
	}
	resp["config"] = configInfo

	diskBytes, err := storage.DiskUsageBytes(corpusPaths(s.config.Corpus.Source, s.config.Corpus.Path, s.config.Corpus.DatabasePath)...)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// corpusPaths returns the local files backing a corpus source.
func corpusPaths(source, path, dbPath string) []string {
	switch source {
	case config.CorpusSourceJSON:
		return []string{path}
	case config.CorpusSourceSQLite:
		return []string{dbPath, dbPath + "-wal", dbPath + "-shm"}
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondModelError(w http.ResponseWriter, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]errorBody{
		"error": {Kind: kind, Message: err.Error(), Attempts: models.AttemptsOf(err)},
	})
}

func statusFor(kind models.Kind) int {
	switch kind {
	case models.KindMissingQuery, models.KindInvalidInput, models.KindInvalidWeight:
		return http.StatusBadRequest
	case models.KindProviderUnavailable, models.KindCorpusUnavailable:
		return http.StatusServiceUnavailable
	case models.KindRateLimited:
		return http.StatusTooManyRequests
	case models.KindUnauthorized:
		return http.StatusBadGateway
	case models.KindDimensionMismatch:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
