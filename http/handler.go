package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/mbrennan/carton"
)

// Service is the engine surface the HTTP edge translates requests onto.
type Service interface {
	StoreFile(ctx context.Context, ownerID, bucket, key string, content io.Reader, contentType, expectedChecksum string) (carton.CommittedObject, error)
	RetrieveFileStream(ctx context.Context, bucket, key, version string) (carton.ObjectStream, error)
	RetrieveRange(ctx context.Context, bucket, key, version string, start, end int64) (carton.ObjectStream, error)
	DeleteFile(ctx context.Context, bucket, key, version string) error
	ListObjects(ctx context.Context, bucket string) ([]carton.ObjectRecord, error)
	InitiateMultipartUpload(ctx context.Context, bucket, key, ownerID, contentType, finalChecksum string) (carton.MultipartUpload, error)
	UploadChunk(ctx context.Context, uploadID string, index int, data io.Reader, checksum string) (carton.ChunkRecord, error)
	CompleteMultipartUpload(ctx context.Context, uploadID string) (carton.CommittedObject, error)
	AbortMultipartUpload(ctx context.Context, uploadID string) error
	GeneratePreSignedURL(bucket, key, version string, op carton.Operation, ttl time.Duration) (carton.PreSignedURL, error)
	ValidatePreSignedToken(token, bucket, key string) (carton.TokenClaims, error)
}

// Request headers the edge translates into engine arguments. The owner id is
// gateway-supplied and trusted as opaque; this layer performs no
// authentication of its own.
const (
	HeaderOwnerID          = "X-Owner-Id"
	HeaderExpectedChecksum = "X-Expected-Checksum"
	HeaderChunkChecksum    = "X-Chunk-Checksum"
	HeaderFinalChecksum    = "X-Final-Checksum"
	HeaderChecksum         = "X-Checksum"
)

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type HandlerConfig struct {
	CORS CORSConfig
	// MaxUploadSize caps request bodies in bytes; 0 means no limit.
	MaxUploadSize int64
}

// Handler provides HTTP handlers for the storage engine.
type Handler struct {
	config  HandlerConfig
	service Service
}

// NewHandler creates a new Handler with the given configuration and service.
func NewHandler(config *HandlerConfig, service Service) *Handler {
	return &Handler{
		config:  *config,
		service: service,
	}
}

// Router returns the configured http.Handler.
//
// Routes:
//
//	PUT    /o/{bucket}/{key...}          store a complete object
//	GET    /o/{bucket}/{key...}          retrieve (honors Range and ?version=)
//	DELETE /o/{bucket}/{key...}          delete a version or the latest alias
//	GET    /b/{bucket}                   list registered objects in a bucket
//	POST   /mpu                          initiate a multipart upload
//	PUT    /mpu/{uploadID}/{index}       upload one chunk
//	POST   /mpu/{uploadID}/complete      assemble and commit
//	DELETE /mpu/{uploadID}               abort
//	POST   /presign                      issue a pre-signed URL
//	       /ps/{op}/{bucket}/{key...}    pre-signed direct access
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger)

	if h.config.CORS.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.config.CORS.AllowedOrigins,
			AllowedMethods:   h.config.CORS.AllowedMethods,
			AllowedHeaders:   h.config.CORS.AllowedHeaders,
			ExposedHeaders:   h.config.CORS.ExposedHeaders,
			AllowCredentials: h.config.CORS.AllowCredentials,
			MaxAge:           h.config.CORS.MaxAge,
		}))
	}

	r.Route("/o/{bucket}", func(r chi.Router) {
		r.Put("/*", h.handleStore)
		r.Get("/*", h.handleGet)
		r.Delete("/*", h.handleDelete)
	})

	r.Get("/b/{bucket}", h.handleList)

	r.Route("/mpu", func(r chi.Router) {
		r.Post("/", h.handleInitiate)
		r.Put("/{uploadID}/{index}", h.handleChunk)
		r.Post("/{uploadID}/complete", h.handleComplete)
		r.Delete("/{uploadID}", h.handleAbort)
	})

	r.Post("/presign", h.handlePresign)

	r.Route("/ps/{op}/{bucket}", func(r chi.Router) {
		r.Get("/*", h.handlePresigned)
		r.Put("/*", h.handlePresigned)
		r.Delete("/*", h.handlePresigned)
	})

	return r
}

func objectParams(r *http.Request) (bucket, key string) {
	return chi.URLParam(r, "bucket"), chi.URLParam(r, "*")
}

func (h *Handler) body(r *http.Request, w http.ResponseWriter) io.Reader {
	if h.config.MaxUploadSize > 0 {
		return http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize)
	}
	return r.Body
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectParams(r)
	if bucket == "" || key == "" {
		WriteError(w, http.StatusBadRequest, "invalid_argument", "Bucket and key are required")
		return
	}

	obj, err := h.service.StoreFile(r.Context(),
		r.Header.Get(HeaderOwnerID),
		bucket, key,
		h.body(r, w),
		r.Header.Get("Content-Type"),
		r.Header.Get(HeaderExpectedChecksum),
	)
	if err != nil {
		// The bytes are durable even when bookkeeping lags; report success
		// and let registration catch up.
		if !errors.Is(err, carton.ErrMetadataUnavailable) || obj.Version == "" {
			HandleError(w, err)
			return
		}
	}

	_ = WriteJSON(w, http.StatusOK, obj)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectParams(r)
	version := r.URL.Query().Get("version")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader != "" {
		h.serveRange(w, r, bucket, key, version, rangeHeader)
		return
	}

	stream, err := h.service.RetrieveFileStream(r.Context(), bucket, key, version)
	if err != nil {
		HandleError(w, err)
		return
	}
	defer func() { _ = stream.Content.Close() }()

	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(stream.Length, 10))
	w.Header().Set(HeaderChecksum, stream.Checksum)
	w.Header().Set("Last-Modified", stream.LastModified.UTC().Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")

	_, _ = io.Copy(w, stream.Content)
}

func (h *Handler) serveRange(w http.ResponseWriter, r *http.Request, bucket, key, version, rangeHeader string) {
	start, end, err := parseRangeHeader(rangeHeader)
	if err != nil {
		WriteError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", err.Error())
		return
	}

	stream, err := h.service.RetrieveRange(r.Context(), bucket, key, version, start, end)
	if err != nil {
		if errors.Is(err, carton.ErrInvalidArgument) {
			WriteError(w, http.StatusRequestedRangeNotSatisfiable, "invalid_range", "Range is not satisfiable")
			return
		}
		HandleError(w, err)
		return
	}
	defer func() { _ = stream.Content.Close() }()

	realEnd := start + stream.Length - 1
	w.Header().Set("Content-Type", stream.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(stream.Length, 10))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, realEnd, stream.TotalBytes))
	w.Header().Set("Last-Modified", stream.LastModified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusPartialContent)

	_, _ = io.Copy(w, stream.Content)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectParams(r)
	version := r.URL.Query().Get("version")

	if err := h.service.DeleteFile(r.Context(), bucket, key, version); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListResponse is the body of GET /b/{bucket}.
type ListResponse struct {
	Items []carton.ObjectRecord `json:"items"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := h.service.ListObjects(r.Context(), chi.URLParam(r, "bucket"))
	if err != nil {
		HandleError(w, err)
		return
	}
	if recs == nil {
		recs = []carton.ObjectRecord{}
	}

	_ = WriteJSON(w, http.StatusOK, ListResponse{Items: recs})
}

// InitiateRequest is the body of POST /mpu.
type InitiateRequest struct {
	Bucket        string `json:"bucket"`
	Key           string `json:"key"`
	ContentType   string `json:"content_type,omitempty"`
	FinalChecksum string `json:"final_checksum,omitempty"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_argument", "Invalid JSON body")
		return
	}

	upload, err := h.service.InitiateMultipartUpload(r.Context(),
		req.Bucket, req.Key, r.Header.Get(HeaderOwnerID), req.ContentType, req.FinalChecksum)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusCreated, upload)
}

// ChunkResponse is returned for each accepted chunk.
type ChunkResponse struct {
	UploadID string `json:"upload_id"`
	Index    int    `json:"index"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_argument", "Chunk index must be an integer")
		return
	}

	rec, err := h.service.UploadChunk(r.Context(), uploadID, index, h.body(r, w), r.Header.Get(HeaderChunkChecksum))
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, ChunkResponse{
		UploadID: uploadID,
		Index:    rec.Index,
		Size:     rec.Size,
		Checksum: rec.Checksum,
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	obj, err := h.service.CompleteMultipartUpload(r.Context(), uploadID)
	if err != nil {
		if !errors.Is(err, carton.ErrMetadataUnavailable) || obj.Version == "" {
			HandleError(w, err)
			return
		}
	}

	_ = WriteJSON(w, http.StatusOK, obj)
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadID")

	if err := h.service.AbortMultipartUpload(r.Context(), uploadID); err != nil {
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PresignRequest is the body of POST /presign.
type PresignRequest struct {
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	Version    string `json:"version,omitempty"`
	Operation  string `json:"operation"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func (h *Handler) handlePresign(w http.ResponseWriter, r *http.Request) {
	var req PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_argument", "Invalid JSON body")
		return
	}

	op, err := carton.ParseOperation(req.Operation)
	if err != nil {
		HandleError(w, err)
		return
	}

	signed, err := h.service.GeneratePreSignedURL(req.Bucket, req.Key, req.Version, op, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, signed)
}

// handlePresigned serves direct access through a capability token. The token
// must verify, must grant the operation the URL path names, and the HTTP
// method must agree with that operation.
func (h *Handler) handlePresigned(w http.ResponseWriter, r *http.Request) {
	bucket, key := objectParams(r)

	op, err := carton.ParseOperation(chi.URLParam(r, "op"))
	if err != nil {
		HandleError(w, err)
		return
	}

	claims, err := h.service.ValidatePreSignedToken(r.URL.Query().Get(carton.TokenParam), bucket, key)
	if err != nil {
		HandleError(w, err)
		return
	}
	if claims.Operation != op || methodForOperation(op) != r.Method {
		WriteError(w, http.StatusForbidden, "unauthorized", "Token does not grant this operation")
		return
	}

	switch op {
	case carton.OpDownload:
		rangeHeader := r.Header.Get("Range")
		if rangeHeader != "" {
			h.serveRange(w, r, bucket, key, claims.Version, rangeHeader)
			return
		}
		stream, err := h.service.RetrieveFileStream(r.Context(), bucket, key, claims.Version)
		if err != nil {
			HandleError(w, err)
			return
		}
		defer func() { _ = stream.Content.Close() }()

		w.Header().Set("Content-Type", stream.ContentType)
		w.Header().Set("Content-Length", strconv.FormatInt(stream.Length, 10))
		w.Header().Set(HeaderChecksum, stream.Checksum)
		w.Header().Set("Last-Modified", stream.LastModified.UTC().Format(http.TimeFormat))
		_, _ = io.Copy(w, stream.Content)

	case carton.OpUpload:
		obj, err := h.service.StoreFile(r.Context(), "presigned", bucket, key,
			h.body(r, w), r.Header.Get("Content-Type"), r.Header.Get(HeaderExpectedChecksum))
		if err != nil && (!errors.Is(err, carton.ErrMetadataUnavailable) || obj.Version == "") {
			HandleError(w, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, obj)

	case carton.OpDelete:
		if err := h.service.DeleteFile(r.Context(), bucket, key, claims.Version); err != nil {
			HandleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func methodForOperation(op carton.Operation) string {
	switch op {
	case carton.OpUpload:
		return http.MethodPut
	case carton.OpDelete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

// parseRangeHeader parses a single "bytes=a-b" or "bytes=a-" range. Suffix
// ranges ("bytes=-n") and multi-range requests are not supported.
func parseRangeHeader(header string) (start, end int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, 0, fmt.Errorf("unsupported range unit")
	}

	startStr, endStr, found := strings.Cut(spec, "-")
	if !found || startStr == "" {
		return 0, 0, fmt.Errorf("unsupported range format")
	}

	start, err = strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, fmt.Errorf("invalid range start")
	}

	if endStr == "" {
		return start, int64(1)<<62 - 1, nil
	}

	end, err = strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("invalid range end")
	}

	return start, end, nil
}
