// Package httpapi exposes the node's REST surface. It is a thin shell: all
// semantics live in the services; this layer decodes requests, maps the error
// taxonomy onto status codes, and encodes responses.
package httpapi

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/feedmesh/cachenode/internal/app"
	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/domain/oraclestate"
	"github.com/feedmesh/cachenode/internal/app/metrics"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}

	r := mux.NewRouter()
	r.Handle("/data-packages/bulk",
		metrics.Middleware("/data-packages/bulk", http.HandlerFunc(h.submitBulk))).Methods(http.MethodPost)
	r.Handle("/data-packages/latest/{dataServiceId}",
		metrics.Middleware("/data-packages/latest", http.HandlerFunc(h.latest))).Methods(http.MethodGet)
	r.Handle("/data-packages/consensus/{dataServiceId}",
		metrics.Middleware("/data-packages/consensus", http.HandlerFunc(h.consensus))).Methods(http.MethodGet)
	r.Handle("/data-packages/stats",
		metrics.Middleware("/data-packages/stats", http.HandlerFunc(h.stats))).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	return r
}

type dataPointPayload struct {
	DataFeedID string  `json:"dataFeedId"`
	Value      float64 `json:"value"`
}

type packagePayload struct {
	DataPoints            []dataPointPayload `json:"dataPoints"`
	TimestampMilliseconds int64              `json:"timestampMilliseconds"`
	Signature             string             `json:"signature"`
}

type bulkPayload struct {
	DataPackages     []packagePayload `json:"dataPackages"`
	RequestSignature string           `json:"requestSignature"`
}

func (h *handler) submitBulk(w http.ResponseWriter, r *http.Request) {
	var payload bulkPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	batch, err := payload.toBatch()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := h.app.Ingest.SubmitBatch(r.Context(), batch)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (p bulkPayload) toBatch() (datapackage.SignedBatch, error) {
	requestSig, err := decodeHex(p.RequestSignature)
	if err != nil {
		return datapackage.SignedBatch{}, fmt.Errorf("requestSignature: %w", err)
	}
	batch := datapackage.SignedBatch{RequestSignature: requestSig}
	for i, pkg := range p.DataPackages {
		sig, err := decodeHex(pkg.Signature)
		if err != nil {
			return datapackage.SignedBatch{}, fmt.Errorf("package %d signature: %w", i, err)
		}
		points := make([]datapackage.DataPoint, len(pkg.DataPoints))
		for j, dp := range pkg.DataPoints {
			points[j] = datapackage.DataPoint{DataFeedID: dp.DataFeedID, Value: dp.Value}
		}
		batch.Packages = append(batch.Packages, datapackage.ReceivedPackage{
			DataPoints:            points,
			TimestampMilliseconds: pkg.TimestampMilliseconds,
			Signature:             sig,
		})
	}
	return batch, nil
}

func (h *handler) latest(w http.ResponseWriter, r *http.Request) {
	dataServiceID := mux.Vars(r)["dataServiceId"]

	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ts <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("timestamp must be a positive millisecond value"))
			return
		}
		resp, err := h.app.Query.DataPackagesAt(r.Context(), dataServiceID, ts)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp, err := h.app.Query.LatestDataPackages(r.Context(), dataServiceID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) consensus(w http.ResponseWriter, r *http.Request) {
	dataServiceID := mux.Vars(r)["dataServiceId"]

	resp, err := h.app.Query.ConsensusDataPackages(r.Context(), dataServiceID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	from, err := queryInt(r, "fromTimestamp")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := queryInt(r, "toTimestamp")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	stats, err := h.app.Query.Stats(r.Context(), h.app.Registry.Current(), from, to)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Packages.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("store unreachable: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, datapackage.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, datapackage.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, oraclestate.ErrUnknownSigner):
		return http.StatusForbidden
	case errors.Is(err, datapackage.ErrEmptyResponse):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer millisecond value", name)
	}
	return v, nil
}

func decodeHex(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("hex value is required")
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return raw, nil
}

func decodeJSON(body io.Reader, dst interface{}) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
