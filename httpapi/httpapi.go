// Package httpapi exposes the ingestion and probe endpoints:
// POST /gtfs_rt, POST /ire, and per-contributor probes.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"github.com/hove-io/kirin-go/catalog"
	"github.com/hove-io/kirin-go/config"
	"github.com/hove-io/kirin-go/cots"
	"github.com/hove-io/kirin-go/gtfsrt"
	"github.com/hove-io/kirin-go/kirinerr"
	"github.com/hove-io/kirin-go/merge"
	"github.com/hove-io/kirin-go/model"
	"github.com/hove-io/kirin-go/probe"
	"github.com/hove-io/kirin-go/storage"
	"github.com/hove-io/kirin-go/telemetry"
)

// decodeErrorMessage is the receipt error recorded for an empty or
// undecodable intake body.
const decodeErrorMessage = "Decode Error"

// errorReceiptWindow is the default deduplication window: a repeat of
// the same KO payload within it updates the existing receipt instead of
// inserting a new one.
const errorReceiptWindow = 5 * time.Second

// Handler wires one contributor's intake endpoints together.
type Handler struct {
	Contributor model.Contributor
	Config      config.ContributorConfig
	Catalog     catalog.Client
	Merge       *merge.Handler
	Storage     storage.Storage
	Log         telemetry.Logger
}

// Router builds a gorilla/mux router exposing this contributor's
// endpoints.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/gtfs_rt", h.ServeGTFSRT).Methods(http.MethodPost)
	r.HandleFunc("/ire", h.ServeIRE).Methods(http.MethodPost)
	r.HandleFunc("/status/{contributor}", h.ServeProbe).Methods(http.MethodGet)
	return r
}

// ServeGTFSRT implements POST /gtfs_rt.
func (h *Handler) ServeGTFSRT(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) == 0 {
		h.rejectDecodeError(w, r, raw)
		return
	}

	feed := &gtfsproto.FeedMessage{}
	if err := proto.Unmarshal(raw, feed); err != nil {
		h.rejectDecodeError(w, r, raw)
		return
	}

	ru := model.NewRealTimeUpdate(raw, model.ConnectorGTFSRT, h.Contributor.ID)
	if err := h.Storage.SaveRealTimeUpdate(r.Context(), ru); err != nil {
		h.Log.Error("persisting real time update failed", err, "contributor", h.Contributor.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	candidates, err := gtfsrt.Build(r.Context(), feed, h.Contributor, h.Config, h.Catalog, h.Log)
	if err != nil {
		h.failReceipt(r, ru, err.Error(), true)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if len(candidates) == 0 {
		h.failReceipt(r, ru, gtfsrt.NoInformationError(feed.GetHeader().GetTimestamp()), true)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.Merge.Handle(r.Context(), ru, h.Contributor, candidates); err != nil {
		h.Log.Error("merge handling failed", err, "contributor", h.Contributor.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	telemetry.RecordCall(h.Log, string(ru.Status), h.Contributor.ID, "connector", string(ru.Connector))
	w.WriteHeader(http.StatusOK)
}

// ServeIRE implements POST /ire (the COTS endpoint).
func (h *Handler) ServeIRE(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil || len(raw) == 0 {
		h.rejectDecodeError(w, r, raw)
		return
	}

	ru := model.NewRealTimeUpdate(raw, model.ConnectorCOTS, h.Contributor.ID)
	if err := h.Storage.SaveRealTimeUpdate(r.Context(), ru); err != nil {
		h.Log.Error("persisting real time update failed", err, "contributor", h.Contributor.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	candidates, err := cots.Build(r.Context(), raw, h.Contributor, h.Config, h.Catalog, h.Log)
	if err != nil {
		h.failReceipt(r, ru, err.Error(), true)
		status := http.StatusBadRequest
		var kerr *kirinerr.Error
		if errors.As(err, &kerr) {
			status = kerr.Kind.HTTPStatus()
		}
		http.Error(w, err.Error(), status)
		return
	}

	if err := h.Merge.Handle(r.Context(), ru, h.Contributor, candidates); err != nil {
		h.Log.Error("merge handling failed", err, "contributor", h.Contributor.ID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	telemetry.RecordCall(h.Log, string(ru.Status), h.Contributor.ID, "connector", string(ru.Connector))
	w.WriteHeader(http.StatusOK)
}

// ServeProbe implements the per-contributor probe endpoint.
func (h *Handler) ServeProbe(w http.ResponseWriter, r *http.Request) {
	contributor := mux.Vars(r)["contributor"]

	report, err := probe.Check(r.Context(), h.Storage, contributor)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// rejectDecodeError persists a KO RealTimeUpdate for an empty or
// undecodable payload and responds 400.
func (h *Handler) rejectDecodeError(w http.ResponseWriter, r *http.Request, raw []byte) {
	ru := model.NewRealTimeUpdate(raw, model.ConnectorGTFSRT, h.Contributor.ID)
	h.failReceipt(r, ru, decodeErrorMessage, false)
	http.Error(w, decodeErrorMessage, http.StatusBadRequest)
}

// failReceipt marks ru KO with message, deduplicating against a recent
// identical error receipt instead of inserting a fresh row.
// alreadySaved tells it whether ru itself has
// already been persisted (so a non-dedup outcome updates it rather
// than inserting it again).
func (h *Handler) failReceipt(r *http.Request, ru *model.RealTimeUpdate, message string, alreadySaved bool) {
	telemetry.RecordCall(h.Log, "failure", h.Contributor.ID, "error", message)

	now := time.Now().UTC()

	if existing, err := h.Storage.FindRecentErrorReceipt(r.Context(), h.Contributor.ID, message, now, errorReceiptWindow); err == nil {
		existing.Error = message
		existing.Status = model.RTStatusKO
		if err := h.Storage.UpdateRealTimeUpdate(r.Context(), existing); err != nil {
			h.Log.Error("updating deduplicated error receipt failed", err, "contributor", h.Contributor.ID)
		}
		return
	}

	ru.Status = model.RTStatusKO
	ru.Error = message

	if alreadySaved {
		if err := h.Storage.UpdateRealTimeUpdate(r.Context(), ru); err != nil {
			h.Log.Error("updating error receipt failed", err, "contributor", h.Contributor.ID)
		}
		return
	}
	if err := h.Storage.SaveRealTimeUpdate(r.Context(), ru); err != nil {
		h.Log.Error("persisting error receipt failed", err, "contributor", h.Contributor.ID)
	}
}
