// Package router registers all HTTP endpoints using vanilla net/http
// (Go 1.22+ mux) and translates protocol requests into service calls.
package router

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carina-health/upsrs/config"
	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/metrics"
	"github.com/carina-health/upsrs/notify"
	"github.com/carina-health/upsrs/service"
	"github.com/carina-health/upsrs/store"
)

const dicomJSON = "application/dicom+json"

// Deps holds all dependencies for the router.
type Deps struct {
	WorkItems     *service.WorkItemService
	Subscriptions *service.SubscriptionService
	Conns         *notify.ConnectionManager
	Items         store.WorkItemStore
	Config        *config.Global
	Log           zerolog.Logger
}

// New builds and returns the application HTTP handler.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	// ---- work items ----
	mux.HandleFunc("POST /workitems", createWorkItem(d))
	mux.HandleFunc("GET /workitems", searchWorkItems(d))
	mux.HandleFunc("GET /workitems/{uid}", getWorkItem(d))
	mux.HandleFunc("PUT /workitems/{uid}", updateWorkItem(d))
	mux.HandleFunc("PUT /workitems/{uid}/state", changeWorkItemState(d))
	mux.HandleFunc("POST /workitems/{uid}/cancelrequest", requestCancel(d))

	// ---- subscriptions ----
	mux.HandleFunc("POST /workitems/{target}/subscribers/{aet}", subscribe(d))
	mux.HandleFunc("DELETE /workitems/{target}/subscribers/{aet}", unsubscribe(d))
	mux.HandleFunc("POST /workitems/{target}/subscribers/{aet}/suspend", suspendSubscription(d))

	// ---- push channel ----
	mux.HandleFunc("GET /ws/subscribers/{aet}", openPushChannel(d))

	// ---- system ----
	mux.HandleFunc("GET /healthz", health(d))
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", dicomJSON)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// warningValue renders one Warning header entry from the fixed vocabulary.
func warningValue(d Deps, text string) string {
	return "299 " + d.Config.Get().ServiceName + ": " + text
}

// writeServiceError maps a service error onto its status code and appends
// the Warning headers it carries.
func writeServiceError(w http.ResponseWriter, d Deps, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		d.Log.Error().Err(err).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	for _, warn := range se.Warnings {
		w.Header().Add("Warning", warningValue(d, warn))
	}
	writeError(w, statusForKind(se.Kind), se.Message)
}

func statusForKind(k service.Kind) int {
	switch k {
	case service.KindValidation, service.KindPrecondition:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindConflict:
		return http.StatusConflict
	case service.KindGone:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func readRecord(r *http.Request) (dicom.Dataset, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	return dicom.Parse(body)
}

// responseRecord strips service-internal fields from a work item for the
// wire: the transaction UID never leaves the server.
func responseRecord(w *store.WorkItem) dicom.Dataset {
	ds := w.DS.Copy()
	delete(ds, dicom.TagTransactionUID)
	return ds
}

// ---- work item handlers ----

func createWorkItem(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := readRecord(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid DICOM JSON body: "+err.Error())
			return
		}
		created, err := d.WorkItems.Create(ds)
		if err != nil {
			writeServiceError(w, d, err)
			return
		}
		writeJSON(w, http.StatusCreated, dicom.Dataset{
			dicom.TagSOPInstanceUID: {VR: "UI", Value: []any{created.UID}},
		})
	}
}

func getWorkItem(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := d.WorkItems.Get(r.PathValue("uid"))
		if err != nil {
			writeServiceError(w, d, err)
			return
		}
		// Single retrieves are returned as a one-element record array, the
		// shape clients consume for every read.
		writeJSON(w, http.StatusOK, []dicom.Dataset{responseRecord(item)})
	}
}

func searchWorkItems(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()

		// Single-item lookup shortcut.
		if uid := params.Get("workitem"); uid != "" {
			item, err := d.WorkItems.Get(uid)
			if err != nil {
				writeServiceError(w, d, err)
				return
			}
			writeJSON(w, http.StatusOK, []dicom.Dataset{responseRecord(item)})
			return
		}

		includeFields := store.IncludeAll
		if vs := params["includefield"]; len(vs) > 0 {
			includeFields = nil
			for _, v := range vs {
				for _, f := range strings.Split(v, ",") {
					if f = strings.TrimSpace(f); f != "" {
						includeFields = append(includeFields, f)
					}
				}
			}
		}

		offset, err := intParam(params.Get("offset"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		limit, err := intParam(params.Get("limit"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}

		if fuzzy := params.Get("fuzzymatching"); fuzzy == "true" {
			// Fuzzy semantics are not implemented; the query proceeds with
			// literal matching.
			w.Header().Add("Warning", warningValue(d, "fuzzymatching is not supported, using literal matching"))
		}

		query := dicom.Dataset{}
		for key, vs := range params {
			switch key {
			case "workitem", "includefield", "fuzzymatching", "offset", "limit":
				continue
			}
			tag, ok := dicom.ResolveQueryKey(key)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown matching key "+key)
				return
			}
			if len(vs) > 0 {
				query[tag] = dicom.Element{VR: dicom.TagVR(tag), Value: []any{vs[0]}}
			}
		}

		items, err := d.WorkItems.List(query, includeFields, offset, limit)
		if err != nil {
			writeServiceError(w, d, err)
			return
		}
		if len(items) == 0 {
			writeError(w, http.StatusNotFound, "no matching workitems")
			return
		}
		records := make([]dicom.Dataset, 0, len(items))
		for _, item := range items {
			records = append(records, responseRecord(item))
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func updateWorkItem(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := readRecord(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid DICOM JSON body: "+err.Error())
			return
		}
		uid := r.PathValue("uid")
		txn := r.URL.Query().Get("transaction-uid")

		_, warnings, err := d.WorkItems.Update(uid, ds, txn)
		for _, warn := range warnings {
			w.Header().Add("Warning", warningValue(d, warn))
		}
		if err != nil {
			writeServiceError(w, d, err)
			return
		}
		w.Header().Set("Content-Type", dicomJSON)
		w.WriteHeader(http.StatusOK)
	}
}

func changeWorkItemState(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := readRecord(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid DICOM JSON body: "+err.Error())
			return
		}
		uid := r.PathValue("uid")
		newState := ds.GetString(dicom.TagProcedureStepState)
		txn := ds.GetString(dicom.TagTransactionUID)

		if _, err := d.WorkItems.ChangeState(uid, newState, txn); err != nil {
			writeServiceError(w, d, err)
			return
		}
		w.Header().Set("Content-Type", dicomJSON)
		w.WriteHeader(http.StatusOK)
	}
}

func requestCancel(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds := dicom.Dataset{}
		if r.ContentLength != 0 {
			parsed, err := readRecord(r)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid DICOM JSON body: "+err.Error())
				return
			}
			ds = parsed
		}
		if err := d.WorkItems.Cancel(r.PathValue("uid"), ds); err != nil {
			writeServiceError(w, d, err)
			return
		}
		w.Header().Set("Content-Type", dicomJSON)
		w.WriteHeader(http.StatusAccepted)
	}
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("invalid integer parameter")
	}
	return n, nil
}

// ---- system ----

func health(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, _ := d.Items.ListAll()
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "ok",
			"workitems": len(items),
			"channels":  d.Conns.OpenChannels(),
		})
	}
}
