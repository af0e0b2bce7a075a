package router

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/carina-health/upsrs/dicom"
	"github.com/carina-health/upsrs/store"
)

var (
	errFilterRequired  = errors.New("a filtered subscription requires a filter parameter")
	errFilterMalformed = errors.New("filter must be key=value pairs separated by commas")
)

func errFilterUnknownKey(key string) error {
	return fmt.Errorf("unknown filter key %s", key)
}

// ---- subscription handlers ----

func subscribe(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.PathValue("target")
		aet := r.PathValue("aet")
		params := r.URL.Query()

		deletionLock := params.Get("deletionlock") == "true"

		var filter dicom.Dataset
		if target == store.FilteredSubscriptionUID {
			parsed, err := parseFilter(params.Get("filter"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			filter = parsed
		}

		sub := &store.Subscription{
			TargetUID:    target,
			AETitle:      aet,
			DeletionLock: deletionLock,
			Filter:       filter,
		}
		if _, err := d.Subscriptions.Create(sub); err != nil {
			writeServiceError(w, d, err)
			return
		}

		w.Header().Set("Content-Location", pushChannelURL(r, d.Config.Get().ExternalPrefix, aet))
		w.Header().Set("Content-Type", dicomJSON)
		w.WriteHeader(http.StatusCreated)
	}
}

func unsubscribe(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		removed, err := d.Subscriptions.Delete(r.PathValue("target"), r.PathValue("aet"))
		if err != nil {
			writeServiceError(w, d, err)
			return
		}
		if !removed {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		w.Header().Set("Content-Type", dicomJSON)
		w.WriteHeader(http.StatusOK)
	}
}

func suspendSubscription(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		suspended, err := d.Subscriptions.Suspend(r.PathValue("target"), r.PathValue("aet"))
		if err != nil {
			writeServiceError(w, d, err)
			return
		}
		if !suspended {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		w.Header().Set("Content-Type", dicomJSON)
		w.WriteHeader(http.StatusOK)
	}
}

// parseFilter turns the "key=value,key=value" filter parameter into a query
// record. Keys are keywords or 8-hex-digit tag codes.
func parseFilter(raw string) (dicom.Dataset, error) {
	if raw == "" {
		return nil, errFilterRequired
	}
	query := dicom.Dataset{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, errFilterMalformed
		}
		tag, ok := dicom.ResolveQueryKey(key)
		if !ok {
			return nil, errFilterUnknownKey(key)
		}
		query[tag] = dicom.Element{VR: dicom.TagVR(tag), Value: []any{value}}
	}
	return query, nil
}
