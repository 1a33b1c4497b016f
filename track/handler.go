// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Handler serves the diagnostics API over the ledger:
//
//	GET /v1/operations            all operations
//	GET /v1/operations?subject=s  operations for one subject
//	GET /v1/operations?limit=n    the n most recent operations
//	GET /v1/operations/{id}       one operation with its steps
//
// Read-only; intended for a diagnostics panel, not for callers on the
// critical path.
func Handler(tracker *Tracker) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/v1/operations", listOperations(tracker)).Methods(http.MethodGet)
	router.HandleFunc("/v1/operations/{id}", getOperation(tracker)).Methods(http.MethodGet)
	return router
}

type operationsResponse struct {
	Operations []Operation `json:"operations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func listOperations(tracker *Tracker) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		query := request.URL.Query()

		if subject := query.Get("subject"); subject != "" {
			writeJSON(writer, http.StatusOK, operationsResponse{Operations: tracker.BySubject(subject)})
			return
		}

		if raw := query.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 {
				writeJSON(writer, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
				return
			}
			writeJSON(writer, http.StatusOK, operationsResponse{Operations: tracker.Recent(limit)})
			return
		}

		writeJSON(writer, http.StatusOK, operationsResponse{Operations: tracker.All()})
	}
}

func getOperation(tracker *Tracker) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		id := OperationID(mux.Vars(request)["id"])
		operation, ok := tracker.Get(id)
		if !ok {
			writeJSON(writer, http.StatusNotFound, errorResponse{Error: "operation not found"})
			return
		}
		writeJSON(writer, http.StatusOK, operation)
	}
}

func writeJSON(writer http.ResponseWriter, status int, value any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(value)
}
