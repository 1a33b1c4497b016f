// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package track

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerList(t *testing.T) {
	tracker, _ := newTestTracker()
	id := tracker.Start("token_exchange", "exchange", "alice", "origin")
	tracker.Complete(id, true, nil)

	server := httptest.NewServer(Handler(tracker))
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/v1/operations")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", response.StatusCode)
	}

	var body operationsResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Operations) != 1 || body.Operations[0].Subject != "alice" {
		t.Errorf("operations = %+v", body.Operations)
	}
}

func TestHandlerSubjectFilter(t *testing.T) {
	tracker, _ := newTestTracker()
	tracker.Complete(tracker.Start("a", "", "alice", "origin"), true, nil)
	tracker.Complete(tracker.Start("b", "", "bob", "host"), true, nil)

	server := httptest.NewServer(Handler(tracker))
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/v1/operations?subject=bob")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer response.Body.Close()

	var body operationsResponse
	if err := json.NewDecoder(response.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Operations) != 1 || body.Operations[0].Subject != "bob" {
		t.Errorf("operations = %+v", body.Operations)
	}
}

func TestHandlerGetByID(t *testing.T) {
	tracker, _ := newTestTracker()
	id := tracker.Start("token_exchange", "exchange", "alice", "origin")
	tracker.AddStep(id, "resolve_realm", "", true, nil, nil)
	tracker.Complete(id, true, nil)

	server := httptest.NewServer(Handler(tracker))
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/v1/operations/" + string(id))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer response.Body.Close()

	var operation Operation
	if err := json.NewDecoder(response.Body).Decode(&operation); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if operation.ID != id || len(operation.Steps) != 1 {
		t.Errorf("operation = %+v", operation)
	}
}

func TestHandlerNotFound(t *testing.T) {
	tracker, _ := newTestTracker()
	server := httptest.NewServer(Handler(tracker))
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/v1/operations/missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", response.StatusCode)
	}
}

func TestHandlerBadLimit(t *testing.T) {
	tracker, _ := newTestTracker()
	server := httptest.NewServer(Handler(tracker))
	t.Cleanup(server.Close)

	response, err := http.Get(server.URL + "/v1/operations?limit=nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", response.StatusCode)
	}
}
