/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

const maxPayloadBytes = 1 << 20 // 1 MiB

// Scheduler is the subset of the Update Scheduler the receiver drives.
type Scheduler interface {
	ScheduleImmediateUpdate(isManual bool)
}

// Receiver handles POST /api/v1/webhook/github: a manual trigger bypasses
// signature verification entirely; a push event is HMAC-verified and
// filtered to the configured repository and branch.
type Receiver struct {
	Scheduler  Scheduler
	HMACSecret string
	Repository string // owner/repo
	Branch     string
	Log        logr.Logger

	// Outcomes is optional; when set, every request increments it by
	// outcome label (metrics.Metrics.WebhookRequests).
	Outcomes *prometheus.CounterVec
}

func (rv *Receiver) count(outcome string) {
	if rv.Outcomes != nil {
		rv.Outcomes.WithLabelValues(outcome).Inc()
	}
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// HandleGitHub implements the C10 contract.
func (rv *Receiver) HandleGitHub(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-manual-trigger") == "true" {
		rv.count("manual")
		rv.Scheduler.ScheduleImmediateUpdate(true)
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		rv.count("bad_request")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// HMAC validated before any payload inspection.
	if rv.HMACSecret != "" {
		if err := ValidateHMAC(body, r.Header.Get("x-hub-signature-256"), rv.HMACSecret); err != nil {
			rv.count("bad_signature")
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
	}

	if r.Header.Get("x-github-event") == "ping" {
		rv.count("ping")
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		rv.count("malformed")
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	if !strings.EqualFold(payload.Repository.FullName, rv.Repository) {
		rv.count("wrong_repository")
		writeIgnored(w, "different repository")
		return
	}
	expectedRef := "refs/heads/" + rv.Branch
	if payload.Ref != expectedRef {
		rv.count("wrong_branch")
		writeIgnored(w, "different branch")
		return
	}

	rv.count("accepted")
	rv.Scheduler.ScheduleImmediateUpdate(false)
	w.WriteHeader(http.StatusOK)
}

// writeIgnored writes the JSON envelope for a push event that was read
// successfully but doesn't target this deployment's repository/branch.
func writeIgnored(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}{Status: "ignored", Reason: reason})
}
