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
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
)

type fakeScheduler struct {
	calls      int
	lastManual bool
}

func (f *fakeScheduler) ScheduleImmediateUpdate(isManual bool) {
	f.calls++
	f.lastManual = isManual
}

func newTestReceiver(hmacSecret string) (*Receiver, *fakeScheduler) {
	sched := &fakeScheduler{}
	rv := &Receiver{
		Scheduler:  sched,
		HMACSecret: hmacSecret,
		Repository: "example/repo",
		Branch:     "main",
		Log:        logr.Discard(),
	}
	return rv, sched
}

func pushBody(fullName, ref string) []byte {
	return []byte(`{"ref":"` + ref + `","repository":{"full_name":"` + fullName + `"}}`)
}

func TestHandleGitHub_ManualTriggerBypassesSignature(t *testing.T) {
	rv, sched := newTestReceiver("secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(nil))
	req.Header.Set("x-manual-trigger", "true")
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if sched.calls != 1 || !sched.lastManual {
		t.Fatalf("expected one manual scheduleImmediateUpdate call, got calls=%d manual=%v", sched.calls, sched.lastManual)
	}
}

func TestHandleGitHub_RejectsBadSignature(t *testing.T) {
	rv, sched := newTestReceiver("secret")

	body := pushBody("example/repo", "refs/heads/main")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-hub-signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if sched.calls != 0 {
		t.Fatalf("expected no scheduler calls, got %d", sched.calls)
	}
}

func TestHandleGitHub_SkipsSignatureWhenNoSecretConfigured(t *testing.T) {
	rv, sched := newTestReceiver("")

	body := pushBody("example/repo", "refs/heads/main")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if sched.calls != 1 || sched.lastManual {
		t.Fatalf("expected one non-manual scheduleImmediateUpdate call, got calls=%d manual=%v", sched.calls, sched.lastManual)
	}
}

func TestHandleGitHub_PingEventIsNoOp(t *testing.T) {
	rv, sched := newTestReceiver("")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("x-github-event", "ping")
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if sched.calls != 0 {
		t.Fatalf("expected no scheduler calls for ping, got %d", sched.calls)
	}
}

func TestHandleGitHub_RejectsDifferentRepository(t *testing.T) {
	rv, sched := newTestReceiver("")

	body := pushBody("other/repo", "refs/heads/main")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if sched.calls != 0 {
		t.Fatalf("expected no scheduler calls, got %d", sched.calls)
	}
	assertIgnoredBody(t, w, "different repository")
}

func TestHandleGitHub_RejectsDifferentBranch(t *testing.T) {
	rv, sched := newTestReceiver("")

	body := pushBody("example/repo", "refs/heads/develop")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if sched.calls != 0 {
		t.Fatalf("expected no scheduler calls, got %d", sched.calls)
	}
	assertIgnoredBody(t, w, "different branch")
}

func assertIgnoredBody(t *testing.T, w *httptest.ResponseRecorder, reason string) {
	t.Helper()
	var got struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v (body=%q)", err, w.Body.String())
	}
	if got.Status != "ignored" || got.Reason != reason {
		t.Fatalf("expected {ignored, %q}, got %+v", reason, got)
	}
}

func TestHandleGitHub_AcceptsValidSignature(t *testing.T) {
	rv, sched := newTestReceiver(testHMACSecret)

	body := pushBody("example/repo", "refs/heads/main")
	sig := computeHMAC(body, testHMACSecret)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader(body))
	req.Header.Set("x-hub-signature-256", sig)
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if sched.calls != 1 || sched.lastManual {
		t.Fatalf("expected one non-manual scheduleImmediateUpdate call, got calls=%d manual=%v", sched.calls, sched.lastManual)
	}
}

func TestHandleGitHub_MalformedBody(t *testing.T) {
	rv, sched := newTestReceiver("")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/github", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	rv.HandleGitHub(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if sched.calls != 0 {
		t.Fatalf("expected no scheduler calls, got %d", sched.calls)
	}
}
