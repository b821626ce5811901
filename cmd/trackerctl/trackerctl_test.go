package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSplitGrant(t *testing.T) {
	tests := []struct {
		pair          string
		wantPrincipal string
		wantPerm      string
		wantOK        bool
	}{
		{"alice=OWNER", "alice", "OWNER", true},
		{"bob=VIEWER", "bob", "VIEWER", true},
		{"svc@corp=CONTRIBUTOR", "svc@corp", "CONTRIBUTOR", true},
		{"noequals", "", "", false},
		{"=OWNER", "", "", false},
		{"alice=", "", "", false},
	}
	for _, tc := range tests {
		principal, perm, ok := splitGrant(tc.pair)
		if ok != tc.wantOK || principal != tc.wantPrincipal || perm != tc.wantPerm {
			t.Errorf("splitGrant(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.pair, principal, perm, ok, tc.wantPrincipal, tc.wantPerm, tc.wantOK)
		}
	}
}

func TestClientSendsIdentityHeader(t *testing.T) {
	var gotUser string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-Remote-User")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	oldServer, oldUser := serverURL, userName
	serverURL, userName = srv.URL, "alice"
	defer func() { serverURL, userName = oldServer, oldUser }()

	client := newClient()
	var resp map[string]any
	if err := client.getJSON("/healthz", &resp); err != nil {
		t.Fatalf("getJSON: %v", err)
	}
	if gotUser != "alice" {
		t.Errorf("X-Remote-User = %q, want alice", gotUser)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
}

func TestClientNoContentResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	oldServer := serverURL
	serverURL = srv.URL
	defer func() { serverURL = oldServer }()

	client := newClient()
	if err := client.putJSON("/api/v1/projects/p/permissions", map[string]string{"bob": "VIEWER"}, nil); err != nil {
		t.Fatalf("putJSON: %v", err)
	}
}

func TestClientReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	oldServer := serverURL
	serverURL = srv.URL
	defer func() { serverURL = oldServer }()

	client := newClient()
	var resp map[string]any
	if err := client.getJSON("/api/v1/projects/missing", &resp); err == nil {
		t.Fatal("expected error for 404 response")
	}
}
