//go:build unix

package e2e

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const (
	fakeAppToken     = "e2e-app-token"
	fakeChallenge    = "e2e-challenge"
	fakeSessionToken = "e2e-session"
)

// fakeFreebox is an in-process stand-in for the device management API.
type fakeFreebox struct {
	mu      sync.Mutex
	leases  []map[string]any
	redirs  []map[string]any
	logins  int
	logouts int

	srv    *httptest.Server
	caFile string
}

func newFakeFreebox(t *testing.T) *fakeFreebox {
	t.Helper()
	fb := &fakeFreebox{}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api_version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"device_name":  "Freebox Server",
			"api_version":  "8.0",
			"api_base_url": "/api/",
		})
	})
	mux.HandleFunc("GET /api/v8/login/", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"logged_in": false, "challenge": fakeChallenge})
	})
	mux.HandleFunc("POST /api/v8/login/session/", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AppID    string `json:"app_id"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != expectedPassword() {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"success":    false,
				"msg":        "Erreur d'authentification de l'application",
				"error_code": "invalid_token",
			})
			return
		}
		fb.mu.Lock()
		fb.logins++
		fb.mu.Unlock()
		ok(w, map[string]any{
			"session_token": fakeSessionToken,
			"permissions":   map[string]bool{"settings": true},
		})
	})
	mux.HandleFunc("POST /api/v8/login/logout/", fb.authenticated(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.logouts++
		fb.mu.Unlock()
		ok(w, nil)
	}))
	mux.HandleFunc("GET /api/v8/dhcp/static_lease/", fb.authenticated(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		ok(w, fb.leases)
	}))
	mux.HandleFunc("POST /api/v8/dhcp/static_lease/", fb.authenticated(func(w http.ResponseWriter, r *http.Request) {
		fb.create(w, r, &fb.leases)
	}))
	mux.HandleFunc("GET /api/v8/fw/redir/", fb.authenticated(func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		ok(w, fb.redirs)
	}))
	mux.HandleFunc("POST /api/v8/fw/redir/", fb.authenticated(func(w http.ResponseWriter, r *http.Request) {
		fb.create(w, r, &fb.redirs)
	}))

	fb.srv = httptest.NewTLSServer(mux)
	t.Cleanup(fb.srv.Close)

	fb.caFile = filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: fb.srv.Certificate().Raw})
	if err := os.WriteFile(fb.caFile, block, 0644); err != nil {
		t.Fatalf("failed to write CA file: %v", err)
	}
	return fb
}

func (fb *fakeFreebox) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Fbx-App-Auth") != fakeSessionToken {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"success":    false,
				"msg":        "Vous devez vous connecter pour accéder à cette fonction",
				"error_code": "auth_required",
			})
			return
		}
		next(w, r)
	}
}

func (fb *fakeFreebox) create(w http.ResponseWriter, r *http.Request, into *[]map[string]any) {
	var record map[string]any
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "msg": err.Error(), "error_code": "invalid_request"})
		return
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	record["id"] = len(*into) + 1
	*into = append(*into, record)
	ok(w, record)
}

func (fb *fakeFreebox) counts() (leases, redirs, logins, logouts int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.leases), len(fb.redirs), fb.logins, fb.logouts
}

// url returns the value for freebox.url / --freebox-url.
func (fb *fakeFreebox) url() string {
	return fb.srv.URL
}

func expectedPassword() string {
	mac := hmac.New(sha1.New, []byte(fakeAppToken))
	mac.Write([]byte(fakeChallenge))
	return hex.EncodeToString(mac.Sum(nil))
}

func ok(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
