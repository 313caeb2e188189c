// Package fakeserver serves an in-memory folder and resource graph over the
// same JSON API as a Passbolt server, for command tests.
package fakeserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/qntoni/passboltctl/pkg/sdk"
)

// Bearer tokens accepted by the server.
const (
	AccessToken  = "access-token"
	RefreshToken = "refresh-token"
	CSRFToken    = "csrf-token"
)

// ShareCall records one share request.
type ShareCall struct {
	Simulate bool
	Kind     string
	ID       string
	Removed  []string
}

// Server is a chi-backed fake. Exported fields may be edited before the first
// request.
type Server struct {
	*httptest.Server

	Folders   []sdk.Folder
	Resources []sdk.Resource
	Users     []sdk.User

	// RejectShare lists entity ids whose share requests fail with HTTP 400.
	RejectShare map[string]bool
	// LogoutStatus is returned by the logout endpoint, 200 when zero.
	LogoutStatus int

	mu         sync.Mutex
	access     string
	refresh    string
	shareCalls []ShareCall
	loggedOut  bool
	refreshes  int
}

// New starts a server. Call Close when done.
func New() *Server {
	s := &Server{
		RejectShare: map[string]bool{},
		access:      AccessToken,
		refresh:     RefreshToken,
	}

	r := chi.NewRouter()
	r.Post("/auth/jwt/refresh.json", s.handleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/users/csrf-token.json", func(w http.ResponseWriter, _ *http.Request) {
			writeBody(w, http.StatusOK, CSRFToken)
		})
		r.Get("/folders.json", s.handleFolders)
		r.Get("/resources.json", s.handleResources)
		r.Get("/users.json", s.handleUsers)
		r.Post("/share/simulate/{kind}/{file}", s.handleShare(true))
		r.Put("/share/{kind}/{file}", s.handleShare(false))
		r.Post("/auth/jwt/logout.json", s.handleLogout)
	})

	s.Server = httptest.NewServer(r)
	return s
}

// ShareCalls returns the share requests received so far.
func (s *Server) ShareCalls() []ShareCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ShareCall(nil), s.shareCalls...)
}

// LoggedOut reports whether a logout succeeded.
func (s *Server) LoggedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedOut
}

// Refreshes returns the number of successful token refreshes.
func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		want := "Bearer " + s.access
		loggedOut := s.loggedOut
		s.mu.Unlock()
		if loggedOut || r.Header.Get("Authorization") != want {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if body.RefreshToken != s.refresh {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	s.refreshes++
	s.access = AccessToken + "-" + strconv.Itoa(s.refreshes)
	s.refresh = RefreshToken + "-" + strconv.Itoa(s.refreshes)
	writeBody(w, http.StatusOK, map[string]string{"access_token": s.access, "refresh_token": s.refresh})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LogoutStatus != 0 && s.LogoutStatus != http.StatusOK {
		writeError(w, s.LogoutStatus, "logout refused")
		return
	}
	s.loggedOut = true
	writeBody(w, http.StatusOK, nil)
}

func (s *Server) handleFolders(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["filter[has-id][]"]
	withPerms := r.URL.Query().Get("contain[permission]") == "1"

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sdk.Folder{}
	for _, f := range s.Folders {
		if len(ids) > 0 && !contains(ids, f.ID) {
			continue
		}
		if !withPerms {
			f.Permissions = nil
		}
		out = append(out, f)
	}
	writeBody(w, http.StatusOK, out)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ids := q["filter[has-id][]"]
	folders := q["filter[has-folder-id][]"]
	withPerms := q.Get("contain[permission]") == "1"

	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sdk.Resource{}
	for _, res := range s.Resources {
		if len(ids) > 0 && !contains(ids, res.ID) {
			continue
		}
		if len(folders) > 0 && !contains(folders, res.FolderParentID) {
			continue
		}
		if !withPerms {
			res.Permissions = nil
		}
		out = append(out, res)
	}
	writeBody(w, http.StatusOK, out)
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["filter[has-id][]"]
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sdk.User{}
	for _, u := range s.Users {
		if len(ids) > 0 && !contains(ids, u.ID) {
			continue
		}
		out = append(out, u)
	}
	writeBody(w, http.StatusOK, out)
}

func (s *Server) handleShare(simulate bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(chi.URLParam(r, "file"), ".json")
		var body struct {
			Permissions []struct {
				ID     string `json:"id"`
				Delete bool   `json:"delete"`
			} `json:"permissions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}

		call := ShareCall{Simulate: simulate, Kind: chi.URLParam(r, "kind"), ID: id}
		for _, p := range body.Permissions {
			if p.Delete {
				call.Removed = append(call.Removed, p.ID)
			}
		}
		s.mu.Lock()
		s.shareCalls = append(s.shareCalls, call)
		rejected := s.RejectShare[id]
		s.mu.Unlock()

		if rejected {
			writeError(w, http.StatusBadRequest, "share rejected")
			return
		}
		if !simulate {
			s.removePermissions(id, call.Removed)
		}
		writeBody(w, http.StatusOK, nil)
	}
}

func (s *Server) removePermissions(id string, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Folders {
		if s.Folders[i].ID == id {
			s.Folders[i].Permissions = without(s.Folders[i].Permissions, removed)
		}
	}
	for i := range s.Resources {
		if s.Resources[i].ID == id {
			s.Resources[i].Permissions = without(s.Resources[i].Permissions, removed)
		}
	}
}

func without(perms []sdk.Permission, removed []string) []sdk.Permission {
	var out []sdk.Permission
	for _, p := range perms {
		if !contains(removed, p.ID) {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func writeBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"header": map[string]any{"status": "success", "code": status},
		"body":   body,
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"header": map[string]any{"status": "error", "code": status, "message": msg},
		"body":   nil,
	})
}
