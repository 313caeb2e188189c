package sdk

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

const (
	testUserFingerprint   = "USERFP0123456789"
	testServerFingerprint = "SERVERFP9876543210"
	testPassphrase        = "correct horse"
	testSessionID         = "sess-42"
	testCSRF              = "csrf-cookie-token"
	testTokenCSRF         = "csrf-token-session"
	testUserID            = "d57c10f5-639d-5160-9c81-8a0c6c4ec856"
)

// fakeKey is a key identified only by its fingerprint.
type fakeKey struct{ fp string }

func (k fakeKey) Fingerprint() string { return k.fp }

// fakeCrypto produces deterministic "armored" messages that carry the recipient
// and signer fingerprints in clear, so tests can check who a message was
// encrypted to and signed by.
type fakeCrypto struct {
	passphrase string
	encryptErr error
}

func newFakeCrypto() *fakeCrypto {
	return &fakeCrypto{passphrase: testPassphrase}
}

func (c *fakeCrypto) ReadPrivateKey(armored []byte, passphrase []byte) (PrivateKey, error) {
	if string(passphrase) != c.passphrase {
		return nil, errors.New("wrong passphrase")
	}
	fp := strings.TrimSpace(string(armored))
	if fp == "" {
		return nil, errors.New("empty key")
	}
	return fakeKey{fp: fp}, nil
}

func (c *fakeCrypto) ReadPublicKey(armored string) (PublicKey, error) {
	if armored == "" {
		return nil, errors.New("empty key")
	}
	return fakeKey{fp: armored}, nil
}

func (c *fakeCrypto) Encrypt(plaintext []byte, recipient PublicKey, signer PrivateKey) (string, error) {
	if c.encryptErr != nil {
		return "", c.encryptErr
	}
	signerFP := "-"
	if signer != nil {
		signerFP = signer.Fingerprint()
	}
	return strings.Join([]string{
		"-----BEGIN PGP MESSAGE-----",
		recipient.Fingerprint(),
		signerFP,
		base64.StdEncoding.EncodeToString(plaintext),
		"-----END PGP MESSAGE-----",
	}, "\n"), nil
}

func (c *fakeCrypto) Decrypt(armored string, key PrivateKey, verifier PublicKey) ([]byte, error) {
	lines := strings.Split(armored, "\n")
	if len(lines) != 5 || lines[0] != "-----BEGIN PGP MESSAGE-----" || lines[4] != "-----END PGP MESSAGE-----" {
		return nil, fmt.Errorf("malformed message %q", armored)
	}
	if lines[1] != key.Fingerprint() {
		return nil, fmt.Errorf("message encrypted to %s, not %s", lines[1], key.Fingerprint())
	}
	if verifier != nil && lines[2] != verifier.Fingerprint() {
		return nil, fmt.Errorf("message signed by %s, want %s", lines[2], verifier.Fingerprint())
	}
	return base64.StdEncoding.DecodeString(lines[3])
}

// fakeKeys is a KeySource returning a fixed key or error.
type fakeKeys struct {
	key   PrivateKey
	err   error
	calls int
}

func (k *fakeKeys) Load(context.Context) (PrivateKey, error) {
	k.calls++
	return k.key, k.err
}

func userKeys() *fakeKeys {
	return &fakeKeys{key: fakeKey{fp: testUserFingerprint}}
}

// routerClient serves requests in-process through an http.Handler.
type routerClient struct {
	handler http.Handler

	mu       sync.Mutex
	requests []*Request
	failPath map[string]error
}

func (c *routerClient) Do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	failure := c.failPath[req.Method+" "+req.Path]
	c.mu.Unlock()
	if failure != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, failure)
	}

	target := req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq := httptest.NewRequest(req.Method, target, body).WithContext(ctx)
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, httpReq)
	result := rec.Result()
	defer result.Body.Close()
	data, _ := io.ReadAll(result.Body)
	return &Response{StatusCode: result.StatusCode, Header: result.Header, Body: data}, nil
}

// count returns how many requests matched method and path.
func (c *routerClient) count(method, path string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, r := range c.requests {
		if r.Method == method && r.Path == path {
			n++
		}
	}
	return n
}

type shareCall struct {
	Kind        string
	ID          string
	Permissions []permissionRemoval
}

// fakePassbolt is an in-memory server speaking the GPGAuth, JWT and resource
// endpoints. The defaults set by newFakePassbolt give a cooperating server.
type fakePassbolt struct {
	t      *testing.T
	crypto *fakeCrypto

	userToken string

	// GPGAuth knobs.
	verifyEcho        func(token string) string
	progress          string
	authenticated     string
	omitSessionCookie bool
	omitCSRFCookie    bool

	// JWT knobs.
	loginStatus     int
	accessToken     string
	refreshToken    string
	tamperVerify    bool
	mfaStatus       int
	totp            string
	refreshStatus   int
	refreshAccess   string
	refreshRefresh  string
	logoutStatus    int
	lastRefreshBody map[string]string

	// Resource graph.
	folders         []Folder
	resources       []Resource
	permissions     map[string][]Permission
	users           []User
	permissionFail  map[string]bool
	listFail        map[string]bool
	simulateFail    map[string]bool
	updateFail      map[string]bool
	simulations     []shareCall
	updates         []shareCall
	userLookups     int
	lastFolderQuery url.Values
}

func newFakePassbolt(t *testing.T) *fakePassbolt {
	t.Helper()
	return &fakePassbolt{
		t:              t,
		crypto:         newFakeCrypto(),
		userToken:      "gpgauthv1.3.0|36|5b6f6d0c-3a4b-4a8a-9d49-0a8e4c5f8f01|gpgauthv1.3.0",
		verifyEcho:     func(token string) string { return token },
		progress:       "complete",
		authenticated:  "true",
		loginStatus:    http.StatusOK,
		accessToken:    "access-1",
		refreshToken:   "refresh-1",
		mfaStatus:      http.StatusBadRequest,
		totp:           "123456",
		refreshStatus:  http.StatusOK,
		refreshAccess:  "access-2",
		refreshRefresh: "refresh-2",
		logoutStatus:   http.StatusOK,
		permissions:    map[string][]Permission{},
		permissionFail: map[string]bool{},
		listFail:       map[string]bool{},
		simulateFail:   map[string]bool{},
		updateFail:     map[string]bool{},
	}
}

func (f *fakePassbolt) client() *routerClient {
	return &routerClient{handler: f.router(), failPath: map[string]error{}}
}

func (f *fakePassbolt) router() http.Handler {
	r := chi.NewRouter()

	r.Get("/auth/verify.json", f.serverKey)
	r.Post("/auth/verify.json", f.verify)
	r.Post("/auth/login.json", f.login)
	r.Get("/auth/logout.json", f.logout)
	r.Get("/", f.home)

	r.Post("/auth/jwt/login.json", f.jwtLogin)
	r.Post("/auth/jwt/refresh.json", f.jwtRefresh)
	r.Post("/auth/jwt/logout.json", f.logout)
	r.Get("/users/csrf-token.json", f.tokenCSRF)
	r.Get("/mfa/verify/{file}", f.mfaCheck)
	r.Post("/mfa/verify/totp.json", f.mfaVerify)

	r.Group(func(r chi.Router) {
		r.Use(f.requireAuth)
		r.Get("/folders.json", f.listFolders)
		r.Get("/resources.json", f.listResources)
		r.Get("/users.json", f.listUsers)
		r.Post("/share/simulate/{kind}/{file}", f.simulate)
		r.Put("/share/{kind}/{file}", f.update)
	})
	return r
}

func writeEnvelope(w http.ResponseWriter, status int, message string, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	state := "success"
	if status >= 300 {
		state = "error"
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"header": map[string]any{"status": state, "message": message, "code": status},
		"body":   body,
	})
}

func (f *fakePassbolt) serverKey(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, http.StatusOK, "", ServerKey{Fingerprint: testServerFingerprint, KeyData: testServerFingerprint})
}

func (f *fakePassbolt) verify(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	token, err := f.crypto.Decrypt(r.PostForm.Get(formServerVerifyToken), fakeKey{fp: testServerFingerprint}, nil)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	w.Header().Set(headerVerifyResponse, f.verifyEcho(string(token)))
	writeEnvelope(w, http.StatusOK, "", nil)
}

func (f *fakePassbolt) login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if r.PostForm.Get(formKeyID) != testUserFingerprint {
		writeEnvelope(w, http.StatusForbidden, "unknown key", nil)
		return
	}

	result, responding := r.PostForm[formUserTokenResult]
	if !responding {
		encrypted, err := f.crypto.Encrypt([]byte(f.userToken), fakeKey{fp: testUserFingerprint}, nil)
		if err != nil {
			writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
			return
		}
		w.Header().Set(headerUserAuthToken, url.QueryEscape(encrypted))
		w.Header().Set(headerProgress, "stage1")
		writeEnvelope(w, http.StatusOK, "", nil)
		return
	}

	if len(result) != 1 || result[0] != f.userToken {
		w.Header().Set(headerAuthenticated, "false")
		writeEnvelope(w, http.StatusForbidden, "wrong user token", nil)
		return
	}
	w.Header().Set(headerProgress, f.progress)
	w.Header().Set(headerAuthenticated, f.authenticated)
	if !f.omitSessionCookie {
		http.SetCookie(w, &http.Cookie{Name: SessionCookieName, Value: testSessionID, Path: "/", HttpOnly: true})
	}
	writeEnvelope(w, http.StatusOK, "", nil)
}

func (f *fakePassbolt) home(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(SessionCookieName)
	if err == nil && c.Value == testSessionID && !f.omitCSRFCookie {
		http.SetCookie(w, &http.Cookie{Name: CSRFCookieName, Value: testCSRF, Path: "/"})
	}
	w.WriteHeader(http.StatusOK)
}

func (f *fakePassbolt) logout(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, f.logoutStatus, "", nil)
}

func (f *fakePassbolt) jwtLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID    string `json:"user_id"`
		Challenge string `json:"challenge"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if f.loginStatus != http.StatusOK {
		writeEnvelope(w, f.loginStatus, "The authentication failed.", nil)
		return
	}

	plain, err := f.crypto.Decrypt(in.Challenge, fakeKey{fp: testServerFingerprint}, fakeKey{fp: testUserFingerprint})
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var challenge Challenge
	if err := json.Unmarshal(plain, &challenge); err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	reply := map[string]any{
		"version":      challenge.Version,
		"domain":       challenge.Domain,
		"verify_token": challenge.VerifyToken,
	}
	if f.tamperVerify {
		reply["verify_token"] = "00000000-0000-4000-8000-000000000000"
	}
	if f.accessToken != "" {
		reply["access_token"] = f.accessToken
	}
	if f.refreshToken != "" {
		reply["refresh_token"] = f.refreshToken
	}
	payload, _ := json.Marshal(reply)
	encrypted, err := f.crypto.Encrypt(payload, fakeKey{fp: testUserFingerprint}, fakeKey{fp: testServerFingerprint})
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "", map[string]string{"challenge": encrypted})
}

func (f *fakePassbolt) jwtRefresh(w http.ResponseWriter, r *http.Request) {
	var in map[string]string
	_ = json.NewDecoder(r.Body).Decode(&in)
	f.lastRefreshBody = in
	if f.refreshStatus != http.StatusOK {
		writeEnvelope(w, f.refreshStatus, "refresh token invalid", nil)
		return
	}
	body := map[string]string{}
	if f.refreshAccess != "" {
		body["access_token"] = f.refreshAccess
	}
	if f.refreshRefresh != "" {
		body["refresh_token"] = f.refreshRefresh
	}
	writeEnvelope(w, http.StatusOK, "", body)
}

func (f *fakePassbolt) tokenCSRF(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeEnvelope(w, http.StatusUnauthorized, "missing bearer", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "", testTokenCSRF)
}

func (f *fakePassbolt) mfaCheck(w http.ResponseWriter, _ *http.Request) {
	writeEnvelope(w, f.mfaStatus, "", map[string]any{"providers": []string{MFAProviderTOTP}})
}

func (f *fakePassbolt) mfaVerify(w http.ResponseWriter, r *http.Request) {
	var in map[string]string
	_ = json.NewDecoder(r.Body).Decode(&in)
	if in["totp"] != f.totp {
		writeEnvelope(w, http.StatusBadRequest, "The OTP is not valid.", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "", nil)
}

func (f *fakePassbolt) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "" {
			if auth != "Bearer "+f.accessToken && auth != "Bearer "+f.refreshAccess {
				writeEnvelope(w, http.StatusUnauthorized, "bad token", nil)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		c, err := r.Cookie(SessionCookieName)
		if err != nil || c.Value != testSessionID || r.Header.Get("X-CSRF-Token") != testCSRF {
			writeEnvelope(w, http.StatusForbidden, "missing session or csrf", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *fakePassbolt) listFolders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if ids := q["filter[has-id][]"]; len(ids) > 0 {
		f.lastFolderQuery = q
		id := ids[0]
		if f.permissionFail[id] {
			writeEnvelope(w, http.StatusInternalServerError, "permissions unavailable", nil)
			return
		}
		for _, folder := range f.folders {
			if folder.ID == id {
				folder.Permissions = f.permissions[id]
				writeEnvelope(w, http.StatusOK, "", []Folder{folder})
				return
			}
		}
		writeEnvelope(w, http.StatusOK, "", []Folder{})
		return
	}
	writeEnvelope(w, http.StatusOK, "", f.folders)
}

func (f *fakePassbolt) listResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if ids := q["filter[has-folder-id][]"]; len(ids) > 0 {
		if f.listFail[ids[0]] {
			writeEnvelope(w, http.StatusInternalServerError, "listing unavailable", nil)
			return
		}
		// The listing is not trusted to stop at direct children; return the
		// whole subtree the way a recursive filter would.
		writeEnvelope(w, http.StatusOK, "", f.subtreeResources(ids[0]))
		return
	}
	if ids := q["filter[has-id][]"]; len(ids) > 0 {
		id := ids[0]
		if f.permissionFail[id] {
			writeEnvelope(w, http.StatusInternalServerError, "permissions unavailable", nil)
			return
		}
		for _, res := range f.resources {
			if res.ID == id {
				res.Permissions = f.permissions[id]
				writeEnvelope(w, http.StatusOK, "", []Resource{res})
				return
			}
		}
		writeEnvelope(w, http.StatusOK, "", []Resource{})
		return
	}
	writeEnvelope(w, http.StatusOK, "", f.resources)
}

func (f *fakePassbolt) subtreeResources(folderID string) []Resource {
	inSubtree := map[string]bool{folderID: true}
	for changed := true; changed; {
		changed = false
		for _, folder := range f.folders {
			if inSubtree[folder.FolderParentID] && !inSubtree[folder.ID] {
				inSubtree[folder.ID] = true
				changed = true
			}
		}
	}
	var out []Resource
	for _, res := range f.resources {
		if inSubtree[res.FolderParentID] {
			out = append(out, res)
		}
	}
	return out
}

func (f *fakePassbolt) listUsers(w http.ResponseWriter, r *http.Request) {
	f.userLookups++
	if ids := r.URL.Query()["filter[has-id][]"]; len(ids) > 0 {
		for _, u := range f.users {
			if u.ID == ids[0] {
				writeEnvelope(w, http.StatusOK, "", []User{u})
				return
			}
		}
		writeEnvelope(w, http.StatusOK, "", []User{})
		return
	}
	writeEnvelope(w, http.StatusOK, "", f.users)
}

func (f *fakePassbolt) decodeShare(r *http.Request) (shareCall, error) {
	var payload sharePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return shareCall{}, err
	}
	return shareCall{
		Kind:        chi.URLParam(r, "kind"),
		ID:          strings.TrimSuffix(chi.URLParam(r, "file"), ".json"),
		Permissions: payload.Permissions,
	}, nil
}

func (f *fakePassbolt) simulate(w http.ResponseWriter, r *http.Request) {
	call, err := f.decodeShare(r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	f.simulations = append(f.simulations, call)
	if f.simulateFail[call.ID] {
		writeEnvelope(w, http.StatusBadRequest, "The resource must have at least one owner.", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "", map[string]any{"changes": map[string]any{}})
}

func (f *fakePassbolt) update(w http.ResponseWriter, r *http.Request) {
	call, err := f.decodeShare(r)
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if f.updateFail[call.ID] {
		writeEnvelope(w, http.StatusInternalServerError, "update failed", nil)
		return
	}
	f.updates = append(f.updates, call)
	writeEnvelope(w, http.StatusOK, "The operation was successful.", nil)
}

// updatedIDs returns the ids of committed share updates in order.
func (f *fakePassbolt) updatedIDs() []string {
	ids := make([]string, 0, len(f.updates))
	for _, u := range f.updates {
		ids = append(ids, u.ID)
	}
	return ids
}

// cookieSession returns an authenticated cookie session served by client.
func cookieSession(client HTTPClient) *Session {
	auth := &GPGAuthenticator{client: client, logger: newOptions(nil).Logger}
	return newCookieSession(testSessionID, auth.fetchCSRF)
}

func groupPermission(id, aco, acoID, groupID, groupName string) Permission {
	return Permission{
		ID:            id,
		ACO:           aco,
		ARO:           "Group",
		ACOForeignKey: acoID,
		AROForeignKey: groupID,
		Type:          PermissionUpdate,
		Group:         &Group{ID: groupID, Name: groupName},
	}
}

func userPermission(id, aco, acoID, userID, username string) Permission {
	return Permission{
		ID:            id,
		ACO:           aco,
		ARO:           "User",
		ACOForeignKey: acoID,
		AROForeignKey: userID,
		Type:          PermissionOwner,
		User:          &User{ID: userID, Username: username},
	}
}
