// CineSort scheduling screen
//
// The operator logs in with the configured password and receives a signed,
// short-lived token in an HttpOnly cookie. Every /admin/api route checks it
// server side; there is no unauthenticated write path.

package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/Seednode/cinesort/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
)

const (
	adminCookieName = "cinesort_admin"
	adminIssuer     = "cinesort"
	adminAudience   = "cinesort-admin"

	maxJSONBody = 1 << 20

	maxLoginFailures = 3
	loginLockout     = 5 * time.Minute
)

var errUnauthorized = errors.New("admin login required")

type adminClaims struct {
	jwt.RegisteredClaims
}

// issueAdminToken signs a token naming the operator.
func issueAdminToken(cfg *Config, now time.Time) (string, time.Time, error) {
	expires := now.Add(cfg.adminTokenTTL)

	claims := adminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    adminIssuer,
			Subject:   cfg.adminUser,
			Audience:  jwt.ClaimStrings{adminAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.adminSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign admin token: %w", err)
	}

	return signed, expires, nil
}

// parseAdminToken validates token and returns the operator it names.
func parseAdminToken(cfg *Config, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errUnauthorized
	}

	var claims adminClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.adminSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(adminIssuer),
		jwt.WithAudience(adminAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", errUnauthorized)
	}

	return claims.Subject, nil
}

func adminToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if c, err := r.Cookie(adminCookieName); err == nil {
		return c.Value
	}
	return ""
}

type adminHandle func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, operator string)

func requireAdmin(cfg *Config, errs chan<- error, h adminHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		operator, err := parseAdminToken(cfg, adminToken(r))
		if err != nil {
			logf(cfg, "ADMIN: Rejected %s %s from %s: %v", r.Method, r.URL.Path, realIP(r), err)
			writeJSON(cfg, w, http.StatusUnauthorized, ErrorResponse{Error: errUnauthorized.Error()}, errs)

			return
		}

		h(w, r, ps, operator)
	}
}

type loginAttempts struct {
	failures    int
	lockedUntil time.Time
}

// loginLimiter locks an address out after repeated wrong passwords.
type loginLimiter struct {
	mu       sync.Mutex
	attempts map[string]*loginAttempts
	now      func() time.Time
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{
		attempts: make(map[string]*loginAttempts),
		now:      time.Now,
	}
}

// locked returns how long addr remains locked out, or zero.
func (l *loginLimiter) locked(addr string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[addr]
	if !ok || a.lockedUntil.IsZero() {
		return 0
	}

	left := a.lockedUntil.Sub(l.now())
	if left <= 0 {
		delete(l.attempts, addr)

		return 0
	}

	return left
}

// fail records a wrong password and reports whether addr is now locked out.
func (l *loginLimiter) fail(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.attempts[addr]
	if !ok {
		a = &loginAttempts{}
		l.attempts[addr] = a
	}

	a.failures++
	if a.failures >= maxLoginFailures {
		a.lockedUntil = l.now().Add(loginLockout)

		return true
	}

	return false
}

func (l *loginLimiter) succeed(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.attempts, addr)
}

// clientAddr is realIP without the port, so every connection from one host
// shares a login budget.
func clientAddr(r *http.Request) string {
	addr := realIP(r)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}

	return strings.Trim(addr, "[]")
}

func writeLockedOut(cfg *Config, w http.ResponseWriter, left time.Duration, errs chan<- error) {
	w.Header().Set("Retry-After", strconv.Itoa(int((left+time.Second-1)/time.Second)))
	writeJSON(cfg, w, http.StatusTooManyRequests, ErrorResponse{Error: "too many failed logins, try again later"}, errs)
}

type loginRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	Operator  string    `json:"operator"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

func serveLogin(cfg *Config, limiter *loginLimiter, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		addr := clientAddr(r)

		if left := limiter.locked(addr); left > 0 {
			logf(cfg, "ADMIN: Refused login from locked out %s", addr)
			writeLockedOut(cfg, w, left, errs)

			return
		}

		var req loginRequest
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
				writeJSON(cfg, w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"}, errs)
				return
			}
		} else {
			req.Password = r.PostFormValue("password")
		}

		if subtle.ConstantTimeCompare([]byte(req.Password), []byte(cfg.adminPassword)) != 1 {
			if limiter.fail(addr) {
				logf(cfg, "ADMIN: Locked out %s for %s after %d failed logins", addr, loginLockout, maxLoginFailures)
			} else {
				logf(cfg, "ADMIN: Failed login from %s", addr)
			}
			writeJSON(cfg, w, http.StatusUnauthorized, ErrorResponse{Error: "wrong password"}, errs)

			return
		}

		limiter.succeed(addr)

		token, expires, err := issueAdminToken(cfg, time.Now())
		if err != nil {
			errorf("%v", err)
			writeError(cfg, w, err, errs)

			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     adminCookieName,
			Value:    token,
			Path:     cfg.prefix + "/admin",
			Expires:  expires,
			HttpOnly: true,
			Secure:   cfg.scheme() == "https",
			SameSite: http.SameSiteStrictMode,
		})

		logf(cfg, "ADMIN: %s logged in from %s", cfg.adminUser, realIP(r))

		writeJSON(cfg, w, http.StatusOK, sessionResponse{Operator: cfg.adminUser, ExpiresAt: expires}, errs)
	}
}

func serveLogout(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		http.SetCookie(w, &http.Cookie{
			Name:     adminCookieName,
			Value:    "",
			Path:     cfg.prefix + "/admin",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cfg.scheme() == "https",
			SameSite: http.SameSiteStrictMode,
		})

		w.WriteHeader(http.StatusNoContent)
	}
}

func serveAdminPage(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		renderPage(cfg, w, "admin.html", errs)
	}
}

func serveSession(cfg *Config, errs chan<- error) adminHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, operator string) {
		writeJSON(cfg, w, http.StatusOK, sessionResponse{Operator: operator}, errs)
	}
}

func serveListPuzzles(cfg *Config, svc *Services, errs chan<- error) adminHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, _ string) {
		puzzles, err := svc.registry.ListUpcoming(r.Context(), r.URL.Query().Get("from"))
		if err != nil {
			writeError(cfg, w, err, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, puzzles, errs)
	}
}

// EditingResponse tells the editor whether a date is free or taken.
type EditingResponse struct {
	Mode     string         `json:"mode"` // "create" or "update"
	PuzzleID string         `json:"puzzle_id,omitempty"`
	Draft    cinesort.Draft `json:"draft"`
}

func editingResponse(e cinesort.Editing) EditingResponse {
	switch e := e.(type) {
	case cinesort.Update:
		return EditingResponse{Mode: "update", PuzzleID: e.PuzzleID, Draft: e.Draft()}
	default:
		return EditingResponse{Mode: "create", Draft: e.Draft()}
	}
}

func serveBegin(cfg *Config, svc *Services, errs chan<- error) adminHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, _ string) {
		e, err := svc.registry.Begin(r.Context(), ps.ByName("date"))
		if err != nil {
			writeError(cfg, w, err, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, editingResponse(e), errs)
	}
}

type createRequest struct {
	cinesort.Draft
	Replace bool `json:"replace"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		return &cinesort.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}

func serveCreatePuzzle(cfg *Config, svc *Services, errs chan<- error) adminHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, operator string) {
		var req createRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(cfg, w, err, errs)
			return
		}

		p, err := svc.registry.Save(r.Context(), cinesort.Create{Fields: req.Draft}, cinesort.CreateOptions{
			Replace:   req.Replace,
			CreatedBy: operator,
		})
		if err != nil {
			if !cinesort.IsConflict(err) && !cinesort.IsValidation(err) {
				errorf("failed to create puzzle: %v", err)
			}
			writeError(cfg, w, err, errs)
			return
		}

		logf(cfg, "ADMIN: %s scheduled %q for %s (replace=%t)", operator, p.Title, p.Date, req.Replace)

		writeJSON(cfg, w, http.StatusCreated, p, errs)
	}
}

func serveUpdatePuzzle(cfg *Config, svc *Services, errs chan<- error) adminHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, operator string) {
		var fields cinesort.PuzzleFields
		if err := decodeJSON(w, r, &fields); err != nil {
			writeError(cfg, w, err, errs)
			return
		}

		p, err := svc.registry.Update(r.Context(), ps.ByName("id"), fields)
		if err != nil {
			if !cinesort.IsValidation(err) && !errors.Is(err, cinesort.ErrNotFound) {
				errorf("failed to update puzzle %s: %v", ps.ByName("id"), err)
			}
			writeError(cfg, w, err, errs)
			return
		}

		logf(cfg, "ADMIN: %s updated %q (%s)", operator, p.Title, p.Date)

		writeJSON(cfg, w, http.StatusOK, p, errs)
	}
}

func serveDeletePuzzle(cfg *Config, svc *Services, errs chan<- error) adminHandle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params, operator string) {
		id := ps.ByName("id")

		if err := svc.registry.Delete(r.Context(), id); err != nil {
			if !errors.Is(err, cinesort.ErrNotFound) {
				errorf("%v", err)
			}
			writeError(cfg, w, err, errs)
			return
		}

		logf(cfg, "ADMIN: %s deleted puzzle %s", operator, id)

		w.WriteHeader(http.StatusNoContent)
	}
}

// UploadResponse holds the scenes created from an upload, in upload order.
type UploadResponse struct {
	Scenes []cinesort.Scene `json:"scenes"`
}

func multipartUploads(files []*multipart.FileHeader) []cinesort.Upload {
	uploads := make([]cinesort.Upload, len(files))
	for i, fh := range files {
		uploads[i] = cinesort.Upload{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		}
	}
	return uploads
}

func serveUploadImages(cfg *Config, svc *Services, errs chan<- error) adminHandle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params, operator string) {
		r.Body = http.MaxBytesReader(w, r.Body, cinesort.SceneCount*storage.MaxImageSize+maxJSONBody)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(cfg, w, &cinesort.ValidationError{Field: "images", Message: "invalid upload: " + err.Error()}, errs)
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		scenes, err := cinesort.UploadScenes(r.Context(), svc.images, multipartUploads(r.MultipartForm.File["images"]), cfg.uploadTimeout)
		if err != nil {
			if !cinesort.IsValidation(err) {
				errorf("upload by %s failed: %v", operator, err)
			}
			writeError(cfg, w, err, errs)
			return
		}

		logf(cfg, "ADMIN: %s uploaded %d images", operator, len(scenes))

		writeJSON(cfg, w, http.StatusCreated, UploadResponse{Scenes: scenes}, errs)
	}
}

// registerAdmin sets up the scheduling routes:
//   - /admin                      → scheduling page
//   - /admin/login, /admin/logout → admin session cookie
//   - /admin/api/...              → puzzle and image API
func registerAdmin(cfg *Config, svc *Services, mux *httprouter.Router, errs chan<- error) {
	base := cfg.prefix + "/admin"

	mux.GET(base, serveAdminPage(cfg, errs))

	mux.POST(base+"/login", serveLogin(cfg, newLoginLimiter(), errs))

	mux.POST(base+"/logout", serveLogout(cfg, errs))

	mux.GET(base+"/api/session", requireAdmin(cfg, errs, serveSession(cfg, errs)))

	mux.GET(base+"/api/puzzles", requireAdmin(cfg, errs, serveListPuzzles(cfg, svc, errs)))

	mux.POST(base+"/api/puzzles", requireAdmin(cfg, errs, serveCreatePuzzle(cfg, svc, errs)))

	mux.PATCH(base+"/api/puzzles/:id", requireAdmin(cfg, errs, serveUpdatePuzzle(cfg, svc, errs)))

	mux.DELETE(base+"/api/puzzles/:id", requireAdmin(cfg, errs, serveDeletePuzzle(cfg, svc, errs)))

	mux.GET(base+"/api/dates/:date", requireAdmin(cfg, errs, serveBegin(cfg, svc, errs)))

	mux.POST(base+"/api/images", requireAdmin(cfg, errs, serveUploadImages(cfg, svc, errs)))

	logf(cfg, "ADMIN: Scheduling screen enabled at %s", base)
}
