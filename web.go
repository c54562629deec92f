package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/Seednode/cinesort/storage"
	"github.com/julienschmidt/httprouter"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

// Services are the long-lived dependencies shared by all handlers.
type Services struct {
	store    *storage.Store
	images   *storage.Images
	registry *cinesort.Registry
	games    *SessionManager
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

// siteURL is the public address of the player page, as configured or as
// seen by the request.
func siteURL(cfg *Config, r *http.Request) string {
	if cfg.siteURL != "" {
		return strings.TrimSuffix(cfg.siteURL, "/")
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("cinesort v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		logf(cfg, "SERVE: Version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

// newServices opens the stores named by cfg.
func newServices(cfg *Config) (*Services, error) {
	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	store, err := storage.Open(cfg.db)
	if err != nil {
		return nil, err
	}

	images, err := storage.NewImages(cfg.images, cfg.prefix+"/images")
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	demo, err := cinesort.DemoPuzzle()
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	demo.Scenes = prefixScenes(cfg.prefix, demo.Scenes)

	return &Services{
		store:    store,
		images:   images,
		registry: cinesort.NewRegistry(store, cinesort.WithDemo(demo)),
	}, nil
}

func prefixScenes(prefix string, scenes []cinesort.Scene) []cinesort.Scene {
	out := make([]cinesort.Scene, len(scenes))
	for i, s := range scenes {
		if strings.HasPrefix(s.URL, "/") {
			s.URL = prefix + s.URL
		}
		out[i] = s
	}
	return out
}

func (s *Services) Close() error {
	if s.games != nil {
		s.games.Close()
	}
	return s.store.Close()
}

// newRouter registers every route on a new router. svc.Close stops the
// session reaper it starts.
func newRouter(cfg *Config, svc *Services, errs chan<- error) *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		errorf("panic serving %s: %v", r.URL.Path, i)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, errs))

	mux.GET(cfg.prefix+"/favicons/*favicon", serveFavicons(cfg, errs))

	mux.GET(cfg.prefix+"/favicon.svg", serveFavicons(cfg, errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, svc, errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, errs))

	mux.ServeFiles(cfg.prefix+"/images/*filepath", http.Dir(svc.images.Dir()))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	registerCineSort(cfg, svc, mux, errs)

	if cfg.adminEnabled() {
		registerAdmin(cfg, svc, mux, errs)
	}

	return mux
}

func ServePage(ctx context.Context, cfg *Config, args []string) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	logf(cfg, "START: cinesort v%s", releaseVersion)

	svc, err := newServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	errs := make(chan error, 64)
	go drainErrors(errs)

	mux := newRouter(cfg, svc, errs)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       max(timeout, cinesort.SceneCount*cfg.uploadTimeout),
		ReadHeaderTimeout: timeout,
		WriteTimeout:      max(timeout, cinesort.SceneCount*cfg.uploadTimeout),
	}

	if !cfg.adminEnabled() {
		logf(cfg, "ADMIN: No --admin-password set, scheduling screen disabled")
	}

	serveErr := make(chan error, 1)
	go func() {
		var err error
		logf(cfg, "SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
