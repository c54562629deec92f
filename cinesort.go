// CineSort player transport
//
// Each browser is a device, identified by a long-lived cookie. A device plays
// at most one session per day; every tab it has open shares that session
// over its own websocket.
//
// Features:
// - Player page at /, websocket at /play/ws
// - Today's puzzle comes from the registry, falling back to the latest
//   puzzle and then to the built-in demo
// - Reorder, move, submit, reset and stats messages drive the session
// - Session state is broadcast to every tab of the device
// - Finished sessions are recorded in the device's stats exactly once
// - Share text and social links are sent when a session ends
// - Idle devices are reaped after a configurable timeout
// - QR code of the site URL at /qr, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Seednode/cinesort/games/cinesort"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type PlayMessage struct {
	Type  string   `json:"type"`            // "reorder", "move", "submit", "reset", "stats"
	Order []string `json:"order,omitempty"` // reorder
	From  *int     `json:"from,omitempty"`  // move
	To    *int     `json:"to,omitempty"`    // move
}

// SessionStateMessage carries a snapshot of the device's session.
type SessionStateMessage struct {
	Type   string          `json:"type"` // "session_state"
	Source cinesort.Source `json:"source"`
	State  cinesort.View   `json:"state"`
}

// StatsMessage carries the device's stats summary.
type StatsMessage struct {
	Type  string           `json:"type"` // "stats"
	Stats cinesort.Summary `json:"stats"`
}

// ShareMessage is sent once a session has ended.
type ShareMessage struct {
	Type  string              `json:"type"` // "share"
	Text  string              `json:"text"`
	Links cinesort.ShareLinks `json:"links"`
}

// ErrorMessage is sent only to the client whose action failed.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	deviceID string
	siteURL  string
}

// Device holds the live session and stats of one browser.
type Device struct {
	id      string
	clients map[*Client]bool

	session *cinesort.Session
	source  cinesort.Source
	day     string
	stats   *cinesort.Stats

	mu         sync.Mutex
	lastActive time.Time
	reaped     bool
}

func newDevice(id string, kv cinesort.KV) *Device {
	return &Device{
		id:         id,
		clients:    make(map[*Client]bool),
		stats:      cinesort.NewStats(kv, nil),
		lastActive: time.Now(),
	}
}

// sendLocked queues msg for c, dropping the client if it cannot keep up.
func (d *Device) sendLocked(c *Client, msg any) {
	if _, ok := d.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(d.clients, c)
		close(c.send)
	}
}

func (d *Device) broadcastLocked(msg any) {
	for c := range d.clients {
		d.sendLocked(c, msg)
	}
}

func (d *Device) stateLocked() SessionStateMessage {
	return SessionStateMessage{
		Type:   "session_state",
		Source: d.source,
		State:  d.session.View(),
	}
}

func (d *Device) shareLocked(c *Client, maxAttempts int) ShareMessage {
	result := d.session.Result()

	day := time.Now()
	if t, err := time.Parse(cinesort.DateLayout, result.Date); err == nil {
		day = t
	}

	text := cinesort.ShareText(result, maxAttempts, day, c.siteURL)

	return ShareMessage{
		Type:  "share",
		Text:  text,
		Links: cinesort.NewShareLinks(text, c.siteURL),
	}
}

func (d *Device) statsLocked(ctx context.Context) (StatsMessage, error) {
	sum, err := d.stats.Summarize(ctx)
	if err != nil {
		return StatsMessage{}, err
	}
	return StatsMessage{Type: "stats", Stats: sum}, nil
}

// loadLocked makes sure the device is playing today's puzzle. A session on
// a puzzle that was since replaced or deleted is kept until the day changes
// or the player reconnects.
func (d *Device) loadLocked(ctx context.Context, gm *SessionManager, reconnect bool) error {
	today := gm.registry.TodayDate()
	if d.session != nil && d.day == today && !reconnect {
		return nil
	}

	p, source, err := gm.registry.Today(ctx)
	if err != nil {
		return err
	}

	if d.session != nil && d.day == today && d.session.Puzzle().ID == p.ID {
		return nil
	}

	s, err := cinesort.NewSession(p,
		cinesort.WithMaxAttempts(gm.maxAttempts),
		cinesort.WithReporter(d.stats),
	)
	if err != nil {
		return err
	}

	d.session = s
	d.source = source
	d.day = today

	logf(gm.cfg, "GAMES: Device %s started %q (%s, %s)", shortID(d.id), p.Title, today, source)

	return nil
}

// attach registers c and sends it the current state. It returns false,
// leaving c unregistered, when d has already been reaped.
func (d *Device) attach(ctx context.Context, gm *SessionManager, c *Client) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.reaped {
		return false, nil
	}

	d.lastActive = time.Now()

	if err := d.loadLocked(ctx, gm, true); err != nil {
		return false, err
	}

	d.clients[c] = true
	d.sendLocked(c, d.stateLocked())

	if d.session.Outcome().Terminal() {
		d.sendLocked(c, d.shareLocked(c, gm.maxAttempts))
	}

	return true, nil
}

func (d *Device) detach(c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastActive = time.Now()

	if _, ok := d.clients[c]; ok {
		delete(d.clients, c)
		close(c.send)
	}
}

// handle applies one client message to the session.
func (d *Device) handle(ctx context.Context, gm *SessionManager, c *Client, msg PlayMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastActive = time.Now()

	if err := d.loadLocked(ctx, gm, false); err != nil {
		errorf("failed to load puzzle for device %s: %v", shortID(d.id), err)
		d.sendLocked(c, ErrorMessage{Type: "error", Message: "Today's puzzle is unavailable."})

		return
	}

	var err error
	switch msg.Type {
	case "reorder":
		err = d.session.Reorder(msg.Order)

	case "move":
		if msg.From == nil || msg.To == nil {
			err = &cinesort.ValidationError{Field: "move", Message: "from and to are required"}
			break
		}
		err = d.session.Move(*msg.From, *msg.To)

	case "reset":
		d.session.Reset()

	case "submit":
		before := d.session.Outcome()

		var v cinesort.View
		v, err = d.session.Submit(ctx)
		if err != nil && !errors.Is(err, cinesort.ErrSessionOver) {
			errorf("device %s: %v", shortID(d.id), err)
			err = nil
		}
		if err == nil {
			logf(gm.cfg, "GAMES: Device %s submitted attempt %d/%d on %q: %s",
				shortID(d.id), v.AttemptsUsed, v.MaxAttempts, v.Title, v.Outcome)
		}

		if err == nil && !before.Terminal() && v.Outcome.Terminal() {
			d.broadcastLocked(d.stateLocked())
			for client := range d.clients {
				d.sendLocked(client, d.shareLocked(client, gm.maxAttempts))
			}
			if stats, serr := d.statsLocked(ctx); serr == nil {
				d.broadcastLocked(stats)
			}

			return
		}

	case "stats":
		stats, serr := d.statsLocked(ctx)
		if serr != nil {
			errorf("failed to load stats for device %s: %v", shortID(d.id), serr)
			d.sendLocked(c, ErrorMessage{Type: "error", Message: "Stats are unavailable."})

			return
		}
		d.sendLocked(c, stats)

		return

	default:
		return
	}

	if err != nil {
		d.sendLocked(c, errorMessage(err))

		return
	}

	d.broadcastLocked(d.stateLocked())
}

func errorMessage(err error) ErrorMessage {
	var ve *cinesort.ValidationError
	if errors.As(err, &ve) {
		return ErrorMessage{Type: "error", Field: ve.Field, Message: ve.Message}
	}
	if errors.Is(err, cinesort.ErrSessionOver) {
		return ErrorMessage{Type: "error", Message: "This puzzle is finished. Come back tomorrow!"}
	}
	return ErrorMessage{Type: "error", Message: "Something went wrong."}
}

// closeAll disconnects all clients of this device (used by reaper).
func (d *Device) closeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for c := range d.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(d.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

const deviceCookieName = "cinesort_id"

func newDeviceID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		errorf("rand.Read error: %v", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

func deviceCookie(cfg *Config, id string) *http.Cookie {
	return &http.Cookie{
		Name:     deviceCookieName,
		Value:    id,
		Path:     cfg.prefix + "/",
		MaxAge:   400 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   cfg.scheme() == "https",
		SameSite: http.SameSiteLaxMode,
	}
}

func deviceID(r *http.Request) string {
	if c, err := r.Cookie(deviceCookieName); err == nil && validDeviceID(c.Value) {
		return c.Value
	}
	return ""
}

func validDeviceID(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

func getOrSetDeviceID(cfg *Config, w http.ResponseWriter, r *http.Request) string {
	if id := deviceID(r); id != "" {
		return id
	}

	id := newDeviceID()
	if id == "" {
		return ""
	}

	http.SetCookie(w, deviceCookie(cfg, id))

	return id
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// SessionManager holds the live devices, keyed by device id.
type SessionManager struct {
	cfg         *Config
	registry    *cinesort.Registry
	kv          func(deviceID string) cinesort.KV
	maxAttempts int

	mu          sync.Mutex
	devices     map[string]*Device
	idleTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

func newSessionManager(cfg *Config, registry *cinesort.Registry, kv func(string) cinesort.KV) *SessionManager {
	gm := &SessionManager{
		cfg:         cfg,
		registry:    registry,
		kv:          kv,
		maxAttempts: cfg.maxAttempts,
		devices:     make(map[string]*Device),
		idleTimeout: cfg.sessionTimeout,
		done:        make(chan struct{}),
	}
	if gm.maxAttempts < 1 {
		gm.maxAttempts = cinesort.MaxAttempts
	}
	if gm.idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *SessionManager) device(id string) *Device {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if d, ok := gm.devices[id]; ok {
		return d
	}

	d := newDevice(id, gm.kv(id))
	gm.devices[id] = d
	return d
}

// attach connects c to the live device for id. A device reaped between the
// lookup and the attach is replaced by a fresh one.
func (gm *SessionManager) attach(ctx context.Context, id string, c *Client) (*Device, error) {
	for {
		d := gm.device(id)

		ok, err := d.attach(ctx, gm, c)
		if err != nil {
			return nil, err
		}
		if ok {
			return d, nil
		}
	}
}

// Close stops the reaper and disconnects every client.
func (gm *SessionManager) Close() {
	gm.closeOnce.Do(func() {
		close(gm.done)

		gm.mu.Lock()
		defer gm.mu.Unlock()

		for id, d := range gm.devices {
			delete(gm.devices, id)
			d.closeAll()
		}
	})
}

// reaperLoop periodically removes devices that have been idle longer than
// idleTimeout and have no open connections.
func (gm *SessionManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-gm.done:
			return
		case <-ticker.C:
			gm.reap(time.Now().Add(-gm.idleTimeout))
		}
	}
}

func (gm *SessionManager) reap(cutoff time.Time) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	for id, d := range gm.devices {
		d.mu.Lock()
		idle := d.lastActive.Before(cutoff) && len(d.clients) == 0
		if idle {
			d.reaped = true
		}
		d.mu.Unlock()

		if idle {
			delete(gm.devices, id)
			logf(gm.cfg, "GAMES: Reaped idle device %s", shortID(id))
		}
	}
}

func serveWS(cfg *Config, gm *SessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := deviceID(r)

		var header http.Header
		if id == "" {
			id = newDeviceID()
			if id == "" {
				http.Error(w, "unable to assign device id", http.StatusInternalServerError)
				return
			}
			header = http.Header{"Set-Cookie": {deviceCookie(cfg, id).String()}}
		}

		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			errorf("upgrade error: %v", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			deviceID: id,
			siteURL:  siteURL(cfg, r),
		}

		d, err := gm.attach(r.Context(), id, client)
		if err != nil {
			errorf("failed to start session for device %s: %v", shortID(id), err)
			_ = conn.WriteJSON(ErrorMessage{Type: "error", Message: "Today's puzzle is unavailable."})
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump(r.Context(), gm, d)
	}
}

func (c *Client) readPump(ctx context.Context, gm *SessionManager, d *Device) {
	defer func() {
		d.detach(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)

	for {
		var msg PlayMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		d.handle(ctx, gm, c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func serveStats(cfg *Config, gm *SessionManager, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		id := deviceID(r)
		if id == "" {
			writeJSON(cfg, w, http.StatusOK, cinesort.Summary{History: []cinesort.HistoryEntry{}}, errs)
			return
		}

		sum, err := gm.device(id).stats.Summarize(r.Context())
		if err != nil {
			errorf("failed to load stats for device %s: %v", shortID(id), err)
			writeError(cfg, w, err, errs)
			return
		}

		writeJSON(cfg, w, http.StatusOK, sum, errs)
	}
}

// QR handler: generates a PNG QR code for the player page using go-qrcode.
func serveQR(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(siteURL(cfg, r)+"/", qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		securityHeaders(cfg, w)

		if _, err := w.Write(png); err != nil {
			errs <- err
		}
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any, errs chan<- error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		errs <- err
	}
}

func writeError(cfg *Config, w http.ResponseWriter, err error, errs chan<- error) {
	status, body := errorStatus(err)
	writeJSON(cfg, w, status, body, errs)
}

// registerCineSort sets up the player routes:
//   - /          → player page
//   - /play/ws   → websocket for the device's session
//   - /api/stats → the device's stats as JSON
//   - /qr        → PNG QR code of the player page
func registerCineSort(cfg *Config, svc *Services, mux *httprouter.Router, errs chan<- error) {
	svc.games = newSessionManager(cfg, svc.registry, func(id string) cinesort.KV {
		return svc.store.Device(id)
	})

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, errs))

	mux.GET(cfg.prefix+"/play/ws", serveWS(cfg, svc.games))

	mux.GET(cfg.prefix+"/api/stats", serveStats(cfg, svc.games, errs))

	mux.GET(cfg.prefix+"/qr", serveQR(cfg, errs))
}
