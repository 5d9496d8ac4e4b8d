package miner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/driftwatch/driftwatch/internal/auth"
	"github.com/driftwatch/driftwatch/internal/clientinfo"
	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/gql"
	"github.com/driftwatch/driftwatch/internal/netutil"
	"github.com/driftwatch/driftwatch/internal/pubsub"
	"github.com/driftwatch/driftwatch/internal/twitch"
)

const (
	testClientID = "miner-test-client"
	testUserID   = int64(9001)
)

// platformCampaign is one campaign the fake platform serves; the listing and
// detail views of the two campaign operations derive from the same fields.
type platformCampaign struct {
	id      string
	name    string
	game    map[string]any
	status  string
	startAt time.Time
	endAt   time.Time
	acl     []map[string]any
	drops   []map[string]any
}

// activeCampaignPayload returns a campaign running from an hour ago to
// twenty hours from now.
func activeCampaignPayload(id string, game map[string]any, drops ...map[string]any) *platformCampaign {
	now := time.Now()
	return &platformCampaign{
		id:      id,
		name:    "The " + id + " campaign",
		game:    game,
		status:  "ACTIVE",
		startAt: now.Add(-time.Hour),
		endAt:   now.Add(20 * time.Hour),
		drops:   drops,
	}
}

// listing is the campaign as the dashboard operation returns it.
func (c *platformCampaign) listing() map[string]any {
	return map[string]any{
		"id":      c.id,
		"name":    c.name,
		"game":    c.game,
		"status":  c.status,
		"startAt": c.startAt.Format(time.RFC3339),
		"endAt":   c.endAt.Format(time.RFC3339),
		"self":    map[string]any{"isAccountConnected": true},
	}
}

// detail is the campaign as the details operation returns it. Drops without
// their own window inherit the campaign's.
func (c *platformCampaign) detail() map[string]any {
	drops := make([]map[string]any, len(c.drops))
	for i, d := range c.drops {
		drop := maps.Clone(d)
		if _, ok := drop["startAt"]; !ok {
			drop["startAt"] = c.startAt.Format(time.RFC3339)
			drop["endAt"] = c.endAt.Format(time.RFC3339)
		}
		drops[i] = drop
	}
	d := c.listing()
	d["accountLinkURL"] = "https://game.example/link"
	d["timeBasedDrops"] = drops
	if len(c.acl) > 0 {
		d["allow"] = map[string]any{"channels": c.acl, "isEnabled": true}
	}
	return d
}

func gamePayload(id int64, name string) map[string]any {
	return map[string]any{"id": strconv.FormatInt(id, 10), "name": name}
}

func benefitPayload(id, name string) map[string]any {
	return map[string]any{"benefit": map[string]any{
		"id":               id,
		"name":             name,
		"distributionType": "DIRECT_ENTITLEMENT",
	}}
}

func dropPayload(id string, required, watched int, instanceID string, claimed bool) map[string]any {
	return map[string]any{
		"id":                     id,
		"name":                   id,
		"requiredMinutesWatched": required,
		"benefitEdges":           []any{benefitPayload(id+"-reward", id+" reward")},
		"self": map[string]any{
			"dropInstanceID":        instanceID,
			"isClaimed":             claimed,
			"currentMinutesWatched": watched,
		},
	}
}

func aclEntry(id int64, login string) map[string]any {
	return map[string]any{
		"id":          strconv.FormatInt(id, 10),
		"name":        login,
		"displayName": login,
	}
}

func streamInfoPayload(channelID int64, login string, viewers int, game map[string]any) map[string]any {
	return map[string]any{
		"id":          strconv.FormatInt(channelID, 10),
		"login":       login,
		"displayName": login,
		"stream": map[string]any{
			"id":           strconv.FormatInt(channelID*1000, 10),
			"type":         "live",
			"viewersCount": viewers,
			"game":         game,
		},
		"broadcastSettings": map[string]any{
			"title": login + " mining drops",
			"game":  game,
		},
	}
}

func directoryNodePayload(channelID int64, login string, viewers int, game map[string]any) map[string]any {
	return map[string]any{
		"id":           strconv.FormatInt(channelID*1000, 10),
		"title":        login + " live",
		"viewersCount": viewers,
		"game":         game,
		"broadcaster": map[string]any{
			"id":          strconv.FormatInt(channelID, 10),
			"login":       login,
			"displayName": login,
		},
	}
}

// gqlRequest is a persisted-query operation as the fake gateway decodes it.
type gqlRequest struct {
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// wsFrame is a client request as the fake pubsub edge decodes it.
type wsFrame struct {
	Type  string `json:"type"`
	Nonce string `json:"nonce"`
	Data  struct {
		Topics []string `json:"topics"`
	} `json:"data"`
}

// fakePlatform is an in-process stand-in for every service the miner talks
// to: the client site that hands out the device cookie, the OAuth device and
// introspection endpoints, the GraphQL gateway, the pubsub websocket edge
// and the HLS playlist chain the watch heartbeat walks.
type fakePlatform struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	// onClaim, assigned before the miner starts, runs after a drop claim
	// is recorded.
	onClaim func(instanceID string)

	mu             sync.Mutex
	campaigns      []*platformCampaign
	streams        map[string]map[string]any   // login -> stream info user payload
	directory      map[string][]map[string]any // game slug -> directory nodes
	gqlCalls       map[string]int              // wire operation name -> count
	claims         []string                    // claimed drop instance ids
	deleted        []string                    // deleted notification ids
	sessionDrop    string
	sessionMinutes int
	master         map[string]int        // master playlist hits per login
	variant        map[string]int        // variant playlist hits per login
	segment        map[string]int        // segment head hits per login
	masterQuery    map[string]url.Values // last master playlist query per login

	wsMu     sync.Mutex
	wsActive *websocket.Conn
	listened map[string]bool
}

func newFakePlatform(t *testing.T) *fakePlatform {
	p := &fakePlatform{
		t:           t,
		streams:     make(map[string]map[string]any),
		directory:   make(map[string][]map[string]any),
		gqlCalls:    make(map[string]int),
		master:      make(map[string]int),
		variant:     make(map[string]int),
		segment:     make(map[string]int),
		masterQuery: make(map[string]url.Values),
		listened:    make(map[string]bool),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", p.handleRoot)
	mux.HandleFunc("/oauth2/device", p.handleDevice)
	mux.HandleFunc("/oauth2/token", p.handleToken)
	mux.HandleFunc("/oauth2/validate", p.handleValidate)
	mux.HandleFunc("/gql", p.handleGQL)
	mux.HandleFunc("/ws", p.handleWS)
	mux.HandleFunc("/api/channel/hls/", p.handleMaster)
	mux.HandleFunc("/hls/", p.handleVariant)
	mux.HandleFunc("/seg/", p.handleSegment)
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

func (p *fakePlatform) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: "unique_id", Value: "device-beef", Path: "/"})
	w.Write([]byte("<html></html>"))
}

func (p *fakePlatform) handleDevice(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"device_code":      "DEVICE456",
		"expires_in":       1800,
		"interval":         5,
		"user_code":        "ABCD5678",
		"verification_uri": "https://www.twitch.tv/activate",
	})
}

func (p *fakePlatform) handleToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"access_token":  "miner-token",
		"refresh_token": "refresh",
		"token_type":    "bearer",
	})
}

func (p *fakePlatform) handleValidate(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{
		"client_id": testClientID,
		"login":     "miner",
		"user_id":   strconv.FormatInt(testUserID, 10),
	})
}

func (p *fakePlatform) handleGQL(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var reqs []gqlRequest
		if err := json.Unmarshal(body, &reqs); err != nil {
			p.t.Errorf("undecodable GQL batch %q: %v", body, err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out := make([]map[string]any, len(reqs))
		for i, req := range reqs {
			out[i] = map[string]any{"data": p.answer(req)}
		}
		writeJSON(w, out)
		return
	}
	var req gqlRequest
	if err := json.Unmarshal(body, &req); err != nil {
		p.t.Errorf("undecodable GQL request %q: %v", body, err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"data": p.answer(req)})
}

// answer produces the data object for one operation, dispatching on the
// wire operation name.
func (p *fakePlatform) answer(req gqlRequest) map[string]any {
	p.mu.Lock()
	p.gqlCalls[req.OperationName]++
	p.mu.Unlock()

	switch req.OperationName {
	case "Inventory":
		return map[string]any{"currentUser": map[string]any{"inventory": map[string]any{
			"dropCampaignsInProgress": []any{},
			"gameEventDrops":          []any{},
		}}}

	case "ViewerDropsDashboard":
		p.mu.Lock()
		defer p.mu.Unlock()
		listings := make([]map[string]any, len(p.campaigns))
		for i, c := range p.campaigns {
			listings[i] = c.listing()
		}
		return map[string]any{"currentUser": map[string]any{"dropCampaigns": listings}}

	case "DropCampaignDetails":
		id, _ := req.Variables["dropID"].(string)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, c := range p.campaigns {
			if c.id == id {
				return map[string]any{"user": map[string]any{"dropCampaign": c.detail()}}
			}
		}
		return map[string]any{"user": map[string]any{"dropCampaign": nil}}

	case "VideoPlayerStreamInfoOverlayChannel":
		login, _ := req.Variables["channel"].(string)
		p.mu.Lock()
		defer p.mu.Unlock()
		if user, ok := p.streams[login]; ok {
			return map[string]any{"user": user}
		}
		return map[string]any{"user": map[string]any{"id": "0", "login": login, "stream": nil}}

	case "DirectoryPage_Game":
		slug, _ := req.Variables["slug"].(string)
		p.mu.Lock()
		defer p.mu.Unlock()
		edges := make([]map[string]any, 0, len(p.directory[slug]))
		for _, node := range p.directory[slug] {
			edges = append(edges, map[string]any{"node": node})
		}
		return map[string]any{"game": map[string]any{"streams": map[string]any{"edges": edges}}}

	case "DropsHighlightService_AvailableDrops":
		return map[string]any{"channel": map[string]any{
			"viewerDropCampaigns": []any{map[string]any{"id": "highlight"}},
		}}

	case "PlaybackAccessToken":
		login, _ := req.Variables["login"].(string)
		return map[string]any{"streamPlaybackAccessToken": map[string]any{
			"value":     "token-" + login,
			"signature": "sig-" + login,
		}}

	case "DropCurrentSessionContext":
		p.mu.Lock()
		dropID, minutes := p.sessionDrop, p.sessionMinutes
		p.mu.Unlock()
		if dropID == "" {
			return map[string]any{"currentUser": map[string]any{"dropCurrentSession": nil}}
		}
		return map[string]any{"currentUser": map[string]any{"dropCurrentSession": map[string]any{
			"dropID":                dropID,
			"currentMinutesWatched": minutes,
		}}}

	case "DropsPage_ClaimDropRewards":
		input, _ := req.Variables["input"].(map[string]any)
		instance, _ := input["dropInstanceID"].(string)
		p.mu.Lock()
		p.claims = append(p.claims, instance)
		hook := p.onClaim
		p.mu.Unlock()
		if hook != nil {
			hook(instance)
		}
		return map[string]any{"claimDropRewards": map[string]any{"status": "ELIGIBLE_FOR_ALL"}}

	case "OnsiteNotifications_DeleteNotification":
		input, _ := req.Variables["input"].(map[string]any)
		id, _ := input["id"].(string)
		p.mu.Lock()
		p.deleted = append(p.deleted, id)
		p.mu.Unlock()
		return map[string]any{}

	default:
		p.t.Errorf("GQL operation without a scripted response: %s", req.OperationName)
		return map[string]any{}
	}
}

func (p *fakePlatform) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	p.wsMu.Lock()
	p.wsActive = ws
	p.wsMu.Unlock()
	defer func() {
		p.wsMu.Lock()
		if p.wsActive == ws {
			p.wsActive = nil
		}
		p.listened = make(map[string]bool)
		p.wsMu.Unlock()
	}()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			p.t.Errorf("undecodable websocket frame %q: %v", data, err)
			continue
		}
		p.wsMu.Lock()
		switch frame.Type {
		case "PING":
			p.writeLocked(ws, `{"type":"PONG"}`)
		case "LISTEN":
			for _, topic := range frame.Data.Topics {
				p.listened[topic] = true
			}
			p.writeLocked(ws, fmt.Sprintf(`{"type":"RESPONSE","nonce":%q,"error":""}`, frame.Nonce))
		case "UNLISTEN":
			for _, topic := range frame.Data.Topics {
				delete(p.listened, topic)
			}
			p.writeLocked(ws, fmt.Sprintf(`{"type":"RESPONSE","nonce":%q,"error":""}`, frame.Nonce))
		}
		p.wsMu.Unlock()
	}
}

func (p *fakePlatform) writeLocked(ws *websocket.Conn, raw string) {
	_ = ws.WriteMessage(websocket.TextMessage, []byte(raw))
}

// pushEvent delivers a topic message the way the edge does: the event JSON
// travels as a string inside the MESSAGE frame.
func (p *fakePlatform) pushEvent(topic string, event map[string]any) {
	inner, err := json.Marshal(event)
	if err != nil {
		p.t.Fatalf("encode event for %s: %v", topic, err)
	}
	frame, err := json.Marshal(map[string]any{
		"type": "MESSAGE",
		"data": map[string]any{"topic": topic, "message": string(inner)},
	})
	if err != nil {
		p.t.Fatalf("encode frame for %s: %v", topic, err)
	}
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	if p.wsActive == nil {
		p.t.Fatal("no active websocket connection to push to")
	}
	p.writeLocked(p.wsActive, string(frame))
}

func (p *fakePlatform) handleMaster(w http.ResponseWriter, r *http.Request) {
	login := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/channel/hls/"), ".m3u8")
	query := r.URL.Query()
	p.mu.Lock()
	p.master[login]++
	p.masterQuery[login] = query
	p.mu.Unlock()
	if query.Get("sig") == "" || query.Get("token") == "" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	fmt.Fprintf(w, "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=2500000\n%s/hls/%s/chunked.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=160000\n%s/hls/%s/audio_only.m3u8\n",
		p.srv.URL, login, p.srv.URL, login)
}

func (p *fakePlatform) handleVariant(w http.ResponseWriter, r *http.Request) {
	login := strings.Split(strings.TrimPrefix(r.URL.Path, "/hls/"), "/")[0]
	p.mu.Lock()
	p.variant[login]++
	p.mu.Unlock()
	fmt.Fprintf(w, "#EXTM3U\n#EXT-X-TARGETDURATION:2\n#EXTINF:2.000,\n%s/seg/%s/0001.ts\n", p.srv.URL, login)
}

func (p *fakePlatform) handleSegment(w http.ResponseWriter, r *http.Request) {
	login := strings.Split(strings.TrimPrefix(r.URL.Path, "/seg/"), "/")[0]
	p.mu.Lock()
	p.segment[login]++
	p.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (p *fakePlatform) addCampaign(c *platformCampaign) {
	p.mu.Lock()
	p.campaigns = append(p.campaigns, c)
	p.mu.Unlock()
}

func (p *fakePlatform) setLive(login string, channelID int64, viewers int, game map[string]any) {
	p.mu.Lock()
	p.streams[login] = streamInfoPayload(channelID, login, viewers, game)
	p.mu.Unlock()
}

func (p *fakePlatform) setDirectory(slug string, nodes ...map[string]any) {
	p.mu.Lock()
	p.directory[slug] = nodes
	p.mu.Unlock()
}

// setSession scripts the current drop session; an empty drop id means no
// session is active.
func (p *fakePlatform) setSession(dropID string, minutes int) {
	p.mu.Lock()
	p.sessionDrop = dropID
	p.sessionMinutes = minutes
	p.mu.Unlock()
}

// setDropClaimed flips a served drop to claimed, as the platform does once
// a claim lands.
func (p *fakePlatform) setDropClaimed(campaignID, dropID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.campaigns {
		if c.id != campaignID {
			continue
		}
		for _, d := range c.drops {
			if d["id"] == dropID {
				d["self"].(map[string]any)["isClaimed"] = true
			}
		}
	}
}

func (p *fakePlatform) calls(wireOp string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gqlCalls[wireOp]
}

func (p *fakePlatform) claimedInstances() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.claims...)
}

func (p *fakePlatform) deletedNotifications() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deleted...)
}

func (p *fakePlatform) masterHits(login string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.master[login]
}

func (p *fakePlatform) segmentHits(login string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segment[login]
}

func (p *fakePlatform) masterAuth(login string) url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.masterQuery[login]
}

func (p *fakePlatform) listenedCount() int {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	return len(p.listened)
}

func (p *fakePlatform) hasListened(name string) bool {
	p.wsMu.Lock()
	defer p.wsMu.Unlock()
	return p.listened[name]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// minerHarness wires a Miner to a fake platform with time compressed far
// enough that a full mining cycle completes within a test. Fields on cfg
// may be adjusted before start.
type minerHarness struct {
	platform *fakePlatform
	miner    *Miner
	cfg      Config
	runErr   chan error
	stopped  bool
}

func newMinerHarness(t *testing.T, p *fakePlatform, games ...string) *minerHarness {
	t.Helper()
	instant := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	session := netutil.NewSession(netutil.SessionConfig{
		UserAgent:  "driftwatch-test",
		CookiePath: filepath.Join(t.TempDir(), "cookies.json"),
		Sleep:      instant,
	})
	authState := auth.New(auth.Config{
		Client:  clientinfo.Client{URL: p.srv.URL, ID: testClientID, UserAgent: "driftwatch-test"},
		Session: session,
		URL:     p.srv.URL,
		Prompt:  func(uri, code string) {},
		Sleep:   instant,
	})
	client := gql.NewClient(gql.ClientConfig{
		Session: session,
		Auth:    authState,
		URL:     p.srv.URL + "/gql",
		Sleep:   instant,
	})
	pool := pubsub.NewPool(pubsub.Config{
		Creds: authState,
		URL:   "ws" + strings.TrimPrefix(p.srv.URL, "http") + "/ws",
	})
	settings := config.DefaultSettings()
	settings.GamesToWatch = games

	h := &minerHarness{platform: p, runErr: make(chan error, 1)}
	h.cfg = Config{
		Session:           session,
		GQL:               client,
		Auth:              authState,
		Pool:              pool,
		Settings:          settings,
		UsherURL:          p.srv.URL + "/api/channel/hls/%s.m3u8",
		WatchInterval:     250 * time.Millisecond,
		ProgressDelay:     15 * time.Millisecond,
		OnlineDelay:       10 * time.Millisecond,
		ClaimDelay:        5 * time.Millisecond,
		ClaimPollDelay:    5 * time.Millisecond,
		MaintenancePeriod: time.Hour,
	}
	return h
}

func (h *minerHarness) start(t *testing.T) *Miner {
	t.Helper()
	h.miner = New(h.cfg)
	go func() { h.runErr <- h.miner.Run(context.Background()) }()
	t.Cleanup(func() {
		if h.stopped {
			return
		}
		h.miner.Close()
		<-h.runErr
	})
	return h.miner
}

// stop requests a shutdown and returns what Run returned.
func (h *minerHarness) stop(t *testing.T) error {
	t.Helper()
	h.miner.Close()
	return h.wait(t)
}

// wait blocks until Run returns on its own.
func (h *minerHarness) wait(t *testing.T) error {
	t.Helper()
	h.stopped = true
	select {
	case err := <-h.runErr:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("miner did not shut down in time")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s did not happen in time", what)
}

// --- typed model builders for scheduler-level unit tests ---

func benefitOf(id, kind string) twitch.BenefitEdge {
	var e twitch.BenefitEdge
	e.Benefit.ID = id
	e.Benefit.Name = id
	e.Benefit.DistributionType = kind
	return e
}

func testDrop(id string, required, watched int, benefits ...twitch.BenefitEdge) twitch.DropData {
	if len(benefits) == 0 {
		benefits = []twitch.BenefitEdge{benefitOf(id+"-reward", "DIRECT_ENTITLEMENT")}
	}
	return twitch.DropData{
		ID:                     id,
		Name:                   id,
		BenefitEdges:           benefits,
		RequiredMinutesWatched: required,
		Self:                   &twitch.DropSelfData{CurrentMinutesWatched: watched},
	}
}

func claimedDrop(id string, required int) twitch.DropData {
	d := testDrop(id, required, required)
	d.Self.IsClaimed = true
	return d
}

// mustCampaign builds a campaign over the given window; drops without their
// own window inherit it.
func mustCampaign(t *testing.T, id string, gameID int64, gameName string, start, end time.Time, acl []twitch.ACLChannelData, drops ...twitch.DropData) *twitch.Campaign {
	t.Helper()
	for i := range drops {
		if drops[i].StartAt.IsZero() {
			drops[i].StartAt = start
			drops[i].EndAt = end
		}
	}
	c, err := twitch.NewCampaign(twitch.CampaignData{
		ID:             id,
		Name:           id,
		Game:           &twitch.GameData{ID: twitch.ID(gameID), Name: gameName},
		Self:           twitch.CampaignSelfData{IsAccountConnected: true},
		StartAt:        start,
		EndAt:          end,
		Status:         "ACTIVE",
		Allow:          twitch.AllowData{Channels: acl},
		TimeBasedDrops: drops,
	}, nil)
	if err != nil {
		t.Fatalf("campaign %s: %v", id, err)
	}
	return c
}

// earnableCampaign is mustCampaign over an already-running window.
func earnableCampaign(t *testing.T, id string, gameID int64, gameName string, drops ...twitch.DropData) *twitch.Campaign {
	t.Helper()
	now := time.Now()
	return mustCampaign(t, id, gameID, gameName, now.Add(-time.Hour), now.Add(20*time.Hour), nil, drops...)
}

// aclChannel is a live allow-list channel with drops enabled.
func aclChannel(id int64, login string, gameID int64, gameName string, viewers int) *twitch.Channel {
	ch := twitch.NewChannelFromACL(twitch.ACLChannelData{
		ID:          twitch.ID(id),
		Name:        login,
		DisplayName: login,
	})
	ch.SetStream(twitch.NewStreamFromInfo(twitch.StreamInfoData{
		ID:          twitch.ID(id),
		Login:       login,
		DisplayName: login,
		Stream: &twitch.StreamData{
			ID:           twitch.ID(id * 1000),
			Type:         "live",
			ViewersCount: viewers,
			Game:         &twitch.GameData{ID: twitch.ID(gameID), Name: gameName},
		},
	}, true))
	return ch
}

// offlineChannel is an allow-list channel with no stream.
func offlineChannel(id int64, login string) *twitch.Channel {
	return twitch.NewChannelFromACL(twitch.ACLChannelData{
		ID:          twitch.ID(id),
		Name:        login,
		DisplayName: login,
	})
}

// dirChannel is a live directory channel with drops enabled.
func dirChannel(t *testing.T, id int64, login string, gameID int64, gameName string, viewers int) *twitch.Channel {
	t.Helper()
	ch, ok := twitch.NewChannelFromDirectory(twitch.DirectoryStreamData{
		ID:           twitch.ID(id * 1000),
		Title:        login + " live",
		ViewersCount: viewers,
		Game:         &twitch.GameData{ID: twitch.ID(gameID), Name: gameName},
		Broadcaster:  &twitch.BroadcasterData{ID: twitch.ID(id), Login: login, DisplayName: login},
	}, true)
	if !ok {
		t.Fatalf("directory channel %s has no broadcaster", login)
	}
	return ch
}
