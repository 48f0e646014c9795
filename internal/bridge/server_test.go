package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/daemon"
	"github.com/armoryops/armorylink/internal/dom"
	"github.com/armoryops/armorylink/internal/domain"
	"github.com/armoryops/armorylink/internal/infra"
	"github.com/armoryops/armorylink/internal/page"
	"github.com/armoryops/armorylink/internal/policy"
	"github.com/armoryops/armorylink/internal/usecase"
	"github.com/armoryops/armorylink/test/fixtures"
)

// staticRules implements policy.RuleSource for testing
type staticRules struct{}

func (staticRules) Rules() []domain.Rule {
	return []domain.Rule{{
		Name:        "any",
		Pattern:     ".*",
		PatternType: domain.PatternRegex,
		Enabled:     true,
	}}
}

// bareFields implements page.FieldSource and usecase.FieldLookup with
// no configured fields
type bareFields struct{}

func (bareFields) Fields() []domain.FieldDescriptor { return nil }
func (bareFields) FieldByKey(string) (domain.FieldDescriptor, bool) {
	return domain.FieldDescriptor{}, false
}

// testFactory wires a minimal real session per attach, all sessions
// sharing one hub.
func testFactory(hub *infra.Hub) SessionFactory {
	logger := zap.NewNop()
	return func(sessionID, pageURL string, doc *RemoteDoc) (*daemon.Session, error) {
		root := fixtures.NewFakeNode("body")
		rootFn := func() domain.Node { return root }
		locator := dom.NewLocator(logger)

		tabs := page.NewRegistry(page.DefaultTabsConfig(), locator, rootFn, logger)
		contexts := page.NewContextStore(tabs, locator, rootFn, bareFields{}, "Armory", logger)
		ticker := page.NewTicker(page.DefaultTickerConfig(), locator, rootFn, contexts)

		electorConfig := daemon.ElectorConfig{
			QueryTimeout:      20 * time.Millisecond,
			HeartbeatInterval: 30 * time.Millisecond,
			CheckInterval:     15 * time.Millisecond,
			HeartbeatExpiry:   80 * time.Millisecond,
		}
		elector := daemon.NewElector(hub, sessionID, electorConfig, logger)

		queue := usecase.NewQueue(time.Hour, logger)
		capture := usecase.NewCapture(usecase.DefaultCaptureConfig(), queue, hub, sessionID,
			elector.IsLeader, func() bool { return true }, logger)

		worker := usecase.NewWorker(usecase.DefaultWorkerConfig(), usecase.WorkerDeps{
			Queue:    queue,
			Engine:   policy.NewEngine(staticRules{}, nil, logger),
			Fields:   bareFields{},
			Writer:   dom.NewWriter(dom.DefaultWriterConfig(), locator, rootFn, logger),
			Locator:  locator,
			Root:     rootFn,
			Notifier: doc,
			Speaker:  doc,
			Opener:   doc,
			Prefixes: usecase.NewPrefixManager(logger),
			Bus:      hub,
			SessID:   sessionID,
			Logger:   logger,
		})

		return daemon.NewSession(sessionID, pageURL, daemon.DefaultSessionConfig(), daemon.SessionDeps{
			Bus:            hub,
			Elector:        elector,
			Capture:        capture,
			Worker:         worker,
			Queue:          queue,
			Contexts:       contexts,
			Ticker:         ticker,
			ArmoryKeywords: []string{"workspace"},
			Logger:         logger,
		}), nil
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	hub := infra.NewHub(zap.NewNop())
	server := NewServer(DefaultServerConfig(), testFactory(hub), zap.NewNop())
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return server, ts
}

func attach(t *testing.T, ts *httptest.Server, pageURL string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"page_url": pageURL})
	resp, err := http.Post(ts.URL+"/attach", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

// TestServer_Health verifies the health endpoint session count
func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 0, health.Sessions)
}

// TestServer_AttachListDetach verifies the session lifecycle
func TestServer_AttachListDetach(t *testing.T) {
	_, ts := newTestServer(t)

	id := attach(t, ts, "https://corp.service-now.com/workspace")

	resp, err := http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	var sessions []struct {
		ID      string `json:"id"`
		PageURL string `json:"page_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sessions))
	resp.Body.Close()
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "https://corp.service-now.com/workspace", sessions[0].PageURL)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+id, nil)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNoContent, del.StatusCode)

	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+id, nil)
	del, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusNotFound, del.StatusCode)
}

// TestServer_AttachMalformed verifies request validation
func TestServer_AttachMalformed(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/attach", "application/json", bytes.NewReader([]byte("{broken")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestServer_ScanAccepted verifies manual scan ingress
func TestServer_ScanAccepted(t *testing.T) {
	_, ts := newTestServer(t)
	id := attach(t, ts, "https://x/workspace")

	body, _ := json.Marshal(map[string]string{"text": "ASSET-1", "source": "manual"})
	resp, err := http.Post(ts.URL+"/sessions/"+id+"/scan", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/sessions/unknown/scan", "application/json",
		bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestServer_MacroAccepted verifies macro ingress and name resolution
func TestServer_MacroAccepted(t *testing.T) {
	server, ts := newTestServer(t)
	server.SetMacroSource(func(name string) (domain.Macro, bool) {
		if name == "issue-kit" {
			return domain.Macro{Name: "issue-kit", Lines: []string{"ASSET-1", "ASSET-2"}}, true
		}
		return domain.Macro{}, false
	})
	id := attach(t, ts, "https://x/workspace")

	body, _ := json.Marshal(map[string]string{"name": "issue-kit"})
	resp, err := http.Post(ts.URL+"/sessions/"+id+"/macro", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body, _ = json.Marshal(map[string]string{"name": "missing"})
	resp, err = http.Post(ts.URL+"/sessions/"+id+"/macro", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body, _ = json.Marshal(map[string]string{})
	resp, err = http.Post(ts.URL+"/sessions/"+id+"/macro", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestServer_PrefixToggle verifies prefix activation through the
// bridge, driving a real prefix manager
func TestServer_PrefixToggle(t *testing.T) {
	server, ts := newTestServer(t)

	prefixes := usecase.NewPrefixManager(zap.NewNop())
	catalog := []domain.Prefix{{Label: "Reissue", Value: "RE-", HotkeyDigit: 1, StickyCount: 1}}
	server.SetPrefixHandler(func(label string, digit int) (string, bool) {
		for _, p := range catalog {
			if (label != "" && p.Label == label) || (digit != 0 && p.HotkeyDigit == digit) {
				if prefixes.Toggle(p) {
					return p.Label, true
				}
				return "", true
			}
		}
		return "", false
	})

	body, _ := json.Marshal(map[string]string{"label": "Reissue"})
	resp, err := http.Post(ts.URL+"/prefix", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var result struct {
		Active string `json:"active"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, "Reissue", result.Active)

	p, _, active := prefixes.Active()
	require.True(t, active)
	assert.Equal(t, "Reissue", p.Label)

	// Toggling again by hotkey digit clears it.
	body, _ = json.Marshal(map[string]int{"digit": 1})
	resp, err = http.Post(ts.URL+"/prefix", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	assert.Equal(t, "", result.Active)

	_, _, active = prefixes.Active()
	assert.False(t, active)

	body, _ = json.Marshal(map[string]string{"label": "Unknown"})
	resp, err = http.Post(ts.URL+"/prefix", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/prefix", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestServer_PrefixNoHandler verifies the unconfigured path
func TestServer_PrefixNoHandler(t *testing.T) {
	_, ts := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"label": "Reissue"})
	resp, err := http.Post(ts.URL+"/prefix", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestServer_KeysHotkey verifies the hotkey digit reaches the
// session's capture front end
func TestServer_KeysHotkey(t *testing.T) {
	server, ts := newTestServer(t)
	id := attach(t, ts, "https://x/workspace")

	var got atomic.Int32
	server.mu.Lock()
	server.sessions[id].session.Capture().OnHotkey(func(digit int) {
		got.Store(int32(digit))
	})
	server.mu.Unlock()

	body, _ := json.Marshal(map[string]any{"hotkey": 4})
	resp, err := http.Post(ts.URL+"/sessions/"+id+"/keys", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, int32(4), got.Load())
}

// TestServer_MacroNoSource verifies the unconfigured-source path
func TestServer_MacroNoSource(t *testing.T) {
	_, ts := newTestServer(t)
	id := attach(t, ts, "https://x/workspace")

	body, _ := json.Marshal(map[string]string{"name": "anything"})
	resp, err := http.Post(ts.URL+"/sessions/"+id+"/macro", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestServer_KeysAccepted verifies keystroke ingress
func TestServer_KeysAccepted(t *testing.T) {
	_, ts := newTestServer(t)
	id := attach(t, ts, "https://x/workspace")

	body, _ := json.Marshal(map[string]any{"chars": "ASSET-7", "enter": true})
	resp, err := http.Post(ts.URL+"/sessions/"+id+"/keys", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// TestServer_TabEvent verifies tab event routing and validation
func TestServer_TabEvent(t *testing.T) {
	_, ts := newTestServer(t)
	id := attach(t, ts, "https://x/workspace")

	for _, kind := range []string{"activated", "mutated"} {
		body, _ := json.Marshal(map[string]string{"kind": kind})
		resp, err := http.Post(ts.URL+"/sessions/"+id+"/tab-event", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode, kind)
	}

	body, _ := json.Marshal(map[string]string{"kind": "hovered"})
	resp, err := http.Post(ts.URL+"/sessions/"+id+"/tab-event", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestServer_CommandLongPollEmpty verifies 204 on an idle command queue
func TestServer_CommandLongPollEmpty(t *testing.T) {
	server, ts := newTestServer(t)
	server.config.CommandPoll = 50 * time.Millisecond
	id := attach(t, ts, "https://x/workspace")

	resp, err := http.Get(ts.URL + "/sessions/" + id + "/commands")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// TestServer_Logs verifies the log endpoint with and without a source
func TestServer_Logs(t *testing.T) {
	server, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/logs")
	require.NoError(t, err)
	var lines []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	resp.Body.Close()
	assert.Empty(t, lines)

	server.SetLogSource(func() []string { return []string{"entry-1", "entry-2"} })

	resp, err = http.Get(ts.URL + "/logs")
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	resp.Body.Close()
	assert.Equal(t, []string{"entry-1", "entry-2"}, lines)
}
