//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
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

// recordingNotifier keeps toasts for assertions.
type recordingNotifier struct {
	mu     sync.Mutex
	toasts []string
}

func (n *recordingNotifier) Toast(level, title, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, level+":"+title)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.toasts))
	copy(out, n.toasts)
	return out
}

type silentSpeaker struct{}

func (silentSpeaker) Speak(string) {}

type noopOpener struct{}

func (noopOpener) OpenURL(string, string) error { return nil }

// testRules implements policy.RuleSource with the asset-serial rule.
type testRules struct{}

func (testRules) Rules() []domain.Rule {
	return []domain.Rule{{
		Name:         "asset-serial",
		Pattern:      `^ASSET-(\d+)$`,
		PatternType:  domain.PatternRegex,
		GroupIndexes: map[string]int{"serial": 1},
		Actions: []domain.Action{
			{Type: domain.ActionSetField, Field: "serial", Value: "${serial}"},
		},
		Enabled: true,
	}}
}

// testFields implements page.FieldSource and usecase.FieldLookup.
type testFields struct{}

func (testFields) descriptors() []domain.FieldDescriptor {
	return []domain.FieldDescriptor{{
		Key:      "serial",
		Label:    "Serial",
		Selector: "#serial",
		Roles:    []domain.FieldRole{domain.RoleRead, domain.RoleWrite},
		Enabled:  true,
	}}
}

func (f testFields) Fields() []domain.FieldDescriptor { return f.descriptors() }

func (f testFields) FieldByKey(key string) (domain.FieldDescriptor, bool) {
	for _, d := range f.descriptors() {
		if d.Key == key {
			return d, true
		}
	}
	return domain.FieldDescriptor{}, false
}

// workspace is one fake workspace tab page plus its wired session.
type workspace struct {
	root     *fixtures.FakeNode
	serial   *fixtures.FakeNode
	ticker   *fixtures.FakeNode
	notifier *recordingNotifier
	session  *daemon.Session
	elector  *daemon.Elector
	capture  *usecase.Capture
	cancel   context.CancelFunc
}

func fastSessionConfig() daemon.SessionConfig {
	return daemon.SessionConfig{
		TickInterval:        10 * time.Millisecond,
		FastRefreshInterval: 50 * time.Millisecond,
		SlowRefreshInterval: 200 * time.Millisecond,
		FastPollWindow:      time.Second,
		PruneInterval:       100 * time.Millisecond,
	}
}

func fastElectorConfig() daemon.ElectorConfig {
	return daemon.ElectorConfig{
		QueryTimeout:      20 * time.Millisecond,
		HeartbeatInterval: 30 * time.Millisecond,
		CheckInterval:     15 * time.Millisecond,
		HeartbeatExpiry:   80 * time.Millisecond,
	}
}

// newWorkspace wires one session the way the agent does per attached
// tab, against an in-memory page.
func newWorkspace(hub *infra.Hub, sessionID string) *workspace {
	logger := zap.NewNop()

	tab := fixtures.NewFakeNode("a")
	tab.Attrs["role"] = "tab"
	tab.Attrs["id"] = "tab-" + sessionID
	tab.Attrs["aria-selected"] = "true"
	bar := fixtures.NewFakeNode("div")
	bar.Attrs["role"] = "tablist"
	bar.Append(tab)

	w := &workspace{
		root:     fixtures.NewFakeNode("body"),
		serial:   fixtures.NewFakeNode("input").WithID("serial"),
		ticker:   fixtures.NewFakeNode("div").WithID("armorylink-ticker"),
		notifier: &recordingNotifier{},
	}
	w.root.Append(bar, w.serial, w.ticker)

	locator := dom.NewLocator(logger)
	rootFn := func() domain.Node { return w.root }

	tabs := page.NewRegistry(page.DefaultTabsConfig(), locator, rootFn, logger)
	contexts := page.NewContextStore(tabs, locator, rootFn, testFields{}, "Armory", logger)
	presenter := page.NewPresenter(tabs, contexts, logger)
	ticker := page.NewTicker(page.DefaultTickerConfig(), locator, rootFn, contexts)
	contexts.OnRefreshed(func() {
		presenter.PaintAll()
		ticker.Refresh()
	})

	w.elector = daemon.NewElector(hub, sessionID, fastElectorConfig(), logger)

	queue := usecase.NewQueue(5*time.Second, logger)
	w.capture = usecase.NewCapture(usecase.DefaultCaptureConfig(), queue, hub, sessionID,
		w.elector.IsLeader, func() bool { return true }, logger)

	worker := usecase.NewWorker(usecase.DefaultWorkerConfig(), usecase.WorkerDeps{
		Queue:    queue,
		Engine:   policy.NewEngine(testRules{}, nil, logger),
		Fields:   testFields{},
		Writer:   dom.NewWriter(dom.DefaultWriterConfig(), locator, rootFn, logger),
		Locator:  locator,
		Root:     rootFn,
		Notifier: w.notifier,
		Speaker:  silentSpeaker{},
		Opener:   noopOpener{},
		Prefixes: usecase.NewPrefixManager(logger),
		Bus:      hub,
		SessID:   sessionID,
		Logger:   logger,
	})
	worker.AfterScan(func(outcome domain.ScanOutcome) {
		ticker.RecordOutcome(outcome)
		contexts.Refresh()
	})

	w.session = daemon.NewSession(sessionID, "https://corp.service-now.com/workspace",
		fastSessionConfig(), daemon.SessionDeps{
			Bus:            hub,
			Elector:        w.elector,
			Capture:        w.capture,
			Worker:         worker,
			Queue:          queue,
			Contexts:       contexts,
			Ticker:         ticker,
			ArmoryKeywords: []string{"workspace"},
			Logger:         logger,
		})
	return w
}

func (w *workspace) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go func() {
		_ = w.session.Run(ctx)
	}()
}

func (w *workspace) stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

var _ = Describe("Scan Pipeline", func() {
	var (
		hub    *infra.Hub
		leader *workspace
	)

	BeforeEach(func() {
		hub = infra.NewHub(zap.NewNop())
		leader = newWorkspace(hub, "session-a")
		leader.start()

		Eventually(leader.elector.IsLeader, time.Second, 5*time.Millisecond).Should(BeTrue())
	})

	AfterEach(func() {
		leader.stop()
	})

	Describe("single session", func() {
		Context("when a matching scan is submitted", func() {
			It("writes the captured serial into the form field", func() {
				leader.capture.Submit("ASSET-4455", domain.SourceManual)

				Eventually(func() string { return leader.serial.Val },
					time.Second, 5*time.Millisecond).Should(Equal("4455"))
				Eventually(func() []string { return leader.serial.Events },
					time.Second, 5*time.Millisecond).Should(ContainElement("change"))
			})

			It("updates the status ticker with the rule name", func() {
				leader.capture.Submit("ASSET-7", domain.SourceManual)

				Eventually(func() string { return leader.ticker.TextContent },
					time.Second, 5*time.Millisecond).Should(ContainSubstring("asset-serial"))
			})
		})

		Context("when the scan matches no rule", func() {
			It("raises a warning toast and keeps running", func() {
				leader.capture.Submit("garbage?", domain.SourceManual)

				Eventually(leader.notifier.all, time.Second, 5*time.Millisecond).
					Should(ContainElement("warn:No rule matched"))

				leader.capture.Submit("ASSET-1", domain.SourceManual)
				Eventually(func() string { return leader.serial.Val },
					time.Second, 5*time.Millisecond).Should(Equal("1"))
			})
		})

		Context("when the same code is scanned twice quickly", func() {
			It("processes it once", func() {
				leader.capture.Submit("ASSET-9", domain.SourceManual)
				leader.capture.Submit("ASSET-9", domain.SourceManual)

				Eventually(func() int { return count(leader.serial.Events, "input") },
					time.Second, 5*time.Millisecond).Should(Equal(1))
				Consistently(func() int { return count(leader.serial.Events, "input") },
					200*time.Millisecond, 20*time.Millisecond).Should(Equal(1))
				Expect(leader.serial.Val).To(Equal("9"))
			})
		})

		Context("when keystrokes arrive with a trailing enter", func() {
			It("assembles and processes the scan", func() {
				for _, ch := range "ASSET-12" {
					leader.capture.Key(ch)
				}
				leader.capture.Enter()

				Eventually(func() string { return leader.serial.Val },
					time.Second, 5*time.Millisecond).Should(Equal("12"))
			})
		})
	})

	Describe("two sessions", func() {
		var follower *workspace

		BeforeEach(func() {
			follower = newWorkspace(hub, "session-b")
			follower.start()

			Consistently(follower.elector.IsLeader, 150*time.Millisecond, 10*time.Millisecond).
				Should(BeFalse())
		})

		AfterEach(func() {
			follower.stop()
		})

		Context("when the follower submits a scan", func() {
			It("forwards it to the leader for processing", func() {
				follower.capture.Submit("ASSET-77", domain.SourceManual)

				Eventually(func() string { return leader.serial.Val },
					time.Second, 5*time.Millisecond).Should(Equal("77"))
				Expect(follower.serial.Val).To(BeEmpty())
			})

			It("mirrors the outcome into the follower's ticker", func() {
				follower.capture.Submit("ASSET-42", domain.SourceManual)

				Eventually(func() string { return follower.ticker.TextContent },
					time.Second, 5*time.Millisecond).Should(ContainSubstring("ASSET-42"))
			})
		})

		Context("when the leader goes away", func() {
			It("elects the follower", func() {
				leader.stop()

				Eventually(follower.elector.IsLeader, 2*time.Second, 5*time.Millisecond).
					Should(BeTrue())

				follower.capture.Submit("ASSET-5", domain.SourceManual)
				Eventually(func() string { return follower.serial.Val },
					time.Second, 5*time.Millisecond).Should(Equal("5"))
			})
		})
	})

	Describe("tab labeling", func() {
		It("paints the home label onto the first tab", func() {
			Eventually(func() string {
				bar := leader.root.Kids[0]
				return bar.Kids[0].TextContent
			}, time.Second, 5*time.Millisecond).Should(Equal("Armory"))
		})
	})
})

func count(events []string, want string) int {
	n := 0
	for _, e := range events {
		if e == want {
			n++
		}
	}
	return n
}
