// Package main is the CLI entry point for armorylink.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/armoryops/armorylink/internal/bridge"
	"github.com/armoryops/armorylink/internal/daemon"
	"github.com/armoryops/armorylink/internal/dom"
	"github.com/armoryops/armorylink/internal/domain"
	"github.com/armoryops/armorylink/internal/infra"
	"github.com/armoryops/armorylink/internal/page"
	"github.com/armoryops/armorylink/internal/policy"
	"github.com/armoryops/armorylink/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "armorylink",
	Short: "Barcode-driven form automation for the armory workspace",
	Long: `armorylink is a local agent that attached workspace tabs connect to.
It captures scanner input, matches it against configurable pattern
rules, and fills the workspace form through the page client. One tab is
elected scanner at a time; every tab mirrors the status ticker.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent (bridge + scan pipeline)",
	Long: `Starts the local bridge that page clients attach to. Each attached
workspace tab becomes a session; sessions elect one leader that owns
the scan queue.`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check agent status",
	Long:  `Shows whether the agent is running, which tabs are attached, and which browsers are detected.`,
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured fields, rules and prefixes",
	RunE:  runList,
}

var scanCmd = &cobra.Command{
	Use:   "scan [text]",
	Short: "Inject one manual scan into the running agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

var prefixCmd = &cobra.Command{
	Use:   "prefix [label]",
	Short: "Toggle a scan prefix on the running agent",
	Long: `Toggles the named prefix. While a prefix is active its value is
prepended to each processed scan until the sticky count runs out.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrefix,
}

var macroCmd = &cobra.Command{
	Use:   "macro [name]",
	Short: "Run a stored macro through the running agent",
	Long:  `Enqueues every line of the named macro as a batch scan on the leader tab.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runMacro,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	bridgeAddr  string
	dataDir     string
	jsonOutput  bool
	showLogs    bool
	exportOut   string
	importMerge bool
)

func init() {
	defaultData := defaultDataDir()

	runCmd.Flags().StringVar(&bridgeAddr, "addr", bridge.DefaultServerConfig().Addr, "Bridge listen address")
	runCmd.Flags().StringVar(&dataDir, "data-dir", defaultData, "Configuration data directory")
	statusCmd.Flags().StringVar(&bridgeAddr, "addr", bridge.DefaultServerConfig().Addr, "Bridge address")
	statusCmd.Flags().BoolVar(&showLogs, "verbose", false, "Include recent agent log entries")
	scanCmd.Flags().StringVar(&bridgeAddr, "addr", bridge.DefaultServerConfig().Addr, "Bridge address")
	macroCmd.Flags().StringVar(&bridgeAddr, "addr", bridge.DefaultServerConfig().Addr, "Bridge address")
	prefixCmd.Flags().StringVar(&bridgeAddr, "addr", bridge.DefaultServerConfig().Addr, "Bridge address")
	listCmd.Flags().StringVar(&dataDir, "data-dir", defaultData, "Configuration data directory")
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(macroCmd)
	rootCmd.AddCommand(prefixCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".armorylink"
	}
	return filepath.Join(home, ".armorylink")
}

// openStore opens the encrypted config store, falling back to the
// plain file store when key material or SQLCipher is unavailable.
func openStore(logger *zap.Logger) (domain.KeyValueStore, error) {
	keyProvider := infra.NewFileKeyProvider(dataDir)
	key, err := keyProvider.EnsureKey()
	if err == nil {
		store, err := infra.NewEncryptedStore(dataDir, key, logger)
		if err == nil {
			return store, nil
		}
		logger.Warn("encrypted store unavailable, falling back to file store", zap.Error(err))
	} else {
		logger.Warn("key material unavailable, falling back to file store", zap.Error(err))
	}
	return infra.NewFileStore(filepath.Join(dataDir, "buckets"), logger)
}

func runRun(cmd *cobra.Command, args []string) error {
	ring := infra.NewLogRing(512)
	logger, err := infra.NewLogger(ring)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := openStore(logger)
	if err != nil {
		return fmt.Errorf("failed to open config store: %w", err)
	}
	defer store.Close()

	cfg := policy.NewConfigStore(store, logger)
	cfg.Seed()

	if browsers, err := infra.DetectBrowsers(); err == nil && len(browsers) == 0 {
		fmt.Println("Note: no browser detected yet; page clients can attach once one is open.")
	}

	hub := infra.NewHub(logger.Named("bus"))
	// One prefix manager for the whole agent: at most one prefix is
	// active process-wide, whichever tab toggled it.
	prefixes := usecase.NewPrefixManager(logger.Named("prefix"))
	factory := newSessionFactory(hub, cfg, prefixes, logger)

	serverConfig := bridge.DefaultServerConfig()
	serverConfig.Addr = bridgeAddr
	server := bridge.NewServer(serverConfig, factory, logger.Named("bridge"))
	server.SetLogSource(ring.Recent)
	server.SetMacroSource(func(name string) (domain.Macro, bool) {
		for _, m := range cfg.Macros() {
			if m.Name == name {
				return m, true
			}
		}
		return domain.Macro{}, false
	})
	server.SetPrefixHandler(func(label string, digit int) (string, bool) {
		p, ok := lookupPrefix(cfg, label, digit)
		if !ok {
			return "", false
		}
		if prefixes.Toggle(p) {
			return p.Label, true
		}
		return "", true
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("armorylink %s listening on %s (data: %s)\n", Version, bridgeAddr, dataDir)
	err = server.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// newSessionFactory wires one full session per attached tab. Every
// component receives its collaborators as narrow capability interfaces
// at construction; nothing reaches for a concrete sibling.
// lookupPrefix resolves a configured prefix by label or hotkey digit.
func lookupPrefix(cfg *policy.ConfigStore, label string, digit int) (domain.Prefix, bool) {
	for _, p := range cfg.Prefixes() {
		if label != "" && p.Label == label {
			return p, true
		}
		if digit >= 1 && digit <= 9 && p.HotkeyDigit == digit {
			return p, true
		}
	}
	return domain.Prefix{}, false
}

func newSessionFactory(hub *infra.Hub, cfg *policy.ConfigStore, prefixes *usecase.PrefixManager, logger *zap.Logger) bridge.SessionFactory {
	return func(sessionID, pageURL string, doc *bridge.RemoteDoc) (*daemon.Session, error) {
		settings := cfg.Settings()
		slog := logger.Named("session").With(zap.String("session", sessionID))

		root := func() domain.Node { return doc.Root() }
		locator := dom.NewLocator(slog)

		tabs := page.NewRegistry(page.DefaultTabsConfig(), locator, root, slog)
		contexts := page.NewContextStore(tabs, locator, root, cfg, settings.HomeLabel, slog)
		presenter := page.NewPresenter(tabs, contexts, slog)
		ticker := page.NewTicker(page.DefaultTickerConfig(), locator, root, contexts)
		contexts.OnRefreshed(func() {
			presenter.PaintAll()
			ticker.Refresh()
		})

		elector := daemon.NewElector(hub, sessionID, daemon.DefaultElectorConfig(), slog)
		elector.OnElected(func() {
			doc.Toast("info", "Scanner active", "This tab now owns the scan queue")
		})
		elector.OnResigned(func() {
			doc.Toast("info", "Scanner released", "Another tab owns the scan queue")
		})

		relevant := func() bool {
			return daemon.PageRelevant(pageURL, cfg.Settings().ArmoryKeywords)
		}

		queue := usecase.NewQueue(time.Duration(settings.DuplicateWindowMs)*time.Millisecond, slog)
		capture := usecase.NewCapture(usecase.DefaultCaptureConfig(), queue, hub, sessionID,
			elector.IsLeader, relevant, slog)
		capture.SetMode(settings.CaptureMode)
		capture.OnHotkey(func(digit int) {
			p, ok := lookupPrefix(cfg, "", digit)
			if !ok {
				return
			}
			if prefixes.Toggle(p) {
				doc.Toast("info", "Prefix active", p.Label)
			} else {
				doc.Toast("info", "Prefix cleared", p.Label)
			}
		})

		writer := dom.NewWriter(dom.DefaultWriterConfig(), locator, root, slog)
		engine := policy.NewEngine(cfg, policy.DefaultDirectiveTags, slog)
		portal := usecase.NewPortal(cfg, doc, slog)

		workerConfig := usecase.DefaultWorkerConfig()
		workerConfig.ScanTimeout = time.Duration(settings.ScanTimeoutMs) * time.Millisecond
		worker := usecase.NewWorker(workerConfig, usecase.WorkerDeps{
			Queue:    queue,
			Engine:   engine,
			Fields:   cfg,
			Writer:   writer,
			Locator:  locator,
			Root:     root,
			Notifier: doc,
			Speaker:  doc,
			Opener:   doc,
			Portal:   portal,
			Prefixes: prefixes,
			Bus:      hub,
			SessID:   sessionID,
			Logger:   slog,
		})
		worker.AfterScan(func(outcome domain.ScanOutcome) {
			ticker.RecordOutcome(outcome)
			contexts.Refresh()
		})

		return daemon.NewSession(sessionID, pageURL, daemon.DefaultSessionConfig(), daemon.SessionDeps{
			Bus:            hub,
			Elector:        elector,
			Capture:        capture,
			Worker:         worker,
			Queue:          queue,
			Contexts:       contexts,
			Ticker:         ticker,
			ArmoryKeywords: settings.ArmoryKeywords,
			Logger:         slog,
		}), nil
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("\n=== armorylink Status ===")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + bridgeAddr + "/health")
	if err != nil {
		fmt.Println("Status: NOT RUNNING")
		fmt.Println("\nRun 'armorylink run' to start the agent.")
		return nil
	}
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err == nil {
		fmt.Printf("Status: RUNNING\nAttached tabs: %d\n", health.Sessions)
	}

	if sessResp, err := client.Get("http://" + bridgeAddr + "/sessions"); err == nil {
		defer sessResp.Body.Close()
		var sessions []struct {
			ID      string `json:"id"`
			PageURL string `json:"page_url"`
			Leader  bool   `json:"leader"`
		}
		if json.NewDecoder(sessResp.Body).Decode(&sessions) == nil {
			for _, s := range sessions {
				role := "follower"
				if s.Leader {
					role = "leader"
				}
				fmt.Printf("  - %s  %-8s  %s\n", s.ID[:8], role, s.PageURL)
			}
		}
	}

	browsers, err := infra.DetectBrowsers()
	if err == nil {
		if len(browsers) == 0 {
			fmt.Println("\nNo running browser detected.")
		} else {
			fmt.Println("\nDetected browsers:")
			for _, b := range browsers {
				fmt.Printf("  - %s (pid %d)\n", b.Name, b.PID)
			}
		}
	}

	if showLogs {
		if logResp, err := client.Get("http://" + bridgeAddr + "/logs"); err == nil {
			defer logResp.Body.Close()
			var lines []string
			if json.NewDecoder(logResp.Body).Decode(&lines) == nil && len(lines) > 0 {
				fmt.Println("\nRecent log entries:")
				for _, line := range lines {
					fmt.Println("  " + line)
				}
			}
		}
	}

	fmt.Println("=========================")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	logger := zap.NewNop()
	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()
	cfg := policy.NewConfigStore(store, logger)

	fmt.Println("\n=== Configured Fields ===")
	for _, f := range cfg.Fields() {
		state := "enabled"
		if !f.Enabled {
			state = "disabled"
		}
		fmt.Printf("  [%s] %s  (%s, %s)\n", f.Key, f.Label, f.Selector, state)
	}

	fmt.Println("\n=== Rules (evaluation order) ===")
	for i, r := range cfg.Rules() {
		state := ""
		if !r.Enabled {
			state = "  [disabled]"
		}
		fmt.Printf("  %2d. %s  %s %q%s\n", i+1, r.Name, r.PatternType, r.Pattern, state)
	}

	fmt.Println("\n=== Prefixes ===")
	for _, p := range cfg.Prefixes() {
		hotkey := "-"
		if p.HotkeyDigit >= 1 && p.HotkeyDigit <= 9 {
			hotkey = fmt.Sprintf("Alt+%d", p.HotkeyDigit)
		}
		fmt.Printf("  %s -> %q  (hotkey %s, sticky %d)\n", p.Label, p.Value, hotkey, p.StickyCount)
	}

	fmt.Println()
	return nil
}

// leaderSession picks the attach target for one-shot injection,
// preferring the leader; any session forwards to it anyway.
func leaderSession(client *http.Client) (string, error) {
	resp, err := client.Get("http://" + bridgeAddr + "/sessions")
	if err != nil {
		return "", fmt.Errorf("agent not reachable at %s: %w", bridgeAddr, err)
	}
	defer resp.Body.Close()

	var sessions []struct {
		ID     string `json:"id"`
		Leader bool   `json:"leader"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return "", fmt.Errorf("malformed session list: %w", err)
	}
	if len(sessions) == 0 {
		return "", fmt.Errorf("no workspace tab is attached")
	}

	target := sessions[0].ID
	for _, s := range sessions {
		if s.Leader {
			target = s.ID
			break
		}
	}
	return target, nil
}

func postInjection(client *http.Client, target, endpoint string, payload map[string]string) error {
	body, _ := json.Marshal(payload)
	post, err := client.Post(
		fmt.Sprintf("http://%s/sessions/%s/%s", bridgeAddr, target, endpoint),
		"application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer post.Body.Close()

	if post.StatusCode >= 300 {
		out, _ := io.ReadAll(post.Body)
		return fmt.Errorf("%s rejected: %s", endpoint, string(out))
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	target, err := leaderSession(client)
	if err != nil {
		return err
	}
	if err := postInjection(client, target, "scan", map[string]string{"text": args[0], "source": "manual"}); err != nil {
		return err
	}
	fmt.Printf("Scan %q submitted.\n", args[0])
	return nil
}

func runPrefix(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 3 * time.Second}

	body, _ := json.Marshal(map[string]string{"label": args[0]})
	resp, err := client.Post("http://"+bridgeAddr+"/prefix", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent not reachable at %s: %w", bridgeAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		out, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("prefix rejected: %s", string(out))
	}

	var result struct {
		Active string `json:"active"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("malformed prefix response: %w", err)
	}
	if result.Active == "" {
		fmt.Printf("Prefix %q deactivated.\n", args[0])
	} else {
		fmt.Printf("Prefix %q active.\n", result.Active)
	}
	return nil
}

func runMacro(cmd *cobra.Command, args []string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	target, err := leaderSession(client)
	if err != nil {
		return err
	}
	if err := postInjection(client, target, "macro", map[string]string{"name": args[0]}); err != nil {
		return err
	}
	fmt.Printf("Macro %q submitted.\n", args[0])
	return nil
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		out, _ := json.Marshal(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		fmt.Println(string(out))
		return
	}
	fmt.Printf("armorylink %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}
