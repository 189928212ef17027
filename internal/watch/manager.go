package watch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/atlas_agent/internal/bus"
	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
)

// Manager attaches a watcher to every page tab of the browser and keeps the
// context cache fed. It also exposes the privileged tab primitives the
// session gateway needs (reload, navigate, cookie access).
type Manager struct {
	cdpURL string
	scope  classify.Scope
	sink   Sink
	exec   *cdp.Executor

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu   sync.Mutex
	tabs map[target.ID]*attachedTab
}

type attachedTab struct {
	watcher *tabWatcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// cacheSink feeds watcher output into the context cache.
type cacheSink struct {
	cache *tabctx.Cache
}

func (s cacheSink) Apply(up bus.ContextUpsert) {
	s.cache.Upsert(tabctx.TabID(up.TabID), bus.UpsertToUpdate(up))
}

func (s cacheSink) Invalidate(tabID string) {
	s.cache.Invalidate(tabctx.TabID(tabID))
}

func NewManager(cdpURL string, scope classify.Scope, cache *tabctx.Cache, exec *cdp.Executor) *Manager {
	return &Manager{
		cdpURL: cdpURL,
		scope:  scope,
		sink:   cacheSink{cache: cache},
		exec:   exec,
		tabs:   make(map[target.ID]*attachedTab),
	}
}

// Start connects to the browser, attaches to every existing page tab and
// begins following tab creation and destruction.
func (m *Manager) Start(ctx context.Context) error {
	slog.Info("Connecting tab watcher to browser", "url", m.cdpURL)

	m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(context.Background(), m.cdpURL)
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx)

	if err := chromedp.Run(m.browserCtx); err != nil {
		m.allocCancel()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	chromedp.ListenBrowser(m.browserCtx, m.browserEventHandler())

	if err := chromedp.Run(m.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(ctx)
	})); err != nil {
		return fmt.Errorf("failed to enable target discovery: %w", err)
	}

	targets, err := chromedp.Targets(m.browserCtx)
	if err != nil {
		return fmt.Errorf("failed to enumerate targets: %w", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	for _, t := range targets {
		if t.Type != "page" {
			continue
		}
		if err := m.attachToTab(t.TargetID, t.URL); err != nil {
			slog.Error("Failed to attach to tab", "target_id", t.TargetID, "url", truncateURL(t.URL), "error", err)
		}
	}
	return nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	for id, tab := range m.tabs {
		tab.cancel()
		delete(m.tabs, id)
	}
	m.mu.Unlock()

	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	slog.Info("Tab watcher closed")
	return nil
}

func (m *Manager) browserEventHandler() func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *target.EventTargetCreated:
			if e.TargetInfo.Type != "page" {
				return
			}
			id, url := e.TargetInfo.TargetID, e.TargetInfo.URL
			go func() {
				if err := m.attachToTab(id, url); err != nil {
					slog.Error("Failed to attach to new tab", "target_id", id, "error", err)
				}
			}()
		case *target.EventTargetDestroyed:
			m.detachTab(e.TargetID)
		}
	}
}

func (m *Manager) attachToTab(targetID target.ID, url string) error {
	m.mu.Lock()
	if _, ok := m.tabs[targetID]; ok {
		m.mu.Unlock()
		return nil
	}
	tabCtx, tabCancel := chromedp.NewContext(m.allocCtx, chromedp.WithTargetID(targetID))
	watcher := newTabWatcher(string(targetID), m.scope, m.sink, m.exec)
	tab := &attachedTab{watcher: watcher, ctx: tabCtx, cancel: tabCancel}
	m.tabs[targetID] = tab
	m.mu.Unlock()

	if err := chromedp.Run(tabCtx,
		page.Enable(),
		runtime.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return runtime.AddBinding(signalBinding).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(sentinelJS).Do(ctx)
			return err
		}),
	); err != nil {
		tabCancel()
		m.mu.Lock()
		delete(m.tabs, targetID)
		m.mu.Unlock()
		return fmt.Errorf("failed to enable page/runtime domains: %w", err)
	}

	chromedp.ListenTarget(tabCtx, m.createEventHandler(tab))

	// The on-new-document script only covers future navigations. Inject
	// into whatever the tab is currently showing as well.
	if injectable(url) {
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(sentinelJS, nil)); err != nil {
			slog.Warn("Failed to inject sentinel into current document", "target_id", targetID, "error", err)
		}
	}

	slog.Info("Attached to tab", "target_id", targetID, "url", truncateURL(url))
	watcher.onNavigate(tabCtx, url, watcher.nextSeq())
	return nil
}

func (m *Manager) detachTab(targetID target.ID) {
	m.mu.Lock()
	tab, ok := m.tabs[targetID]
	if ok {
		delete(m.tabs, targetID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	tab.watcher.terminate()
	m.exec.Forget(string(targetID))
	tab.cancel()
	slog.Info("Tab closed", "target_id", targetID)
}

// createEventHandler dispatches target events to the tab's watcher. chromedp
// delivers events for one target serially, and the sequence number is claimed
// here before the goroutine handoff, so the cache can commit observations in
// arrival order even when a slow handler is overtaken by a later one.
func (m *Manager) createEventHandler(tab *attachedTab) func(ev interface{}) {
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *page.EventFrameNavigated:
			if e.Frame.ParentID == "" {
				slog.Debug("Tab navigated (full)", "tab_id", tab.watcher.tabID, "url", truncateURL(e.Frame.URL))
				seq := tab.watcher.nextSeq()
				go tab.watcher.onNavigate(tab.ctx, e.Frame.URL, seq)
			}
		case *page.EventNavigatedWithinDocument:
			slog.Debug("Tab navigated (SPA)", "tab_id", tab.watcher.tabID, "url", truncateURL(e.URL))
			seq := tab.watcher.nextSeq()
			go tab.watcher.onNavigate(tab.ctx, e.URL, seq)
		case *runtime.EventBindingCalled:
			if e.Name == signalBinding {
				seq := tab.watcher.nextSeq()
				go tab.watcher.onSignal(tab.ctx, e.Payload, seq)
			}
		}
	}
}

func (m *Manager) tabContext(tabID string) (context.Context, error) {
	m.mu.Lock()
	tab, ok := m.tabs[target.ID(tabID)]
	m.mu.Unlock()
	if !ok {
		return nil, cdp.NewError(cdp.CodeTabGone, fmt.Sprintf("tab %s is not attached", tabID), nil)
	}
	return tab.ctx, nil
}

// Reload reloads a tab. Used after credential purges and filter rewrites.
func (m *Manager) Reload(ctx context.Context, tabID string) error {
	tabCtx, err := m.tabContext(tabID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload tab %s: %w", tabID, err)
	}
	return nil
}

// Navigate points a tab at a new URL.
func (m *Manager) Navigate(ctx context.Context, tabID, url string) error {
	tabCtx, err := m.tabContext(tabID)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate tab %s: %w", tabID, err)
	}
	return nil
}

// Cookies returns every cookie the browser holds.
func (m *Manager) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	runCtx, cancel := context.WithTimeout(m.browserCtx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// DeleteCookie removes one cookie by name, domain and path.
func (m *Manager) DeleteCookie(ctx context.Context, name, domain, path string) error {
	runCtx, cancel := context.WithTimeout(m.browserCtx, 10*time.Second)
	defer cancel()
	err := chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.DeleteCookies(name).WithDomain(domain).WithPath(path).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to delete cookie %s for %s: %w", name, domain, err)
	}
	return nil
}

// TabCount reports how many tabs are currently attached.
func (m *Manager) TabCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tabs)
}

func injectable(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
