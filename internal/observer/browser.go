package observer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserConfig selects the Chrome instance to observe.
type BrowserConfig struct {
	// ControlURL is a DevTools websocket URL. Empty launches a local Chrome.
	ControlURL   string
	Headless     bool
	PollInterval time.Duration
}

// Browser observes one live tab through the DevTools protocol.
type Browser struct {
	browser  *rod.Browser
	page     *rod.Page
	launched bool
	poll     time.Duration
	logger   *slog.Logger
}

var _ Source = (*Browser)(nil)

// counterJS installs a MutationObserver that counts DOM changes on the page.
// It is idempotent so it can be re-run after every navigation.
const counterJS = `() => {
	const w = window;
	if (w.__scribeObserved) return true;
	w.__scribeObserved = true;
	w.__scribeMutations = 0;
	const obs = new MutationObserver((records) => { w.__scribeMutations += records.length; });
	obs.observe(document.documentElement || document.body, { childList: true, subtree: true, characterData: true });
	return true;
}`

const readCounterJS = `() => window.__scribeMutations || 0`

// OpenBrowser connects to (or launches) Chrome and attaches to the tab showing
// pageURL, opening one when no tab matches.
func OpenBrowser(ctx context.Context, cfg BrowserConfig, pageURL string, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}

	controlURL := cfg.ControlURL
	launched := false
	if controlURL == "" {
		u, err := launcher.New().Headless(cfg.Headless).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = u
		launched = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := findPage(browser, pageURL)
	if err != nil {
		_ = browser.Close()
		return nil, err
	}
	if err := page.WaitLoad(); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("wait for page load: %w", err)
	}

	logger.Info("attached to page", "url", pageURL, "launched", launched)
	return &Browser{browser: browser, page: page, launched: launched, poll: poll, logger: logger}, nil
}

func findPage(browser *rod.Browser, pageURL string) (*rod.Page, error) {
	pages, err := browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if strings.HasPrefix(info.URL, pageURL) {
			return p, nil
		}
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}

// Snapshot returns the current HTML, URL and title of the tab.
func (b *Browser) Snapshot(ctx context.Context) (Snapshot, error) {
	page := b.page.Context(ctx)
	html, err := page.HTML()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read page html: %w", err)
	}
	info, err := page.Info()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read page info: %w", err)
	}
	return Snapshot{URL: info.URL, Title: info.Title, HTML: html, TakenAt: time.Now().UTC()}, nil
}

// Run polls the injected mutation counter and treats main-frame navigation as
// a mutation too.
func (b *Browser) Run(ctx context.Context, notify func()) error {
	page := b.page.Context(ctx)
	if err := b.install(page); err != nil {
		return err
	}

	navigated := make(chan struct{}, 1)
	wait := page.EachEvent(func(ev *proto.PageFrameNavigated) {
		if ev.Frame.ParentID != "" {
			return
		}
		select {
		case navigated <- struct{}{}:
		default:
		}
	})
	go wait()

	ticker := time.NewTicker(b.poll)
	defer ticker.Stop()

	var last int
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-navigated:
			if err := b.install(page); err != nil {
				b.logger.Warn("reinstall mutation counter failed", "error", err)
			}
			last = 0
			notify()
		case <-ticker.C:
			res, err := page.Eval(readCounterJS)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.logger.Debug("read mutation counter failed", "error", err)
				continue
			}
			if n := res.Value.Int(); n != last {
				last = n
				notify()
			}
		}
	}
}

func (b *Browser) install(page *rod.Page) error {
	if _, err := page.Eval(counterJS); err != nil {
		return fmt.Errorf("install mutation counter: %w", err)
	}
	return nil
}

// Close disconnects, and shuts Chrome down when this process launched it.
func (b *Browser) Close() error {
	if b.launched {
		return b.browser.Close()
	}
	return nil
}
