// File: internal/browser/driver.go
// Description: Headless-browser driver. Owns the chromedp allocator and a
// single tab context, and implements the executor, navigator and rule
// checker contracts against the live page.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cicerone-dev/cicerone/internal/config"
)

// Driver wraps one browser process with one active tab. All actions are
// paced through a rate limiter so guided execution never hammers the target.
type Driver struct {
	cfg     config.BrowserConfig
	logger  *zap.Logger
	limiter *rate.Limiter

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
}

// NewDriver builds the driver without launching anything. Start launches the
// browser; EnsureReady launches it lazily on first use.
func NewDriver(cfg config.BrowserConfig, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		return nil, fmt.Errorf("cannot initialize browser driver with nil dependencies")
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 15 * time.Second
	}
	if cfg.ActionsPerSec <= 0 {
		cfg.ActionsPerSec = 2
	}
	return &Driver{
		cfg:     cfg,
		logger:  logger.Named("browser"),
		limiter: rate.NewLimiter(rate.Limit(cfg.ActionsPerSec), 1),
	}, nil
}

// Start launches the browser process and opens the tab. It verifies the
// browser responds before returning.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startLocked(ctx)
}

func (d *Driver) startLocked(ctx context.Context) error {
	if d.tabCtx != nil && d.tabCtx.Err() == nil {
		return nil
	}
	d.closeLocked()

	opts := d.buildAllocatorOptions()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Confirm the browser is alive before handing the tab out.
	testCtx, cancel := context.WithTimeout(tabCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(testCtx,
		network.Enable(),
		chromedp.Navigate("about:blank"),
	); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("browser failed to start or respond: %w", err)
	}

	// Network-level load failures are logged for health diagnosis; the
	// per-action error taxonomy is derived from the action errors themselves.
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		if failed, ok := ev.(*network.EventLoadingFailed); ok {
			d.logger.Debug("Resource failed to load",
				zap.String("error", failed.ErrorText),
				zap.String("type", string(failed.Type)))
		}
	})

	d.allocCancel = allocCancel
	d.tabCtx = tabCtx
	d.tabCancel = tabCancel
	d.logger.Info("Browser launched", zap.Bool("headless", d.cfg.Headless))
	return nil
}

func (d *Driver) buildAllocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", d.cfg.Headless))
	if d.cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	for _, arg := range d.cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Close tears down the tab and the browser process.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked()
}

func (d *Driver) closeLocked() {
	if d.tabCancel != nil {
		d.tabCancel()
		d.tabCancel = nil
		d.tabCtx = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
}

// tab returns the live tab context, or an error when the browser is gone.
// A dead tab is an infrastructure failure, not a step-level one.
func (d *Driver) tab() (context.Context, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.tabCtx == nil {
		return nil, fmt.Errorf("browser not started")
	}
	if err := d.tabCtx.Err(); err != nil {
		return nil, fmt.Errorf("browser context lost: %w", err)
	}
	return d.tabCtx, nil
}

// EnsureReady implements the navigator contract: the browser is launched if
// needed, and when the capability names a URL the tab is brought there.
func (d *Driver) EnsureReady(ctx context.Context, capability string) error {
	d.mu.Lock()
	if err := d.startLocked(ctx); err != nil {
		d.mu.Unlock()
		return err
	}
	tabCtx := d.tabCtx
	d.mu.Unlock()

	target, ok := capabilityURL(capability)
	if !ok {
		// Named capabilities without a URL only need a responsive browser.
		probeCtx, cancel := context.WithTimeout(tabCtx, d.cfg.ActionTimeout)
		defer cancel()
		var title string
		return chromedp.Run(probeCtx, chromedp.Title(&title))
	}

	navCtx, cancel := context.WithTimeout(tabCtx, d.cfg.ActionTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to ready capability %q: %w", capability, err)
	}
	return nil
}

// capabilityURL reports whether the capability names a navigable URL.
func capabilityURL(capability string) (string, bool) {
	u, err := url.Parse(capability)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	return capability, true
}
