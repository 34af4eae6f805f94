package webagent

import (
	"context"
	"fmt"

	"github.com/nexuscrew/orchestrator/internal/browserctl"
	"github.com/nexuscrew/orchestrator/internal/setofmark"
)

// controllerDriver adapts *browserctl.Controller to BrowserDriver (and, by
// embedding, to toolkit.BrowserExecutor). The controller's Visit and ClickID
// report an extra bool (URL changed / new window opened); the loop's act()
// step re-derives new-window detection itself from GetTabsInformation, so
// the bool is discarded here rather than threaded through the interface.
type controllerDriver struct {
	*browserctl.Controller
}

// NewControllerDriver wraps a browser controller for use as a BrowserDriver.
func NewControllerDriver(c *browserctl.Controller) BrowserDriver {
	return controllerDriver{Controller: c}
}

func (d controllerDriver) Visit(url string) error {
	_, err := d.Controller.Visit(url)
	return err
}

func (d controllerDriver) ClickID(elementID string) error {
	_, err := d.Controller.ClickID(elementID)
	return err
}

func (d controllerDriver) GetTabsInformation() ([]TabInfo, error) {
	tabs, err := d.Controller.GetTabsInformation()
	if err != nil {
		return nil, err
	}
	out := make([]TabInfo, len(tabs))
	for i, t := range tabs {
		out[i] = TabInfo{Index: t.Index, Title: t.Title, URL: t.URL, IsActive: t.IsActive, IsControlled: t.IsControlled}
	}
	return out, nil
}

func (d controllerDriver) GetInteractiveRects() (map[string]setofmark.InteractiveRegion, error) {
	return d.Controller.GetInteractiveRects()
}

func (d controllerDriver) GetScreenshot(ctx context.Context) ([]byte, error) {
	return d.Controller.GetScreenshot(ctx)
}

func (d controllerDriver) DescribePage(ctx context.Context, withScreenshot bool) (string, []byte, string, error) {
	return d.Controller.DescribePage(ctx, withScreenshot)
}

// chromeDPDriver adapts *browserctl.ChromeDPController to BrowserDriver, for
// deployments that set BrowserConfig.Driver to "chromedp" instead of the
// default "playwright".
type chromeDPDriver struct {
	*browserctl.ChromeDPController
}

// NewChromeDPDriver wraps a chromedp-backed controller for use as a
// BrowserDriver.
func NewChromeDPDriver(c *browserctl.ChromeDPController) BrowserDriver {
	return chromeDPDriver{ChromeDPController: c}
}

func (d chromeDPDriver) Visit(url string) error {
	_, err := d.ChromeDPController.Visit(url)
	return err
}

func (d chromeDPDriver) ClickID(elementID string) error {
	_, err := d.ChromeDPController.ClickID(elementID)
	return err
}

func (d chromeDPDriver) GetTabsInformation() ([]TabInfo, error) {
	tabs, err := d.ChromeDPController.GetTabsInformation()
	if err != nil {
		return nil, err
	}
	out := make([]TabInfo, len(tabs))
	for i, t := range tabs {
		out[i] = TabInfo{Index: t.Index, Title: t.Title, URL: t.URL, IsActive: t.IsActive, IsControlled: t.IsControlled}
	}
	return out, nil
}

func (d chromeDPDriver) GetInteractiveRects() (map[string]setofmark.InteractiveRegion, error) {
	return d.ChromeDPController.GetInteractiveRects()
}

func (d chromeDPDriver) GetScreenshot(ctx context.Context) ([]byte, error) {
	return d.ChromeDPController.GetScreenshot(ctx)
}

func (d chromeDPDriver) DescribePage(ctx context.Context, withScreenshot bool) (string, []byte, string, error) {
	return d.ChromeDPController.DescribePage(ctx, withScreenshot)
}

// NewDriver launches a browser session via the driver named by driverName
// ("playwright" default, or "chromedp") and returns it wrapped as a
// BrowserDriver along with its teardown func.
func NewDriver(driverName string, cfg browserctl.Config) (BrowserDriver, func() error, error) {
	switch driverName {
	case "", "playwright":
		c, err := browserctl.Launch(cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewControllerDriver(c), c.Close, nil
	case "chromedp":
		c, err := browserctl.LaunchChromeDP(cfg)
		if err != nil {
			return nil, nil, err
		}
		return NewChromeDPDriver(c), c.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown browser driver %q", driverName)
	}
}
