package pwdriver

import (
	"testing"

	"github.com/kuitang/dashboard-e2e/internal/driver"
	"github.com/kuitang/dashboard-e2e/internal/driver/drivertest"
)

func TestConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	url := drivertest.Serve(t)

	drv, err := Open(t.Context(), driver.Options{Headless: true})
	if err != nil {
		t.Skip("Playwright not available:", err)
	}
	t.Cleanup(func() { _ = drv.Close() })

	drivertest.Run(t, drv, url)
}
