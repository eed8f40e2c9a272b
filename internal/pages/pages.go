// Package pages holds the element tables for the Syncano dashboard views the
// suite drives.
package pages

import (
	"embed"

	"github.com/kuitang/dashboard-e2e/internal/pageobject"
)

// Page names registered by Default.
const (
	Login           = "loginPage"
	Instances       = "instancesPage"
	ScriptEndpoints = "scriptEndpointsPage"
	Sockets         = "socketsPage"
)

//go:embed tables/*.yaml
var tables embed.FS

// Default returns a registry loaded with every dashboard page, with relative
// URLs resolved against dashboardURL.
func Default(dashboardURL string) (*pageobject.Registry, error) {
	r := pageobject.NewRegistry(dashboardURL)
	if err := r.LoadFS(tables, "tables/*.yaml"); err != nil {
		return nil, err
	}
	return r, nil
}
