package urlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBuildAbsolute_JoinsDashboardRoutes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		base := "https://" + rapid.StringMatching(`[a-z]{3,12}\.[a-z]{2,6}`).Draw(rt, "host")
		slashes := strings.Repeat("/", rapid.IntRange(0, 3).Draw(rt, "slashes"))
		route := "/#/instances/" + rapid.StringMatching(`testInstance[0-9]{13}`).Draw(rt, "instance") + "/sockets"

		got := BuildAbsolute(base+slashes, route)
		if got != base+route {
			rt.Fatalf("BuildAbsolute(%q, %q) = %q, want %q", base+slashes, route, got, base+route)
		}
		if strings.Contains(strings.TrimPrefix(got, "https://"), "//") {
			rt.Fatalf("double slash in %q", got)
		}
	})
}

func TestBuildAbsolute_KeepsAbsolutePaths(t *testing.T) {
	require.Equal(t, "http://other.test/#/login", BuildAbsolute("https://dashboard.syncano.io", "http://other.test/#/login"))
	require.Equal(t, "https://dashboard.syncano.io", BuildAbsolute("https://dashboard.syncano.io/", ""))
	require.Equal(t, "/#/login", BuildAbsolute("", "/#/login"))
	require.Equal(t, "https://dashboard.syncano.io/#/login", BuildAbsolute("https://dashboard.syncano.io", "#/login"))
}

func TestNormalizeBase(t *testing.T) {
	require.Equal(t, "https://api.syncano.io", NormalizeBase("  https://api.syncano.io///  "))
	require.Empty(t, NormalizeBase("   "))
}

func TestCheckHTTP(t *testing.T) {
	require.NoError(t, CheckHTTP("http://127.0.0.1:9000"))
	require.NoError(t, CheckHTTP("https://dashboard.syncano.io"))
	for _, bad := range []string{"dashboard.syncano.io", "ftp://host", "https://", "ws://localhost:9222", "%zz"} {
		require.Error(t, CheckHTTP(bad), bad)
	}
}
