package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindChromeBinaryPrefersEnv(t *testing.T) {
	t.Setenv("CHROME_BIN", "/opt/custom/chrome")
	assert.Equal(t, "/opt/custom/chrome", FindChromeBinary())
}

func TestNewAppliesDefaults(t *testing.T) {
	f := New(Options{})
	assert.Equal(t, DefaultSettleDelay, f.opts.SettleDelay)
	assert.NotNil(t, f.opts.Logger)
	f.Close()
}

func TestFetchRendersScriptContent(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a browser")
	}
	if FindChromeBinary() == "" {
		t.Skip("no Chrome binary available")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><div id="out"></div>
<script>document.getElementById("out").textContent = "rendered-by-script";</script>
</body></html>`)
	}))
	defer srv.Close()

	f := New(Options{SettleDelay: 100 * time.Millisecond})
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	body, err := f.Fetch(ctx, srv.URL)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "rendered-by-script"))
}
