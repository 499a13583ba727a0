package caddy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gitlab.lucky-team.pro/luckyads/go.domain-manager/internal/storage/file"
)

// fakeControlPlane mimics the admin API: POST /load adopts the body as
// current config, GET /config/ serves it back. Loads can be forced to
// fail to exercise rollback.
type fakeControlPlane struct {
	mu         sync.Mutex
	current    []byte
	loads      int
	rejectNext int
}

func (f *fakeControlPlane) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/load", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		f.mu.Lock()
		defer f.mu.Unlock()
		f.loads++
		if f.rejectNext > 0 {
			f.rejectNext--
			http.Error(w, `{"error":"loading config: validation failed"}`, http.StatusBadRequest)
			return
		}
		f.current = body
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/config/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write(f.current) //nolint:errcheck,gosec
	})
	return mux
}

func (f *fakeControlPlane) rejectNextLoad() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejectNext = 1
}

func (f *fakeControlPlane) liveConfig(t *testing.T) *Config {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var cfg Config
	require.NoError(t, json.Unmarshal(f.current, &cfg))
	return &cfg
}

func newTestConfigurator(t *testing.T) (*Configurator, *fakeControlPlane, *file.Documents) {
	t.Helper()

	fake := &fakeControlPlane{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	docs := file.NewDocuments(
		filepath.Join(dir, "pending.json"),
		filepath.Join(dir, "caddy.json"),
	)

	configurator := NewConfigurator(NewClient(srv.URL, time.Second), docs, zap.NewNop(), 443, false)
	require.NoError(t, configurator.Init(context.Background()))
	return configurator, fake, docs
}

func TestConfiguratorInit(t *testing.T) {
	t.Parallel()

	t.Run("check init pushes default config and snapshot", func(t *testing.T) {
		t.Parallel()

		_, fake, docs := newTestConfigurator(t)

		require.Empty(t, fake.liveConfig(t).Hosts())

		snapshot, err := docs.LoadSnapshot()
		require.NoError(t, err)
		require.NotNil(t, snapshot)
	})

	t.Run("check init restores previous snapshot", func(t *testing.T) {
		t.Parallel()

		configurator, fake, docs := newTestConfigurator(t)
		require.NoError(t, configurator.AddDomain(context.Background(), "custom.example.org", "1.2.3.4:443"))

		// Second configurator over the same storage simulates a restart.
		srv := httptest.NewServer(fake.handler())
		t.Cleanup(srv.Close)
		fake.mu.Lock()
		fake.current = nil
		fake.mu.Unlock()

		restored := NewConfigurator(NewClient(srv.URL, time.Second), docs, zap.NewNop(), 443, false)
		require.NoError(t, restored.Init(context.Background()))

		require.Contains(t, fake.liveConfig(t).Hosts(), "custom.example.org")
	})
}

func TestConfiguratorTransactions(t *testing.T) {
	t.Parallel()

	t.Run("check successful add is visible in listing", func(t *testing.T) {
		t.Parallel()

		configurator, _, _ := newTestConfigurator(t)
		require.NoError(t, configurator.AddDomain(context.Background(), "custom.example.org", "1.2.3.4:443"))

		domains, err := configurator.ListDomains(context.Background())
		require.NoError(t, err)
		require.Contains(t, domains, "custom.example.org")
	})

	t.Run("check rejected add rolls back to prior state", func(t *testing.T) {
		t.Parallel()

		configurator, fake, _ := newTestConfigurator(t)
		require.NoError(t, configurator.AddDomain(context.Background(), "a.example.org", "1.2.3.4:443"))

		before, err := configurator.ListDomains(context.Background())
		require.NoError(t, err)

		fake.rejectNextLoad()
		err = configurator.AddDomain(context.Background(), "b.example.org", "1.2.3.4:443")
		require.ErrorIs(t, err, ErrControlPlane)

		after, err := configurator.ListDomains(context.Background())
		require.NoError(t, err)
		require.Equal(t, before, after)

		// A later transaction succeeds against the restored state.
		require.NoError(t, configurator.AddDomain(context.Background(), "b.example.org", "1.2.3.4:443"))
	})

	t.Run("check rejected delete rolls back to prior state", func(t *testing.T) {
		t.Parallel()

		configurator, fake, _ := newTestConfigurator(t)
		require.NoError(t, configurator.AddDomain(context.Background(), "a.example.org", "1.2.3.4:443"))

		fake.rejectNextLoad()
		require.ErrorIs(t,
			configurator.DeleteDomain(context.Background(), "a.example.org"),
			ErrControlPlane,
		)

		domains, err := configurator.ListDomains(context.Background())
		require.NoError(t, err)
		require.Contains(t, domains, "a.example.org")
	})

	t.Run("check conflicting add does not touch the control plane", func(t *testing.T) {
		t.Parallel()

		configurator, fake, _ := newTestConfigurator(t)
		require.NoError(t, configurator.AddDomain(context.Background(), "custom.example.org", "1.2.3.4:443"))

		fake.mu.Lock()
		loadsBefore := fake.loads
		fake.mu.Unlock()

		err := configurator.AddDomain(context.Background(), "custom.example.org", "5.6.7.8:443")
		require.ErrorIs(t, err, ErrRouteConflict)

		fake.mu.Lock()
		loadsAfter := fake.loads
		fake.mu.Unlock()
		require.Equal(t, loadsBefore, loadsAfter)
	})

	t.Run("check delete of unknown domain errors without a load", func(t *testing.T) {
		t.Parallel()

		configurator, _, _ := newTestConfigurator(t)
		require.ErrorIs(t,
			configurator.DeleteDomain(context.Background(), "unknown.example.org"),
			ErrRouteNotFound,
		)
	})

	t.Run("check snapshot tracks the last successful load", func(t *testing.T) {
		t.Parallel()

		configurator, fake, docs := newTestConfigurator(t)
		require.NoError(t, configurator.AddDomain(context.Background(), "a.example.org", "1.2.3.4:443"))

		fake.rejectNextLoad()
		require.Error(t, configurator.AddDomain(context.Background(), "b.example.org", "1.2.3.4:443"))

		snapshot, err := docs.LoadSnapshot()
		require.NoError(t, err)

		var cfg Config
		require.NoError(t, json.Unmarshal(snapshot, &cfg))
		require.Equal(t, []string{"a.example.org"}, cfg.Hosts())
	})
}
