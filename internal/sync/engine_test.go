package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliosync/foliosync/pkg/checksum"
)

func TestNewEngine_WiresSubsystems(t *testing.T) {
	t.Parallel()

	e := NewEngine(t.TempDir(), "device-1", &fakeAPIClient{}, newFakeClock(time.Now()), discardLogger())

	assert.NotNil(t, e.Store)
	assert.NotNil(t, e.Cache)
	assert.NotNil(t, e.Pending)
	assert.NotNil(t, e.Bus)
	assert.NotNil(t, e.Queue)
	assert.NotNil(t, e.Watcher)
	assert.NotNil(t, e.Realtime)
	assert.NotNil(t, e.History)
}

func TestEngine_RunOnce_RecordsHistory(t *testing.T) {
	t.Parallel()

	content := "<html>hi</html>"
	sum := checksum.Bytes([]byte(content))

	api := &fakeAPIClient{
		StatusFunc: func(context.Context) (StatusResult, error) {
			return StatusResult{ServerTime: time.Now()}, nil
		},
		ListSitesFunc: func(context.Context) ([]SiteRecord, error) {
			return []SiteRecord{{NodeID: "1", Filename: "about", Checksum: sum, ModifiedAt: time.Now()}}, nil
		},
		DownloadFunc: func(context.Context, string) (DownloadResult, error) {
			return DownloadResult{Content: content, Checksum: sum, ModifiedAt: time.Now()}, nil
		},
	}

	e := NewEngine(t.TempDir(), "device-1", api, newFakeClock(time.Now()), discardLogger())

	_, err := e.RunOnce(context.Background(), ReconcileOptions{Mode: ModeFull})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mutations, listErr := e.History.Recent(context.Background(), 10)

		return listErr == nil && len(mutations) > 0
	}, time.Second, 10*time.Millisecond)

	e.Close()
}

func TestEngine_RunOnce_ReturnsReport(t *testing.T) {
	t.Parallel()

	api := &fakeAPIClient{
		StatusFunc: func(context.Context) (StatusResult, error) {
			return StatusResult{ServerTime: time.Now()}, nil
		},
	}

	e := NewEngine(t.TempDir(), "device-1", api, newFakeClock(time.Now()), discardLogger())

	report, err := e.RunOnce(context.Background(), ReconcileOptions{Mode: ModeFull})
	require.NoError(t, err)
	assert.Equal(t, "full", report.Mode)
}

func TestEngine_RunOnce_PropagatesStatusError(t *testing.T) {
	t.Parallel()

	api := &fakeAPIClient{
		StatusFunc: func(context.Context) (StatusResult, error) {
			return StatusResult{}, assertionError{"auth failed"}
		},
	}

	e := NewEngine(t.TempDir(), "device-1", api, newFakeClock(time.Now()), discardLogger())

	_, err := e.RunOnce(context.Background(), ReconcileOptions{Mode: ModeFull})
	assert.Error(t, err)
}

func TestEngine_StartAndClose_CleanShutdown(t *testing.T) {
	t.Parallel()

	orig := SSEWatchdogInterval
	SSEWatchdogInterval = 10 * time.Millisecond
	t.Cleanup(func() { SSEWatchdogInterval = orig })

	api := &fakeAPIClient{
		StatusFunc: func(context.Context) (StatusResult, error) {
			return StatusResult{ServerTime: time.Now()}, nil
		},
	}

	e := NewEngine(t.TempDir(), "device-1", api, newFakeClock(time.Now()), discardLogger())

	require.NoError(t, e.Start(context.Background()))

	done := make(chan struct{})

	go func() {
		e.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return promptly")
	}
}

func TestEngine_TriggerReconcile_LogsButDoesNotPanicOnError(t *testing.T) {
	t.Parallel()

	api := &fakeAPIClient{
		StatusFunc: func(context.Context) (StatusResult, error) {
			return StatusResult{}, assertionError{"boom"}
		},
	}

	e := NewEngine(t.TempDir(), "device-1", api, newFakeClock(time.Now()), discardLogger())
	e.triggerReconcile()
}
