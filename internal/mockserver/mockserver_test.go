package mockserver

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speculare-cloud/speculare-client/internal/agent"
	"github.com/speculare-cloud/speculare-client/internal/cache"
	"github.com/speculare-cloud/speculare-client/internal/scheduler"
	"github.com/speculare-cloud/speculare-client/internal/transport"
)

type countingHarvester struct {
	n int
}

func (h *countingHarvester) Harvest(context.Context, bool) agent.Snapshot {
	s := agent.Snapshot{UUID: "host-1", Uptime: new(int64)}
	*s.Uptime = int64(h.n)
	h.n++
	return s
}

func uptimes(batch []agent.Snapshot) []int64 {
	out := make([]int64, len(batch))
	for i, s := range batch {
		out[i] = *s.Uptime
	}
	return out
}

func TestNormalizeAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:0", normalizeAddr(""))
	assert.Equal(t, "127.0.0.1:9000", normalizeAddr(":9000"))
	assert.Equal(t, "0.0.0.0:9000", normalizeAddr("0.0.0.0:9000"))
}

func TestIngest_AcceptsBatch(t *testing.T) {
	srv, cleanup := StartTestServer(nil)
	defer cleanup()

	client := transport.New(srv.APIURL(), "token", "host-1")
	class, err := client.Send(context.Background(), []agent.Snapshot{{UUID: "host-1"}, {UUID: "host-1"}})
	require.NoError(t, err)
	assert.Equal(t, transport.Accepted, class)

	batches := srv.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, 1, srv.Requests())
}

func TestIngest_RejectsInvalidBody(t *testing.T) {
	srv, cleanup := StartTestServer(nil)
	defer cleanup()

	resp, err := http.Post(srv.APIURL(), "application/json", strings.NewReader(`{"not":"an array"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, srv.Batches())
}

func TestIngest_RequiresToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Token = "expected"
	srv := New(cfg)
	require.NoError(t, srv.Start())
	defer srv.Stop(context.Background())

	class, err := transport.New(srv.APIURL(), "wrong", "host-1").Send(context.Background(), nil)
	assert.Equal(t, transport.Rejected, class)
	var se *transport.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)

	class, err = transport.New(srv.APIURL(), "expected", "host-1").Send(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, transport.Accepted, class)
}

func TestIngest_RegistrationFlow(t *testing.T) {
	srv, cleanup := StartTestServer(&BehaviorProfile{RequireRegistration: true})
	defer cleanup()

	client := transport.New(srv.APIURL(), "token", "host-1", transport.WithSSOURL(srv.SSOURL()))
	ctx := context.Background()

	class, err := client.Send(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, transport.PreconditionFailed, class)

	require.NoError(t, client.Register(ctx))

	class, err = client.Send(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, transport.Accepted, class)
}

func TestIngest_LatencyExceedsSendTimeout(t *testing.T) {
	srv, cleanup := StartTestServer(&BehaviorProfile{LatencyMs: 500})
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	class, err := transport.New(srv.APIURL(), "token", "host-1").Send(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, transport.Unknown, class)
	assert.Equal(t, transport.ErrorTypeTimeout, transport.MapError(err))
}

func TestScheduler_RetainsUntilServerRecovers(t *testing.T) {
	srv, cleanup := StartTestServer(&BehaviorProfile{FailFirst: 2})
	defer cleanup()

	client := transport.New(srv.APIURL(), "token", "host-1")
	sched, err := scheduler.New(
		scheduler.Settings{HarvestInterval: 1, SyncingInterval: 1, LoadavgInterval: 1, CacheSize: 8},
		&countingHarvester{}, cache.New(8), client)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := sched.Tick(context.Background())
		require.NoError(t, err)
	}

	batches := srv.Batches()
	require.Len(t, batches, 2)
	assert.Equal(t, []int64{0, 1, 2}, uptimes(batches[0]))
	assert.Equal(t, []int64{3}, uptimes(batches[1]))
	assert.Equal(t, 4, srv.Requests())

	st := sched.Stats()
	assert.Equal(t, int64(2), st.SyncFailed)
	assert.Equal(t, int64(2), st.SyncAccepted)
	assert.Equal(t, 0, st.CacheDepth)
}

func TestScheduler_ReregistersOnPreconditionFailed(t *testing.T) {
	srv, cleanup := StartTestServer(&BehaviorProfile{RequireRegistration: true})
	defer cleanup()

	client := transport.New(srv.APIURL(), "token", "host-1", transport.WithSSOURL(srv.SSOURL()))
	sched, err := scheduler.New(
		scheduler.Settings{HarvestInterval: 1, SyncingInterval: 1, LoadavgInterval: 1},
		&countingHarvester{}, cache.New(1), client, scheduler.WithRegistrar(client))
	require.NoError(t, err)

	_, err = sched.Tick(context.Background())
	require.NoError(t, err)

	batches := srv.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, []int64{0}, uptimes(batches[0]))
	assert.Equal(t, int64(1), sched.Stats().Reregistrations)
}
