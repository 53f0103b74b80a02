package lapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fbonalair/crowdsec-stream-bouncer/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Slack for the server seeing requests a little later than they were issued.
const tolerance = 5 * time.Millisecond

type fakeLapi struct {
	mu       sync.Mutex
	requests []*http.Request
	times    []time.Time
	// status codes to answer with, in order; once exhausted every answer is 200
	statuses []int
	latency  time.Duration
}

func (f *fakeLapi) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.times = append(f.times, time.Now())
	status := http.StatusOK
	if len(f.statuses) > 0 {
		status, f.statuses = f.statuses[0], f.statuses[1:]
	}
	f.mu.Unlock()

	time.Sleep(f.latency)
	w.WriteHeader(status)
	if status == http.StatusOK {
		_, _ = w.Write([]byte(`{"new": [{"duration":"1h","origin":"crowdsec","scenario":"crowdsecurity/ssh-bf","scope":"Ip","type":"ban","value":"1.2.3.4"}], "deleted": null}`))
	}
}

func (f *fakeLapi) snapshot() ([]*http.Request, []time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...), append([]time.Time(nil), f.times...)
}

func (f *fakeLapi) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newStreamFixture(t *testing.T, fake *fakeLapi) *Client {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := NewClient(server.URL, apiKey)
	require.NoError(t, err)
	return client
}

func TestStreamThrottlesFetches(t *testing.T) {
	fake := &fakeLapi{}
	client := newStreamFixture(t, fake)
	interval := 100 * time.Millisecond

	start := time.Now()
	received := 0
	for decisions, err := range client.StreamDecisions(context.Background(), model.StreamOptions{}, interval) {
		require.NoError(t, err)
		assert.Len(t, decisions.New, 1)
		received++
		if received == 3 {
			break
		}
	}

	_, times := fake.snapshot()
	require.Len(t, times, 3)
	assert.Less(t, times[0].Sub(start), interval, "first fetch must not wait")
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), interval-tolerance)
	}
}

func TestStreamWaitDoesNotCompoundWithFetchTime(t *testing.T) {
	fake := &fakeLapi{latency: 60 * time.Millisecond}
	client := newStreamFixture(t, fake)
	interval := 150 * time.Millisecond

	received := 0
	for _, err := range client.StreamDecisions(context.Background(), model.StreamOptions{}, interval) {
		require.NoError(t, err)
		received++
		if received == 2 {
			break
		}
	}

	_, times := fake.snapshot()
	require.Len(t, times, 2)
	gap := times[1].Sub(times[0])
	assert.GreaterOrEqual(t, gap, interval-tolerance)
	assert.Less(t, gap, interval+fake.latency, "wait is measured from the previous fetch start")
}

func TestStreamClearsStartupAfterFirstSuccess(t *testing.T) {
	fake := &fakeLapi{}
	client := newStreamFixture(t, fake)
	opts := model.NewStreamOptionsBuilder().Startup(true).Origin("crowdsec").Build()

	received := 0
	for _, err := range client.StreamDecisions(context.Background(), opts, 0) {
		require.NoError(t, err)
		received++
		if received == 3 {
			break
		}
	}

	requests, _ := fake.snapshot()
	require.Len(t, requests, 3)
	assert.Equal(t, "true", requests[0].URL.Query().Get("startup"))
	assert.False(t, requests[1].URL.Query().Has("startup"))
	assert.False(t, requests[2].URL.Query().Has("startup"))
	assert.Equal(t, "crowdsec", requests[2].URL.Query().Get("origins"))
	assert.True(t, opts.Startup, "caller options must not change")
}

func TestStreamHaltsOnFirstError(t *testing.T) {
	fake := &fakeLapi{statuses: []int{http.StatusInternalServerError}}
	client := newStreamFixture(t, fake)

	var errs []error
	for _, err := range client.StreamDecisions(context.Background(), model.StreamOptions{}, 0) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	var statusErr *HTTPStatusError
	assert.ErrorAs(t, errs[0], &statusErr)
	assert.Equal(t, 1, fake.count())
}

func TestStreamContinueOnErrorKeepsStartup(t *testing.T) {
	fake := &fakeLapi{statuses: []int{http.StatusBadGateway, http.StatusOK}}
	client := newStreamFixture(t, fake)
	interval := 50 * time.Millisecond
	opts := model.StreamOptions{Startup: true}

	var errs []error
	for _, err := range client.StreamDecisions(context.Background(), opts, interval, ContinueOnError()) {
		errs = append(errs, err)
		if len(errs) == 3 {
			break
		}
	}

	require.Len(t, errs, 3)
	requests, times := fake.snapshot()
	assert.Error(t, errs[0])
	assert.NoError(t, errs[1])
	assert.NoError(t, errs[2])
	assert.Equal(t, "true", requests[0].URL.Query().Get("startup"))
	assert.Equal(t, "true", requests[1].URL.Query().Get("startup"), "startup is kept until a fetch succeeds")
	assert.False(t, requests[2].URL.Query().Has("startup"))
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), interval-tolerance, "errors are throttled too")
}

func TestStreamStopsWhenConsumerBreaks(t *testing.T) {
	fake := &fakeLapi{}
	client := newStreamFixture(t, fake)

	for range client.StreamDecisions(context.Background(), model.StreamOptions{}, 10*time.Millisecond) {
		break
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, fake.count())
}

func TestStreamCancelDuringWait(t *testing.T) {
	fake := &fakeLapi{}
	client := newStreamFixture(t, fake)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int)
	go func() {
		received := 0
		for range client.StreamDecisions(ctx, model.StreamOptions{}, time.Hour) {
			received++
		}
		done <- received
	}()

	require.Eventually(t, func() bool { return fake.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case received := <-done:
		assert.Equal(t, 1, received)
	case <-time.After(time.Second):
		t.Fatal("stream did not stop after cancellation")
	}
}

func TestStreamCancelDuringFetch(t *testing.T) {
	fake := &fakeLapi{latency: 500 * time.Millisecond}
	client := newStreamFixture(t, fake)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	elements := 0
	for range client.StreamDecisions(ctx, model.StreamOptions{}, 0) {
		elements++
	}

	assert.Zero(t, elements, "cancellation ends the stream without an error element")
	assert.Less(t, time.Since(start), fake.latency)
}

func TestThrottleDelay(t *testing.T) {
	last := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	interval := 5 * time.Second

	assert.Equal(t, 3*time.Second, throttleDelay(last, last.Add(2*time.Second), interval))
	assert.Equal(t, time.Duration(1), throttleDelay(last, last.Add(interval-1), interval))
	assert.Zero(t, throttleDelay(last, last.Add(interval), interval))
	assert.Zero(t, throttleDelay(last, last.Add(time.Minute), interval))
	assert.Zero(t, throttleDelay(last, last.Add(time.Second), 0))
}

func TestStreamRunsUntilDeadline(t *testing.T) {
	fake := &fakeLapi{}
	client := newStreamFixture(t, fake)
	deadline := 80 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	start := time.Now()
	for range client.StreamDecisions(ctx, model.StreamOptions{}, time.Hour) {
	}

	assert.GreaterOrEqual(t, time.Since(start), deadline, "the stream must wait for the deadline itself")
	assert.Equal(t, 1, fake.count())
}
