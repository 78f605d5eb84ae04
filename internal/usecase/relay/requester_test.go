package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcbridge/internal/domain"
)

func newTestRequester(src *fakeSource, table *PendingTable, opts ...RequesterOption) *Requester {
	return NewRequester(src, table, newTestLogger(), opts...)
}

// respondWith makes conn answer every request after delay with the frame
// built by build.
func respondWith(conn *fakeConn, table *PendingTable, delay time.Duration, build func(requestID string) string) {
	conn.onWrite = func(raw json.RawMessage) {
		id := requestIDOf(raw)
		go func() {
			time.Sleep(delay)
			table.Resolve(id, json.RawMessage(build(id)))
		}()
	}
}

func TestRequester_UnavailableFailsImmediately(t *testing.T) {
	table := NewPendingTable()
	r := newTestRequester(&fakeSource{}, table)

	start := time.Now()
	_, err := r.Request(context.Background(), domain.KindTPS, 5*time.Second)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Less(t, elapsed, time.Second, "unavailable should not wait for the timeout")
	assert.Equal(t, 0, table.Len())
}

func TestRequester_ReturnsResponseUnmodified(t *testing.T) {
	table := NewPendingTable()
	conn := newFakeConn("c1")
	src := &fakeSource{conn: conn}

	var frame string
	respondWith(conn, table, 20*time.Millisecond, func(id string) string {
		frame = fmt.Sprintf(`{"type":"list_response","request_id":%q,"count":3,"max":20,"players":["A","B","C"]}`, id)
		return frame
	})

	r := newTestRequester(src, table)
	start := time.Now()
	got, err := r.Request(context.Background(), domain.KindList, 5*time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, frame, string(got))
	assert.Equal(t, 0, table.Len())

	sent := conn.written()
	require.Len(t, sent, 1)
	var req domain.Request
	require.NoError(t, json.Unmarshal(sent[0], &req))
	assert.Equal(t, domain.KindList, req.Type)
	assert.NotEmpty(t, req.RequestID)
}

func TestRequester_TimesOut(t *testing.T) {
	table := NewPendingTable()
	r := newTestRequester(&fakeSource{conn: newFakeConn("c1")}, table)

	_, err := r.Request(context.Background(), domain.KindList, 20*time.Millisecond)
	assert.ErrorIs(t, err, domain.ErrTimedOut)
	assert.Equal(t, 0, table.Len())
}

func TestRequester_NoLeakAfterManyTimeouts(t *testing.T) {
	table := NewPendingTable()
	r := newTestRequester(&fakeSource{conn: newFakeConn("c1")}, table)

	var wg sync.WaitGroup
	var mu sync.Mutex
	timedOut := 0
	for i := 0; i < 1000; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Request(context.Background(), domain.KindTPS, time.Millisecond)
			if errors.Is(err, domain.ErrTimedOut) {
				mu.Lock()
				timedOut++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, timedOut)
	assert.Equal(t, 0, table.Len())
}

func TestRequester_SendFailureIsUnavailable(t *testing.T) {
	table := NewPendingTable()
	conn := newFakeConn("c1")
	conn.writeErr = errors.New("connection closed")
	r := newTestRequester(&fakeSource{conn: conn}, table)

	_, err := r.Request(context.Background(), domain.KindList, 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrSendFailure)
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Equal(t, 0, table.Len())
}

func TestRequester_RequestIDsAreDistinct(t *testing.T) {
	table := NewPendingTable()
	conn := newFakeConn("c1")
	respondWith(conn, table, 0, func(id string) string {
		return fmt.Sprintf(`{"type":"tps_response","request_id":%q,"dimensions":{}}`, id)
	})
	r := newTestRequester(&fakeSource{conn: conn}, table)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Request(context.Background(), domain.KindTPS, 5*time.Second)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, raw := range conn.written() {
		id := requestIDOf(raw)
		assert.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, 0, table.Len())
}

func TestRequester_DisconnectFailsPendingRequests(t *testing.T) {
	table := NewPendingTable()
	conn := newFakeConn("c1")
	src := &fakeSource{conn: conn}
	r := newTestRequester(src, table)
	d := NewDispatcher(table, &fakeNotifier{}, newTestLogger())

	const n = 10
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := r.Request(context.Background(), domain.KindList, 5*time.Second)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return table.Len() == n }, 2*time.Second, 5*time.Millisecond)

	src.set(nil)
	d.Disconnected(context.Background(), "c1", true)

	for i := 0; i < n; i++ {
		select {
		case err := <-errs:
			assert.ErrorIs(t, err, domain.ErrUnavailable)
		case <-time.After(2 * time.Second):
			t.Fatal("request did not finish after disconnect")
		}
	}
	assert.Equal(t, 0, table.Len())
}

func TestRequester_ContextCancel(t *testing.T) {
	table := NewPendingTable()
	r := newTestRequester(&fakeSource{conn: newFakeConn("c1")}, table)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := r.Request(ctx, domain.KindList, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, table.Len())
}

func TestRequester_TypedHelpers(t *testing.T) {
	table := NewPendingTable()
	conn := newFakeConn("c1")
	conn.onWrite = func(raw json.RawMessage) {
		var req domain.Request
		_ = json.Unmarshal(raw, &req)
		var frame string
		switch req.Type {
		case domain.KindList:
			frame = fmt.Sprintf(`{"type":"list_response","request_id":%q,"count":2,"max":10,"players":["Alice","Bob"]}`, req.RequestID)
		case domain.KindTPS:
			frame = fmt.Sprintf(`{"type":"tps_response","request_id":%q,"dimensions":{"minecraft:overworld":19.97}}`, req.RequestID)
		}
		go table.Resolve(req.RequestID, json.RawMessage(frame))
	}
	r := newTestRequester(&fakeSource{conn: conn}, table, WithRequestTimeout(time.Second))
	assert.Equal(t, time.Second, r.Timeout())

	list, err := r.ListPlayers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, list.Count)
	assert.Equal(t, 10, list.Max)
	assert.Equal(t, []string{"Alice", "Bob"}, list.Players)

	tps, err := r.TPS(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 19.97, tps.Dimensions["minecraft:overworld"], 0.001)
}

func TestRequester_DuplicateIDSurfaces(t *testing.T) {
	table := NewPendingTable()
	_, err := table.Register("fixed", "c1")
	require.NoError(t, err)

	r := newTestRequester(&fakeSource{conn: newFakeConn("c1")}, table)
	r.newID = func() string { return "fixed" }

	_, err = r.Request(context.Background(), domain.KindList, time.Second)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequestID)
	// The pre-existing entry belongs to someone else and must survive.
	assert.Equal(t, 1, table.Len())
}
