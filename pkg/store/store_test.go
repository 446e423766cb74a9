package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ivanworkspace/events-futurecraft/pkg/agenda"
	"github.com/Ivanworkspace/events-futurecraft/pkg/config"
	"github.com/Ivanworkspace/events-futurecraft/pkg/local"
	"github.com/Ivanworkspace/events-futurecraft/pkg/metrics"
	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
)

var errUnavailable = errors.New("backend unavailable")

// fakeCollection is an in-memory Collection whose operations can be made to fail.
type fakeCollection struct {
	mu      sync.Mutex
	docs    map[string]model.Document
	order   []string
	seq     int
	fail    map[string]bool
	calls   map[string]int
	lastCtx context.Context
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{
		docs:  map[string]model.Document{},
		fail:  map[string]bool{},
		calls: map[string]int{},
	}
}

func (f *fakeCollection) failing(op string) error {
	f.calls[op]++
	if f.fail[op] {
		return errUnavailable
	}
	return nil
}

func (f *fakeCollection) List(ctx context.Context) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("list"); err != nil {
		return nil, err
	}
	out := []model.Appointment{}
	for _, id := range f.order {
		if d, ok := f.docs[id]; ok {
			out = append(out, d.WithID(id))
		}
	}
	return out, nil
}

func (f *fakeCollection) Create(ctx context.Context, doc model.Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCtx = ctx
	if err := f.failing("create"); err != nil {
		return "", err
	}
	f.seq++
	id := fmt.Sprintf("remote-%d", f.seq)
	f.docs[id] = doc
	f.order = append(f.order, id)
	return id, nil
}

func (f *fakeCollection) Update(ctx context.Context, id string, patch model.Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("update"); err != nil {
		return err
	}
	d, ok := f.docs[id]
	if !ok {
		return model.ErrNotFound
	}
	if patch.Done != nil {
		d.Done = *patch.Done
	}
	f.docs[id] = d
	return nil
}

func (f *fakeCollection) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failing("delete"); err != nil {
		return err
	}
	delete(f.docs, id)
	return nil
}

type fixture struct {
	store   *Store
	local   *local.Store
	remote  *fakeCollection
	metrics *metrics.Collector
}

var fixedNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, remote *fakeCollection) fixture {
	t.Helper()
	ls := local.NewStore(local.NewKV(t.TempDir()), "", nil)
	m := metrics.NewCollector("test")
	seq := 0
	opts := Options{
		Metrics:  m,
		Labels:   agenda.Italian,
		Location: time.UTC,
		Now:      func() time.Time { return fixedNow },
		NewID: func() string {
			seq++
			return fmt.Sprintf("local-%d", seq)
		},
		Breaker: config.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureThreshold: 100},
	}
	if remote != nil {
		opts.Remote = remote
	}
	return fixture{store: New(ls, opts), local: ls, remote: remote, metrics: m}
}

func TestLocalOnlyFlow(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	assert.Equal(t, LocalOnly, fx.store.Mode())

	fx.store.Load(ctx)
	assert.Empty(t, fx.store.Items())

	lunch, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "Lunch"})
	require.NoError(t, err)
	meeting, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Time: "09:00", Text: "Meeting"})
	require.NoError(t, err)
	assert.Equal(t, "local-1", lunch.ID)
	assert.Equal(t, "local-2", meeting.ID)
	assert.Equal(t, fx.store.Items(), fx.local.Load())

	view := fx.store.View()
	require.Len(t, view, 1)
	assert.Equal(t, "Oggi", view[0].Label)
	assert.Equal(t, "Meeting", view[0].Items[0].Text)
	assert.Equal(t, "Lunch", view[0].Items[1].Text)

	toggled, ok := fx.store.ToggleDone(ctx, lunch.ID)
	require.True(t, ok)
	assert.True(t, toggled.Done)
	assert.True(t, fx.local.Load()[0].Done)

	require.True(t, fx.store.Remove(ctx, meeting.ID))
	assert.Len(t, fx.local.Load(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.Appointments))
}

func TestLoadFromLocalStorage(t *testing.T) {
	fx := newFixture(t, nil)
	require.NoError(t, fx.local.Save([]model.Appointment{{ID: "a", Date: "2024-06-02", Text: "Saved"}}))

	fx.store.Load(context.Background())
	view := fx.store.View()
	require.Len(t, view, 1)
	assert.Equal(t, "Domani", view[0].Label)
}

func TestAddDefaultsDateToToday(t *testing.T) {
	fx := newFixture(t, nil)
	apt, err := fx.store.Add(context.Background(), model.Fields{Text: "  Call mum  ", Notes: " "})
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01", apt.Date)
	assert.Equal(t, "Call mum", apt.Text)
	assert.Nil(t, apt.Notes)
	assert.Nil(t, apt.Time)
	assert.False(t, apt.Done)
}

func TestAddRejectsUnpaddedTime(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	_, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Time: "9:00", Text: "early"})
	assert.ErrorIs(t, err, model.ErrInvalidTime)
	assert.Empty(t, fx.store.Items())

	_, err = fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Time: "10:00", Text: "later"})
	require.NoError(t, err)
	_, err = fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Time: "09:00", Text: "early"})
	require.NoError(t, err)

	view := fx.store.View()
	require.Len(t, view, 1)
	require.Len(t, view[0].Items, 2)
	assert.Equal(t, "early", view[0].Items[0].Text)
	assert.Equal(t, "later", view[0].Items[1].Text)
}

func TestAddRejectsEmptyText(t *testing.T) {
	fx := newFixture(t, newFakeCollection())

	_, err := fx.store.Add(context.Background(), model.Fields{Date: "2024-06-01", Text: "   "})
	assert.ErrorIs(t, err, model.ErrEmptyText)
	assert.Empty(t, fx.store.Items())
	assert.Zero(t, fx.remote.calls["create"])
	assert.Empty(t, fx.local.Load())
}

func TestRemoteAddUsesServerID(t *testing.T) {
	fx := newFixture(t, newFakeCollection())
	ctx := context.Background()
	assert.Equal(t, Remote, fx.store.Mode())

	apt, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-03", Time: "18:30", Text: "Gym"})
	require.NoError(t, err)
	assert.Equal(t, "remote-1", apt.ID)
	assert.Equal(t, []model.Appointment{apt}, fx.store.Items())
	// successful remote writes are not mirrored locally
	assert.Empty(t, fx.local.Load())
}

func TestRemoteAddFailureFallsBackToLocal(t *testing.T) {
	remote := newFakeCollection()
	remote.fail["create"] = true
	fx := newFixture(t, remote)

	apt, err := fx.store.Add(context.Background(), model.Fields{Date: "2024-06-01", Text: "Offline note"})
	require.NoError(t, err)
	assert.Equal(t, "local-1", apt.ID)
	assert.Equal(t, []model.Appointment{apt}, fx.store.Items())
	assert.Equal(t, []model.Appointment{apt}, fx.local.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.RemoteFallbacks.WithLabelValues("add")))
}

func TestRemoteCallsIgnoreCancellation(t *testing.T) {
	fx := newFixture(t, newFakeCollection())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "x"})
	require.NoError(t, err)
	require.NotNil(t, fx.remote.lastCtx)
	assert.NoError(t, fx.remote.lastCtx.Err())
}

func TestToggleUnknownIDIsNoop(t *testing.T) {
	for name, remote := range map[string]*fakeCollection{"local": nil, "remote": newFakeCollection()} {
		t.Run(name, func(t *testing.T) {
			fx := newFixture(t, remote)
			ctx := context.Background()
			_, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "x"})
			require.NoError(t, err)
			before := fx.store.Items()

			_, ok := fx.store.ToggleDone(ctx, "nope")
			assert.False(t, ok)
			assert.Equal(t, before, fx.store.Items())
			if remote != nil {
				assert.Zero(t, remote.calls["update"])
			}
		})
	}
}

func TestRemoveUnknownIDIsNoop(t *testing.T) {
	fx := newFixture(t, newFakeCollection())
	ctx := context.Background()
	_, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "x"})
	require.NoError(t, err)

	assert.False(t, fx.store.Remove(ctx, "nope"))
	assert.Len(t, fx.store.Items(), 1)
	assert.Zero(t, fx.remote.calls["delete"])
}

func TestRemoteToggle(t *testing.T) {
	remote := newFakeCollection()
	fx := newFixture(t, remote)
	ctx := context.Background()
	apt, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "x"})
	require.NoError(t, err)

	got, ok := fx.store.ToggleDone(ctx, apt.ID)
	require.True(t, ok)
	assert.True(t, got.Done)
	assert.True(t, remote.docs[apt.ID].Done)
	assert.Empty(t, fx.local.Load())

	got, _ = fx.store.ToggleDone(ctx, apt.ID)
	assert.False(t, got.Done)
	assert.False(t, remote.docs[apt.ID].Done)
}

func TestRemoteToggleFailureStillApplies(t *testing.T) {
	remote := newFakeCollection()
	fx := newFixture(t, remote)
	ctx := context.Background()
	apt, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "x"})
	require.NoError(t, err)

	remote.fail["update"] = true
	got, ok := fx.store.ToggleDone(ctx, apt.ID)
	require.True(t, ok)
	assert.True(t, got.Done)
	assert.False(t, remote.docs[apt.ID].Done)

	saved := fx.local.Load()
	require.Len(t, saved, 1)
	assert.True(t, saved[0].Done)
}

func TestRemoteRemove(t *testing.T) {
	remote := newFakeCollection()
	fx := newFixture(t, remote)
	ctx := context.Background()
	a, _ := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "a"})
	b, _ := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "b"})

	require.True(t, fx.store.Remove(ctx, a.ID))
	assert.Equal(t, []model.Appointment{b}, fx.store.Items())
	assert.NotContains(t, remote.docs, a.ID)
	assert.Empty(t, fx.local.Load())

	remote.fail["delete"] = true
	require.True(t, fx.store.Remove(ctx, b.ID))
	assert.Empty(t, fx.store.Items())
	assert.Equal(t, 2, remote.calls["delete"])
	assert.Contains(t, remote.docs, b.ID)
	assert.Empty(t, fx.local.Load())
}

func TestRemoteLoad(t *testing.T) {
	remote := newFakeCollection()
	remote.docs["r1"] = model.Document{Date: "2024-06-01", Text: "From remote"}
	remote.order = []string{"r1"}
	fx := newFixture(t, remote)
	require.NoError(t, fx.local.Save([]model.Appointment{{ID: "l1", Date: "2024-06-01", Text: "From local"}}))

	fx.store.Load(context.Background())
	items := fx.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "From remote", items[0].Text)
}

func TestRemoteLoadFailureFallsBackToLocal(t *testing.T) {
	remote := newFakeCollection()
	remote.fail["list"] = true
	fx := newFixture(t, remote)
	require.NoError(t, fx.local.Save([]model.Appointment{{ID: "l1", Date: "2024-06-01", Text: "From local"}}))

	fx.store.Load(context.Background())
	items := fx.store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "From local", items[0].Text)
	assert.Equal(t, 1.0, testutil.ToFloat64(fx.metrics.RemoteFallbacks.WithLabelValues("load")))
}

func TestRefresh(t *testing.T) {
	remote := newFakeCollection()
	fx := newFixture(t, remote)
	ctx := context.Background()
	fx.store.Load(ctx)

	remote.docs["r9"] = model.Document{Date: "2024-06-02", Text: "added elsewhere"}
	remote.order = append(remote.order, "r9")
	require.NoError(t, fx.store.Refresh(ctx))
	assert.Len(t, fx.store.Items(), 1)

	remote.fail["list"] = true
	assert.Error(t, fx.store.Refresh(ctx))
	assert.Len(t, fx.store.Items(), 1)
}

func TestRefreshLocalOnlyIsNoop(t *testing.T) {
	fx := newFixture(t, nil)
	assert.NoError(t, fx.store.Refresh(context.Background()))
}

func TestOpenBreakerFallsBackImmediately(t *testing.T) {
	remote := newFakeCollection()
	remote.fail["create"] = true
	ls := local.NewStore(local.NewKV(t.TempDir()), "", nil)
	s := New(ls, Options{
		Remote:  remote,
		Breaker: config.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, FailureThreshold: 2},
	})
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Add(ctx, model.Fields{Date: "2024-06-01", Text: fmt.Sprintf("n%d", i)})
		require.NoError(t, err)
	}
	// the breaker opened after two failures, later calls never reach the backend
	assert.Equal(t, 2, remote.calls["create"])
	assert.Len(t, s.Items(), 4)
	assert.Len(t, ls.Load(), 4)
}

func TestMissingRemoteDocumentDoesNotTripBreaker(t *testing.T) {
	remote := newFakeCollection()
	ls := local.NewStore(local.NewKV(t.TempDir()), "", nil)
	s := New(ls, Options{
		Remote:  remote,
		Breaker: config.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, FailureThreshold: 1},
	})
	ctx := context.Background()
	apt, err := s.Add(ctx, model.Fields{Date: "2024-06-01", Text: "x"})
	require.NoError(t, err)
	delete(remote.docs, apt.ID)

	_, ok := s.ToggleDone(ctx, apt.ID)
	require.True(t, ok)

	_, err = s.Add(ctx, model.Fields{Date: "2024-06-01", Text: "y"})
	require.NoError(t, err)
	assert.Equal(t, 2, remote.calls["create"])
}

func TestGet(t *testing.T) {
	fx := newFixture(t, nil)
	apt, err := fx.store.Add(context.Background(), model.Fields{Date: "2024-06-01", Text: "x"})
	require.NoError(t, err)

	got, err := fx.store.Get(apt.ID)
	require.NoError(t, err)
	assert.Equal(t, apt, got)

	_, err = fx.store.Get("missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestOverdueSkipsDoneAndFuture(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	past, err := fx.store.Add(ctx, model.Fields{Date: "2024-05-30", Text: "past"})
	require.NoError(t, err)
	done, err := fx.store.Add(ctx, model.Fields{Date: "2024-05-30", Text: "done"})
	require.NoError(t, err)
	_, err = fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: "today"})
	require.NoError(t, err)
	_, ok := fx.store.ToggleDone(ctx, done.ID)
	require.True(t, ok)

	got := fx.store.Overdue()
	require.Len(t, got, 1)
	assert.Equal(t, past.ID, got[0].ID)
}

func TestConcurrentMutations(t *testing.T) {
	fx := newFixture(t, newFakeCollection())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			apt, err := fx.store.Add(ctx, model.Fields{Date: "2024-06-01", Text: fmt.Sprintf("item %d", i)})
			if err == nil {
				fx.store.ToggleDone(ctx, apt.ID)
			}
			_ = fx.store.View()
		}(i)
	}
	wg.Wait()

	items := fx.store.Items()
	assert.Len(t, items, 20)
	for _, a := range items {
		assert.True(t, a.Done)
	}
}
