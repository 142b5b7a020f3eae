package session

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matematik7/travelmap-go/geocode"
	"github.com/matematik7/travelmap-go/markers"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeStore struct {
	mu    sync.Mutex
	seq   int
	items []markers.Marker

	listCalls   int
	getCalls    int
	createCalls int
	updateCalls int
	deleteCalls int

	createErr error
	updateErr error
	deleteErr error

	// when set, Create blocks until the channel is closed
	createGate chan struct{}
}

func newFakeStore(seed ...markers.Marker) *fakeStore {
	return &fakeStore{items: seed}
}

func (f *fakeStore) List(ctx context.Context) ([]markers.Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]markers.Marker(nil), f.items...), nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (markers.Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	for _, m := range f.items {
		if m.ID == id {
			return m, nil
		}
	}
	return markers.Marker{}, errors.Errorf("marker %s not found", id)
}

func (f *fakeStore) Create(ctx context.Context, m markers.Marker) (markers.Marker, error) {
	if f.createGate != nil {
		<-f.createGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return markers.Marker{}, f.createErr
	}
	f.seq++
	m.ID = strconv.Itoa(f.seq)
	f.items = append(f.items, m)
	return m, nil
}

func (f *fakeStore) Update(ctx context.Context, m markers.Marker) (markers.Marker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	if f.updateErr != nil {
		return markers.Marker{}, f.updateErr
	}
	for i := range f.items {
		if f.items[i].ID == m.ID {
			f.items[i] = m
			return m, nil
		}
	}
	return markers.Marker{}, errors.Errorf("marker %s not found", m.ID)
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.items {
		if f.items[i].ID == id {
			f.items = append(f.items[:i], f.items[i+1:]...)
			return nil
		}
	}
	return errors.Errorf("marker %s not found", id)
}

func (f *fakeStore) calls() (list, get, create, update, del int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.getCalls, f.createCalls, f.updateCalls, f.deleteCalls
}

type fakeGeocoder struct {
	name       string
	reverseErr error
	// when set, Reverse blocks until the channel is closed
	gate chan struct{}

	results    []geocode.Result
	forwardErr error
}

func (g *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	if g.gate != nil {
		<-g.gate
	}
	return g.name, g.reverseErr
}

func (g *fakeGeocoder) Forward(ctx context.Context, query string) ([]geocode.Result, error) {
	return g.results, g.forwardErr
}

func waitModel(t *testing.T, e *Engine, cond func(RenderModel) bool) RenderModel {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(e.Render())
	}, waitFor, tick)
	return e.Render()
}

func TestClickOpensAddDialog(t *testing.T) {
	fs := newFakeStore()
	gc := &fakeGeocoder{gate: make(chan struct{})}
	defer close(gc.gate)

	e := New(fs, gc, Options{})
	defer e.Close()
	e.Start()

	e.Click(45.81, 9.08)

	model := waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})
	assert.Equal(t, ModePlacing, model.Mode)
	require.NotNil(t, model.Coords)
	assert.Equal(t, 45.81, model.Coords.Lat)
	assert.Equal(t, 9.08, model.Coords.Lng)
	assert.Equal(t, markers.Draft{}, model.Draft)
}

func TestClickIgnoredWhileDialogOpen(t *testing.T) {
	fs := newFakeStore()
	gc := &fakeGeocoder{gate: make(chan struct{})}
	defer close(gc.gate)

	e := New(fs, gc, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	e.Click(1.0, 2.0)
	model := waitModel(t, e, func(m RenderModel) bool {
		return m.Coords != nil
	})
	assert.Equal(t, 45.81, model.Coords.Lat)
}

func TestPlaceAndSubmit(t *testing.T) {
	fs := newFakeStore()
	gc := &fakeGeocoder{name: "Como"}

	e := New(fs, gc, Options{})
	defer e.Close()
	e.Start()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	err := e.Submit(markers.Draft{
		Header:    "Trip",
		Date:      "2024-03-01",
		Location:  "Milan",
		Paragraph: "Nice",
	})
	require.NoError(t, err)

	model := waitModel(t, e, func(m RenderModel) bool {
		return m.Mode == ModeBrowse && len(m.Visible) == 1 && !m.Busy
	})

	created := model.Visible[0]
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 45.81, created.Lat)
	assert.Equal(t, 9.08, created.Lng)
	assert.Equal(t, "Trip", created.Header)
	assert.Equal(t, "2024-03-01", created.Date)
	assert.Equal(t, "Milan", created.Location)
	assert.Equal(t, "Nice", created.Paragraph)

	// the id is in the canonical set exactly once
	count := 0
	for _, m := range model.Visible {
		if m.ID == created.ID {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, DialogNone, model.Dialog)
}

func TestSubmitValidationIsSynchronous(t *testing.T) {
	fs := newFakeStore()
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	err := e.Submit(markers.Draft{Header: "Trip"})
	require.Error(t, err)
	assert.True(t, markers.IsValidationError(err))

	// the rejected draft never reaches the store
	_, _, create, _, _ := fs.calls()
	assert.Equal(t, 0, create)

	model := e.Render()
	assert.Equal(t, ModePlacing, model.Mode)
}

func TestSubmitFailureKeepsDialogOpen(t *testing.T) {
	fs := newFakeStore()
	fs.createErr = errors.New("network down")
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	draft := markers.Draft{Header: "Trip", Date: "2024-03-01", Location: "Milan", Paragraph: "Nice"}
	require.NoError(t, e.Submit(draft))

	model := waitModel(t, e, func(m RenderModel) bool {
		return len(m.Flashes) > 0 && !m.Busy
	})
	assert.Equal(t, ModePlacing, model.Mode)
	assert.Equal(t, draft, model.Draft)
	assert.Empty(t, model.Visible)
	assert.Equal(t, "danger", model.Flashes[0].Type)
}

func TestGeocodePrefill(t *testing.T) {
	gc := &fakeGeocoder{name: "Como", gate: make(chan struct{})}
	e := New(newFakeStore(), gc, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	close(gc.gate)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Draft.Location == "Como"
	})
}

func TestGeocodeFailureFallsBackToSentinel(t *testing.T) {
	gc := &fakeGeocoder{reverseErr: errors.New("quota exceeded")}
	e := New(newFakeStore(), gc, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Draft.Location == geocode.Unknown
	})
}

func TestGeocodeDoesNotOverwriteTypedLocation(t *testing.T) {
	gc := &fakeGeocoder{name: "Como", gate: make(chan struct{})}
	e := New(newFakeStore(), gc, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	e.UpdateDraft(markers.Draft{Location: "Milan"})
	waitModel(t, e, func(m RenderModel) bool {
		return m.Draft.Location == "Milan"
	})

	close(gc.gate)
	require.Never(t, func() bool {
		return e.Render().Draft.Location != "Milan"
	}, 100*time.Millisecond, tick)
}

func TestStaleGeocodeAfterCancelIsDropped(t *testing.T) {
	gc := &fakeGeocoder{name: "Como", gate: make(chan struct{})}
	e := New(newFakeStore(), gc, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	e.Cancel()
	waitModel(t, e, func(m RenderModel) bool {
		return m.Mode == ModeBrowse
	})

	// the response arrives after the dialog was discarded
	close(gc.gate)
	require.Never(t, func() bool {
		m := e.Render()
		return m.Mode != ModeBrowse || m.Draft.Location != ""
	}, 100*time.Millisecond, tick)
}

func TestEditLoadsFreshData(t *testing.T) {
	seed := markers.Marker{ID: "1", Lat: 45.81, Lng: 9.08, Header: "Trip", Date: "2024-03-01", Location: "Milan", Paragraph: "Nice"}
	fs := newFakeStore(seed)
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1
	})

	// the store version moved on since the last fetch
	fs.mu.Lock()
	fs.items[0].Header = "Trip, day two"
	fs.mu.Unlock()

	e.Edit("1")
	model := waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogEdit
	})
	assert.Equal(t, "1", model.EditingID)
	assert.Equal(t, "Trip, day two", model.Draft.Header)
}

func TestUpdateFailureKeepsEditing(t *testing.T) {
	seed := markers.Marker{ID: "1", Lat: 45.81, Lng: 9.08, Header: "Trip", Date: "2024-03-01", Location: "Milan", Paragraph: "Nice"}
	fs := newFakeStore(seed)
	fs.updateErr = errors.New("connection reset")
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	e.Edit("1")
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogEdit
	})

	draft := markers.Draft{Header: "Changed", Date: "2024-03-02", Location: "Como", Paragraph: "Even nicer"}
	require.NoError(t, e.Submit(draft))

	model := waitModel(t, e, func(m RenderModel) bool {
		return len(m.Flashes) > 0 && !m.Busy
	})
	assert.Equal(t, ModeEditing, model.Mode)
	assert.Equal(t, draft, model.Draft)

	// canonical set untouched
	require.Len(t, model.Visible, 1)
	assert.Equal(t, "Trip", model.Visible[0].Header)
}

func TestUpdateSuccessKeepsCoordinates(t *testing.T) {
	seed := markers.Marker{ID: "1", Lat: 45.81, Lng: 9.08, Header: "Trip", Date: "2024-03-01", Location: "Milan", Paragraph: "Nice"}
	fs := newFakeStore(seed)
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	e.Edit("1")
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogEdit
	})

	require.NoError(t, e.Submit(markers.Draft{Header: "Changed", Date: "2024-03-02", Location: "Como", Paragraph: "Even nicer"}))

	model := waitModel(t, e, func(m RenderModel) bool {
		return m.Mode == ModeBrowse && !m.Busy && len(m.Visible) == 1 && m.Visible[0].Header == "Changed"
	})
	assert.Equal(t, 45.81, model.Visible[0].Lat)
	assert.Equal(t, 9.08, model.Visible[0].Lng)
	assert.Equal(t, "1", model.Visible[0].ID)
}

func TestDelete(t *testing.T) {
	fs := newFakeStore(
		markers.Marker{ID: "1", Date: "2024-03-01", Location: "Milan"},
		markers.Marker{ID: "2", Date: "2024-05-12", Location: "Paris"},
	)
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 2
	})

	e.Delete("1")
	model := waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1 && !m.Busy
	})
	assert.Equal(t, "2", model.Visible[0].ID)
	assert.Equal(t, ModeBrowse, model.Mode)
}

func TestDeleteFailureKeepsMarker(t *testing.T) {
	fs := newFakeStore(markers.Marker{ID: "1", Date: "2024-03-01", Location: "Milan"})
	fs.deleteErr = errors.New("network down")
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1
	})

	e.Delete("1")
	model := waitModel(t, e, func(m RenderModel) bool {
		return len(m.Flashes) > 0 && !m.Busy
	})
	require.Len(t, model.Visible, 1)
	assert.Equal(t, "1", model.Visible[0].ID)
}

func TestPlaceOnlyMode(t *testing.T) {
	fs := newFakeStore(markers.Marker{ID: "1", Date: "2024-03-01", Location: "Milan"})
	e := New(fs, &fakeGeocoder{}, Options{PlaceOnly: true, PlaceOnlyDelete: true})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1
	})

	e.Edit("1")
	require.Never(t, func() bool {
		return e.Render().Dialog != DialogNone
	}, 100*time.Millisecond, tick)
	_, get, _, _, _ := fs.calls()
	assert.Equal(t, 0, get)

	// delete stays available
	e.Delete("1")
	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 0
	})
}

func TestPlaceOnlyModeWithoutDelete(t *testing.T) {
	fs := newFakeStore(markers.Marker{ID: "1", Date: "2024-03-01", Location: "Milan"})
	e := New(fs, &fakeGeocoder{}, Options{PlaceOnly: true, PlaceOnlyDelete: false})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1
	})

	e.Delete("1")
	require.Never(t, func() bool {
		return len(e.Render().Visible) == 0
	}, 100*time.Millisecond, tick)
	_, _, _, _, del := fs.calls()
	assert.Equal(t, 0, del)
}

func TestBusyDropsResubmission(t *testing.T) {
	fs := newFakeStore()
	fs.createGate = make(chan struct{})
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()

	e.Click(45.81, 9.08)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Dialog == DialogAdd
	})

	draft := markers.Draft{Header: "Trip", Date: "2024-03-01", Location: "Milan", Paragraph: "Nice"}
	require.NoError(t, e.Submit(draft))
	waitModel(t, e, func(m RenderModel) bool {
		return m.Busy
	})

	// second submit while the first call is outstanding
	require.NoError(t, e.Submit(draft))

	close(fs.createGate)
	waitModel(t, e, func(m RenderModel) bool {
		return m.Mode == ModeBrowse && !m.Busy
	})

	_, _, create, _, _ := fs.calls()
	assert.Equal(t, 1, create)
}

func TestFilterFocusesFirstMatch(t *testing.T) {
	fs := newFakeStore(
		markers.Marker{ID: "1", Lat: 45.46, Lng: 9.19, Date: "2024-03-01", Location: "Milan, Italy"},
		markers.Marker{ID: "2", Lat: 48.85, Lng: 2.35, Date: "2024-05-12", Location: "Paris, France"},
	)
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 2
	})

	e.SetFilter(markers.FilterSpec{Location: "par"})
	model := waitModel(t, e, func(m RenderModel) bool {
		return m.MapView != nil
	})
	assert.Equal(t, 48.85, model.MapView.Lat)
	assert.Equal(t, 2.35, model.MapView.Lng)
	assert.Equal(t, focusZoom, model.MapView.Zoom)

	require.Len(t, model.Visible, 1)
	assert.Equal(t, "2", model.Visible[0].ID)
}

func TestSearchAndSelect(t *testing.T) {
	gc := &fakeGeocoder{results: []geocode.Result{
		{Name: "Lake Como, Italy", Lat: 45.86, Lng: 9.17},
		{Name: "Como, Lombardy, Italy", Lat: 45.81, Lng: 9.08},
	}}
	e := New(newFakeStore(), gc, Options{})
	defer e.Close()

	e.Search("como")
	waitModel(t, e, func(m RenderModel) bool {
		return len(m.SearchResults) == 2
	})

	e.SelectSearchResult(1)
	model := waitModel(t, e, func(m RenderModel) bool {
		return m.MapView != nil
	})
	assert.Equal(t, 45.81, model.MapView.Lat)
	assert.Equal(t, focusZoom, model.MapView.Zoom)
	assert.Empty(t, model.SearchResults)
}

func TestSearchFailureFlashes(t *testing.T) {
	gc := &fakeGeocoder{forwardErr: errors.New("no results for forward geocode")}
	e := New(newFakeStore(), gc, Options{})
	defer e.Close()

	e.Search("nowhere at all")
	model := waitModel(t, e, func(m RenderModel) bool {
		return len(m.Flashes) > 0
	})
	assert.Equal(t, "danger", model.Flashes[0].Type)
	assert.Empty(t, model.SearchResults)
}

func TestClearNotices(t *testing.T) {
	fs := newFakeStore(markers.Marker{ID: "1", Lat: 45.46, Lng: 9.19, Date: "2024-03-01", Location: "Milan"})
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1
	})

	e.SetFilter(markers.FilterSpec{Location: "milan"})
	waitModel(t, e, func(m RenderModel) bool {
		return m.MapView != nil
	})

	e.ClearNotices()
	waitModel(t, e, func(m RenderModel) bool {
		return m.MapView == nil && len(m.Flashes) == 0
	})
}

func TestRenderInitialView(t *testing.T) {
	e := New(newFakeStore(), &fakeGeocoder{}, Options{})
	defer e.Close()

	assert.Equal(t, DefaultView, e.Render().InitialView)
}

func TestConsumeDeliversNoticesOnce(t *testing.T) {
	fs := newFakeStore(markers.Marker{ID: "1", Date: "2024-03-01", Location: "Milan"})
	fs.deleteErr = errors.New("network down")
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1
	})

	e.Delete("1")
	waitModel(t, e, func(m RenderModel) bool {
		return len(m.Flashes) > 0 && !m.Busy
	})

	// the delivering snapshot consumes the notices in the same turn
	require.NotEmpty(t, e.Consume().Flashes)
	assert.Empty(t, e.Consume().Flashes)
}

func TestRoutePolyline(t *testing.T) {
	fs := newFakeStore(
		markers.Marker{ID: "2", Lat: 48.85, Lng: 2.35, Date: "2024-05-12", Location: "Paris"},
		markers.Marker{ID: "1", Lat: 45.46, Lng: 9.19, Date: "2024-03-01", Location: "Milan"},
	)
	e := New(fs, &fakeGeocoder{}, Options{})
	defer e.Close()
	e.Start()

	model := waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 2
	})
	assert.NotEmpty(t, model.Route)

	// a single visible marker has no route
	e.SetFilter(markers.FilterSpec{Location: "milan"})
	model = waitModel(t, e, func(m RenderModel) bool {
		return len(m.Visible) == 1
	})
	assert.Empty(t, model.Route)
}
