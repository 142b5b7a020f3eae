// Package session owns the marker lifecycle for one user session: the
// canonical marker set, the filtered view, the Browse / Placing / Editing
// state machine and the geocoding enrichment of newly placed points.
//
// All mutable state is owned by a single event-loop goroutine. UI events
// and network completions are queued onto it, so no two mutations ever
// interleave. Network calls run in their own goroutines and post their
// completions back; completions carry a token that is checked before the
// result is applied, so a response arriving after the state moved on is
// dropped.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/matematik7/travelmap-go/geocode"
	"github.com/matematik7/travelmap-go/images"
	"github.com/matematik7/travelmap-go/markers"
)

// Store is the remote persistence collaborator. Calls are single round
// trips; the engine never mutates the canonical set before one succeeds.
type Store interface {
	List(ctx context.Context) ([]markers.Marker, error)
	Get(ctx context.Context, id string) (markers.Marker, error)
	Create(ctx context.Context, m markers.Marker) (markers.Marker, error)
	Update(ctx context.Context, m markers.Marker) (markers.Marker, error)
	Delete(ctx context.Context, id string) error
}

type Notifier interface {
	MarkerCreated(m markers.Marker)
}

var errNoImageStorage = errors.New("image storage not configured")

type Options struct {
	// PlaceOnly restricts the session to the place-only view: markers
	// can be placed and browsed but not modified.
	PlaceOnly bool
	// PlaceOnlyDelete keeps delete available in the place-only view.
	PlaceOnlyDelete bool

	Images   images.Storage
	Notifier Notifier
	Log      *logrus.Logger
}

type Engine struct {
	store    Store
	geocoder geocode.Geocoder
	repo     *markers.Repository
	opts     Options
	log      *logrus.Logger

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once

	// owned by the event loop
	st            state
	filter        markers.FilterSpec
	busy          bool
	flashes       []Flash
	searchResults []geocode.Result
	mapView       *ViewCommand
	version       uint64
	geocodeToken  uuid.UUID
	searchToken   uuid.UUID
	uploadToken   uuid.UUID

	renderMu sync.RWMutex
	render   RenderModel
}

func New(store Store, geocoder geocode.Geocoder, opts Options) *Engine {
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}

	e := &Engine{
		store:    store,
		geocoder: geocoder,
		repo:     markers.NewRepository(),
		opts:     opts,
		log:      log,
		events:   make(chan func(), 64),
		done:     make(chan struct{}),
		st:       browse(),
	}
	e.repo.OnChange(func() {
		e.version++
	})
	e.publish()

	go e.loop()

	return e
}

func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}

func (e *Engine) loop() {
	for {
		select {
		case fn := <-e.events:
			fn()
			e.publish()
		case <-e.done:
			return
		}
	}
}

// do queues fn onto the event loop. Events queued after Close are
// dropped.
func (e *Engine) do(fn func()) {
	select {
	case e.events <- fn:
	case <-e.done:
	}
}

// Render returns the current immutable render model.
func (e *Engine) Render() RenderModel {
	e.renderMu.RLock()
	defer e.renderMu.RUnlock()
	return e.render
}

// Consume returns the render model and drops its one-shot notices in
// the same event-loop turn, so a flash appended while the snapshot is
// being taken is still delivered by a later call instead of being lost.
func (e *Engine) Consume() RenderModel {
	models := make(chan RenderModel, 1)
	e.do(func() {
		models <- e.Render()
		e.flashes = nil
		e.mapView = nil
	})
	select {
	case m := <-models:
		return m
	case <-e.done:
		return e.Render()
	}
}

// Within returns the canonical markers inside a viewport box.
func (e *Engine) Within(minLat, minLng, maxLat, maxLng float64) ([]markers.Marker, error) {
	return e.repo.Within(minLat, minLng, maxLat, maxLng)
}

// Start loads the marker collection from the store.
func (e *Engine) Start() {
	e.do(e.refetch)
}

// Click opens the add dialog at the clicked position and kicks off the
// reverse-geocoding enrichment.
func (e *Engine) Click(lat, lng float64) {
	e.do(func() {
		e.click(lat, lng)
	})
}

// UpdateDraft replaces the open dialog's draft with the form contents.
func (e *Engine) UpdateDraft(d markers.Draft) {
	e.do(func() {
		if !e.st.dialogOpen() {
			return
		}
		e.st.draft = d
	})
}

// Submit validates the draft and persists it through the store. A
// ValidationError is returned synchronously and never reaches the event
// loop; everything else is reported through flashes on the render model.
func (e *Engine) Submit(d markers.Draft) error {
	if err := d.Validate(); err != nil {
		return err
	}
	e.do(func() {
		e.submit(d)
	})
	return nil
}

// Cancel closes the open dialog and discards its draft. A pending
// enrichment result for the dialog is dropped on arrival.
func (e *Engine) Cancel() {
	e.do(func() {
		if !e.st.dialogOpen() {
			return
		}
		e.st = browse()
		e.geocodeToken = uuid.UUID{}
		e.uploadToken = uuid.UUID{}
	})
}

// Edit re-fetches the marker from the store and opens the edit dialog
// with its current data, not the possibly stale local copy.
func (e *Engine) Edit(id string) {
	e.do(func() {
		e.edit(id)
	})
}

// Delete removes the marker from the store, then from the canonical set.
func (e *Engine) Delete(id string) {
	e.do(func() {
		e.delete(id)
	})
}

// SetFilter replaces the filter specification. When a location filter is
// set, the map is centered on the first matching marker.
func (e *Engine) SetFilter(f markers.FilterSpec) {
	e.do(func() {
		e.filter = f
		if strings.TrimSpace(f.Location) == "" {
			return
		}
		for _, m := range e.repo.All() {
			if f.Matches(m) {
				e.mapView = &ViewCommand{Lat: m.Lat, Lng: m.Lng, Zoom: focusZoom}
				return
			}
		}
	})
}

// Search runs a forward lookup for the search bar.
func (e *Engine) Search(query string) {
	if strings.TrimSpace(query) == "" {
		return
	}
	e.do(func() {
		token := uuid.Must(uuid.NewV4())
		e.searchToken = token
		go func() {
			results, err := e.geocoder.Forward(context.Background(), query)
			e.do(func() {
				e.searchDone(token, results, err)
			})
		}()
	})
}

// SelectSearchResult centers the map on the chosen result and clears the
// result list.
func (e *Engine) SelectSearchResult(i int) {
	e.do(func() {
		if i < 0 || i >= len(e.searchResults) {
			return
		}
		r := e.searchResults[i]
		e.mapView = &ViewCommand{Lat: r.Lat, Lng: r.Lng, Zoom: focusZoom}
		e.searchResults = nil
	})
}

// AttachImage uploads a picture and sets the reference on the open
// dialog's draft.
func (e *Engine) AttachImage(name string, data []byte) error {
	if e.opts.Images == nil {
		return errNoImageStorage
	}
	e.do(func() {
		e.attachImage(name, data)
	})
	return nil
}

// ClearNotices drops delivered flashes and the consumed map command.
func (e *Engine) ClearNotices() {
	e.do(func() {
		e.flashes = nil
		e.mapView = nil
	})
}

func (e *Engine) flash(f Flash) {
	e.flashes = append(e.flashes, f)
}

// event handlers, run on the loop

func (e *Engine) click(lat, lng float64) {
	if e.st.dialogOpen() {
		return
	}
	e.st = placing(markers.Coords{Lat: lat, Lng: lng})

	token := uuid.Must(uuid.NewV4())
	e.geocodeToken = token
	go func() {
		name, err := e.geocoder.Reverse(context.Background(), lat, lng)
		if err != nil {
			e.log.Warnf("could not reverse geocode %f,%f: %v", lat, lng, err)
			name = geocode.Unknown
		}
		e.do(func() {
			e.geocodeDone(token, name)
		})
	}()
}

func (e *Engine) geocodeDone(token uuid.UUID, name string) {
	if e.st.mode != ModePlacing || token != e.geocodeToken {
		return
	}
	// only pre-fill if the user has not typed a location yet
	if e.st.draft.Location != "" {
		return
	}
	e.st.draft.Location = name
}

func (e *Engine) submit(d markers.Draft) {
	if e.busy {
		return
	}

	switch e.st.mode {
	case ModePlacing:
		e.st.draft = d
		m := d.Marker(e.st.coords)
		e.busy = true
		go func() {
			created, err := e.store.Create(context.Background(), m)
			e.do(func() {
				e.createDone(created, err)
			})
		}()
	case ModeEditing:
		e.st.draft = d
		m := d.Marker(markers.Coords{Lat: e.st.base.Lat, Lng: e.st.base.Lng})
		m.ID = e.st.base.ID
		e.busy = true
		go func() {
			updated, err := e.store.Update(context.Background(), m)
			e.do(func() {
				e.updateDone(updated, err)
			})
		}()
	}
}

func (e *Engine) createDone(created markers.Marker, err error) {
	e.busy = false
	if err != nil {
		e.log.Errorf("could not create marker: %v", err)
		e.flash(FlashError("Could not save entry, try again!"))
		return
	}

	if e.opts.Notifier != nil {
		go e.opts.Notifier.MarkerCreated(created)
	}

	e.st = browse()
	e.geocodeToken = uuid.UUID{}
	e.uploadToken = uuid.UUID{}
	e.flash(FlashInfo("Entry saved!"))
	e.refetch()
}

func (e *Engine) updateDone(updated markers.Marker, err error) {
	e.busy = false
	if err != nil {
		e.log.Errorf("could not update marker: %v", err)
		e.flash(FlashError("Could not save entry, try again!"))
		return
	}

	e.st = browse()
	e.uploadToken = uuid.UUID{}
	e.flash(FlashInfo("Entry saved!"))
	e.refetch()
}

func (e *Engine) edit(id string) {
	if e.busy || e.st.mode != ModeBrowse || e.opts.PlaceOnly {
		return
	}
	e.busy = true
	go func() {
		m, err := e.store.Get(context.Background(), id)
		e.do(func() {
			e.editLoaded(m, err)
		})
	}()
}

func (e *Engine) editLoaded(m markers.Marker, err error) {
	e.busy = false
	if err != nil {
		e.log.Errorf("could not load marker for edit: %v", err)
		e.flash(FlashError("Could not load entry!"))
		return
	}
	if e.st.mode != ModeBrowse {
		// a dialog opened while the fetch was in flight
		return
	}
	e.st = editing(m)
}

func (e *Engine) delete(id string) {
	if e.busy || e.st.dialogOpen() {
		return
	}
	if e.opts.PlaceOnly && !e.opts.PlaceOnlyDelete {
		return
	}
	e.busy = true
	go func() {
		err := e.store.Delete(context.Background(), id)
		e.do(func() {
			e.deleteDone(id, err)
		})
	}()
}

func (e *Engine) deleteDone(id string, err error) {
	e.busy = false
	if err != nil {
		e.log.Errorf("could not delete marker: %v", err)
		e.flash(FlashError("Could not delete entry!"))
		return
	}
	// no re-fetch needed to know the outcome, remove locally
	e.repo.Remove(id)
	e.flash(FlashInfo("Entry deleted!"))
}

func (e *Engine) attachImage(name string, data []byte) {
	if e.busy || !e.st.dialogOpen() {
		return
	}
	token := uuid.Must(uuid.NewV4())
	e.uploadToken = token
	e.busy = true
	go func() {
		ref, err := e.opts.Images.Upload(context.Background(), name, data)
		e.do(func() {
			e.uploadDone(token, ref, err)
		})
	}()
}

func (e *Engine) uploadDone(token uuid.UUID, ref string, err error) {
	e.busy = false
	if !e.st.dialogOpen() || token != e.uploadToken {
		return
	}
	if err != nil {
		e.log.Errorf("could not upload image: %v", err)
		e.flash(FlashError("Could not upload picture!"))
		return
	}
	e.st.draft.Image = ref
	e.flash(FlashInfo("Picture added!"))
}

func (e *Engine) searchDone(token uuid.UUID, results []geocode.Result, err error) {
	if token != e.searchToken {
		return
	}
	if err != nil {
		e.log.Warnf("could not search: %v", err)
		e.flash(FlashError("No results found!"))
		return
	}
	e.searchResults = results
}

// refetch reconciles the canonical set with the store after a confirmed
// create or update. Last fetch wins.
func (e *Engine) refetch() {
	e.busy = true
	go func() {
		ms, err := e.store.List(context.Background())
		e.do(func() {
			e.busy = false
			if err != nil {
				e.log.Errorf("could not list markers: %v", err)
				e.flash(FlashError("Could not load entries!"))
				return
			}
			e.repo.ReplaceAll(ms)
		})
	}()
}

func (e *Engine) publish() {
	all := e.repo.All()
	visible := e.filter.Apply(all)

	m := RenderModel{
		Mode:        e.st.mode,
		Draft:       e.st.draft,
		Filter:      e.filter,
		Visible:     visible,
		InitialView: DefaultView,
		Route:       routePolyline(visible),
		Busy:        e.busy,
		Years:       markers.CountByYear(all),
		Version:     e.version,
	}

	switch e.st.mode {
	case ModePlacing:
		m.Dialog = DialogAdd
		coords := e.st.coords
		m.Coords = &coords
	case ModeEditing:
		m.Dialog = DialogEdit
		m.EditingID = e.st.base.ID
	}

	if len(e.flashes) > 0 {
		m.Flashes = append([]Flash(nil), e.flashes...)
	}
	if len(e.searchResults) > 0 {
		m.SearchResults = append([]geocode.Result(nil), e.searchResults...)
	}
	if e.mapView != nil {
		v := *e.mapView
		m.MapView = &v
	}

	e.renderMu.Lock()
	e.render = m
	e.renderMu.Unlock()
}
