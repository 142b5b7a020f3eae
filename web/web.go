// Package web is the thin HTTP surface in front of the session engine:
// it translates UI events into engine calls and serves the render model
// as JSON. One engine is kept per cookie session.
package web

import (
	"io/ioutil"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/sessions"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"

	"github.com/matematik7/travelmap-go/markers"
	"github.com/matematik7/travelmap-go/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const sessionName = "travelmap"

const maxImageSize = 20 * 1024 * 1024

// idle engines are closed and evicted so the per-visitor event loop
// does not accumulate for the life of the process
const (
	engineIdleTimeout = 30 * time.Minute
	sweepInterval     = 5 * time.Minute
)

type engineEntry struct {
	engine *session.Engine
	last   time.Time
}

type Server struct {
	factory func() *session.Engine
	store   sessions.Store
	log     *logrus.Logger

	mu      sync.Mutex
	engines map[string]*engineEntry

	done      chan struct{}
	closeOnce sync.Once
}

func New(factory func() *session.Engine, store sessions.Store, log *logrus.Logger) *Server {
	s := &Server{
		factory: factory,
		store:   store,
		log:     log,
		engines: map[string]*engineEntry{},
		done:    make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Close stops the idle sweep and shuts down every session engine.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.engines {
		entry.engine.Close()
		delete(s.engines, id)
	}
}

func (s *Server) janitor() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.sweep(now)
		case <-s.done:
			return
		}
	}
}

func (s *Server) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.engines {
		if now.Sub(entry.last) > engineIdleTimeout {
			entry.engine.Close()
			delete(s.engines, id)
		}
	}
}

func (s *Server) ServeMux() http.Handler {
	router := chi.NewRouter()

	router.Get("/view", s.ViewHandler)
	router.Get("/markers/within", s.WithinHandler)

	router.Post("/click", s.ClickHandler)
	router.Post("/draft", s.DraftHandler)
	router.Post("/submit", s.SubmitHandler)
	router.Post("/cancel", s.CancelHandler)
	router.Post("/edit", s.EditHandler)
	router.Post("/delete", s.DeleteHandler)
	router.Post("/filter", s.FilterHandler)
	router.Post("/search", s.SearchHandler)
	router.Post("/search/select", s.SelectHandler)
	router.Post("/image", s.ImageHandler)

	return router
}

// engine returns the session's engine, creating the session and engine
// on first contact.
func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*session.Engine, error) {
	sess, err := s.store.Get(r, sessionName)
	if err != nil {
		return nil, errors.Wrap(err, "could not get session")
	}

	id, ok := sess.Values["id"].(string)
	if !ok || id == "" {
		id = uuid.Must(uuid.NewV4()).String()
		sess.Values["id"] = id
		if err := sess.Save(r, w); err != nil {
			return nil, errors.Wrap(err, "could not save session")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.engines[id]
	if !ok {
		entry = &engineEntry{engine: s.factory()}
		entry.engine.Start()
		s.engines[id] = entry
	}
	entry.last = time.Now()
	return entry.engine, nil
}

func (s *Server) error(w http.ResponseWriter, err error, code int) {
	s.log.Error(err.Error())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.Encode(map[string]string{
		"status":  "error",
		"message": err.Error(),
	})
}

func (s *Server) ok(w http.ResponseWriter, response interface{}) {
	if response == nil {
		response = map[string]string{"status": "success"}
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	if err := enc.Encode(response); err != nil {
		s.log.Error(err.Error())
	}
}

func (s *Server) decode(r *http.Request, request interface{}) error {
	dec := json.NewDecoder(r.Body)
	return errors.Wrap(dec.Decode(request), "could not decode request")
}

func (s *Server) ViewHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}
	// flashes and map commands are delivered once
	s.ok(w, eng.Consume())
}

func (s *Server) WithinHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	box := [4]float64{}
	for i, name := range []string{"minLat", "minLng", "maxLat", "maxLng"} {
		box[i], err = strconv.ParseFloat(r.URL.Query().Get(name), 64)
		if err != nil {
			s.error(w, errors.Wrapf(err, "invalid %s", name), http.StatusBadRequest)
			return
		}
	}

	ms, err := eng.Within(box[0], box[1], box[2], box[3])
	if err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}
	s.ok(w, ms)
}

func (s *Server) ClickHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var coords markers.Coords
	if err := s.decode(r, &coords); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	eng.Click(coords.Lat, coords.Lng)
	s.ok(w, nil)
}

func (s *Server) DraftHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var draft markers.Draft
	if err := s.decode(r, &draft); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	eng.UpdateDraft(draft)
	s.ok(w, nil)
}

func (s *Server) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var draft markers.Draft
	if err := s.decode(r, &draft); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	if err := eng.Submit(draft); err != nil {
		s.error(w, err, http.StatusUnprocessableEntity)
		return
	}
	s.ok(w, nil)
}

func (s *Server) CancelHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}
	eng.Cancel()
	s.ok(w, nil)
}

type idRequest struct {
	ID string `json:"id"`
}

func (s *Server) EditHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var request idRequest
	if err := s.decode(r, &request); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	eng.Edit(request.ID)
	s.ok(w, nil)
}

func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var request idRequest
	if err := s.decode(r, &request); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	eng.Delete(request.ID)
	s.ok(w, nil)
}

func (s *Server) FilterHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var filter markers.FilterSpec
	if err := s.decode(r, &filter); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	eng.SetFilter(filter)
	s.ok(w, nil)
}

func (s *Server) SearchHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var request struct {
		Query string `json:"query"`
	}
	if err := s.decode(r, &request); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	eng.Search(request.Query)
	s.ok(w, nil)
}

func (s *Server) SelectHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	var request struct {
		Index int `json:"index"`
	}
	if err := s.decode(r, &request); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}

	eng.SelectSearchResult(request.Index)
	s.ok(w, nil)
}

func (s *Server) ImageHandler(w http.ResponseWriter, r *http.Request) {
	eng, err := s.engine(w, r)
	if err != nil {
		s.error(w, err, http.StatusInternalServerError)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageSize)
	if err := r.ParseMultipartForm(maxImageSize); err != nil {
		s.error(w, errors.Wrap(err, "could not parse upload"), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	file, handler, err := r.FormFile("userfile")
	if err != nil {
		s.error(w, errors.Wrap(err, "could not read upload"), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := ioutil.ReadAll(file)
	if err != nil {
		s.error(w, errors.Wrap(err, "could not read upload"), http.StatusBadRequest)
		return
	}

	if err := eng.AttachImage(handler.Filename, data); err != nil {
		s.error(w, err, http.StatusBadRequest)
		return
	}
	s.ok(w, nil)
}
