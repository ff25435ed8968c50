// Package store owns the in-memory user states and their playerdata documents.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Staticpast/ModeManager/internal/persistence/atomicfile"
	"github.com/Staticpast/ModeManager/internal/sim/model"
)

const docExt = ".yml"

// Store hands out user states. Get never fails: unreadable or corrupt
// documents fall back to a fresh default state.
//
// Saves are encoded on the caller's goroutine and written by a background
// writer; a load always sees the newest queued document.
type Store struct {
	dir    string
	logger *log.Logger
	now    func() time.Time

	mu          sync.Mutex
	states      map[uuid.UUID]*model.UserState
	defaultMode model.Mode

	pmu      sync.Mutex
	pending  map[uuid.UUID][]byte
	inflight map[uuid.UUID][]byte

	wake  chan struct{}
	flush chan chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	writeErrors atomic.Uint64
}

type Stats struct {
	Loaded      int    `json:"loaded"`
	Pending     int    `json:"pending"`
	WriteErrors uint64 `json:"write_errors"`
}

// Open prepares dir (usually <data>/playerdata) and starts the writer.
func Open(dir string, defaultMode model.Mode, logger *log.Logger, now func() time.Time) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("empty playerdata dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	if !defaultMode.Valid() {
		defaultMode = model.Survival
	}
	s := &Store{
		dir:         dir,
		logger:      logger,
		now:         now,
		states:      map[uuid.UUID]*model.UserState{},
		defaultMode: defaultMode,
		pending:     map[uuid.UUID][]byte{},
		inflight:    map[uuid.UUID][]byte{},
		wake:        make(chan struct{}, 1),
		flush:       make(chan chan struct{}, 8),
		stop:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) SetDefaultMode(m model.Mode) {
	if !m.Valid() {
		return
	}
	s.mu.Lock()
	s.defaultMode = m
	s.mu.Unlock()
}

// Get returns the live state for id, loading or creating it on first use.
func (s *Store) Get(id uuid.UUID) *model.UserState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		return st
	}
	st, ok := s.load(id)
	if !ok {
		st = model.NewUserState(id, s.defaultMode, s.now())
	}
	s.states[id] = st
	return st
}

// Peek returns the state if it is in memory or on disk, without caching it.
func (s *Store) Peek(id uuid.UUID) (*model.UserState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[id]; ok {
		return st, true
	}
	return s.load(id)
}

func (s *Store) IsLoaded(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.states[id]
	return ok
}

// Save queues the in-memory state for writing. No-op if id is not loaded.
func (s *Store) Save(id uuid.UUID) {
	s.mu.Lock()
	st, ok := s.states[id]
	var b []byte
	var err error
	if ok {
		b, err = Encode(st)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		s.logger.Printf("store: encode %s: %v", id, err)
		return
	}
	s.enqueue(id, b)
}

func (s *Store) SaveAll() {
	for _, id := range s.Loaded() {
		s.Save(id)
	}
}

// Evict drops the in-memory state without saving it.
func (s *Store) Evict(id uuid.UUID) {
	s.mu.Lock()
	delete(s.states, id)
	s.mu.Unlock()
}

// Loaded lists in-memory user ids, sorted.
func (s *Store) Loaded() []uuid.UUID {
	s.mu.Lock()
	out := make([]uuid.UUID, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	loaded := len(s.states)
	s.mu.Unlock()
	s.pmu.Lock()
	pending := len(s.pending) + len(s.inflight)
	s.pmu.Unlock()
	return Stats{Loaded: loaded, Pending: pending, WriteErrors: s.writeErrors.Load()}
}

// Flush waits until every queued document has been written (or failed).
func (s *Store) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flush <- ack:
	case <-s.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes what is queued and stops the writer.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

func (s *Store) Path(id uuid.UUID) string { return DocPath(s.dir, id) }

// DocPath is where the document for id lives in dir.
func DocPath(dir string, id uuid.UUID) string { return filepath.Join(dir, id.String()+docExt) }

// load must be called with s.mu held.
func (s *Store) load(id uuid.UUID) (*model.UserState, bool) {
	b, queued := s.queued(id)
	if !queued {
		var err error
		b, err = os.ReadFile(s.Path(id))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Printf("store: read %s: %v", id, err)
			}
			return nil, false
		}
	}
	st, err := Decode(b)
	if err != nil {
		s.logger.Printf("store: decode %s: %v", id, err)
		if !queued {
			s.quarantine(id)
		}
		return nil, false
	}
	if st.UserID != id {
		s.logger.Printf("store: %s holds data for %s, ignoring", s.Path(id), st.UserID)
		return nil, false
	}
	return st, true
}

// quarantine moves a corrupt document aside so a fresh state cannot overwrite it.
func (s *Store) quarantine(id uuid.UUID) {
	p := s.Path(id)
	dst := fmt.Sprintf("%s.corrupt-%d", p, s.now().Unix())
	if err := os.Rename(p, dst); err != nil {
		s.logger.Printf("store: quarantine %s: %v", p, err)
		return
	}
	s.logger.Printf("store: moved corrupt document to %s", dst)
}

func (s *Store) queued(id uuid.UUID) ([]byte, bool) {
	s.pmu.Lock()
	defer s.pmu.Unlock()
	if b, ok := s.pending[id]; ok {
		return b, true
	}
	b, ok := s.inflight[id]
	return b, ok
}

func (s *Store) enqueue(id uuid.UUID, b []byte) {
	s.pmu.Lock()
	s.pending[id] = b
	s.pmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			s.writePending()
			return
		case <-s.wake:
			s.writePending()
		case ack := <-s.flush:
			s.writePending()
			close(ack)
		}
	}
}

func (s *Store) writePending() {
	s.pmu.Lock()
	batch := s.pending
	s.pending = map[uuid.UUID][]byte{}
	for id, b := range batch {
		s.inflight[id] = b
	}
	s.pmu.Unlock()

	for id, b := range batch {
		err := atomicfile.Write(s.Path(id), b)
		s.pmu.Lock()
		delete(s.inflight, id)
		if err != nil {
			// Retry on the next wake unless a newer document was queued.
			if _, newer := s.pending[id]; !newer {
				s.pending[id] = b
			}
		}
		s.pmu.Unlock()
		if err != nil {
			s.writeErrors.Add(1)
			s.logger.Printf("store: write %s: %v", id, err)
		}
	}
}

// ReadFile decodes one user document, for offline tools.
func ReadFile(path string) (*model.UserState, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// List returns the user ids that have a document in dir, sorted.
func List(dir string) ([]uuid.UUID, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []uuid.UUID
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, docExt) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, docExt))
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
