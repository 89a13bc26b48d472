package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// Store keys. Each holds one whole-value JSON snapshot.
const (
	KeySettings     = "userSettings"
	KeyRuntimeState = "runtimeState"
	KeyEventLog     = "eventLog"
	KeySchedule     = "activitySchedule"
)

var storeKeys = []string{KeySettings, KeyRuntimeState, KeyEventLog, KeySchedule}

// Backend names accepted by OpenStore.
const (
	BackendFile      = "file"
	BackendSQLCipher = "sqlcipher"
	BackendSQLite    = "sqlite"
)

// ErrStoreClosed is returned for requests made after Close.
var ErrStoreClosed = errors.New("store closed")

// kvBackend is the medium behind the store. Get reports absence with ok=false.
type kvBackend interface {
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
	Delete(key string) error
	// WatchTargets names the directory and file names that change on a write.
	WatchTargets() (dir string, names []string)
	Close() error
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for defaults and event timestamps.
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) { s.clock = clock }
}

// Store implements domain.Store. Every request runs on a single worker
// goroutine in submission order, so reads within one process always see
// earlier writes from the same process. There is no cross-process lock;
// the last writer wins.
type Store struct {
	backend kvBackend
	logger  *zap.Logger
	clock   func() time.Time

	reqs    chan func()
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool
}

// OpenStore opens the named backend under dataDir. The key provider is only
// consulted for the encrypted backend.
func OpenStore(backend, dataDir string, keys domain.KeyProvider, logger *zap.Logger, opts ...StoreOption) (*Store, error) {
	var (
		b   kvBackend
		err error
	)

	switch backend {
	case "", BackendFile:
		b, err = newFileBackend(dataDir)
	case BackendSQLCipher:
		var key []byte
		key, err = EnsureKey(keys)
		if err != nil {
			return nil, fmt.Errorf("failed to load store key: %w", err)
		}
		b, err = newSQLCipherBackend(dataDir, key)
	case BackendSQLite:
		b, err = newSQLiteBackend(dataDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("store opened", zap.String("backend", backend), zap.String("data_dir", dataDir))
	return NewStore(b, logger, opts...), nil
}

// NewStore wraps a backend and starts the queue worker.
func NewStore(b kvBackend, logger *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{
		backend: b,
		logger:  logger,
		clock:   time.Now,
		reqs:    make(chan func(), 64),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.worker()
	return s
}

func (s *Store) worker() {
	defer close(s.done)
	for fn := range s.reqs {
		fn()
	}
}

// submit queues fn. It reports false once the store is closed.
func (s *Store) submit(fn func()) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return false
	}
	s.reqs <- fn
	return true
}

// do queues fn and waits for it to run.
func (s *Store) do(fn func()) error {
	finished := make(chan struct{})
	if !s.submit(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStoreClosed
	}
	<-finished
	return nil
}

// WatchTargets exposes where external writes become visible.
func (s *Store) WatchTargets() (string, []string) {
	return s.backend.WatchTargets()
}

// --- helpers, only called on the worker ---

// load decodes key into v. Absent and undecodable values both report false.
func (s *Store) load(key string, v any) bool {
	data, ok, err := s.backend.Get(key)
	if err != nil {
		s.logger.Debug("store read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Debug("store value undecodable, using default", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

func (s *Store) save(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	if err := s.backend.Put(key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) loadRuntime() domain.RuntimeState {
	var rt domain.RuntimeState
	if !s.load(KeyRuntimeState, &rt) {
		return domain.InitialRuntimeState(s.clock())
	}
	return rt
}

func (s *Store) loadLog() domain.EventLog {
	var l domain.EventLog
	if !s.load(KeyEventLog, &l) {
		return domain.EventLog{}
	}
	return l
}

// --- domain.Store ---

// LoadSettings returns the stored settings, or the defaults.
func (s *Store) LoadSettings() domain.Settings {
	settings := domain.DefaultSettings()
	_ = s.do(func() {
		var v domain.Settings
		if s.load(KeySettings, &v) {
			settings = v.Validate()
		}
	})
	return settings
}

// SaveSettings clamps and writes the settings.
func (s *Store) SaveSettings(v domain.Settings) error {
	var err error
	if qerr := s.do(func() { err = s.save(KeySettings, v.Validate()) }); qerr != nil {
		return qerr
	}
	return err
}

// LoadRuntimeState returns the stored runtime state, or the initial one.
func (s *Store) LoadRuntimeState() domain.RuntimeState {
	rt := domain.InitialRuntimeState(s.clock())
	_ = s.do(func() { rt = s.loadRuntime() })
	return rt
}

// SaveRuntimeState writes the runtime state and waits for it.
func (s *Store) SaveRuntimeState(rt domain.RuntimeState) error {
	var err error
	if qerr := s.do(func() { err = s.save(KeyRuntimeState, rt) }); qerr != nil {
		return qerr
	}
	return err
}

// SaveRuntimeStateAsync queues the write and returns at once.
func (s *Store) SaveRuntimeStateAsync(rt domain.RuntimeState) {
	ok := s.submit(func() {
		if err := s.save(KeyRuntimeState, rt); err != nil {
			s.logger.Warn("async runtime state write failed", zap.Error(err))
		}
	})
	if !ok {
		s.logger.Debug("dropping runtime state write on closed store")
	}
}

// UpdateRuntimeState runs fn between a read and a write inside one queued job.
func (s *Store) UpdateRuntimeState(fn func(*domain.RuntimeState)) (domain.RuntimeState, error) {
	var (
		rt  domain.RuntimeState
		err error
	)
	if qerr := s.do(func() {
		rt = s.loadRuntime()
		fn(&rt)
		err = s.save(KeyRuntimeState, rt)
	}); qerr != nil {
		return rt, qerr
	}
	return rt, err
}

// LogEvent appends one entry to the bounded event log.
func (s *Store) LogEvent(t domain.EventType, details *string, d *time.Duration) error {
	var err error
	if qerr := s.do(func() {
		l := s.loadLog()
		l.Append(domain.NewEventLogEntry(s.clock(), t, details, d))
		err = s.save(KeyEventLog, l)
	}); qerr != nil {
		return qerr
	}
	return err
}

// LoadEventLog returns the stored event log, or an empty one.
func (s *Store) LoadEventLog() domain.EventLog {
	var l domain.EventLog
	_ = s.do(func() { l = s.loadLog() })
	return l
}

// LoadSchedule returns the persisted activity schedule, if any.
func (s *Store) LoadSchedule() (domain.ActivitySchedule, bool) {
	var (
		a  domain.ActivitySchedule
		ok bool
	)
	_ = s.do(func() { ok = s.load(KeySchedule, &a) })
	return a, ok
}

// SaveSchedule writes the activity schedule.
func (s *Store) SaveSchedule(a domain.ActivitySchedule) error {
	var err error
	if qerr := s.do(func() { err = s.save(KeySchedule, a) }); qerr != nil {
		return qerr
	}
	return err
}

// ClearSchedule removes the activity schedule.
func (s *Store) ClearSchedule() error {
	var err error
	if qerr := s.do(func() { err = s.backend.Delete(KeySchedule) }); qerr != nil {
		return qerr
	}
	return err
}

// ClearAll removes every key.
func (s *Store) ClearAll() error {
	var errs []error
	if qerr := s.do(func() {
		for _, key := range storeKeys {
			if err := s.backend.Delete(key); err != nil {
				errs = append(errs, fmt.Errorf("failed to delete %s: %w", key, err))
			}
		}
	}); qerr != nil {
		return qerr
	}
	return errors.Join(errs...)
}

// Close drains the queue and releases the backend.
func (s *Store) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	close(s.reqs)
	s.closeMu.Unlock()

	<-s.done
	return s.backend.Close()
}

// Ensure Store implements domain.Store.
var _ domain.Store = (*Store)(nil)
