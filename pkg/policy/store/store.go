package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/policy"
)

// Persister durably stores the authoritative definition set. Implementations
// must be safe for concurrent use.
type Persister interface {
	// Save persists the current set at the given version.
	Save(ctx context.Context, version uint64, defs []*policy.Definition) error

	// SaveBackup persists the immutable recovery set. Written once, at
	// the first successful load.
	SaveBackup(ctx context.Context, defs []*policy.Definition) error

	// Load returns the last persisted set and its version.
	Load(ctx context.Context) (uint64, []*policy.Definition, error)

	// Close releases backend resources.
	Close() error
}

// entry pairs a definition with its insertion sequence, the stable
// tie-break for equal priorities.
type entry struct {
	def *policy.Definition
	seq uint64
}

// Snapshot is an immutable view of the definition set at one version.
// In-flight evaluations complete against a stable snapshot even while the
// store is being mutated.
type Snapshot struct {
	version uint64
	entries []*entry // sorted: priority asc, insertion seq asc
	byID    map[string]*entry
}

// Version returns the snapshot's store version.
func (s *Snapshot) Version() uint64 { return s.version }

// Len returns the number of definitions in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// ForType returns the enabled definitions applicable to the given policy
// type, in evaluation order. The returned definitions are shared and must
// not be mutated.
func (s *Snapshot) ForType(policyType string) []*policy.Definition {
	var defs []*policy.Definition
	for _, e := range s.entries {
		if e.def.Enabled && e.def.AppliesTo(policyType) {
			defs = append(defs, e.def)
		}
	}
	return defs
}

// All returns every definition in the snapshot, in evaluation order.
func (s *Snapshot) All() []*policy.Definition {
	defs := make([]*policy.Definition, len(s.entries))
	for i, e := range s.entries {
		defs[i] = e.def
	}
	return defs
}

// Store is the authoritative, versioned policy store.
type Store struct {
	mu        sync.Mutex // serializes writers
	snap      atomic.Pointer[Snapshot]
	seq       uint64 // insertion order counter
	recorder  events.Recorder
	persister Persister
	logger    *slog.Logger
	backupSet bool
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder sets the audit event recorder for policy mutations.
func WithRecorder(r events.Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithPersister sets the durable storage backend.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store at version 0.
func New(opts ...Option) *Store {
	s := &Store{
		logger: slog.Default().With("component", "policy.store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snap.Store(&Snapshot{byID: map[string]*entry{}})
	return s
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Version returns the current policy version. It increases monotonically
// on every mutation.
func (s *Store) Version() uint64 {
	return s.snap.Load().version
}

// Load atomically replaces the whole definition set. Validation covers the
// entire set with aggregated errors; a partial load never happens. The
// first successful load also writes the immutable backup set.
func (s *Store) Load(ctx context.Context, defs []*policy.Definition) error {
	if verr := policy.ValidateSet(defs); verr != nil {
		return verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*entry, 0, len(defs))
	byID := make(map[string]*entry, len(defs))
	for _, def := range defs {
		s.seq++
		e := &entry{def: def.Clone(), seq: s.seq}
		entries = append(entries, e)
		byID[def.ID] = e
	}
	next := &Snapshot{
		version: s.snap.Load().version + 1,
		entries: entries,
		byID:    byID,
	}
	sortEntries(next.entries)

	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.snap.Store(next)

	if s.persister != nil && !s.backupSet {
		if err := s.persister.SaveBackup(ctx, next.All()); err != nil {
			s.logger.Warn("failed to write backup policy set", "error", err)
		} else {
			s.backupSet = true
		}
	}

	s.recordMutation("load", "", next.version, len(defs))
	s.logger.Info("policy set loaded", "policies", len(defs), "version", next.version)
	return nil
}

// Get returns a copy of the definition with the given id.
func (s *Store) Get(id string) (*policy.Definition, error) {
	e, ok := s.snap.Load().byID[id]
	if !ok {
		return nil, &policy.NotFoundError{PolicyID: id}
	}
	return e.def.Clone(), nil
}

// List returns copies of all definitions, optionally restricted to one
// policy type, in evaluation order. Disabled definitions are included;
// filtering by enablement is the evaluator's concern.
func (s *Store) List(policyType string) []*policy.Definition {
	snap := s.snap.Load()
	defs := make([]*policy.Definition, 0, len(snap.entries))
	for _, e := range snap.entries {
		if policyType != "" && !e.def.AppliesTo(policyType) {
			continue
		}
		defs = append(defs, e.def.Clone())
	}
	return defs
}

// Create adds a new definition. Fails with ConflictError if the id exists.
func (s *Store) Create(ctx context.Context, def *policy.Definition) error {
	if verr := policy.Validate(def); verr != nil {
		return verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, exists := cur.byID[def.ID]; exists {
		return &policy.ConflictError{PolicyID: def.ID}
	}

	s.seq++
	next := cur.withEntry(&entry{def: def.Clone(), seq: s.seq})
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.snap.Store(next)
	s.recordMutation("create", def.ID, next.version, next.Len())
	return nil
}

// Update replaces the definition with the given id, preserving its
// insertion order for priority tie-breaking.
func (s *Store) Update(ctx context.Context, id string, def *policy.Definition) error {
	def.ID = id
	if verr := policy.Validate(def); verr != nil {
		return verr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	old, ok := cur.byID[id]
	if !ok {
		return &policy.NotFoundError{PolicyID: id}
	}

	next := cur.without(id).withEntry(&entry{def: def.Clone(), seq: old.seq})
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.snap.Store(next)
	s.recordMutation("update", id, next.version, next.Len())
	return nil
}

// Delete removes the definition with the given id.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	if _, ok := cur.byID[id]; !ok {
		return &policy.NotFoundError{PolicyID: id}
	}

	next := cur.without(id)
	next.version = cur.version + 1
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.snap.Store(next)
	s.recordMutation("delete", id, next.version, next.Len())
	return nil
}

// Enable marks the definition enabled.
func (s *Store) Enable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, true)
}

// Disable marks the definition disabled. Disabled policies never influence
// a decision.
func (s *Store) Disable(ctx context.Context, id string) error {
	return s.setEnabled(ctx, id, false)
}

func (s *Store) setEnabled(ctx context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snap.Load()
	old, ok := cur.byID[id]
	if !ok {
		return &policy.NotFoundError{PolicyID: id}
	}
	if old.def.Enabled == enabled {
		return nil // no-op, no version bump
	}

	def := old.def.Clone()
	def.Enabled = enabled
	next := cur.without(id).withEntry(&entry{def: def, seq: old.seq})
	if err := s.persist(ctx, next); err != nil {
		return err
	}
	s.snap.Store(next)

	op := "disable"
	if enabled {
		op = "enable"
	}
	s.recordMutation(op, id, next.version, next.Len())
	return nil
}

// Restore loads the last persisted set from the persister, falling back to
// nothing if the backend is empty.
func (s *Store) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	version, defs, err := s.persister.Load(ctx)
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*entry, 0, len(defs))
	byID := make(map[string]*entry, len(defs))
	for _, def := range defs {
		s.seq++
		e := &entry{def: def.Clone(), seq: s.seq}
		entries = append(entries, e)
		byID[def.ID] = e
	}
	next := &Snapshot{version: version, entries: entries, byID: byID}
	sortEntries(next.entries)
	s.snap.Store(next)
	s.backupSet = true

	s.logger.Info("policy set restored", "policies", len(defs), "version", version)
	return nil
}

// withEntry returns a copy of the snapshot with the entry added and the
// version bumped.
func (snap *Snapshot) withEntry(e *entry) *Snapshot {
	next := &Snapshot{
		version: snap.version + 1,
		entries: make([]*entry, 0, len(snap.entries)+1),
		byID:    make(map[string]*entry, len(snap.entries)+1),
	}
	for _, old := range snap.entries {
		next.entries = append(next.entries, old)
		next.byID[old.def.ID] = old
	}
	next.entries = append(next.entries, e)
	next.byID[e.def.ID] = e
	sortEntries(next.entries)
	return next
}

// without returns a copy of the snapshot with the id removed. The version
// is carried over unchanged; callers bump it (Delete directly, Update and
// enable/disable via the subsequent withEntry).
func (snap *Snapshot) without(id string) *Snapshot {
	next := &Snapshot{
		version: snap.version,
		entries: make([]*entry, 0, len(snap.entries)),
		byID:    make(map[string]*entry, len(snap.entries)),
	}
	for _, old := range snap.entries {
		if old.def.ID == id {
			continue
		}
		next.entries = append(next.entries, old)
		next.byID[old.def.ID] = old
	}
	return next
}

func sortEntries(entries []*entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].def.Priority != entries[j].def.Priority {
			return entries[i].def.Priority < entries[j].def.Priority
		}
		return entries[i].seq < entries[j].seq
	})
}

func (s *Store) persist(ctx context.Context, snap *Snapshot) error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Save(ctx, snap.version, snap.All())
}

func (s *Store) recordMutation(op, policyID string, version uint64, count int) {
	if s.recorder == nil {
		return
	}
	ev := events.New(events.TypePolicyMutation)
	ev.PolicyID = policyID
	ev.Metadata = map[string]interface{}{
		"operation":      op,
		"policy_version": version,
		"policy_count":   count,
	}
	s.recorder.Append(ev)
}
