package hal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Persisted blob keys, prefixed by WithPrefix.
const (
	OriginsKey = "origins"
	AliasesKey = "aliases"
)

// StorageEvent is published for every origin write.
type StorageEvent struct {
	Origin string
	Data   Payload
}

// Storage is the identity map: origin to payload and alias to origin. It
// notifies alias subscribers on every write and persists both maps through
// a Dumper.
type Storage struct {
	kv     KeyValueStore
	cfg    *config
	dumper *Dumper

	mu      sync.RWMutex
	aliases map[string]string
	origins map[string]Payload
	dirty   bool

	// writeMu serializes dumps with Clear so a late dump cannot resurrect
	// cleared keys.
	writeMu sync.Mutex

	aliasBus *Bus[Payload]
	changes  *Channel[StorageEvent]
}

// NewStorage creates a Storage backed by kv and restores both maps from it.
// Absent or corrupt blobs are treated as empty.
func NewStorage(ctx context.Context, kv KeyValueStore, opts ...Option) (*Storage, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return newStorage(ctx, kv, cfg)
}

func newStorage(ctx context.Context, kv KeyValueStore, cfg *config) (*Storage, error) {
	if kv == nil {
		return nil, fmt.Errorf("hal: key-value store is required")
	}

	s := &Storage{
		kv:       kv,
		cfg:      cfg,
		aliases:  make(map[string]string),
		origins:  make(map[string]Payload),
		aliasBus: NewBus[Payload](FanOut),
		changes:  NewChannel[StorageEvent](FanOut),
	}

	if err := s.Reload(ctx); err != nil {
		return nil, err
	}

	s.dumper = NewDumper(s.dump, DumperConfig{
		QuietWindow: cfg.quietWindow,
		Interval:    cfg.dumpInterval,
		AutoDump:    cfg.autoDump,
		Logger:      cfg.logger,
	})
	return s, nil
}

// Reload replaces both maps with the persisted blobs. Subscribers are not
// notified.
func (s *Storage) Reload(ctx context.Context) error {
	aliases := make(map[string]string)
	if err := s.restore(ctx, s.key(AliasesKey), &aliases); err != nil {
		return err
	}
	origins := make(map[string]Payload)
	if err := s.restore(ctx, s.key(OriginsKey), &origins); err != nil {
		return err
	}

	s.mu.Lock()
	s.aliases = aliases
	s.origins = origins
	s.dirty = false
	s.mu.Unlock()

	if s.cfg.logger != nil {
		s.cfg.logger.Debug("storage restored", "aliases", len(aliases), "origins", len(origins))
	}
	return nil
}

func (s *Storage) restore(ctx context.Context, key string, dst any) error {
	raw, ok, err := s.kv.GetItem(ctx, key)
	if err != nil {
		return fmt.Errorf("hal: restore %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		if s.cfg.logger != nil {
			s.cfg.logger.Error("discarding corrupt blob", "key", key, "error", err)
		}
		// dst may be partially filled
		switch m := dst.(type) {
		case *map[string]string:
			*m = make(map[string]string)
		case *map[string]Payload:
			*m = make(map[string]Payload)
		}
	}
	return nil
}

func (s *Storage) key(name string) string {
	return s.cfg.prefix + name
}

// Origin returns the origin alias resolves to.
func (s *Storage) Origin(alias string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	origin, ok := s.aliases[alias]
	return origin, ok
}

// Item returns the payload stored for origin.
func (s *Storage) Item(origin string) (Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.origins[origin]
	return data, ok
}

// Resolve returns the payload alias currently resolves to.
func (s *Storage) Resolve(alias string) (Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	origin, ok := s.aliases[alias]
	if !ok {
		return nil, false
	}
	data, ok := s.origins[origin]
	return data, ok
}

// SetItem stores data as the payload of origin, flattens its embedded
// resources, notifies every alias of origin and requests a dump.
func (s *Storage) SetItem(origin string, data Payload) {
	s.setItem(origin, data, map[string]bool{})
	s.dumper.Request()
}

func (s *Storage) setItem(origin string, data Payload, visiting map[string]bool) {
	visiting[origin] = true
	defer delete(visiting, origin)

	s.mu.Lock()
	s.origins[origin] = data
	s.aliases[origin] = origin
	children := s.flattenLocked(origin, data)
	s.dirty = true
	s.mu.Unlock()

	for _, child := range children {
		if visiting[child.origin] {
			continue
		}
		s.setItem(child.origin, child.data, visiting)
	}

	aliases := s.AliasesFor(origin)
	s.changes.Publish(StorageEvent{Origin: origin, Data: data})
	for _, alias := range aliases {
		s.aliasBus.Publish(alias, data)
	}
	s.cfg.observability.OnNotify(context.Background(), origin, len(aliases))
}

// RemoveItem deletes the payload of origin. Aliases pointing at it are kept
// and resolve to nothing until the origin is stored again.
func (s *Storage) RemoveItem(origin string) {
	s.mu.Lock()
	delete(s.origins, origin)
	s.dirty = true
	s.mu.Unlock()

	s.dumper.Request()
}

// Attach points alias at origin, replacing any previous target.
func (s *Storage) Attach(origin, alias string) {
	s.mu.Lock()
	s.aliases[alias] = origin
	s.dirty = true
	s.mu.Unlock()

	s.dumper.Request()
}

// Detach removes alias.
func (s *Storage) Detach(alias string) {
	s.mu.Lock()
	delete(s.aliases, alias)
	s.dirty = true
	s.mu.Unlock()

	s.dumper.Request()
}

// AliasesFor returns every alias resolving to origin, sorted.
func (s *Storage) AliasesFor(origin string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliasesForLocked(origin)
}

func (s *Storage) aliasesForLocked(origin string) []string {
	var aliases []string
	for alias, o := range s.aliases {
		if o == origin {
			aliases = append(aliases, alias)
		}
	}
	sort.Strings(aliases)
	return aliases
}

// Aliases returns a copy of the alias map.
func (s *Storage) Aliases() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.aliases))
	for k, v := range s.aliases {
		out[k] = v
	}
	return out
}

// Origins returns a copy of the origin map. Payloads are shared, not copied.
func (s *Storage) Origins() map[string]Payload {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Payload, len(s.origins))
	for k, v := range s.origins {
		out[k] = v
	}
	return out
}

// RemoveWhere deletes every origin matching fn and returns how many were
// removed.
func (s *Storage) RemoveWhere(fn func(origin string) bool) int {
	s.mu.Lock()
	var n int
	for origin := range s.origins {
		if fn(origin) {
			delete(s.origins, origin)
			n++
		}
	}
	if n > 0 {
		s.dirty = true
	}
	s.mu.Unlock()

	if n > 0 {
		s.dumper.Request()
	}
	return n
}

// Subscribe registers handler for payloads published to alias. If alias
// already resolves to a stored payload, handler receives it before Subscribe
// returns.
func (s *Storage) Subscribe(alias string, handler Handler[Payload]) (cancel func()) {
	return s.aliasBus.SubscribeSeeded(alias, handler, func() (Payload, bool) {
		return s.Resolve(alias)
	})
}

// SubscribeChanges registers handler for every origin write.
func (s *Storage) SubscribeChanges(handler Handler[StorageEvent]) (cancel func()) {
	return s.changes.Subscribe(handler)
}

// SetAutoDump enables or disables dumping after mutations.
func (s *Storage) SetAutoDump(enabled bool) {
	s.dumper.SetAutoDump(enabled)
}

// Dump writes both maps immediately.
func (s *Storage) Dump(ctx context.Context) error {
	return s.dumper.Flush(ctx)
}

func (s *Storage) dump(ctx context.Context, reason string) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if reason == DumpAuto && !s.dirty {
		s.mu.Unlock()
		return nil
	}
	aliases, aerr := json.Marshal(s.aliases)
	origins, oerr := json.Marshal(s.origins)
	s.dirty = false
	s.mu.Unlock()

	ctx = s.cfg.observability.OnDumpStart(ctx, reason)
	start := time.Now()
	defer func() {
		if err != nil {
			s.mu.Lock()
			s.dirty = true
			s.mu.Unlock()
		}
		s.cfg.observability.OnDumpComplete(ctx, time.Since(start), len(aliases)+len(origins), err)
	}()

	if aerr != nil {
		return fmt.Errorf("hal: marshal aliases: %w", aerr)
	}
	if oerr != nil {
		return fmt.Errorf("hal: marshal origins: %w", oerr)
	}
	if err := s.kv.SetItem(ctx, s.key(AliasesKey), string(aliases)); err != nil {
		return fmt.Errorf("hal: write aliases: %w", err)
	}
	if err := s.kv.SetItem(ctx, s.key(OriginsKey), string(origins)); err != nil {
		return fmt.Errorf("hal: write origins: %w", err)
	}

	if s.cfg.logger != nil {
		s.cfg.logger.Debug("storage dumped", "reason", reason, "bytes", len(aliases)+len(origins))
	}
	return nil
}

// Clear cancels a pending dump, empties both maps and removes both persisted
// keys. Other keys of the store are left alone.
func (s *Storage) Clear(ctx context.Context) error {
	s.dumper.Reset()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.aliases = make(map[string]string)
	s.origins = make(map[string]Payload)
	s.dirty = false
	s.mu.Unlock()

	if err := s.kv.RemoveItem(ctx, s.key(AliasesKey)); err != nil {
		return fmt.Errorf("hal: remove aliases: %w", err)
	}
	if err := s.kv.RemoveItem(ctx, s.key(OriginsKey)); err != nil {
		return fmt.Errorf("hal: remove origins: %w", err)
	}
	return nil
}

// Close writes a final snapshot if anything changed and stops the dumper.
func (s *Storage) Close(ctx context.Context) error {
	s.dumper.Stop()

	s.mu.RLock()
	dirty := s.dirty
	s.mu.RUnlock()
	if !dirty {
		return nil
	}
	return s.dump(ctx, DumpClose)
}
