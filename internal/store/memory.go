package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	children map[string]map[string]string // parent ID → name → child ID
	blobs    map[string]*Blob
	now      func() time.Time

	// Roaring bitmap index: source file path → set of item internal IDs.
	sourceToItems map[string]*roaring.Bitmap
	itemIntID     map[string]uint32
	intToItemID   []string
}

// NewMemoryStore returns a store holding only the root folder.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries:       make(map[string]*Entry),
		children:      make(map[string]map[string]string),
		blobs:         make(map[string]*Blob),
		now:           time.Now,
		sourceToItems: make(map[string]*roaring.Bitmap),
		itemIntID:     make(map[string]uint32),
	}
	t := s.now()
	s.entries[RootID] = &Entry{ID: RootID, Kind: KindFolder, Created: t, Updated: t}
	return s
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return cloneEntry(e), nil
}

func (s *MemoryStore) Child(_ context.Context, parentID, name string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.children[parentID][name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", parentID, name, ErrNotFound)
	}
	return cloneEntry(s.entries[id]), nil
}

func (s *MemoryStore) Children(_ context.Context, id string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entries[id]; !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	out := make([]*Entry, 0, len(s.children[id]))
	for _, cid := range s.children[id] {
		out = append(out, cloneEntry(s.entries[cid]))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) EnsureFolder(_ context.Context, parentID, name, creator string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, created, err := s.ensure(parentID, name, creator, KindFolder)
	if err != nil {
		return nil, false, err
	}
	return cloneEntry(e), created, nil
}

// ensure must be called with s.mu held.
func (s *MemoryStore) ensure(parentID, name, creator string, kind Kind) (*Entry, bool, error) {
	parent, ok := s.entries[parentID]
	if !ok || parent.Kind != KindFolder {
		return nil, false, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}
	if id, ok := s.children[parentID][name]; ok {
		e := s.entries[id]
		if e.Kind != kind {
			return nil, false, fmt.Errorf("%s %q exists under %s: %w", e.Kind, name, parentID, ErrConflict)
		}
		return e, false, nil
	}

	t := s.now()
	e := &Entry{
		ID:       uuid.NewString(),
		ParentID: parentID,
		Name:     name,
		Kind:     kind,
		Meta:     Metadata{},
		Creator:  creator,
		Created:  t,
		Updated:  t,
	}
	s.entries[e.ID] = e
	if s.children[parentID] == nil {
		s.children[parentID] = make(map[string]string)
	}
	s.children[parentID][name] = e.ID
	return e, true, nil
}

func (s *MemoryStore) SaveMeta(_ context.Context, id string, meta Metadata) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	e.Meta = Merge(e.Meta, meta)
	e.Updated = s.now()
	return cloneEntry(e), nil
}

func (s *MemoryStore) PutItem(_ context.Context, w ItemWrite) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, _, err := s.ensure(w.ParentID, w.Name, w.Creator, KindItem)
	if err != nil {
		return nil, err
	}
	e.Meta = Merge(e.Meta, w.Meta)
	e.Updated = s.now()

	b := w.Blob
	b.ItemID = e.ID
	if old, ok := s.blobs[e.ID]; ok && old.SourceFilePath != b.SourceFilePath {
		s.unindex(e.ID, old.SourceFilePath)
	}
	s.blobs[e.ID] = &b
	s.index(e.ID, b.SourceFilePath)
	return cloneEntry(e), nil
}

func (s *MemoryStore) Blob(_ context.Context, itemID string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[itemID]
	if !ok {
		if _, exists := s.entries[itemID]; !exists {
			return nil, fmt.Errorf("%s: %w", itemID, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", itemID, ErrNoBlob)
	}
	c := *b
	return &c, nil
}

func (s *MemoryStore) ItemsFromSource(_ context.Context, sourceFilePath string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bm, ok := s.sourceToItems[sourceFilePath]
	if !ok {
		return nil, nil
	}
	ids := make([]string, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		ids = append(ids, s.intToItemID[it.Next()])
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) Close() error { return nil }

// index must be called with s.mu held.
func (s *MemoryStore) index(itemID, sourceFile string) {
	if sourceFile == "" {
		return
	}
	intID, ok := s.itemIntID[itemID]
	if !ok {
		intID = uint32(len(s.intToItemID))
		s.itemIntID[itemID] = intID
		s.intToItemID = append(s.intToItemID, itemID)
	}
	bm, ok := s.sourceToItems[sourceFile]
	if !ok {
		bm = roaring.New()
		s.sourceToItems[sourceFile] = bm
	}
	bm.Add(intID)
}

// unindex must be called with s.mu held.
func (s *MemoryStore) unindex(itemID, sourceFile string) {
	bm, ok := s.sourceToItems[sourceFile]
	if !ok {
		return
	}
	bm.Remove(s.itemIntID[itemID])
	if bm.IsEmpty() {
		delete(s.sourceToItems, sourceFile)
	}
}

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Meta = e.Meta.Clone()
	return &c
}

var _ Store = (*MemoryStore)(nil)
