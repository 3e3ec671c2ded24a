package models

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Ledger is the complete workspace state: restaurants, participants, orders
// and settings. A Ledger inside a committed Snapshot is immutable; mutations
// always work on a deep copy.
type Ledger struct {
	Restaurants  []Restaurant  `json:"restaurants"`
	Participants []Participant `json:"participants"`
	Orders       []Order       `json:"orders"`
	Settings     Settings      `json:"settings"`
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Clone returns a deep copy.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		Restaurants:  make([]Restaurant, len(l.Restaurants)),
		Participants: make([]Participant, len(l.Participants)),
		Orders:       make([]Order, len(l.Orders)),
		Settings:     l.Settings,
	}
	for i, r := range l.Restaurants {
		out.Restaurants[i] = r.Clone()
	}
	for i, p := range l.Participants {
		out.Participants[i] = p.Clone()
	}
	for i, o := range l.Orders {
		out.Orders[i] = o.Clone()
	}
	return out
}

// Restaurant returns the restaurant with the given ID, or nil.
func (l *Ledger) Restaurant(id string) *Restaurant {
	for i := range l.Restaurants {
		if l.Restaurants[i].ID == id {
			return &l.Restaurants[i]
		}
	}
	return nil
}

// Participant returns the participant with the given ID, or nil.
func (l *Ledger) Participant(id string) *Participant {
	for i := range l.Participants {
		if l.Participants[i].ID == id {
			return &l.Participants[i]
		}
	}
	return nil
}

// Order returns the order with the given ID, or nil.
func (l *Ledger) Order(id string) *Order {
	for i := range l.Orders {
		if l.Orders[i].ID == id {
			return &l.Orders[i]
		}
	}
	return nil
}

// sortCanonical puts every collection into canonical order: entities by ID,
// categories by (position, name), split lists by participant ID.
func (l *Ledger) sortCanonical() {
	sort.Slice(l.Restaurants, func(i, j int) bool { return l.Restaurants[i].ID < l.Restaurants[j].ID })
	sort.Slice(l.Participants, func(i, j int) bool { return l.Participants[i].ID < l.Participants[j].ID })
	sort.Slice(l.Orders, func(i, j int) bool { return l.Orders[i].ID < l.Orders[j].ID })
	for ri := range l.Restaurants {
		r := &l.Restaurants[ri]
		sort.Slice(r.Categories, func(i, j int) bool {
			if r.Categories[i].Position != r.Categories[j].Position {
				return r.Categories[i].Position < r.Categories[j].Position
			}
			return r.Categories[i].Name < r.Categories[j].Name
		})
		sort.Slice(r.MenuItems, func(i, j int) bool { return r.MenuItems[i].ID < r.MenuItems[j].ID })
	}
	for oi := range l.Orders {
		for li := range l.Orders[oi].Lines {
			sort.Strings(l.Orders[oi].Lines[li].SplitBetween)
		}
	}
}

// CanonicalBytes returns the deterministic serialization of the ledger:
// collections sorted, fixed field order, stable numeric encoding. Identical
// ledger state always yields identical bytes.
func (l *Ledger) CanonicalBytes() ([]byte, error) {
	c := l.Clone()
	c.sortCanonical()
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize ledger: %w", err)
	}
	return b, nil
}

// Snapshot is an immutable, versioned, fully serialized copy of the ledger.
// Revision strictly increases with every committed mutation; Hash is the hex
// SHA-256 of the ledger's canonical serialization and must verify on every
// load.
type Snapshot struct {
	Revision uint64  `json:"revision"`
	Hash     string  `json:"hash"`
	Ledger   *Ledger `json:"ledger"`
}

// NewSnapshot builds a snapshot at the given revision. The ledger is deep
// copied and stored in canonical order, so callers may keep mutating their
// copy afterwards.
func NewSnapshot(revision uint64, l *Ledger) (*Snapshot, error) {
	body, err := l.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(body)
	c := l.Clone()
	c.sortCanonical()
	return &Snapshot{
		Revision: revision,
		Hash:     hex.EncodeToString(sum[:]),
		Ledger:   c,
	}, nil
}

// Verify recomputes the content hash and fails if it does not match.
func (s *Snapshot) Verify() error {
	if s.Ledger == nil {
		return fmt.Errorf("snapshot %d has no ledger body", s.Revision)
	}
	body, err := s.Ledger.CanonicalBytes()
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	if got := hex.EncodeToString(sum[:]); got != s.Hash {
		return fmt.Errorf("snapshot %d content hash mismatch: recorded %s, computed %s", s.Revision, s.Hash, got)
	}
	return nil
}

// MarshalCanonical serializes the whole snapshot deterministically. This is
// the plaintext fed to the encryption codec and the payload persisted by the
// durable store.
func (s *Snapshot) MarshalCanonical() ([]byte, error) {
	body, err := s.Ledger.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"revision":%d,"hash":%q,"ledger":`, s.Revision, s.Hash)
	buf.Write(body)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalSnapshot parses a serialized snapshot and verifies its hash.
func UnmarshalSnapshot(b []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	if err := s.Verify(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Equal reports whether two snapshots have identical revision and content.
func (s *Snapshot) Equal(other *Snapshot) bool {
	return s.Revision == other.Revision && s.Hash == other.Hash
}
