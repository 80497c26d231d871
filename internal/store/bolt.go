package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketRelays      = []byte("relays")
	bucketOutputs     = []byte("outputs")
	bucketSwitches    = []byte("switches")
	bucketButtons     = []byte("buttons")
	bucketConnections = []byte("connections")
	bucketSections    = []byte("sections")
	bucketDevices     = []byte("devices")
)

var allBuckets = [][]byte{
	bucketRelays, bucketOutputs, bucketSwitches, bucketButtons,
	bucketConnections, bucketSections, bucketDevices,
}

// BoltStore implements Store using BoltDB. Every multi-record mutation runs
// inside a single write transaction, so cascades are atomic.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		sections := tx.Bucket(bucketSections)
		if sections.Get(u64(DefaultSection)) == nil {
			return putJSON(sections, u64(DefaultSection), Section{ID: DefaultSection, Name: "Default"})
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func u64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func childKey(parent uint64, letter string) []byte {
	return append(u64(parent), letter...)
}

func connKey(c Connection) []byte {
	k := make([]byte, 0, 18)
	k = append(k, u64(c.SwitchID)...)
	k = append(k, c.ButtonID...)
	k = append(k, u64(c.RelayID)...)
	return append(k, c.OutputID...)
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

// deletePrefix removes every key starting with prefix.
func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func listJSON[T any](db *bolt.DB, bucket []byte) ([]T, error) {
	var out []T
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		out = make([]T, 0, b.Stats().KeyN)
		return b.ForEach(func(_, v []byte) error {
			var item T
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			out = append(out, item)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) AddRelay(id uint64, name string, outputCount int) error {
	if outputCount != 8 && outputCount != 16 {
		return fmt.Errorf("relay %d output count %d: %w", id, outputCount, ErrInvalid)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		relay := Relay{ID: id, Name: name, OutputCount: outputCount}
		if err := putJSON(tx.Bucket(bucketRelays), u64(id), relay); err != nil {
			return err
		}
		outputs := tx.Bucket(bucketOutputs)
		for i := 0; i < 16; i++ {
			key := childKey(id, OutputLetter(i))
			if i >= outputCount {
				if err := outputs.Delete(key); err != nil {
					return err
				}
				continue
			}
			if outputs.Get(key) != nil {
				continue
			}
			out := Output{RelayID: id, OutputID: OutputLetter(i), Name: fmt.Sprintf("Output %d", i+1), SectionID: DefaultSection}
			if err := putJSON(outputs, key, out); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) RemoveRelay(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		relays := tx.Bucket(bucketRelays)
		if relays.Get(u64(id)) == nil {
			return notFound("relay", id)
		}
		if err := relays.Delete(u64(id)); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(bucketOutputs), u64(id)); err != nil {
			return err
		}
		conns := tx.Bucket(bucketConnections)
		var stale [][]byte
		err := conns.ForEach(func(k, v []byte) error {
			var c Connection
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if c.RelayID == id {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := conns.Delete(k); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketDevices).Delete(u64(id))
	})
}

func (s *BoltStore) RenameRelay(id uint64, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRelays)
		var r Relay
		ok, err := getJSON(b, u64(id), &r)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("relay", id)
		}
		r.Name = name
		return putJSON(b, u64(id), r)
	})
}

func (s *BoltStore) Relay(id uint64) (*Relay, error) {
	var r Relay
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketRelays), u64(id), &r)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("relay", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) AllRelays() ([]Relay, error) {
	return listJSON[Relay](s.db, bucketRelays)
}

func (s *BoltStore) AllOutputs() ([]Output, error) {
	return listJSON[Output](s.db, bucketOutputs)
}

func (s *BoltStore) updateOutput(relayID uint64, outputID string, fn func(tx *bolt.Tx, o *Output) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutputs)
		key := childKey(relayID, outputID)
		var o Output
		ok, err := getJSON(b, key, &o)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("output", fmt.Sprintf("%d/%s", relayID, outputID))
		}
		if err := fn(tx, &o); err != nil {
			return err
		}
		return putJSON(b, key, o)
	})
}

func (s *BoltStore) NameOutput(relayID uint64, outputID, name string) error {
	return s.updateOutput(relayID, outputID, func(_ *bolt.Tx, o *Output) error {
		o.Name = name
		return nil
	})
}

func (s *BoltStore) ChangeOutputSection(relayID uint64, outputID string, sectionID int) error {
	return s.updateOutput(relayID, outputID, func(tx *bolt.Tx, o *Output) error {
		if tx.Bucket(bucketSections).Get(u64(uint64(sectionID))) == nil {
			return notFound("section", sectionID)
		}
		o.SectionID = sectionID
		return nil
	})
}

func (s *BoltStore) AddSwitch(id uint64, name string, buttonCount int) error {
	if buttonCount < 0 || buttonCount > MaxButtons {
		return fmt.Errorf("switch %d button count %d: %w", id, buttonCount, ErrInvalid)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		sw := Switch{ID: id, Name: name, ButtonCount: buttonCount}
		if err := putJSON(tx.Bucket(bucketSwitches), u64(id), sw); err != nil {
			return err
		}
		buttons := tx.Bucket(bucketButtons)
		for i := 0; i < MaxButtons; i++ {
			key := childKey(id, OutputLetter(i))
			if i >= buttonCount {
				// Connections of removed buttons are left in place as dangling edges.
				if err := buttons.Delete(key); err != nil {
					return err
				}
				continue
			}
			if buttons.Get(key) != nil {
				continue
			}
			if err := putJSON(buttons, key, Button{SwitchID: id, ButtonID: OutputLetter(i)}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) RemoveSwitch(id uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		switches := tx.Bucket(bucketSwitches)
		if switches.Get(u64(id)) == nil {
			return notFound("switch", id)
		}
		if err := switches.Delete(u64(id)); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(bucketButtons), u64(id)); err != nil {
			return err
		}
		if err := deletePrefix(tx.Bucket(bucketConnections), u64(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketDevices).Delete(u64(id))
	})
}

func (s *BoltStore) RenameSwitch(id uint64, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSwitches)
		var sw Switch
		ok, err := getJSON(b, u64(id), &sw)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("switch", id)
		}
		sw.Name = name
		return putJSON(b, u64(id), sw)
	})
}

func (s *BoltStore) Switch(id uint64) (*Switch, error) {
	var sw Switch
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketSwitches), u64(id), &sw)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("switch", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sw, nil
}

func (s *BoltStore) AllSwitches() ([]Switch, error) {
	return listJSON[Switch](s.db, bucketSwitches)
}

func (s *BoltStore) AllButtons() ([]Button, error) {
	return listJSON[Button](s.db, bucketButtons)
}

func (s *BoltStore) SetButtonType(switchID uint64, buttonID string, typ int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketButtons)
		key := childKey(switchID, buttonID)
		var btn Button
		ok, err := getJSON(b, key, &btn)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("button", fmt.Sprintf("%d/%s", switchID, buttonID))
		}
		btn.Type = typ
		return putJSON(b, key, btn)
	})
}

func validConnection(c Connection) error {
	if len(c.ButtonID) != 1 || len(c.OutputID) != 1 {
		return fmt.Errorf("connection %d/%q -> %d/%q: %w", c.SwitchID, c.ButtonID, c.RelayID, c.OutputID, ErrInvalid)
	}
	return nil
}

// AddConnection stores an edge. Adding an existing edge is a no-op, and
// neither endpoint has to exist yet.
func (s *BoltStore) AddConnection(c Connection) error {
	if err := validConnection(c); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketConnections), connKey(c), c)
	})
}

func (s *BoltStore) RemoveConnection(c Connection) error {
	if err := validConnection(c); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConnections).Delete(connKey(c))
	})
}

func (s *BoltStore) AllConnections() ([]Connection, error) {
	return listJSON[Connection](s.db, bucketConnections)
}

func (s *BoltStore) AddSection(name string) (int, error) {
	var id int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSections)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int(seq)
		return putJSON(b, u64(seq), Section{ID: id, Name: name})
	})
	return id, err
}

// RemoveSection deletes a section and moves its outputs to DefaultSection.
func (s *BoltStore) RemoveSection(id int) error {
	if id == DefaultSection {
		return fmt.Errorf("remove default section: %w", ErrInvalid)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		sections := tx.Bucket(bucketSections)
		if sections.Get(u64(uint64(id))) == nil {
			return notFound("section", id)
		}
		if err := sections.Delete(u64(uint64(id))); err != nil {
			return err
		}
		outputs := tx.Bucket(bucketOutputs)
		moved := make(map[string]Output)
		err := outputs.ForEach(func(k, v []byte) error {
			var o Output
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if o.SectionID == id {
				o.SectionID = DefaultSection
				moved[string(k)] = o
			}
			return nil
		})
		if err != nil {
			return err
		}
		for k, o := range moved {
			if err := putJSON(outputs, []byte(k), o); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) AllSections() ([]Section, error) {
	return listJSON[Section](s.db, bucketSections)
}

func (s *BoltStore) SaveDeviceRecord(rec DeviceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		var prev DeviceRecord
		ok, err := getJSON(b, u64(rec.ID), &prev)
		if err != nil {
			return err
		}
		if ok && rec.FirstSeen.IsZero() {
			rec.FirstSeen = prev.FirstSeen
		}
		if rec.FirstSeen.IsZero() {
			rec.FirstSeen = rec.LastSeen
		}
		return putJSON(b, u64(rec.ID), rec)
	})
}

func (s *BoltStore) DeviceRecord(id uint64) (*DeviceRecord, error) {
	var rec DeviceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketDevices), u64(id), &rec)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("device", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
