package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v2"

	"github.com/pinwire/pinwire/device"
)

// Mirror is the client's local copy of the server's pin state: replaced
// wholesale by snapshots, patched by events, read by the application.
type Mirror interface {
	Replace(cfg device.Config) error
	SetLevel(pin device.Pin, level device.Level) error
	Pin(pin device.Pin) (device.PinConfig, error)
	Snapshot() (device.Config, error)
	Clear() error
}

type badgerMirror struct {
	db *badger.DB
}

// OpenBadgerMirror opens a badger DB as a pin-state mirror. Clients that
// don't care about persistence pass badger.DefaultOptions("").WithInMemory(true).
func OpenBadgerMirror(options badger.Options) (Mirror, error) {
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger db: %w", err)
	}

	return &badgerMirror{db: db}, nil
}

const mirrorPinPrefix = "pins/"

func mirrorKey(pin device.Pin) []byte {
	return []byte(mirrorPinPrefix + strconv.Itoa(int(pin)))
}

func encodePinConfig(pc device.PinConfig) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(pc); err != nil {
		return nil, fmt.Errorf("couldn't encode pin config: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePinConfig(data []byte) (device.PinConfig, error) {
	var pc device.PinConfig
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&pc); err != nil {
		return pc, fmt.Errorf("couldn't decode pin config: %w", err)
	}
	return pc, nil
}

func (m *badgerMirror) Replace(cfg device.Config) error {
	err := m.db.Update(func(tx *badger.Txn) error {
		if err := deletePrefix(tx, []byte(mirrorPinPrefix)); err != nil {
			return err
		}

		for _, pin := range cfg.Pins() {
			pc, _ := cfg.Pin(pin)
			data, err := encodePinConfig(pc)
			if err != nil {
				return err
			}
			if err := tx.Set(mirrorKey(pin), data); err != nil {
				return fmt.Errorf("couldn't set pin %d: %w", pin, err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to replace mirror: %w", err)
	}

	return nil
}

func (m *badgerMirror) SetLevel(pin device.Pin, level device.Level) error {
	err := m.db.Update(func(tx *badger.Txn) error {
		item, err := tx.Get(mirrorKey(pin))
		if err != nil {
			return fmt.Errorf("couldn't get pin %d: %w", pin, err)
		}

		var pc device.PinConfig
		err = item.Value(func(val []byte) error {
			pc, err = decodePinConfig(val)
			return err
		})
		if err != nil {
			return err
		}

		pc.Level = level

		data, err := encodePinConfig(pc)
		if err != nil {
			return err
		}

		return tx.Set(mirrorKey(pin), data)
	})
	if err != nil {
		return fmt.Errorf("unable to set mirror level: %w", err)
	}

	return nil
}

func (m *badgerMirror) Pin(pin device.Pin) (device.PinConfig, error) {
	var pc device.PinConfig

	err := m.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(mirrorKey(pin))
		if err != nil {
			return fmt.Errorf("couldn't get pin %d: %w", pin, err)
		}

		return item.Value(func(val []byte) error {
			pc, err = decodePinConfig(val)
			return err
		})
	})
	if err != nil {
		return pc, fmt.Errorf("unable to read mirror pin: %w", err)
	}

	return pc, nil
}

func (m *badgerMirror) Snapshot() (device.Config, error) {
	cfg := device.NewConfig()

	err := m.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(mirrorPinPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			pin, err := strconv.Atoi(string(item.Key()[len(prefix):]))
			if err != nil {
				return fmt.Errorf("malformed mirror key %q: %w", item.Key(), err)
			}

			err = item.Value(func(val []byte) error {
				pc, err := decodePinConfig(val)
				if err != nil {
					return err
				}
				cfg.SetPin(device.Pin(pin), pc)
				return nil
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return cfg, fmt.Errorf("unable to snapshot mirror: %w", err)
	}

	return cfg, nil
}

func (m *badgerMirror) Clear() error {
	err := m.db.Update(func(tx *badger.Txn) error {
		return deletePrefix(tx, []byte(mirrorPinPrefix))
	})
	if err != nil {
		return fmt.Errorf("unable to clear mirror: %w", err)
	}

	return nil
}

func deletePrefix(tx *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	it := tx.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}

	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return fmt.Errorf("couldn't delete %q: %w", key, err)
		}
	}

	return nil
}
