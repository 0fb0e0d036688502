package store

import (
	"fmt"
	"os"

	"go.etcd.io/bbolt"

	"github.com/pinwire/pinwire/device"
)

type BBolt struct {
	db *bbolt.DB
}

const (
	bboltPinwireBucket  = "pinwire"
	bboltProfilesBucket = "profiles" // child of pinwire

	// pinwire keys
	bboltDeviceConfigKey = "device-config"
)

// OpenBBolt opens a BBoltDB database at the given path and creates the needed
// buckets if they don't exist.
func OpenBBolt(path string, mode os.FileMode, options *bbolt.Options) (Store, error) {
	db, err := bbolt.Open(path, mode, options)
	if err != nil {
		return nil, fmt.Errorf("unable to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		pinwireBucket, err := tx.CreateBucketIfNotExists([]byte(bboltPinwireBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltPinwireBucket, err)
		}

		_, err = pinwireBucket.CreateBucketIfNotExists([]byte(bboltProfilesBucket))
		if err != nil {
			return fmt.Errorf("unable to create bucket %q: %w", bboltProfilesBucket, err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create bbolt buckets: %w", err)
	}

	return &BBolt{
		db: db,
	}, nil
}

func (b *BBolt) Close() error {
	return b.db.Close()
}

func (b *BBolt) DeviceConfig() (device.Config, error) {
	var cfg device.Config
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bboltPinwireBucket))

		configJSON := bucket.Get([]byte(bboltDeviceConfigKey))
		if configJSON == nil {
			return ErrNotFound
		}

		loaded, err := device.Load(configJSON)
		if err != nil {
			return fmt.Errorf("unable to parse stored device config: %w", err)
		}
		cfg = loaded

		return nil
	})
	if err != nil {
		return cfg, fmt.Errorf("unable to get device config: %w", err)
	}

	return cfg, nil
}

func (b *BBolt) PutDeviceConfig(cfg device.Config) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		configJSON, err := device.Save(cfg)
		if err != nil {
			return fmt.Errorf("unable to serialize device config: %w", err)
		}

		bucket := tx.Bucket([]byte(bboltPinwireBucket))
		if err := bucket.Put([]byte(bboltDeviceConfigKey), configJSON); err != nil {
			return fmt.Errorf("unable to put device config: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to update device config: %w", err)
	}

	return nil
}

func (b *BBolt) Profile(name string) (device.Config, error) {
	var cfg device.Config
	err := b.db.View(func(tx *bbolt.Tx) error {
		pinwireBucket := tx.Bucket([]byte(bboltPinwireBucket))
		profileBucket := pinwireBucket.Bucket([]byte(bboltProfilesBucket))

		profileJSON := profileBucket.Get([]byte(name))
		if profileJSON == nil {
			return ErrNotFound
		}

		loaded, err := device.Load(profileJSON)
		if err != nil {
			return fmt.Errorf("unable to parse stored profile: %w", err)
		}
		cfg = loaded

		return nil
	})
	if err != nil {
		return cfg, fmt.Errorf("unable to get profile %q: %w", name, err)
	}

	return cfg, nil
}

func (b *BBolt) ListProfiles() ([]string, error) {
	names := make([]string, 0)

	err := b.db.View(func(tx *bbolt.Tx) error {
		pinwireBucket := tx.Bucket([]byte(bboltPinwireBucket))
		profileBucket := pinwireBucket.Bucket([]byte(bboltProfilesBucket))

		err := profileBucket.ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
		if err != nil {
			return fmt.Errorf("unable to iterate over profile bucket: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("unable to list profiles: %w", err)
	}

	return names, nil
}

func (b *BBolt) PutProfile(name string, cfg device.Config) error {
	if name == "" {
		return fmt.Errorf("profile name must not be empty")
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		profileJSON, err := device.Save(cfg)
		if err != nil {
			return fmt.Errorf("unable to serialize profile: %w", err)
		}

		pinwireBucket := tx.Bucket([]byte(bboltPinwireBucket))
		profileBucket := pinwireBucket.Bucket([]byte(bboltProfilesBucket))
		if err := profileBucket.Put([]byte(name), profileJSON); err != nil {
			return fmt.Errorf("unable to put profile %q: %w", name, err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("unable to update profile: %w", err)
	}

	return nil
}

func (b *BBolt) DeleteProfile(name string) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		pinwireBucket := tx.Bucket([]byte(bboltPinwireBucket))
		profileBucket := pinwireBucket.Bucket([]byte(bboltProfilesBucket))

		return profileBucket.Delete([]byte(name))
	})
	if err != nil {
		return fmt.Errorf("unable to delete profile %q: %w", name, err)
	}

	return nil
}
