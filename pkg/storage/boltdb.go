package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/minifly/minifly/pkg/apierr"
	"github.com/minifly/minifly/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketApps           = []byte("apps")
	bucketMachines       = []byte("machines")
	bucketMachineConfigs = []byte("machine_configs")
	bucketVolumes        = []byte("volumes")
	bucketLeases         = []byte("leases")
	bucketEvents         = []byte("machine_events")
	bucketOutbox         = []byte("outbox")
)

// BoltStore implements Store on top of a single BoltDB file, one bucket per
// relation, JSON-marshaled values keyed by entity id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the database file under
// dataDir and ensures every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "minifly.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketApps,
			bucketMachines,
			bucketMachineConfigs,
			bucketVolumes,
			bucketLeases,
			bucketEvents,
			bucketOutbox,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Apps

func (s *BoltStore) CreateApp(app *types.App) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketApps)
		data, err := json.Marshal(app)
		if err != nil {
			return err
		}
		return b.Put([]byte(app.Name), data)
	})
}

func (s *BoltStore) GetApp(name string) (*types.App, error) {
	var app types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketApps).Get([]byte(name))
		if data == nil {
			return apierr.NotFoundf("app %q not found", name)
		}
		return json.Unmarshal(data, &app)
	})
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *BoltStore) ListApps() ([]*types.App, error) {
	var apps []*types.App
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApps).ForEach(func(k, v []byte) error {
			var app types.App
			if err := json.Unmarshal(v, &app); err != nil {
				return err
			}
			apps = append(apps, &app)
			return nil
		})
	})
	return apps, err
}

func (s *BoltStore) UpdateApp(app *types.App) error {
	return s.CreateApp(app)
}

func (s *BoltStore) DeleteApp(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketApps).Delete([]byte(name))
	})
}

// Machines

func (s *BoltStore) CreateMachine(machine *types.Machine) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMachines)
		data, err := json.Marshal(machine)
		if err != nil {
			return err
		}
		return b.Put([]byte(machine.ID), data)
	})
}

func (s *BoltStore) GetMachine(id string) (*types.Machine, error) {
	var machine types.Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMachines).Get([]byte(id))
		if data == nil {
			return apierr.NotFoundf("machine %q not found", id)
		}
		return json.Unmarshal(data, &machine)
	})
	if err != nil {
		return nil, err
	}
	return &machine, nil
}

func (s *BoltStore) ListMachines() ([]*types.Machine, error) {
	var machines []*types.Machine
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).ForEach(func(k, v []byte) error {
			var m types.Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			machines = append(machines, &m)
			return nil
		})
	})
	return machines, err
}

func (s *BoltStore) ListMachinesByApp(appName string) ([]*types.Machine, error) {
	all, err := s.ListMachines()
	if err != nil {
		return nil, err
	}
	var out []*types.Machine
	for _, m := range all {
		if m.AppName == appName {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateMachine(machine *types.Machine) error {
	return s.CreateMachine(machine)
}

func (s *BoltStore) DeleteMachine(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMachines).Delete([]byte(id))
	})
}

// Machine configs, one entry per (machineID, generation).

func machineConfigKey(machineID string, generation int) []byte {
	return []byte(fmt.Sprintf("%s:%010d", machineID, generation))
}

func (s *BoltStore) PutMachineConfig(machineID string, generation int, cfg *types.MachineConfig) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMachineConfigs).Put(machineConfigKey(machineID, generation), data)
	})
}

func (s *BoltStore) GetMachineConfig(machineID string, generation int) (*types.MachineConfig, error) {
	var cfg types.MachineConfig
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMachineConfigs).Get(machineConfigKey(machineID, generation))
		if data == nil {
			return apierr.NotFoundf("config for machine %q generation %d not found", machineID, generation)
		}
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Volumes

func (s *BoltStore) CreateVolume(volume *types.Volume) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(volume)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketVolumes).Put([]byte(volume.ID), data)
	})
}

func (s *BoltStore) GetVolume(id string) (*types.Volume, error) {
	var vol types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVolumes).Get([]byte(id))
		if data == nil {
			return apierr.NotFoundf("volume %q not found", id)
		}
		return json.Unmarshal(data, &vol)
	})
	if err != nil {
		return nil, err
	}
	return &vol, nil
}

func (s *BoltStore) GetVolumeByName(appName, name string) (*types.Volume, error) {
	vols, err := s.ListVolumesByApp(appName)
	if err != nil {
		return nil, err
	}
	for _, v := range vols {
		if v.Name == name {
			return v, nil
		}
	}
	return nil, apierr.NotFoundf("volume %q not found in app %q", name, appName)
}

func (s *BoltStore) ListVolumesByApp(appName string) ([]*types.Volume, error) {
	var vols []*types.Volume
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).ForEach(func(k, v []byte) error {
			var vol types.Volume
			if err := json.Unmarshal(v, &vol); err != nil {
				return err
			}
			if vol.AppName == appName {
				vols = append(vols, &vol)
			}
			return nil
		})
	})
	return vols, err
}

func (s *BoltStore) UpdateVolume(volume *types.Volume) error {
	return s.CreateVolume(volume)
}

func (s *BoltStore) DeleteVolume(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVolumes).Delete([]byte(id))
	})
}

// Leases, one active lease per machine.

func (s *BoltStore) GetLease(machineID string) (*types.Lease, error) {
	var lease types.Lease
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLeases).Get([]byte(machineID))
		if data == nil {
			return apierr.NotFoundf("no lease held on machine %q", machineID)
		}
		return json.Unmarshal(data, &lease)
	})
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

func (s *BoltStore) PutLease(lease *types.Lease) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(lease)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketLeases).Put([]byte(lease.MachineID), data)
	})
}

func (s *BoltStore) DeleteLease(machineID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLeases).Delete([]byte(machineID))
	})
}

// Machine events, keyed so a per-machine prefix scan returns them in id
// order: "<machineID>:<20-digit zero-padded id>".

func eventKey(machineID string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s:%020d", machineID, id))
}

func (s *BoltStore) AppendEvent(event *types.Event) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if event.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			event.ID = seq
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return b.Put(eventKey(event.MachineID, event.ID), data)
	})
}

func (s *BoltStore) ListEvents(machineID string, since uint64, limit int) ([]*types.Event, error) {
	prefix := []byte(machineID + ":")
	var events []*types.Event
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEvents).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ev types.Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			if ev.ID <= since {
				continue
			}
			events = append(events, &ev)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	return events, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Outbox

func outboxKey(seq uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func (s *BoltStore) EnqueueOutbox(entry OutboxEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOutbox)
		if entry.Seq == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			entry.Seq = seq
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put(outboxKey(entry.Seq), data)
	})
}

func (s *BoltStore) ListOutbox() ([]OutboxEntry, error) {
	var entries []OutboxEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).ForEach(func(k, v []byte) error {
			var e OutboxEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	return entries, err
}

func (s *BoltStore) DeleteOutbox(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Delete(outboxKey(seq))
	})
}
