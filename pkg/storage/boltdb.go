package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/fleetctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketPrompts        = []byte("prompts")
	bucketSessions       = []byte("sessions")
	bucketHistory        = []byte("assignment_history")
	bucketNodes          = []byte("cluster_nodes")
	bucketAllocations    = []byte("resource_allocations")
	bucketFailoverLog    = []byte("failover_log")
	bucketServices       = []byte("supervisor_services")
	bucketServiceMetrics = []byte("supervisor_metrics")
	bucketServiceEvents  = []byte("supervisor_events")
	bucketSeq            = []byte("sequences")
)

// BoltStore implements Store using an embedded bbolt database, one
// bucket per entity family, JSON-marshaled values.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the database file under
// dataDir and ensures all buckets exist.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetctl.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPrompts, bucketSessions, bucketHistory,
			bucketNodes, bucketAllocations, bucketFailoverLog,
			bucketServices, bucketServiceMetrics, bucketServiceEvents,
			bucketSeq,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
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

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func promptKey(id int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func nextSequence(tx *bolt.Tx, name []byte) (int64, error) {
	b := tx.Bucket(bucketSeq)
	id, err := b.NextSequence()
	if err != nil {
		return 0, err
	}
	_ = name
	return int64(id), nil
}

// Prompt operations

func (s *BoltStore) CreatePrompt(prompt *types.Prompt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if prompt.ID == 0 {
			id, err := nextSequence(tx, bucketPrompts)
			if err != nil {
				return err
			}
			prompt.ID = id
		}
		b := tx.Bucket(bucketPrompts)
		data, err := json.Marshal(prompt)
		if err != nil {
			return err
		}
		return b.Put(promptKey(prompt.ID), data)
	})
}

func (s *BoltStore) GetPrompt(id int64) (*types.Prompt, error) {
	var prompt types.Prompt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrompts)
		data := b.Get(promptKey(id))
		if data == nil {
			return fmt.Errorf("prompt not found: %d", id)
		}
		return json.Unmarshal(data, &prompt)
	})
	if err != nil {
		return nil, err
	}
	return &prompt, nil
}

func (s *BoltStore) ListPrompts() ([]*types.Prompt, error) {
	var prompts []*types.Prompt
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrompts)
		return b.ForEach(func(k, v []byte) error {
			var prompt types.Prompt
			if err := json.Unmarshal(v, &prompt); err != nil {
				return err
			}
			prompts = append(prompts, &prompt)
			return nil
		})
	})
	return prompts, err
}

func (s *BoltStore) ListPromptsByStatus(status types.PromptStatus) ([]*types.Prompt, error) {
	all, err := s.ListPrompts()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Prompt
	for _, p := range all {
		if p.Status == status {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdatePrompt(prompt *types.Prompt) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrompts)
		data, err := json.Marshal(prompt)
		if err != nil {
			return err
		}
		return b.Put(promptKey(prompt.ID), data)
	})
}

func (s *BoltStore) DeletePrompt(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrompts)
		return b.Delete(promptKey(id))
	})
}

// Session operations

func (s *BoltStore) CreateSession(session *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data, err := json.Marshal(session)
		if err != nil {
			return err
		}
		return b.Put([]byte(session.Name), data)
	})
}

func (s *BoltStore) GetSession(name string) (*types.Session, error) {
	var session types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("session not found: %s", name)
		}
		return json.Unmarshal(data, &session)
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *BoltStore) ListSessions() ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.ForEach(func(k, v []byte) error {
			var session types.Session
			if err := json.Unmarshal(v, &session); err != nil {
				return err
			}
			sessions = append(sessions, &session)
			return nil
		})
	})
	return sessions, err
}

func (s *BoltStore) UpdateSession(session *types.Session) error {
	return s.CreateSession(session)
}

func (s *BoltStore) DeleteSession(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		return b.Delete([]byte(name))
	})
}

// Assignment history operations (append-only)

func (s *BoltStore) AppendHistory(entry *types.HistoryEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = int64(id)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], id)
		return b.Put(key[:], data)
	})
}

func (s *BoltStore) ListHistoryByPrompt(promptID int64) ([]*types.HistoryEntry, error) {
	var entries []*types.HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHistory)
		return b.ForEach(func(k, v []byte) error {
			var entry types.HistoryEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			if entry.PromptID == promptID {
				entries = append(entries, &entry)
			}
			return nil
		})
	})
	return entries, err
}

// Node operations

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data, err := json.Marshal(node)
		if err != nil {
			return err
		}
		return b.Put([]byte(node.ID), data)
	})
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("node not found: %s", id)
		}
		return json.Unmarshal(data, &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var nodes []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.ForEach(func(k, v []byte) error {
			var node types.Node
			if err := json.Unmarshal(v, &node); err != nil {
				return err
			}
			nodes = append(nodes, &node)
			return nil
		})
	})
	return nodes, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error {
	return s.CreateNode(node)
}

func (s *BoltStore) DeleteNode(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		return b.Delete([]byte(id))
	})
}

// Resource allocation operations

func (s *BoltStore) CreateAllocation(alloc *types.ResourceAllocation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		data, err := json.Marshal(alloc)
		if err != nil {
			return err
		}
		return b.Put([]byte(alloc.ID), data)
	})
}

func (s *BoltStore) GetAllocation(id string) (*types.ResourceAllocation, error) {
	var alloc types.ResourceAllocation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("allocation not found: %s", id)
		}
		return json.Unmarshal(data, &alloc)
	})
	if err != nil {
		return nil, err
	}
	return &alloc, nil
}

func (s *BoltStore) ListAllocations() ([]*types.ResourceAllocation, error) {
	var allocs []*types.ResourceAllocation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAllocations)
		return b.ForEach(func(k, v []byte) error {
			var alloc types.ResourceAllocation
			if err := json.Unmarshal(v, &alloc); err != nil {
				return err
			}
			allocs = append(allocs, &alloc)
			return nil
		})
	})
	return allocs, err
}

func (s *BoltStore) UpdateAllocation(alloc *types.ResourceAllocation) error {
	return s.CreateAllocation(alloc)
}

// Failover log operations (append-only)

func (s *BoltStore) AppendFailover(entry *types.FailoverEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailoverLog)
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return b.Put([]byte(entry.ID), data)
	})
}

func (s *BoltStore) ListFailovers() ([]*types.FailoverEntry, error) {
	var entries []*types.FailoverEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFailoverLog)
		return b.ForEach(func(k, v []byte) error {
			var entry types.FailoverEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	return entries, err
}

// Supervisor service operations

func (s *BoltStore) CreateService(service *types.ManagedService) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data, err := json.Marshal(service)
		if err != nil {
			return err
		}
		return b.Put([]byte(service.ID), data)
	})
}

func (s *BoltStore) GetService(id string) (*types.ManagedService, error) {
	var service types.ManagedService
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("service not found: %s", id)
		}
		return json.Unmarshal(data, &service)
	})
	if err != nil {
		return nil, err
	}
	return &service, nil
}

func (s *BoltStore) ListServices() ([]*types.ManagedService, error) {
	var services []*types.ManagedService
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.ForEach(func(k, v []byte) error {
			var service types.ManagedService
			if err := json.Unmarshal(v, &service); err != nil {
				return err
			}
			services = append(services, &service)
			return nil
		})
	})
	return services, err
}

func (s *BoltStore) UpdateService(service *types.ManagedService) error {
	return s.CreateService(service)
}

func (s *BoltStore) DeleteService(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServices)
		return b.Delete([]byte(id))
	})
}

// Supervisor metrics snapshot operations

func (s *BoltStore) AppendServiceMetrics(m *types.ServiceMetrics) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServiceMetrics)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s/%020d", m.ServiceID, id)
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) ListServiceMetrics(serviceID string) ([]*types.ServiceMetrics, error) {
	var metrics []*types.ServiceMetrics
	prefix := []byte(serviceID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServiceMetrics)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var m types.ServiceMetrics
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			metrics = append(metrics, &m)
		}
		return nil
	})
	return metrics, err
}

// Supervisor event operations

func (s *BoltStore) AppendServiceEvent(e *types.SupervisorEvent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServiceEvents)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		e.ID = int64(id)
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%s/%020d", e.ServiceID, id)
		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) ListServiceEvents(serviceID string) ([]*types.SupervisorEvent, error) {
	var events []*types.SupervisorEvent
	prefix := []byte(serviceID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServiceEvents)
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e types.SupervisorEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			events = append(events, &e)
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
