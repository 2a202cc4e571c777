package ports

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLeases = []byte("leases")

// LeaseStore records which owner holds which port
type LeaseStore interface {
	// Acquire leases port to owner; it reports false when any owner,
	// including this one, already holds it
	Acquire(owner string, port int) (bool, error)
	// ReleasePort drops a single lease held by owner
	ReleasePort(owner string, port int) error
	// Release drops every lease held by owner
	Release(owner string) error
	// Leases returns the ports held by owner
	Leases(owner string) ([]int, error)
}

// BoltLeaseStore keeps leases in a bbolt file so that independent processes
// on one host can share it. The file is opened for each transaction; bbolt
// holds an exclusive lock while it is open.
type BoltLeaseStore struct {
	path string
}

// lockTimeout bounds the wait for another process holding the file
const lockTimeout = 10 * time.Second

// NewBoltLeaseStore creates the lease database at path if needed
func NewBoltLeaseStore(path string) (*BoltLeaseStore, error) {
	s := &BoltLeaseStore{path: path}
	if err := s.update(func(*bolt.Bucket) error { return nil }); err != nil {
		return nil, err
	}
	return s, nil
}

// Close is a no-op; the file is only open during transactions
func (s *BoltLeaseStore) Close() error {
	return nil
}

func (s *BoltLeaseStore) open() (*bolt.DB, error) {
	db, err := bolt.Open(s.path, 0600, &bolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open lease database: %w", err)
	}
	return db, nil
}

func (s *BoltLeaseStore) update(fn func(b *bolt.Bucket) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketLeases)
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketLeases, err)
		}
		return fn(b)
	})
}

func (s *BoltLeaseStore) view(fn func(b *bolt.Bucket) error) error {
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLeases)
		if b == nil {
			return nil
		}
		return fn(b)
	})
}

func (s *BoltLeaseStore) Acquire(owner string, port int) (bool, error) {
	acquired := false
	err := s.update(func(b *bolt.Bucket) error {
		key := []byte(strconv.Itoa(port))
		if b.Get(key) != nil {
			return nil
		}
		acquired = true
		return b.Put(key, []byte(owner))
	})
	return acquired, err
}

func (s *BoltLeaseStore) ReleasePort(owner string, port int) error {
	return s.update(func(b *bolt.Bucket) error {
		key := []byte(strconv.Itoa(port))
		if string(b.Get(key)) != owner {
			return nil
		}
		return b.Delete(key)
	})
}

func (s *BoltLeaseStore) Release(owner string) error {
	return s.update(func(b *bolt.Bucket) error {
		// Deleting while iterating skips keys in bbolt
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			if string(v) == owner {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltLeaseStore) Leases(owner string) ([]int, error) {
	var ports []int
	err := s.view(func(b *bolt.Bucket) error {
		return b.ForEach(func(k, v []byte) error {
			if string(v) != owner {
				return nil
			}
			port, err := strconv.Atoi(string(k))
			if err != nil {
				return fmt.Errorf("corrupt lease key %q: %w", k, err)
			}
			ports = append(ports, port)
			return nil
		})
	})
	return ports, err
}

// MemoryLeaseStore is a LeaseStore for a single process
type MemoryLeaseStore struct {
	leases map[int]string
	mu     sync.Mutex
}

var (
	processStore     *MemoryLeaseStore
	processStoreOnce sync.Once
)

// ProcessLeaseStore returns the in-memory store shared by every allocator of
// this process that is not given a lease database
func ProcessLeaseStore() *MemoryLeaseStore {
	processStoreOnce.Do(func() {
		processStore = NewMemoryLeaseStore()
	})
	return processStore
}

// NewMemoryLeaseStore creates an empty in-memory store
func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{leases: make(map[int]string)}
}

func (s *MemoryLeaseStore) Acquire(owner string, port int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.leases[port]; taken {
		return false, nil
	}
	s.leases[port] = owner
	return true, nil
}

func (s *MemoryLeaseStore) ReleasePort(owner string, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.leases[port] == owner {
		delete(s.leases, port)
	}
	return nil
}

func (s *MemoryLeaseStore) Release(owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for port, holder := range s.leases {
		if holder == owner {
			delete(s.leases, port)
		}
	}
	return nil
}

func (s *MemoryLeaseStore) Leases(owner string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ports []int
	for port, holder := range s.leases {
		if holder == owner {
			ports = append(ports, port)
		}
	}
	return ports, nil
}
