// Package verify implements on-demand checksum verification (Run), with
// automatic repair from a bounded in-memory backup store when a
// corrupted entry's prior payload is still available.
package verify

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/blockvault/rawcache/internal/checksum"
	"github.com/blockvault/rawcache/internal/logging"
)

// Config configures the verification manager.
type Config struct {
	// Algorithm is the checksum algorithm new backups and ad-hoc
	// verification should assume when none is recorded on the entry.
	Algorithm checksum.Type

	// PeriodicEnabled and Interval are checked by Validate only; nothing in
	// this module schedules Run on them, so a pass happens only when Run is
	// called.
	PeriodicEnabled bool
	Interval        time.Duration

	// MaxEntriesPerRun bounds how many directory entries a single
	// verification pass inspects.
	MaxEntriesPerRun int

	// AutoRepairEnabled attempts repair-from-backup for corrupted entries
	// found during a run.
	AutoRepairEnabled bool

	// KeepBackup enables the bounded backup store; backups let a corrupted
	// entry be repaired without re-fetching it from origin. Bounded by
	// KeepBackupEntries, evicted in LRU order rather than held unbounded.
	KeepBackup        bool
	KeepBackupEntries int
}

// DefaultConfig returns the verification manager's default configuration.
func DefaultConfig() Config {
	return Config{
		Algorithm:         checksum.TypeXXH3,
		PeriodicEnabled:   true,
		Interval:          10 * time.Minute,
		MaxEntriesPerRun:  10000,
		AutoRepairEnabled: true,
		KeepBackup:        true,
		KeepBackupEntries: 1024,
	}
}

// Validate checks the configuration's invariants.
func (c Config) Validate() error {
	if c.MaxEntriesPerRun <= 0 {
		return fmt.Errorf("verify: max entries per run must be positive")
	}
	if c.KeepBackup && c.KeepBackupEntries <= 0 {
		return fmt.Errorf("verify: keep_backup requires a positive backup entry limit")
	}
	if c.PeriodicEnabled && c.Interval <= 0 {
		return fmt.Errorf("verify: periodic verification requires a positive interval")
	}
	return nil
}

// Stats reports cumulative verification activity.
type Stats struct {
	TotalRuns       uint64
	TotalVerified   uint64
	CorruptedFound  uint64
	RepairSuccesses uint64
	RepairFailures  uint64
	LastRunUnixSec  int64
	LastRunDuration time.Duration
}

// Entry is a single directory record the verification manager checks.
type Entry struct {
	Key           string
	BlockOffset   uint64
	PayloadLength uint32
	Checksum      uint64
}

// Backend reads and writes payload bytes for repair.
type Backend interface {
	ReadAt(offset int64, length int) ([]byte, error)
	WriteAt(offset int64, data []byte) error
}

// Result summarizes one verification run.
type Result struct {
	Verified  int
	Corrupted int
	Repaired  int
	Duration  time.Duration
}

// backupEntry is one record in the bounded backup store.
type backupEntry struct {
	key  string
	data []byte
}

// Manager runs verification passes and holds the bounded backup store used
// for repair.
type Manager struct {
	cfg    Config
	logger logging.Logger

	mu      sync.Mutex
	stats   Stats
	backups map[string]*list.Element
	lru     *list.List // front = most recently backed up
}

// New creates a verification manager.
func New(cfg Config, logger logging.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logging.OrDefault(logger),
		backups: make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Stats returns a snapshot of cumulative verification statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// SetConfig replaces the verification manager's policy. If KeepBackup is
// disabled by the new config, previously stored backups are dropped; if
// KeepBackupEntries shrinks, the oldest entries are evicted immediately
// rather than left to drain out naturally.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg

	if !cfg.KeepBackup {
		m.backups = make(map[string]*list.Element)
		m.lru.Init()
		return
	}

	for len(m.backups) > cfg.KeepBackupEntries && m.lru.Len() > 0 {
		oldest := m.lru.Back()
		m.lru.Remove(oldest)
		delete(m.backups, oldest.Value.(*backupEntry).key)
	}
}

// Backup stores data as the last-known-good payload for key, evicting the
// least recently backed-up entry if the store is at capacity. No-op if
// KeepBackup is disabled.
func (m *Manager) Backup(key string, data []byte) {
	if !m.cfg.KeepBackup {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.backups[key]; ok {
		cp := append([]byte(nil), data...)
		elem.Value.(*backupEntry).data = cp
		m.lru.MoveToFront(elem)
		return
	}

	for len(m.backups) >= m.cfg.KeepBackupEntries && m.lru.Len() > 0 {
		oldest := m.lru.Back()
		m.lru.Remove(oldest)
		delete(m.backups, oldest.Value.(*backupEntry).key)
	}

	cp := append([]byte(nil), data...)
	elem := m.lru.PushFront(&backupEntry{key: key, data: cp})
	m.backups[key] = elem
}

// ClearBackup discards the stored backup for key, if any.
func (m *Manager) ClearBackup(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.backups[key]; ok {
		m.lru.Remove(elem)
		delete(m.backups, key)
	}
}

// ClearAllBackups discards every stored backup.
func (m *Manager) ClearAllBackups() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backups = make(map[string]*list.Element)
	m.lru.Init()
}

// BackupSize returns the number of entries currently held in the backup store.
func (m *Manager) BackupSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backups)
}

func (m *Manager) backupOf(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.backups[key]
	if !ok {
		return nil, false
	}
	m.lru.MoveToFront(elem)
	return elem.Value.(*backupEntry).data, true
}

// VerifyPayload checks data against its recorded checksum.
func (m *Manager) VerifyPayload(data []byte, recordedChecksum uint64) bool {
	return checksum.Verify(recordedChecksum, data)
}

// RepairFromBackup attempts to restore key's payload at offset from the
// backup store. Returns false (without error) if no backup is held.
func (m *Manager) RepairFromBackup(backend Backend, key string, offset int64) (bool, error) {
	data, ok := m.backupOf(key)
	if !ok {
		return false, nil
	}
	if err := backend.WriteAt(offset, data); err != nil {
		return false, fmt.Errorf("verify: repair %q: %w", key, err)
	}
	return true, nil
}

// Run walks up to cfg.MaxEntriesPerRun entries, reading and verifying each
// via backend, and attempting repair-from-backup for any that fail.
// onCorrupted, when non-nil, is called for each key found corrupted whether
// or not repair succeeded, so the caller can decide whether to drop it from
// the directory.
func (m *Manager) Run(ctx context.Context, backend Backend, entries []Entry, onCorrupted func(key string, repaired bool)) (Result, error) {
	start := time.Now()

	var verified, corrupted, repaired int
	checked := entries
	if len(checked) > m.cfg.MaxEntriesPerRun {
		checked = checked[:m.cfg.MaxEntriesPerRun]
	}

	for _, e := range checked {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		data, err := backend.ReadAt(int64(e.BlockOffset), int(e.PayloadLength))
		if err != nil {
			m.logger.Warnf(logging.NSVerify+"read failed for %q: %v", e.Key, err)
			continue
		}

		if checksum.Verify(e.Checksum, data) {
			verified++
			continue
		}

		corrupted++
		m.logger.Warnf(logging.NSVerify+"checksum mismatch for %q", e.Key)

		wasRepaired := false
		if m.cfg.AutoRepairEnabled {
			ok, err := m.RepairFromBackup(backend, e.Key, int64(e.BlockOffset))
			if err != nil {
				m.logger.Warnf(logging.NSVerify+"repair failed for %q: %v", e.Key, err)
			} else if ok {
				wasRepaired = true
				repaired++
			}
		}

		if onCorrupted != nil {
			onCorrupted(e.Key, wasRepaired)
		}
	}

	dur := time.Since(start)

	m.mu.Lock()
	m.stats.TotalRuns++
	m.stats.TotalVerified += uint64(verified)
	m.stats.CorruptedFound += uint64(corrupted)
	if m.cfg.AutoRepairEnabled {
		m.stats.RepairSuccesses += uint64(repaired)
		m.stats.RepairFailures += uint64(corrupted - repaired)
	}
	m.stats.LastRunUnixSec = start.Unix()
	m.stats.LastRunDuration = dur
	m.mu.Unlock()

	m.logger.Infof(logging.NSVerify+"run complete: verified=%d corrupted=%d repaired=%d in %s",
		verified, corrupted, repaired, dur)

	return Result{Verified: verified, Corrupted: corrupted, Repaired: repaired, Duration: dur}, nil
}
