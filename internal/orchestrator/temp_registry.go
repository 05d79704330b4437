package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/tis24dev/flowsave/internal/logging"
)

const (
	// RegistryEnvVar overrides the registry location.
	RegistryEnvVar      = "FLOWSAVE_TEMP_REGISTRY_PATH"
	registryFallbackDir = "flowsave"
	registryFileName    = "temp-dirs.json"
)

type tempDirRecord struct {
	Path      string    `json:"path"`
	PID       int       `json:"pid"`
	CreatedAt time.Time `json:"created_at"`
}

// TempDirRegistry records the scratch directories of running flows so a
// later run can remove what a crashed one left behind.
type TempDirRegistry struct {
	registryPath string
	lockPath     string
	logger       *logging.Logger
	mu           sync.Mutex
	now          func() time.Time
	alive        func(pid int) bool
}

// NewTempDirRegistry initializes a registry at registryPath (see
// ResolveRegistryPath when empty).
func NewTempDirRegistry(logger *logging.Logger, registryPath string) (*TempDirRegistry, error) {
	if strings.TrimSpace(registryPath) == "" {
		registryPath = ResolveRegistryPath()
	}
	if logger == nil {
		logger = logging.Discard()
	}

	dir := filepath.Dir(registryPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	return &TempDirRegistry{
		registryPath: registryPath,
		lockPath:     registryPath + ".lock",
		logger:       logger,
		now:          time.Now,
		alive:        processAlive,
	}, nil
}

// Path returns the registry file location.
func (r *TempDirRegistry) Path() string {
	return r.registryPath
}

// Register records dir as owned by the current process.
func (r *TempDirRegistry) Register(dir string) error {
	return r.withLock(func(entries []tempDirRecord) ([]tempDirRecord, error) {
		filtered := make([]tempDirRecord, 0, len(entries)+1)
		for _, entry := range entries {
			if entry.Path != dir {
				filtered = append(filtered, entry)
			}
		}
		return append(filtered, tempDirRecord{
			Path:      dir,
			PID:       os.Getpid(),
			CreatedAt: r.now().UTC(),
		}), nil
	})
}

// Deregister forgets dir.
func (r *TempDirRegistry) Deregister(dir string) error {
	return r.withLock(func(entries []tempDirRecord) ([]tempDirRecord, error) {
		filtered := entries[:0]
		for _, entry := range entries {
			if entry.Path != dir {
				filtered = append(filtered, entry)
			}
		}
		return filtered, nil
	})
}

// CleanupOrphaned removes directories whose owning process is gone or that
// are older than maxAge, and returns how many were removed.
func (r *TempDirRegistry) CleanupOrphaned(maxAge time.Duration) (int, error) {
	now := r.now().UTC()
	cleaned := 0
	err := r.withLock(func(entries []tempDirRecord) ([]tempDirRecord, error) {
		kept := make([]tempDirRecord, 0, len(entries))
		for _, entry := range entries {
			stale := maxAge > 0 && now.Sub(entry.CreatedAt) > maxAge
			if !stale && r.alive(entry.PID) {
				kept = append(kept, entry)
				continue
			}
			if err := os.RemoveAll(entry.Path); err != nil {
				r.logger.Warning("Failed to cleanup temp dir %s: %v", entry.Path, err)
				kept = append(kept, entry)
				continue
			}
			r.logger.Debug("Cleaned orphaned temp dir %s (pid=%d)", entry.Path, entry.PID)
			cleaned++
		}
		return kept, nil
	})
	return cleaned, err
}

func (r *TempDirRegistry) withLock(mutate func([]tempDirRecord) ([]tempDirRecord, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lockFile, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open registry lock: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("flock registry: %w", err)
	}
	defer syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)

	entries, err := r.loadEntries()
	if err != nil {
		return err
	}
	updated, err := mutate(entries)
	if err != nil {
		return err
	}
	return r.saveEntries(updated)
}

func (r *TempDirRegistry) loadEntries() ([]tempDirRecord, error) {
	data, err := os.ReadFile(r.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []tempDirRecord{}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(data) == 0 {
		return []tempDirRecord{}, nil
	}

	var entries []tempDirRecord
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return entries, nil
}

func (r *TempDirRegistry) saveEntries(entries []tempDirRecord) error {
	content, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	return writeFileAtomic(r.registryPath, content, 0o600)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// ResolveRegistryPath returns the registry location: the environment
// override, else a per-user file under the system temp directory.
func ResolveRegistryPath() string {
	if custom := strings.TrimSpace(os.Getenv(RegistryEnvVar)); custom != "" {
		return custom
	}
	return filepath.Join(os.TempDir(), registryFallbackDir, registryFileName)
}
