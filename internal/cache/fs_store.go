package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	storeMarker  = ".store"
	entrySuffix  = ".json"
	tempFileGlob = ".cache-*"
	backupSuffix = ".bak"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，每个缓存仓对应一个子目录。
func NewFileStorage(basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return newStorage("fs", &fileStore{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		rename:   os.Rename,
	}), nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入；dirMu 让删除整个缓存仓与读写互斥。
type fileStore struct {
	basePath string

	dirMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock

	rename func(oldpath, newpath string) error
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// fileRecord 是磁盘上单个条目的格式，保留原始 key 以便列举。
type fileRecord struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

func (s *fileStore) ensureStore(ctx context.Context, name string, created time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.dirMu.Lock()
	defer s.dirMu.Unlock()
	return s.ensureStoreLocked(name, created)
}

func (s *fileStore) ensureStoreLocked(name string, created time.Time) error {
	dir := s.storeDir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	marker := filepath.Join(dir, storeMarker)
	if _, err := os.Stat(marker); err == nil {
		return nil
	}
	return writeFileAtomic(marker, []byte(created.Format(time.RFC3339Nano)))
}

func (s *fileStore) hasStore(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	info, err := os.Stat(s.storeDir(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *fileStore) listStores(ctx context.Context) ([]storeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	result := make([]storeInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info := storeInfo{name: entry.Name()}
		if raw, err := os.ReadFile(filepath.Join(s.basePath, entry.Name(), storeMarker)); err == nil {
			if parsed, perr := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw))); perr == nil {
				info.created = parsed
			}
		}
		if info.created.IsZero() {
			if fi, err := entry.Info(); err == nil {
				info.created = fi.ModTime()
			}
		}
		result = append(result, info)
	}
	return result, nil
}

func (s *fileStore) dropStore(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.dirMu.Lock()
	defer s.dirMu.Unlock()

	dir := s.storeDir(name)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return true, err
	}
	return true, nil
}

func (s *fileStore) get(ctx context.Context, store, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	raw, err := os.ReadFile(s.entryPath(store, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errMissing
		}
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// put 先把所有条目写入临时文件，全部成功后再逐个 rename。已存在的条目先改名为备份，
// rename 中途失败时按相反顺序恢复备份，新增的条目直接删除。
func (s *fileStore) put(ctx context.Context, store string, records []record) error {
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	keys := make([]string, len(records))
	for i, rec := range records {
		keys[i] = rec.key
	}
	unlock := s.lockEntries(store, keys)
	defer unlock()

	dir := s.storeDir(store)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	type staged struct {
		temp   string
		target string
		backup string
	}
	stagedFiles := make([]staged, 0, len(records))
	removeTemps := func(files []staged) {
		for _, st := range files {
			os.Remove(st.temp)
		}
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			removeTemps(stagedFiles)
			return err
		}
		data, err := json.Marshal(fileRecord{Key: rec.key, Value: rec.value})
		if err != nil {
			removeTemps(stagedFiles)
			return err
		}
		temp, err := writeTemp(dir, data)
		if err != nil {
			removeTemps(stagedFiles)
			return err
		}
		stagedFiles = append(stagedFiles, staged{temp: temp, target: s.entryPath(store, rec.key)})
	}

	rollback := func(done []staged) {
		for i := len(done) - 1; i >= 0; i-- {
			st := done[i]
			if st.backup != "" {
				os.Rename(st.backup, st.target)
			} else {
				os.Remove(st.target)
			}
		}
	}

	for i := range stagedFiles {
		st := &stagedFiles[i]
		backup := st.target + backupSuffix
		err := s.rename(st.target, backup)
		switch {
		case err == nil:
			st.backup = backup
		case !errors.Is(err, fs.ErrNotExist):
			rollback(stagedFiles[:i])
			removeTemps(stagedFiles[i:])
			return err
		}
		if err := s.rename(st.temp, st.target); err != nil {
			rollback(stagedFiles[:i+1])
			removeTemps(stagedFiles[i:])
			return err
		}
	}

	for _, st := range stagedFiles {
		if st.backup != "" {
			os.Remove(st.backup)
		}
	}
	return nil
}

func (s *fileStore) remove(ctx context.Context, store, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	unlock := s.lockEntries(store, []string{key})
	defer unlock()

	if err := os.Remove(s.entryPath(store, key)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *fileStore) keys(ctx context.Context, store string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.dirMu.RLock()
	defer s.dirMu.RUnlock()

	entries, err := os.ReadDir(s.storeDir(store))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	result := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), entrySuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.storeDir(store), entry.Name()))
		if err != nil {
			return nil, err
		}
		var rec fileRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, err
		}
		result = append(result, rec.Key)
	}
	return result, nil
}

func (s *fileStore) close() error {
	return nil
}

// lockEntries 按排序后的顺序加锁，避免批量写入之间互相死锁。
func (s *fileStore) lockEntries(store string, keys []string) func() {
	ids := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		id := store + "::" + key
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)

	unlocks := make([]func(), 0, len(ids))
	for _, id := range ids {
		unlocks = append(unlocks, s.lockEntry(id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (s *fileStore) lockEntry(id string) func() {
	s.mu.Lock()
	lock := s.locks[id]
	if lock == nil {
		lock = &entryLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) storeDir(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *fileStore) entryPath(store, key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.storeDir(store), hex.EncodeToString(sum[:])+entrySuffix)
}

func writeTemp(dir string, data []byte) (string, error) {
	tempFile, err := os.CreateTemp(dir, tempFileGlob)
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()
	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return "", err
	}
	return tempName, nil
}

func writeFileAtomic(target string, data []byte) error {
	temp, err := writeTemp(filepath.Dir(target), data)
	if err != nil {
		return err
	}
	if err := os.Rename(temp, target); err != nil {
		os.Remove(temp)
		return err
	}
	return nil
}
