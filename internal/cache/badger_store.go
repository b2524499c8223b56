package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	badgerStorePrefix = "store/"
	badgerEntryPrefix = "entry/"
	badgerStagePrefix = "stage/"
	badgerBatchPrefix = "batch/"
)

// NewBadgerStorage 在 path 下打开（或创建）badger 数据库作为持久化缓存。
func NewBadgerStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	store := &badgerStore{db: db}
	if err := store.recoverBatches(); err != nil {
		db.Close()
		return nil, fmt.Errorf("recover badger batches: %w", err)
	}
	return newStorage("badger", store), nil
}

// NewMemoryStorage 返回进程内缓存，重启后数据丢失，主要用于测试与临时运行。
func NewMemoryStorage() (Storage, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger: %w", err)
	}
	return newStorage("memory", &badgerStore{db: db}), nil
}

// badgerStore 的键布局：
//
//	store/<name>          -> 创建时间（UnixNano 十进制）
//	entry/<name>/<key>    -> 编码后的响应
//	stage/<batch>/<key>   -> 超出单事务上限的批量写入暂存区
//	batch/<batch>         -> 暂存批次已提交，值为目标缓存仓名称
type badgerStore struct {
	db *badger.DB
}

func (s *badgerStore) ensureStore(ctx context.Context, name string, created time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return ensureStoreTxn(txn, name, created)
	})
}

func ensureStoreTxn(txn *badger.Txn, name string, created time.Time) error {
	key := []byte(badgerStorePrefix + name)
	_, err := txn.Get(key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return txn.Set(key, []byte(strconv.FormatInt(created.UnixNano(), 10)))
}

func (s *badgerStore) hasStore(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(badgerStorePrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *badgerStore) listStores(ctx context.Context) ([]storeInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []storeInfo
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerStorePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), badgerStorePrefix)
			info := storeInfo{name: name}
			err := item.Value(func(val []byte) error {
				if nanos, perr := strconv.ParseInt(string(val), 10, 64); perr == nil {
					info.created = time.Unix(0, nanos).UTC()
				}
				return nil
			})
			if err != nil {
				return err
			}
			result = append(result, info)
		}
		return nil
	})
	return result, err
}

// dropStore 用 DropPrefix 清理条目，不受单事务大小限制；缓存仓标记最后删除。
func (s *badgerStore) dropStore(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	storeKey := []byte(badgerStorePrefix + name)
	existed := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(storeKey)
		if err == nil {
			existed = true
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = entryPrefix(name)
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		existed = it.Valid()
		return nil
	})
	if err != nil || !existed {
		return false, err
	}

	if err := s.db.DropPrefix(entryPrefix(name)); err != nil {
		return true, fmt.Errorf("drop entries: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storeKey)
	})
	return true, err
}

func (s *badgerStore) get(ctx context.Context, store, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(store, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errMissing
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// put 优先在单个事务中写入全部条目；超出事务上限时改走 putStaged。
func (s *badgerStore) put(ctx context.Context, store string, records []record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := ensureStoreTxn(txn, store, time.Now().UTC()); err != nil {
			return err
		}
		for _, rec := range records {
			if err := txn.Set(entryKey(store, rec.key), rec.value); err != nil {
				return fmt.Errorf("batch set %s: %w", rec.key, err)
			}
		}
		return nil
	})
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	return s.putStaged(ctx, store, records)
}

// putStaged 先用 WriteBatch 把条目写入暂存区，再以一次小事务写入 batch 标记作为提交点，
// 最后把暂存条目搬到正式位置。提交前失败会清空暂存区；提交后中断由 recoverBatches 在下次打开时补完。
func (s *badgerStore) putStaged(ctx context.Context, store string, records []record) error {
	batch := uuid.NewString()

	wb := s.db.NewWriteBatch()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			wb.Cancel()
			return s.discardStage(batch, err)
		}
		if err := wb.Set(stageKey(batch, rec.key), rec.value); err != nil {
			wb.Cancel()
			return s.discardStage(batch, fmt.Errorf("stage %s: %w", rec.key, err))
		}
	}
	if err := wb.Flush(); err != nil {
		return s.discardStage(batch, fmt.Errorf("flush stage: %w", err))
	}
	if err := ctx.Err(); err != nil {
		return s.discardStage(batch, err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := ensureStoreTxn(txn, store, time.Now().UTC()); err != nil {
			return err
		}
		return txn.Set(batchKey(batch), []byte(store))
	})
	if err != nil {
		return s.discardStage(batch, fmt.Errorf("commit batch: %w", err))
	}
	return s.promote(batch, store)
}

func (s *badgerStore) discardStage(batch string, cause error) error {
	if err := s.db.DropPrefix(stagePrefix(batch)); err != nil {
		return errors.Join(cause, fmt.Errorf("discard stage %s: %w", batch, err))
	}
	return cause
}

// promote 把已提交批次的暂存条目写入 entry/，完成后删除暂存区与标记。重复执行是安全的。
func (s *badgerStore) promote(batch, store string) error {
	prefix := stagePrefix(batch)
	wb := s.db.NewWriteBatch()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			key := string(item.Key()[len(prefix):])
			if err := wb.Set(entryKey(store, key), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		wb.Cancel()
		return fmt.Errorf("promote batch %s: %w", batch, err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("promote batch %s: %w", batch, err)
	}
	if err := s.db.DropPrefix(prefix); err != nil {
		return fmt.Errorf("drop stage %s: %w", batch, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(batchKey(batch))
	})
}

// recoverBatches 在打开数据库时补完已提交但未搬运的批次，并丢弃未提交的暂存数据。
func (s *badgerStore) recoverBatches() error {
	pending := map[string]string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(badgerBatchPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			pending[strings.TrimPrefix(string(item.Key()), badgerBatchPrefix)] = string(value)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for batch, store := range pending {
		if err := s.promote(batch, store); err != nil {
			return err
		}
	}
	return s.db.DropPrefix([]byte(badgerStagePrefix))
}

func (s *badgerStore) remove(ctx context.Context, store, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	existed := false
	err := s.db.Update(func(txn *badger.Txn) error {
		k := entryKey(store, key)
		if _, err := txn.Get(k); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		existed = true
		return txn.Delete(k)
	})
	return existed, err
}

func (s *badgerStore) keys(ctx context.Context, store string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := entryPrefix(store)
	var result []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			result = append(result, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return result, err
}

func (s *badgerStore) close() error {
	return s.db.Close()
}

func entryPrefix(store string) []byte {
	return []byte(badgerEntryPrefix + store + "/")
}

func entryKey(store, key string) []byte {
	return append(entryPrefix(store), key...)
}

func stagePrefix(batch string) []byte {
	return []byte(badgerStagePrefix + batch + "/")
}

func stageKey(batch, key string) []byte {
	return append(stagePrefix(batch), key...)
}

func batchKey(batch string) []byte {
	return []byte(badgerBatchPrefix + batch)
}
