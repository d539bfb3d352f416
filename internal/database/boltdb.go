package database

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// FilterBucket 保存各作用域的过滤条件
	FilterBucket = "Filters"
)

// DB 封装 BoltDB 实例
type DB struct {
	conn *bbolt.DB
}

// NewBoltDB 初始化并打开数据库
func NewBoltDB(dbPath string) (*DB, error) {
	// Timeout 选项防止两个进程同时打开同一个数据库导致死锁
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开 BoltDB 失败: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(FilterBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 Bucket 失败: %w", err)
	}

	return &DB{conn: db}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	return d.conn.Close()
}

// GetFilter 读取某个作用域的过滤条件，不存在时返回 nil, nil
func (d *DB) GetFilter(scope string) (*FilterState, error) {
	var state *FilterState
	err := d.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(FilterBucket)).Get([]byte(scope))
		if v == nil {
			return nil
		}
		state = &FilterState{}
		return json.Unmarshal(v, state)
	})
	if err != nil {
		return nil, fmt.Errorf("读取过滤条件失败 scope=%s: %w", scope, err)
	}
	return state, nil
}

// PutFilter 保存或更新过滤条件
func (d *DB) PutFilter(state *FilterState) error {
	state.UpdatedAt = time.Now().UnixNano()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}

	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(FilterBucket)).Put([]byte(state.Scope), data)
	})
}

// DeleteFilter 删除过滤条件 (恢复默认值时调用)
func (d *DB) DeleteFilter(scope string) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(FilterBucket)).Delete([]byte(scope))
	})
}

// ListFilters 获取所有保存过的过滤条件
func (d *DB) ListFilters() (map[string]*FilterState, error) {
	result := make(map[string]*FilterState)

	err := d.conn.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(FilterBucket)).ForEach(func(k, v []byte) error {
			var state FilterState
			if err := json.Unmarshal(v, &state); err != nil {
				return fmt.Errorf("解析数据失败 key=%s: %w", string(k), err)
			}
			result[string(k)] = &state
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
