// Package filter 保存进程级的文件列表过滤条件，并持久化到 BoltDB
package filter

import (
	"fmt"
	"log/slog"
	"strings"

	"tgfiles/internal/database"
)

// DefaultScope 过滤条件在数据库中的 Key
const DefaultScope = "telegramFileListFilter"

// Filter 文件列表过滤条件 (按值比较)
type Filter struct {
	Search string `json:"search"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Default 用户保存过滤条件之前使用的默认值
func Default() Filter {
	return Filter{Search: "", Type: "media", Status: "all"}
}

var (
	validTypes    = map[string]bool{"media": true, "photo": true, "video": true, "audio": true, "file": true}
	validStatuses = map[string]bool{
		"all": true, "idle": true, "downloading": true, "paused": true, "completed": true, "error": true,
	}
)

// Equal 按值比较，而不是按引用
func (f Filter) Equal(other Filter) bool {
	return f == other
}

// Normalize 去掉搜索词两端空白，并为空字段填充默认值
func (f Filter) Normalize() Filter {
	d := Default()
	f.Search = strings.TrimSpace(f.Search)
	if f.Type == "" {
		f.Type = d.Type
	}
	if f.Status == "" {
		f.Status = d.Status
	}
	return f
}

// Validate 拒绝未知的类型和状态
func (f Filter) Validate() error {
	if !validTypes[f.Type] {
		return fmt.Errorf("unknown file type %q", f.Type)
	}
	if !validStatuses[f.Status] {
		return fmt.Errorf("unknown download status %q", f.Status)
	}
	return nil
}

func (f Filter) String() string {
	return fmt.Sprintf("search=%q type=%s status=%s", f.Search, f.Type, f.Status)
}

// Store 在内存中保存当前过滤条件，写入时同步到 BoltDB
type Store struct {
	db      *database.DB
	scope   string
	current Filter
}

// NewStore 读取已保存的过滤条件，没有记录时使用默认值
func NewStore(db *database.DB, scope string) (*Store, error) {
	if scope == "" {
		scope = DefaultScope
	}
	s := &Store{db: db, scope: scope, current: Default()}

	state, err := db.GetFilter(scope)
	if err != nil {
		return nil, err
	}
	if state != nil {
		loaded := Filter{Search: state.Search, Type: state.Type, Status: state.Status}.Normalize()
		if err := loaded.Validate(); err != nil {
			slog.Warn("忽略无效的已保存过滤条件", "scope", scope, "err", err)
		} else {
			s.current = loaded
		}
	}
	return s, nil
}

// Get 当前生效的过滤条件
func (s *Store) Get() Filter {
	return s.current
}

// Set 保存新的过滤条件
// 与当前值相等时不写库，changed 返回 false
func (s *Store) Set(f Filter) (changed bool, err error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return false, err
	}
	if f.Equal(s.current) {
		return false, nil
	}

	err = s.db.PutFilter(&database.FilterState{
		Scope:  s.scope,
		Search: f.Search,
		Type:   f.Type,
		Status: f.Status,
	})
	if err != nil {
		return false, fmt.Errorf("save filter: %w", err)
	}
	s.current = f
	return true, nil
}

// Clear 删除已保存的记录并恢复默认值
func (s *Store) Clear() (changed bool, err error) {
	if err := s.db.DeleteFilter(s.scope); err != nil {
		return false, fmt.Errorf("clear filter: %w", err)
	}
	changed = !s.current.Equal(Default())
	s.current = Default()
	return changed, nil
}
