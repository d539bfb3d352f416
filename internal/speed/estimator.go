// Package speed 根据不规则的推送时间戳估算下载速率和进度
package speed

import (
	"math"
	"time"

	"tgfiles/internal/api"
)

// Sample 对外展示的进度 (0-100) 与速率 (字节/秒)
type Sample struct {
	Progress float64
	Rate     float64
}

// Options 估算器参数
type Options struct {
	// DecayInterval 超过该时间没有新数据，速率归零
	DecayInterval time.Duration
	// 对外速率的防抖参数
	DebounceWait    time.Duration
	DebounceMaxWait time.Duration
	// Now 用于测试注入时钟
	Now func() time.Time
}

func (o *Options) withDefaults() {
	if o.DecayInterval <= 0 {
		o.DecayInterval = 2 * time.Second
	}
	if o.DebounceWait <= 0 {
		o.DebounceWait = time.Second
	}
	if o.DebounceMaxWait <= 0 {
		o.DebounceMaxWait = 2 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

type entry struct {
	seen      bool
	lastTs    int64 // 毫秒，来自推送消息
	lastBytes int64
	rate      float64
	progress  float64

	lastArrival time.Time // 本地时钟，用于衰减
	smooth      *Debouncer[float64]
}

// Estimator 按文件维护速率状态
// 非并发安全，由 Engine 的事件循环独占
type Estimator struct {
	opts    Options
	entries map[string]*entry
}

// NewEstimator 创建估算器
func NewEstimator(opts Options) *Estimator {
	opts.withDefaults()
	return &Estimator{opts: opts, entries: make(map[string]*entry)}
}

func (e *Estimator) get(key string) *entry {
	en, ok := e.entries[key]
	if !ok {
		en = &entry{smooth: NewDebouncer(e.opts.DebounceWait, e.opts.DebounceMaxWait, 0.0)}
		e.entries[key] = en
	}
	return en
}

// Seed 为尚未跟踪的文件设置初始进度，已有记录时不做任何事
// 用于让第一帧推送之前的快照进度生效
func (e *Estimator) Seed(key string, progress float64) {
	if _, ok := e.entries[key]; ok {
		return
	}
	e.get(key).progress = math.Max(0, math.Min(progress, 100))
}

// Observe 记录一次 (时间戳, 累计字节) 采样
// 乱序、重复或字节数未增长的帧保留之前的速率
func (e *Estimator) Observe(key string, timestamp, cumulativeBytes, totalSize int64) Sample {
	now := e.opts.Now()
	en := e.get(key)
	en.lastArrival = now

	if totalSize > 0 {
		p := math.Min(float64(cumulativeBytes)/float64(totalSize)*100, 100)
		// 进度只增不减，暂停时停留在最后的值
		if p > en.progress {
			en.progress = p
		}

		switch {
		case !en.seen:
			en.seen = true
			en.lastTs = timestamp
			en.lastBytes = cumulativeBytes
			en.rate = 0
		default:
			dt := float64(timestamp-en.lastTs) / 1000
			if dt > 0 && cumulativeBytes > en.lastBytes {
				en.rate = float64(cumulativeBytes-en.lastBytes) / dt
				en.lastTs = timestamp
				en.lastBytes = cumulativeBytes
			}
		}
		en.smooth.Offer(en.rate, now)
	}

	return Sample{Progress: en.progress, Rate: en.smooth.Value()}
}

// SetStatus 处理状态变化
// completed 强制进度 100；idle (取消) 清空进度；非下载状态速率立即归零
func (e *Estimator) SetStatus(key string, status api.DownloadStatus) Sample {
	en := e.get(key)

	switch status {
	case api.DownloadCompleted:
		en.progress = 100
	case api.DownloadIdle:
		en.progress = 0
		en.seen = false
		en.lastTs = 0
		en.lastBytes = 0
	}
	if status != api.DownloadDownloading {
		en.rate = 0
		en.smooth.Reset(0)
	}
	return Sample{Progress: en.progress, Rate: en.smooth.Value()}
}

// Tick 由固定周期的定时器驱动：推进防抖，并把空闲的速率归零
func (e *Estimator) Tick(now time.Time) {
	for _, en := range e.entries {
		if now.Sub(en.lastArrival) >= e.opts.DecayInterval {
			if en.rate != 0 || en.smooth.Value() != 0 {
				en.rate = 0
				en.smooth.Reset(0)
			}
			continue
		}
		en.smooth.Poll(now)
	}
}

// Sample 当前对外的值，没有记录时 ok 为 false
func (e *Estimator) Sample(key string) (Sample, bool) {
	en, ok := e.entries[key]
	if !ok {
		return Sample{}, false
	}
	return Sample{Progress: en.progress, Rate: en.smooth.Value()}, true
}

// Forget 文件离开工作集时释放其状态
func (e *Estimator) Forget(key string) {
	if en, ok := e.entries[key]; ok {
		en.smooth.Stop()
		delete(e.entries, key)
	}
}

// Retain 只保留 keep 中的文件
func (e *Estimator) Retain(keep map[string]struct{}) {
	for key := range e.entries {
		if _, ok := keep[key]; !ok {
			e.Forget(key)
		}
	}
}

// Len 正在跟踪的文件数
func (e *Estimator) Len() int {
	return len(e.entries)
}
