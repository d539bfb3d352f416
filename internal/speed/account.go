package speed

import "time"

// AccountRate 账号级别的聚合下载速率
// 后端推送 totalCount 为 0 时表示没有进行中的下载，状态清零
type AccountRate struct {
	opts Options

	lastTs      int64
	lastBytes   int64
	rate        float64
	lastArrival time.Time
	smooth      *Debouncer[float64]
}

// NewAccountRate 创建聚合速率估算器
func NewAccountRate(opts Options) *AccountRate {
	opts.withDefaults()
	return &AccountRate{
		opts:   opts,
		smooth: NewDebouncer(opts.DebounceWait, opts.DebounceMaxWait, 0.0),
	}
}

// Observe 处理一次聚合推送，返回对外的速率
func (a *AccountRate) Observe(timestamp, downloadedSize, totalCount int64) float64 {
	now := a.opts.Now()
	a.lastArrival = now

	if totalCount == 0 {
		a.lastTs = 0
		a.lastBytes = 0
		a.rate = 0
		a.smooth.Reset(0)
		return 0
	}

	if a.lastTs != 0 {
		dt := float64(timestamp-a.lastTs) / 1000
		if dt > 0 && downloadedSize > a.lastBytes {
			a.rate = float64(downloadedSize-a.lastBytes) / dt
		}
	}
	a.lastTs = timestamp
	a.lastBytes = downloadedSize

	v, _ := a.smooth.Offer(a.rate, now)
	return v
}

// Tick 推进防抖，长时间无推送时速率归零
func (a *AccountRate) Tick(now time.Time) {
	if !a.lastArrival.IsZero() && now.Sub(a.lastArrival) >= a.opts.DecayInterval {
		a.rate = 0
		a.smooth.Reset(0)
		return
	}
	a.smooth.Poll(now)
}

// Rate 当前对外的速率
func (a *AccountRate) Rate() float64 {
	return a.smooth.Value()
}
