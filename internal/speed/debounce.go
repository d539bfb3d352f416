package speed

import "time"

// Debouncer 前沿触发的防抖器，带最大等待时间
//
// 空闲状态下的第一次 Offer 立即生效；之后 wait 内的更新只记录，
// 在最后一次更新后 wait 到期时生效；持续更新时最迟 maxWait 生效一次。
// 不启动任何 goroutine，由调用方用 Poll 推进时间，Stop 之后不再产生输出。
type Debouncer[T comparable] struct {
	wait    time.Duration
	maxWait time.Duration

	value T

	pending    T
	hasPending bool
	active     bool
	stopped    bool

	lastCall time.Time
	lastEmit time.Time
}

// NewDebouncer 创建防抖器，maxWait 小于 wait 时按 wait 处理
func NewDebouncer[T comparable](wait, maxWait time.Duration, initial T) *Debouncer[T] {
	if maxWait < wait {
		maxWait = wait
	}
	return &Debouncer[T]{wait: wait, maxWait: maxWait, value: initial}
}

// Offer 提交新值，返回当前对外的值以及本次是否发生了变化
func (d *Debouncer[T]) Offer(v T, now time.Time) (T, bool) {
	if d.stopped {
		return d.value, false
	}

	if !d.active {
		d.active = true
		d.lastCall = now
		d.hasPending = false
		return d.emit(v, now)
	}

	d.lastCall = now
	d.pending = v
	d.hasPending = true

	if now.Sub(d.lastEmit) >= d.maxWait {
		d.hasPending = false
		return d.emit(v, now)
	}
	return d.value, false
}

// Poll 推进时间，到期的挂起值在这里生效
func (d *Debouncer[T]) Poll(now time.Time) (T, bool) {
	if d.stopped || !d.active {
		return d.value, false
	}

	if now.Sub(d.lastCall) >= d.wait {
		d.active = false
		if d.hasPending {
			d.hasPending = false
			return d.emit(d.pending, now)
		}
		return d.value, false
	}

	if d.hasPending && now.Sub(d.lastEmit) >= d.maxWait {
		d.hasPending = false
		return d.emit(d.pending, now)
	}
	return d.value, false
}

// Reset 跳过防抖直接设置对外的值，并清空挂起值
func (d *Debouncer[T]) Reset(v T) {
	d.value = v
	d.hasPending = false
	d.active = false
}

// Stop 取消挂起值，之后的 Offer 和 Poll 都不再生效
func (d *Debouncer[T]) Stop() {
	d.stopped = true
	d.hasPending = false
	d.active = false
}

// Value 当前对外的值
func (d *Debouncer[T]) Value() T {
	return d.value
}

func (d *Debouncer[T]) emit(v T, now time.Time) (T, bool) {
	changed := v != d.value
	d.value = v
	d.lastEmit = now
	return v, changed
}
