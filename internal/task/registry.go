package task

import (
	"sync"
	"time"

	"adflow-gateway/internal/model"
	"adflow-gateway/pkg/logger"
)

// 终态任务的保留窗口，供UI展示过渡状态
const (
	CompletedGracePeriod = 3 * time.Second
	FailedGracePeriod    = 10 * time.Second
)

// 任务类型到依赖读缓存key的静态映射
// 任务完成（或进度事件带正的items_created计数）时这些key会被失效
var cacheKeysByTaskType = map[string][]string{
	model.TaskLeadDiscovery:     {"leads", "lead_stats"},
	model.TaskContentGeneration: {"contents", "content_stats"},
	model.TaskEmailCampaign:     {"campaigns"},
	model.TaskSocialPost:        {"posts"},
	model.TaskAudienceSync:      {"audiences", "audience_stats"},
}

// Invalidator 由读缓存层实现
type Invalidator interface {
	Invalidate(keys ...string)
}

// 订阅回调种类
type SubscriptionKind int

const (
	OnStart SubscriptionKind = iota
	OnUpdate
	OnComplete
)

type subscriber struct {
	id   int
	kind SubscriptionKind
	fn   func(t *model.Task)
}

// Registry 维护每个任务类型最新已知的后台任务状态
// 状态由两个独立来源驱动并在此归并：推送事件（实时、主通道）
// 和周期性的全量快照拉取（补漏用的兜底）
type Registry struct {
	mu          sync.RWMutex
	tasks       map[string]*model.Task
	timers      map[string]func() // 每个任务类型至多一个待触发的移除定时器
	subs        []subscriber
	nextSubID   int
	invalidator Invalidator

	// 时间相关可注入，便于测试控制
	now       func() time.Time
	afterFunc func(d time.Duration, fn func()) func()
}

func NewRegistry(invalidator Invalidator) *Registry {
	return &Registry{
		tasks:       make(map[string]*model.Task),
		timers:      make(map[string]func()),
		invalidator: invalidator,
		now:         time.Now,
		afterFunc: func(d time.Duration, fn func()) func() {
			t := time.AfterFunc(d, fn)
			return func() { t.Stop() }
		},
	}
}

// GetTask 返回任务类型当前跟踪的任务，不存在返回nil
func (r *Registry) GetTask(taskType string) *model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tasks[taskType]
	if !exists {
		return nil
	}
	clone := *t
	return &clone
}

// IsActive 判断任务类型是否存在未到终态的任务
func (r *Registry) IsActive(taskType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tasks[taskType]
	if !exists {
		return false
	}
	return t.Status == model.TaskStatusPending || t.Status == model.TaskStatusInProgress
}

// Tasks 返回全部跟踪中任务的副本
func (r *Registry) Tasks() []*model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		clone := *t
		out = append(out, &clone)
	}
	return out
}

// Subscribe 注册回调，返回取消订阅函数
func (r *Registry) Subscribe(kind SubscriptionKind, fn func(t *model.Task)) func() {
	r.mu.Lock()
	r.nextSubID++
	id := r.nextSubID
	r.subs = append(r.subs, subscriber{id: id, kind: kind, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range r.subs {
			if s.id == id {
				r.subs = append(r.subs[:i], r.subs[i+1:]...)
				return
			}
		}
	}
}

// HandleSignal 处理一条推送信号字符串
// 信号格式不合法时记录日志并丢弃，已有状态不受影响
func (r *Registry) HandleSignal(signal string) {
	ev, err := ParseProgressSignal(signal)
	if err != nil {
		logger.Warnf("Dropping malformed progress signal: %v", err)
		return
	}
	r.Apply(ev)
}

// Apply 应用一个任务事件：同一任务类型最新事件覆盖旧状态
func (r *Registry) Apply(ev *model.TaskEvent) {
	r.mu.Lock()

	status := model.TaskStatusInProgress
	switch ev.EventType {
	case model.TaskEventStarted:
		status = model.TaskStatusPending
	case model.TaskEventCompleted:
		status = model.TaskStatusCompleted
	case model.TaskEventFailed:
		status = model.TaskStatusFailed
	}

	_, existed := r.tasks[ev.TaskType]
	t := &model.Task{
		TaskID:     ev.TaskID,
		TaskType:   ev.TaskType,
		Status:     status,
		Progress:   model.TaskProgress{Current: ev.Current, Total: ev.Total},
		CustomData: ev.CustomData,
		UpdatedAt:  r.now(),
	}
	r.tasks[ev.TaskType] = t

	// 新事件取代任何待触发的移除定时器
	r.cancelRemovalLocked(ev.TaskType)
	if status == model.TaskStatusCompleted {
		r.scheduleRemovalLocked(ev.TaskType, CompletedGracePeriod)
	} else if status == model.TaskStatusFailed {
		r.scheduleRemovalLocked(ev.TaskType, FailedGracePeriod)
	}

	clone := *t
	subs := r.subscribersLocked()
	r.mu.Unlock()

	r.notify(subs, &clone, ev.EventType, existed)
	r.maybeInvalidate(&clone, ev.EventType)
}

// ApplySnapshot 用快照条目补种状态（挂载或重连后的补漏）
// 推送事件刚更新过的任务类型不会被更旧的快照回退
func (r *Registry) ApplySnapshot(tasks []model.Task) {
	for i := range tasks {
		snap := tasks[i]

		r.mu.Lock()
		tracked, exists := r.tasks[snap.TaskType]
		if exists && tracked.UpdatedAt.After(snap.UpdatedAt) {
			r.mu.Unlock()
			continue
		}

		if snap.UpdatedAt.IsZero() {
			snap.UpdatedAt = r.now()
		}
		clone := snap
		r.tasks[snap.TaskType] = &clone

		r.cancelRemovalLocked(snap.TaskType)
		if snap.Status == model.TaskStatusCompleted {
			r.scheduleRemovalLocked(snap.TaskType, CompletedGracePeriod)
		} else if snap.Status == model.TaskStatusFailed {
			r.scheduleRemovalLocked(snap.TaskType, FailedGracePeriod)
		}

		notifyClone := clone
		subs := r.subscribersLocked()
		r.mu.Unlock()

		eventType := model.TaskEventProgress
		if !exists {
			eventType = model.TaskEventStarted
		}
		if snap.Status == model.TaskStatusCompleted {
			eventType = model.TaskEventCompleted
		} else if snap.Status == model.TaskStatusFailed {
			eventType = model.TaskEventFailed
		}
		r.notify(subs, &notifyClone, eventType, exists)
		// 快照补到的终态同样要触发缓存失效：
		// completed推送丢失时这里是依赖列表重新拉取的唯一机会
		r.maybeInvalidate(&notifyClone, eventType)
	}
}

func (r *Registry) subscribersLocked() []subscriber {
	subs := make([]subscriber, len(r.subs))
	copy(subs, r.subs)
	return subs
}

func (r *Registry) notify(subs []subscriber, t *model.Task, eventType string, existed bool) {
	for _, s := range subs {
		switch s.kind {
		case OnStart:
			if eventType == model.TaskEventStarted || (!existed && eventType == model.TaskEventProgress) {
				s.fn(t)
			}
		case OnUpdate:
			if eventType == model.TaskEventProgress || eventType == model.TaskEventStarted {
				s.fn(t)
			}
		case OnComplete:
			if eventType == model.TaskEventCompleted || eventType == model.TaskEventFailed {
				s.fn(t)
			}
		}
	}
}

// maybeInvalidate 在任务完成、或进度事件带正的items_created计数时
// 失效该任务类型依赖的读缓存
func (r *Registry) maybeInvalidate(t *model.Task, eventType string) {
	if r.invalidator == nil {
		return
	}

	shouldInvalidate := eventType == model.TaskEventCompleted
	if !shouldInvalidate && eventType == model.TaskEventProgress {
		if v, ok := t.CustomData["items_created"]; ok {
			if n, ok := v.(float64); ok && n > 0 {
				shouldInvalidate = true
			}
		}
	}

	if !shouldInvalidate {
		return
	}
	if keys, ok := cacheKeysByTaskType[t.TaskType]; ok {
		r.invalidator.Invalidate(keys...)
	}
}

func (r *Registry) cancelRemovalLocked(taskType string) {
	if stop, exists := r.timers[taskType]; exists {
		stop()
		delete(r.timers, taskType)
	}
}

func (r *Registry) scheduleRemovalLocked(taskType string, grace time.Duration) {
	taskID := ""
	if t, exists := r.tasks[taskType]; exists {
		taskID = t.TaskID
	}

	r.timers[taskType] = r.afterFunc(grace, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		// 宽限期内被新任务覆盖时不移除
		if t, exists := r.tasks[taskType]; exists && t.TaskID == taskID {
			delete(r.tasks, taskType)
		}
		delete(r.timers, taskType)
	})
}
