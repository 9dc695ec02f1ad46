package task

import (
	"sync"
	"testing"
	"time"

	"adflow-gateway/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimers 捕获计划中的回调，由测试手动推进
type fakeTimers struct {
	mu      sync.Mutex
	pending []*fakeTimer
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{delay: d, fn: fn}
	f.pending = append(f.pending, timer)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		timer.stopped = true
	}
}

// fire 触发所有延迟不超过elapsed的未停止定时器
func (f *fakeTimers) fire(elapsed time.Duration) {
	f.mu.Lock()
	var due []*fakeTimer
	for _, timer := range f.pending {
		if !timer.stopped && timer.delay <= elapsed {
			due = append(due, timer)
			timer.stopped = true
		}
	}
	f.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

type fakeInvalidator struct {
	mu   sync.Mutex
	keys []string
}

func (f *fakeInvalidator) Invalidate(keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, keys...)
}

func newTestRegistry() (*Registry, *fakeTimers, *fakeInvalidator) {
	timers := &fakeTimers{}
	inv := &fakeInvalidator{}
	r := NewRegistry(inv)
	r.afterFunc = timers.afterFunc
	return r, timers, inv
}

func TestRegistryStartedEvent(t *testing.T) {
	r, _, _ := newTestRegistry()

	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:started:0:50:{}---")

	tracked := r.GetTask(model.TaskLeadDiscovery)
	require.NotNil(t, tracked)
	assert.Equal(t, model.TaskStatusPending, tracked.Status)
	assert.True(t, r.IsActive(model.TaskLeadDiscovery))
}

func TestRegistryProgressOverwrites(t *testing.T) {
	r, _, _ := newTestRegistry()

	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:started:0:50:{}---")
	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:progress:25:50:{}---")

	tracked := r.GetTask(model.TaskLeadDiscovery)
	require.NotNil(t, tracked)
	assert.Equal(t, model.TaskStatusInProgress, tracked.Status)
	assert.Equal(t, 25, tracked.Progress.Current)
	assert.Equal(t, 50, tracked.Progress.Percentage())
}

// 畸形信号被丢弃，已有状态不受影响（含其他任务类型的隔离）
func TestRegistryMalformedSignalIsolation(t *testing.T) {
	r, _, _ := newTestRegistry()

	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:progress:10:50:{}---")
	r.HandleSignal("---PROGRESS_UPDATE:content_generation:garbage---")

	tracked := r.GetTask(model.TaskLeadDiscovery)
	require.NotNil(t, tracked)
	assert.Equal(t, 10, tracked.Progress.Current)
	assert.Nil(t, r.GetTask(model.TaskContentGeneration))
}

// 宽限期移除：completed保留3s后删除，failed保留10s
func TestRegistryGracePeriodRemoval(t *testing.T) {
	r, timers, _ := newTestRegistry()

	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:completed:50:50:{}---")
	require.NotNil(t, r.GetTask(model.TaskLeadDiscovery))

	// 2.9s 尚未fire，仍可查询
	timers.fire(2900 * time.Millisecond)
	assert.NotNil(t, r.GetTask(model.TaskLeadDiscovery))

	// 3.1s 已移除
	timers.fire(3100 * time.Millisecond)
	assert.Nil(t, r.GetTask(model.TaskLeadDiscovery))
}

func TestRegistryFailedGracePeriod(t *testing.T) {
	r, timers, _ := newTestRegistry()

	r.HandleSignal("---PROGRESS_UPDATE:social_post:t3:failed:2:10:{}---")

	tracked := r.GetTask(model.TaskSocialPost)
	require.NotNil(t, tracked)
	assert.Equal(t, model.TaskStatusFailed, tracked.Status)
	assert.False(t, r.IsActive(model.TaskSocialPost))

	timers.fire(9900 * time.Millisecond)
	assert.NotNil(t, r.GetTask(model.TaskSocialPost))
	timers.fire(10100 * time.Millisecond)
	assert.Nil(t, r.GetTask(model.TaskSocialPost))
}

// 宽限期内被新任务覆盖时不移除新任务
func TestRegistryNewTaskSupersedesRemoval(t *testing.T) {
	r, timers, _ := newTestRegistry()

	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:completed:50:50:{}---")
	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t2:started:0:80:{}---")

	timers.fire(time.Hour)
	tracked := r.GetTask(model.TaskLeadDiscovery)
	require.NotNil(t, tracked)
	assert.Equal(t, "t2", tracked.TaskID)
}

// 完成时失效映射表中对应的缓存key
func TestRegistryCacheInvalidationOnCompleted(t *testing.T) {
	r, _, inv := newTestRegistry()

	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:completed:50:50:{}---")

	assert.Equal(t, []string{"leads", "lead_stats"}, inv.keys)
}

// 进度事件带正的items_created计数时同样失效缓存
func TestRegistryCacheInvalidationOnItemsCreated(t *testing.T) {
	r, _, inv := newTestRegistry()

	r.HandleSignal(`---PROGRESS_UPDATE:content_generation:t1:progress:3:10:{"items_created":3}---`)
	assert.Equal(t, []string{"contents", "content_stats"}, inv.keys)

	inv.keys = nil
	r.HandleSignal(`---PROGRESS_UPDATE:content_generation:t1:progress:4:10:{"items_created":0}---`)
	assert.Empty(t, inv.keys)
}

// 快照补到的终态同样触发缓存失效（completed推送丢失时的兜底）
func TestRegistrySnapshotCacheInvalidation(t *testing.T) {
	r, _, inv := newTestRegistry()

	r.ApplySnapshot([]model.Task{
		{
			TaskID:    "t1",
			TaskType:  model.TaskLeadDiscovery,
			Status:    model.TaskStatusCompleted,
			Progress:  model.TaskProgress{Current: 50, Total: 50},
			UpdatedAt: time.Now(),
		},
	})
	assert.Equal(t, []string{"leads", "lead_stats"}, inv.keys)

	// 已跟踪任务的进度快照带正的items_created计数时同样失效
	r.HandleSignal("---PROGRESS_UPDATE:content_generation:t2:started:0:10:{}---")
	inv.keys = nil
	r.ApplySnapshot([]model.Task{
		{
			TaskID:     "t2",
			TaskType:   model.TaskContentGeneration,
			Status:     model.TaskStatusInProgress,
			Progress:   model.TaskProgress{Current: 3, Total: 10},
			CustomData: map[string]interface{}{"items_created": float64(3)},
			UpdatedAt:  time.Now().Add(time.Minute),
		},
	})
	assert.Equal(t, []string{"contents", "content_stats"}, inv.keys)

	// 无副作用条件的快照不失效
	inv.keys = nil
	r.ApplySnapshot([]model.Task{
		{
			TaskID:    "t3",
			TaskType:  model.TaskSocialPost,
			Status:    model.TaskStatusInProgress,
			Progress:  model.TaskProgress{Current: 1, Total: 5},
			UpdatedAt: time.Now(),
		},
	})
	assert.Empty(t, inv.keys)
}

// 快照补种：未知任务类型被种入，已被更新的不回退
func TestRegistrySnapshotReconciliation(t *testing.T) {
	r, _, _ := newTestRegistry()

	base := time.Now()
	r.now = func() time.Time { return base }
	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:progress:30:50:{}---")

	stale := base.Add(-time.Minute)
	r.ApplySnapshot([]model.Task{
		{
			TaskID:    "t0",
			TaskType:  model.TaskLeadDiscovery,
			Status:    model.TaskStatusInProgress,
			Progress:  model.TaskProgress{Current: 5, Total: 50},
			UpdatedAt: stale,
		},
		{
			TaskID:    "t5",
			TaskType:  model.TaskAudienceSync,
			Status:    model.TaskStatusInProgress,
			Progress:  model.TaskProgress{Current: 1, Total: 4},
			UpdatedAt: base,
		},
	})

	// 更旧的快照条目不回退推送刚更新过的状态
	tracked := r.GetTask(model.TaskLeadDiscovery)
	require.NotNil(t, tracked)
	assert.Equal(t, "t1", tracked.TaskID)
	assert.Equal(t, 30, tracked.Progress.Current)

	// 未被跟踪的任务类型被补种
	seeded := r.GetTask(model.TaskAudienceSync)
	require.NotNil(t, seeded)
	assert.Equal(t, "t5", seeded.TaskID)
}

func TestRegistrySubscriptions(t *testing.T) {
	r, _, _ := newTestRegistry()

	var started, updated, completed []string
	r.Subscribe(OnStart, func(task *model.Task) { started = append(started, task.TaskID) })
	unsubUpdate := r.Subscribe(OnUpdate, func(task *model.Task) { updated = append(updated, task.TaskID) })
	r.Subscribe(OnComplete, func(task *model.Task) { completed = append(completed, task.TaskID) })

	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:started:0:10:{}---")
	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:progress:5:10:{}---")

	unsubUpdate()
	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:progress:6:10:{}---")
	r.HandleSignal("---PROGRESS_UPDATE:lead_discovery:t1:completed:10:10:{}---")

	assert.Equal(t, []string{"t1"}, started)
	assert.Equal(t, []string{"t1", "t1"}, updated) // 取消订阅后不再收到
	assert.Equal(t, []string{"t1"}, completed)
}
