package learning

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"smart-weigher/internal/event"
	"smart-weigher/internal/persistence"
	"smart-weigher/internal/tracker"
	"smart-weigher/internal/types"
)

// recordingStage 记录任务的执行顺序，可注入每次执行的耗时
type recordingStage struct {
	mu    sync.Mutex
	order []string
	delay time.Duration
}

func (r *recordingStage) Name() types.LearningStage { return types.StageCoarseTime }

func (r *recordingStage) Execute(_ context.Context, run *types.LearningRun) types.Result {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.order = append(r.order, run.ID)
	r.mu.Unlock()
	return types.Result{Success: true}
}

func (r *recordingStage) Abort(context.Context, *types.LearningRun) {}

func (r *recordingStage) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func singleStageProgram() map[string][]types.ProgramStep {
	return map[string][]types.ProgramStep{
		"standard": {{Stage: types.StageCoarseTime}},
	}
}

func newTestScheduler(t *testing.T, stage Stage, maxWorkers int, wal *persistence.WAL) (*Scheduler, context.CancelFunc) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	engine := NewEngine(singleStageProgram(), tracker.NewTracker(logger), nil, logger, event.NewBus())
	engine.RegisterStage(stage)

	s := NewScheduler(engine, maxWorkers, wal, event.NewBus(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	t.Cleanup(cancel)
	return s, cancel
}

func waitForExecutions(t *testing.T, stage *recordingStage, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := stage.executed(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("等待 %d 个任务执行超时, 已执行 %v", n, stage.executed())
	return nil
}

func TestSchedulerAssignsRunID(t *testing.T) {
	stage := &recordingStage{}
	s, _ := newTestScheduler(t, stage, 1, nil)

	run := &types.LearningRun{Bucket: 1, TargetWeight: 200, Program: "standard"}
	s.SubmitRun(run)
	if run.ID == "" {
		t.Fatal("提交时应自动分配任务 ID")
	}
	waitForExecutions(t, stage, 1)
}

func TestSchedulerPriorityOrdering(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	stage := &recordingStage{delay: 20 * time.Millisecond}
	engine := NewEngine(singleStageProgram(), tracker.NewTracker(logger), nil, logger, event.NewBus())
	engine.RegisterStage(stage)
	s := NewScheduler(engine, 1, nil, event.NewBus(), logger)

	// 先入队再启动调度，保证优先级比较发生在取任务之前
	s.SubmitRun(&types.LearningRun{ID: "low", Bucket: 2, TargetWeight: 200, Program: "standard", Priority: 1})
	s.SubmitRun(&types.LearningRun{ID: "high", Bucket: 3, TargetWeight: 200, Program: "standard", Priority: 10})
	s.SubmitRun(&types.LearningRun{ID: "mid", Bucket: 4, TargetWeight: 200, Program: "standard", Priority: 5})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	got := waitForExecutions(t, stage, 3)
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("执行顺序预期 %v, 得到 %v", want, got)
		}
	}
}

func TestSchedulerSerializesSameBucket(t *testing.T) {
	// 多 worker，但同一料斗的两个任务不允许并发
	var mu sync.Mutex
	active := 0
	maxActive := 0
	stage := &concurrencyMeterStage{onExecute: func() func() {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		return func() {
			mu.Lock()
			active--
			mu.Unlock()
		}
	}}
	s, _ := newTestScheduler(t, stage, 4, nil)

	// 恢复路径不去重，同一料斗可以排进多个任务
	for i := 0; i < 3; i++ {
		s.submit(&types.LearningRun{ID: uuid.NewString(), Bucket: 2, TargetWeight: 200, Program: "standard"})
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if stage.count() >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if stage.count() < 3 {
		t.Fatalf("任务未全部执行: %d", stage.count())
	}
	mu.Lock()
	peak := maxActive
	mu.Unlock()
	if peak > 1 {
		t.Errorf("同一料斗出现并发执行, 最大并发 %d", peak)
	}
}

func TestSchedulerRejectsDuplicateBucketSubmit(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	stage := &recordingStage{delay: 200 * time.Millisecond}
	engine := NewEngine(singleStageProgram(), tracker.NewTracker(logger), nil, logger, event.NewBus())
	engine.RegisterStage(stage)
	s := NewScheduler(engine, 2, nil, event.NewBus(), logger)

	// 排队中的同料斗任务被拒绝
	if !s.SubmitRun(&types.LearningRun{ID: "first", Bucket: 2, TargetWeight: 200, Program: "standard"}) {
		t.Fatal("首次提交应被接受")
	}
	if s.SubmitRun(&types.LearningRun{ID: "dup-queued", Bucket: 2, TargetWeight: 200, Program: "standard"}) {
		t.Error("同料斗已在排队时应忽略重复提交")
	}
	if !s.SubmitRun(&types.LearningRun{ID: "other", Bucket: 3, TargetWeight: 200, Program: "standard"}) {
		t.Error("其他料斗的提交不应受影响")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Start(ctx)

	// 执行中的同料斗任务同样被拒绝
	deadline := time.Now().Add(2 * time.Second)
	rejected := false
	for time.Now().Before(deadline) {
		s.mu.Lock()
		busy := s.busy[2]
		s.mu.Unlock()
		if busy {
			rejected = !s.SubmitRun(&types.LearningRun{ID: "dup-busy", Bucket: 2, TargetWeight: 200, Program: "standard"})
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !rejected {
		t.Error("同料斗执行中应忽略重复提交")
	}

	got := waitForExecutions(t, stage, 2)
	for _, id := range got {
		if id == "dup-queued" || id == "dup-busy" {
			t.Errorf("重复提交的任务不应执行: %v", got)
		}
	}
}

// concurrencyMeterStage 在执行期间统计并发度
type concurrencyMeterStage struct {
	mu        sync.Mutex
	executed  int
	onExecute func() func()
}

func (c *concurrencyMeterStage) Name() types.LearningStage { return types.StageCoarseTime }

func (c *concurrencyMeterStage) Execute(context.Context, *types.LearningRun) types.Result {
	done := c.onExecute()
	time.Sleep(30 * time.Millisecond)
	done()
	c.mu.Lock()
	c.executed++
	c.mu.Unlock()
	return types.Result{Success: true}
}

func (c *concurrencyMeterStage) Abort(context.Context, *types.LearningRun) {}

func (c *concurrencyMeterStage) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executed
}

func TestSchedulerRecoverFromWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learning.wal")
	wal, err := persistence.NewWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := wal.Append(&types.LearningRun{ID: "pending", Bucket: 5, TargetWeight: 200, Program: "standard"}); err != nil {
		t.Fatal(err)
	}
	if err := wal.Append(&types.LearningRun{ID: "done", Bucket: 6, TargetWeight: 200, Program: "standard"}); err != nil {
		t.Fatal(err)
	}
	if err := wal.Complete("done"); err != nil {
		t.Fatal(err)
	}

	stage := &recordingStage{}
	s, _ := newTestScheduler(t, stage, 2, wal)
	if err := s.RecoverRuns(); err != nil {
		t.Fatal(err)
	}

	got := waitForExecutions(t, stage, 1)
	if got[0] != "pending" {
		t.Fatalf("应只恢复悬挂任务: %v", got)
	}
	// 已结束的任务不会被恢复执行
	time.Sleep(50 * time.Millisecond)
	if len(stage.executed()) != 1 {
		t.Errorf("不应执行已结束的任务: %v", stage.executed())
	}

	// 任务跑完后 WAL 里不再有悬挂任务
	time.Sleep(20 * time.Millisecond)
	recovered, err := wal.Recover()
	if err != nil {
		t.Fatal(err)
	}
	if len(recovered) != 0 {
		t.Errorf("执行完成后应标记 WAL: %+v", recovered)
	}
}
