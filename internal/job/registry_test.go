package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"ceilq/internal/hw"
	"ceilq/internal/sched"
)

func demoDeclaration() sched.Declaration {
	return sched.Declaration{
		Resources: []sched.ResourceDecl{
			{Name: "hits"},
			{Name: "boot", TaskLocal: true, Late: true},
		},
		Tasks: []sched.TaskDecl{
			{Name: "init", Kind: sched.KindInit, Body: "init blink"},
			{Name: "idle", Kind: sched.KindIdle, Resources: []string{"boot", "hits"}},
			{Name: "uart0", Kind: sched.KindHardware, Priority: 2, Binds: "UART0", Resources: []string{"hits"}},
			{Name: "blink", Kind: sched.KindSoftware, Priority: 1, Schedulable: true,
				Resources: []string{"hits"}, Body: "periodic 5"},
		},
	}
}

func TestBindRunsDemoBodies(t *testing.T) {
	sim := hw.NewSim(4)
	b := sched.NewBuilder()
	app, err := Bind(context.Background(), b, demoDeclaration(), nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	sys, err := b.Build(sim, sched.Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := sys.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if got := app.Runs("blink"); got != 1 {
		t.Fatalf("blink runs after start = %d, want 1", got)
	}
	sim.Advance(12)
	if got := app.Runs("blink"); got != 3 {
		t.Fatalf("blink runs at instant 12 = %d, want 3", got)
	}
	sim.Pend("UART0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sys.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if v, ok := app.Reported("boot"); !ok || v != LateValue {
		t.Errorf("idle read boot = %d, %v; want %d", v, ok, LateValue)
	}
	if v, _ := app.Reported("hits"); v != 4 {
		t.Errorf("idle read hits = %d, want 4", v)
	}
}

// TestBindResolvesTargetsOnPopulatedBuilder
// Given: a builder that already holds a task
// When: a declaration whose init spawns a periodic task is bound to it
// Then: init reaches the periodic task, which keeps rescheduling itself
func TestBindResolvesTargetsOnPopulatedBuilder(t *testing.T) {
	sim := hw.NewSim(4)
	b := sched.NewBuilder()
	var earlyRuns int
	b.Software(sched.TaskDecl{Name: "early", Priority: 1}, func(cx *sched.SoftwareContext) { earlyRuns++ })

	decl := sched.Declaration{Tasks: []sched.TaskDecl{
		{Name: "init", Kind: sched.KindInit, Body: "init blink"},
		{Name: "blink", Kind: sched.KindSoftware, Priority: 2, Schedulable: true, Body: "periodic 5"},
	}}
	app, err := Bind(context.Background(), b, decl, nil)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	sys, err := b.Build(sim, sched.Options{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if err := sys.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sim.Advance(5)

	if got := app.Runs("blink"); got != 2 {
		t.Fatalf("blink runs = %d, want 2", got)
	}
	if earlyRuns != 0 {
		t.Fatalf("early ran %d times, want 0", earlyRuns)
	}
	if id, _ := sys.Lookup("blink"); !sys.Tasks()[id].Schedules {
		t.Fatalf("periodic body did not mark blink as scheduling")
	}
}

func TestBindRejectsBadBodies(t *testing.T) {
	tests := []struct {
		name string
		task sched.TaskDecl
		want error
	}{
		{"unknown name", sched.TaskDecl{Name: "x", Kind: sched.KindSoftware, Priority: 1, Body: "dance"}, ErrUnknownBody},
		{"wrong kind", sched.TaskDecl{Name: "x", Kind: sched.KindHardware, Priority: 1, Binds: "X", Body: "periodic 3"}, ErrUnknownBody},
		{"unknown target", sched.TaskDecl{Name: "x", Kind: sched.KindSoftware, Priority: 1, Body: "spawn ghost"}, ErrBodyArgs},
		{"bad period", sched.TaskDecl{Name: "x", Kind: sched.KindSoftware, Priority: 1, Schedulable: true, Body: "periodic soon"}, ErrBodyArgs},
		{"not schedulable", sched.TaskDecl{Name: "x", Kind: sched.KindSoftware, Priority: 1, Body: "periodic 3"}, ErrBodyArgs},
		{"extra args", sched.TaskDecl{Name: "x", Kind: sched.KindSoftware, Priority: 1, Body: "count 3"}, ErrBodyArgs},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decl := sched.Declaration{Tasks: []sched.TaskDecl{{Name: "init", Kind: sched.KindInit}, tt.task}}
			app, err := Bind(context.Background(), sched.NewBuilder(), decl, nil)
			if app != nil || !errors.Is(err, tt.want) {
				t.Fatalf("Bind() = %v, %v; want %v", app, err, tt.want)
			}
		})
	}
}

func TestSleep(t *testing.T) {
	left, err := Sleep(1)(context.Background())
	if err != nil || left != 0 {
		t.Fatalf("Sleep(1) = %v, %v; want 0, nil", left, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	left, err = Sleep(10_000)(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep() on cancelled ctx error = %v", err)
	}
	if left <= 0 || left > 10*time.Second {
		t.Fatalf("Sleep() left = %v, want within (0, 10s]", left)
	}
}
