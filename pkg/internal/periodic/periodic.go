package periodic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger adapts a *slog.Logger to cron.Logger. Cron's informational
// messages are demoted to Debug.
type Logger struct {
	L *slog.Logger
}

func (l Logger) Info(msg string, keysAndValues ...any) {
	l.L.Debug(msg, keysAndValues...)
}

func (l Logger) Error(err error, msg string, keysAndValues ...any) {
	l.L.Error(msg, append(keysAndValues, "error", err)...)
}

// Run calls fn immediately and then every interval until ctx is cancelled.
// A run that would overlap the previous one is skipped, and a panic in fn
// is logged instead of killing the process. Run returns ctx.Err() after
// in-flight calls finish.
func Run(ctx context.Context, interval time.Duration, logger *slog.Logger, fn func(context.Context)) error {
	if interval <= 0 {
		return fmt.Errorf("periodic: interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = slog.Default()
	}
	cl := Logger{L: logger}

	// The chain wraps the job once so the immediate run and the scheduled
	// runs share the same skip lock.
	job := cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).
		Then(cron.FuncJob(func() { fn(ctx) }))

	c := cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl))
	c.Schedule(cron.Every(interval), job)
	c.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		job.Run()
	}()

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()
	return ctx.Err()
}
