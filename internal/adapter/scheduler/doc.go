// Package scheduler runs the job-listing sync cycle at fixed times of day.
//
// Features:
//   - Daily run times in one canonical time zone, computed with github.com/robfig/cron/v3
//   - Immediate first cycle after every Start
//   - Fetch, parse, diff against the previous snapshot, post only new listings
//   - Fetch and parse failures keep the previous snapshot
//   - Fixed cooldown between cycles
//   - Idempotent Start/Stop; Stop waits for the loop to exit
//   - Status narration through an observer callback, panics recovered
//   - Optional hooks for cycle start/finish
//
// Basic usage:
//
//	times, _ := ParseClocks([]string{"09:00", "12:00", "18:30"})
//	schedule, err := NewDailySchedule(nyc, times)
//
//	s, err := New(Config{
//		Schedule: schedule,
//		Fetcher:  fetcher,
//		Parser:   parser,
//		Notifier: notifier,
//		Memory:   memory, // shared across restarts
//		OnStatus: func(msg string) { logger.Info(msg) },
//	})
//
//	s.Start()
//	defer s.Stop()
//
// The scheduler ensures that:
//   - Cycles never overlap
//   - Waits and the cooldown observe cancellation promptly
//   - Only the loop goroutine touches the snapshot state while it runs
package scheduler
