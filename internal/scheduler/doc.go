// Package scheduler drives periodic delivery to every destination on its
// own interval.
//
// Model:
//   - One supervised tick loop runs while the scheduler is started. Each tick
//     reconciles schedule entries with the destination store and dispatches
//     whatever is due.
//   - Every destination keeps an independent next-due time. A dispatch moves
//     only that destination forward by its interval, measured from the tick
//     that fired it.
//   - Sends run on their own goroutines with a per-send timeout. A destination
//     never has two deliveries in flight; a due destination that is still
//     sending is skipped until its next interval.
//   - Stop ends the loop within one tick. In-flight sends finish and log,
//     but nothing new starts until the next Start.
//
// Start seeds every destination as due immediately.
package scheduler
