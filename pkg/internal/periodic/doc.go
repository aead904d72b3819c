// Package periodic runs a function on a fixed interval using robfig/cron,
// skipping a run while the previous one is still in progress.
package periodic
