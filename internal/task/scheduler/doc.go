// Package scheduler runs owner commands on cron specs or fixed intervals,
// e.g. pause the rotation at night and resume it in the morning.
package scheduler
