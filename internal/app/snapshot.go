package app

import (
	"context"

	"chatwarden/internal/eventbus"
	"chatwarden/internal/notifier"
	rtsup "chatwarden/internal/runtime/supervisor"
	"chatwarden/internal/task/scheduler"
	kit "chatwarden/internal/transport"
)

// Snapshot is the /status body.
type Snapshot struct {
	Bot           kit.User                  `json:"bot"`
	Subscriptions int                       `json:"subscriptions"`
	SeenItems     int                       `json:"seen_items"`
	StatsPending  int                       `json:"stats_pending"`
	FloodTracked  int                       `json:"flood_tracked"`
	Assistant     bool                      `json:"assistant"`
	Scheduler     scheduler.Snapshot        `json:"scheduler"`
	Supervisors   map[string]rtsup.Snapshot `json:"supervisors"`
	Notices       []notifier.HistoryItem    `json:"notices"`
	EventCounts   map[string]uint64         `json:"event_counts"`
	Events        []eventbus.Event          `json:"events"`
	LogsDropped   uint64                    `json:"logs_dropped"`
}

func (a *App) snapshot(context.Context) any {
	sups := map[string]rtsup.Snapshot{}
	for name, sup := range map[string]*rtsup.Supervisor{
		"app":      a.sup,
		"telegram": a.adapter.Supervisor(),
		"notifier": a.notif.Supervisor(),
		"http":     a.status.Supervisor(),
	} {
		if sup != nil {
			sups[name] = sup.Snapshot()
		}
	}
	return Snapshot{
		Bot:           a.adapter.Me(),
		Subscriptions: a.registry.Len(),
		SeenItems:     a.dedup.Len(),
		StatsPending:  a.stats.Pending(),
		FloodTracked:  a.flood.Len(),
		Assistant:     a.assistant != nil,
		Scheduler:     a.sched.Snapshot(),
		Supervisors:   sups,
		Notices:       a.notif.History(),
		EventCounts:   a.events.Counts(),
		Events:        a.events.Recent(),
		LogsDropped:   a.logs.Dropped(),
	}
}
