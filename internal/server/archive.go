package server

import (
	"context"
	"log"
	"time"

	"dogfight/internal/broadcast"
	"dogfight/internal/db"
	"dogfight/internal/events"
)

const (
	archiveBatchSize = 50
	archiveFlush     = 500 * time.Millisecond
)

type matchArchive interface {
	BatchArchiveMatches(matches []db.Match) error
}

// matchBatchWriter drains match-ended events and writes them to the archive
// in batches and announces each one on the lobby feed. With no archive the
// events are only announced. When ctx ends,
// events already queued are written before it returns.
func matchBatchWriter(ctx context.Context, archive matchArchive, in <-chan events.MatchEnded, feed *broadcast.Broadcaster) {
	ticker := time.NewTicker(archiveFlush)
	defer ticker.Stop()

	batch := make([]db.Match, 0, archiveBatchSize)
	flush := func() {
		if len(batch) == 0 || archive == nil {
			batch = batch[:0]
			return
		}
		if err := archive.BatchArchiveMatches(batch); err != nil {
			log.Printf("[DB] BatchArchiveMatches error: %v\n", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case ev := <-in:
					batch = append(batch, toMatch(ev))
				default:
					flush()
					return
				}
			}
		case ev := <-in:
			log.Printf("[Archive] match %s in room %s ended after %d ticks: %s\n", ev.SessionID, ev.RoomID, ev.Ticks, ev.Reason)
			m := toMatch(ev)
			if err := feed.Publish(eventMatchEnded, m); err != nil {
				log.Printf("[Archive] %v\n", err)
			}
			batch = append(batch, m)
			if len(batch) >= archiveBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func toMatch(ev events.MatchEnded) db.Match {
	return db.Match{
		SessionID:    ev.SessionID,
		RoomCode:     ev.RoomID,
		Participants: ev.Participants,
		TickCount:    ev.Ticks,
		EndReason:    ev.Reason,
		StartedAt:    ev.StartedAt,
		EndedAt:      ev.EndedAt,
	}
}
