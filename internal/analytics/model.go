package analytics

import (
	"time"

	"github.com/Wuchinator/litetics/internal/event"
)

// Rollup counts hits per UTC hour, host and event type.
type Rollup struct {
	ID          int64     `db:"id" json:"id"`
	Date        time.Time `db:"date" json:"date"`
	Hour        int       `db:"hour" json:"hour"`
	Host        string    `db:"host" json:"host"`
	Type        string    `db:"type" json:"type"`
	TotalHits   int64     `db:"total_hits" json:"total_hits"`
	UniqueUsers int64     `db:"unique_users" json:"unique_users"`
	UniquePages int64     `db:"unique_pages" json:"unique_pages"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

func NewRollup(at time.Time, host, eventType string) *Rollup {
	at = at.UTC()
	return &Rollup{
		Date:      time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC),
		Hour:      at.Hour(),
		Host:      host,
		Type:      eventType,
		UpdatedAt: time.Now().UTC(),
	}
}

// RollupFor returns the increment a single hit contributes.
func RollupFor(ev *event.Event) *Rollup {
	r := NewRollup(ev.ReceivedAt, ev.Host, ev.Type)
	r.TotalHits = 1
	if ev.IsUniqueUser {
		r.UniqueUsers = 1
	}
	if ev.IsUniquePage {
		r.UniquePages = 1
	}
	return r
}
