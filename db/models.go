package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Domain is a mail domain hosted by the server.
type Domain struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Mailbox is a virtual user. Domain is only filled in by listings that
// span all domains.
type Mailbox struct {
	ID           int64     `json:"id"`
	DomainID     int64     `json:"-"`
	Email        string    `json:"email"`
	Domain       string    `json:"domain,omitempty"`
	PasswordHash string    `json:"-"`
	Quota        int64     `json:"quota"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// Alias redirects mail for Source to Destination.
type Alias struct {
	ID          int64  `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Domain      string `json:"domain,omitempty"`
}

// timestamp scans the created_at column of every backend: pgx and MySQL
// with parseTime return time.Time, SQLite may return text.
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339Nano,
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case nil:
		t.Time = time.Time{}
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

var _ sql.Scanner = (*timestamp)(nil)
