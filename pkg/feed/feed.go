// Package feed holds the domain model shared by the repository, the
// filesystem driver and the refresh scheduler.
package feed

import (
	"fmt"
	"time"
)

// StatusKind is the coarse state of a feed.
type StatusKind int

const (
	// StatusActive means the last refresh succeeded (or none has run yet).
	StatusActive StatusKind = iota

	// StatusError means the last refresh failed; Status.Message says why.
	StatusError

	// StatusUpdating means a refresh is in flight.
	StatusUpdating

	// StatusDisabled means the feed is configured but never refreshed.
	StatusDisabled
)

func (k StatusKind) String() string {
	switch k {
	case StatusActive:
		return "active"
	case StatusError:
		return "error"
	case StatusUpdating:
		return "updating"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Status is a StatusKind plus, for StatusError, the failure message.
type Status struct {
	Kind    StatusKind
	Message string
}

func Active() Status   { return Status{Kind: StatusActive} }
func Updating() Status { return Status{Kind: StatusUpdating} }
func Disabled() Status { return Status{Kind: StatusDisabled} }

func Failed(err error) Status {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Status{Kind: StatusError, Message: msg}
}

func (s Status) String() string {
	if s.Kind == StatusError {
		return fmt.Sprintf("error: %s", s.Message)
	}
	return s.Kind.String()
}

// Spec is the configured identity of a feed: what the administrator
// subscribes to.
type Spec struct {
	Name    string
	URL     string
	Enabled bool
}

// Feed is a subscribed source and the ordered ids of the articles it holds.
type Feed struct {
	ID            string
	URL           string
	Title         string
	Enabled       bool
	Status        Status
	LastRefreshed time.Time

	// Articles lists article ids in the order they were first seen.
	Articles []string
}

// Clone returns a deep copy safe to hand to readers.
func (f *Feed) Clone() *Feed {
	if f == nil {
		return nil
	}
	c := *f
	c.Articles = make([]string, len(f.Articles))
	copy(c.Articles, f.Articles)
	return &c
}

// Result is the outcome of one refresh attempt.
type Result struct {
	FeedID   string
	Success  bool
	Error    string
	Added    int
	Updated  int
	Removed  int
	Duration time.Duration
}

func (r Result) String() string {
	if !r.Success {
		return fmt.Sprintf("%s: failed: %s", r.FeedID, r.Error)
	}
	return fmt.Sprintf("%s: added=%d updated=%d removed=%d duration=%s",
		r.FeedID, r.Added, r.Updated, r.Removed, r.Duration.Round(time.Millisecond))
}

// Parsed is what a Fetcher produces for one feed URL.
type Parsed struct {
	Title       string
	Description string
	Link        string
	Items       []Item
}

// Item is one entry of a parsed feed before it is bound to a feed id.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Author      string
	Description string
	Content     string
	Tags        []string
	Published   time.Time
	Updated     time.Time
}
