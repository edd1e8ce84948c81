package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrExists is returned when inserting a record whose id is taken.
var ErrExists = errors.New("already exists")

// Provider is a development-proxy upstream.
type Provider struct {
	ID        string
	Label     string
	BaseURL   string
	APIKey    string
	CreatedAt time.Time
}

// Paper is one stored generation. Result holds the JSON-encoded result.
type Paper struct {
	ID               string
	CreatedAt        time.Time
	Topic            string
	WordLimit        int
	Sections         []string
	Model            string
	WordCount        int
	ReadabilityScore int
	Result           string
}
