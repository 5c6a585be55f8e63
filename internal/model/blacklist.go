package model

import "github.com/JakeFAU/jobhearted-crawler/internal/record"

// BlacklistEntry forbids URLs containing Word for one crawler.
type BlacklistEntry struct {
	ID        string `json:"id"`
	CrawlerID string `json:"crawler_id"`
	Word      string `json:"word"`
}

// RecordKind implements record.Record.
func (b *BlacklistEntry) RecordKind() record.Kind { return record.KindBlacklistEntry }

// RecordID implements record.Record.
func (b *BlacklistEntry) RecordID() string { return b.ID }

// Value implements record.Record.
func (b *BlacklistEntry) Value(field string) (any, bool) {
	switch field {
	case FieldID:
		return b.ID, true
	case FieldCrawlerID:
		return b.CrawlerID, true
	case FieldWord:
		return b.Word, true
	default:
		return nil, false
	}
}

// CloneRecord returns a copy of the entry.
func (b *BlacklistEntry) CloneRecord() record.Record {
	cp := *b
	return &cp
}
