// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the local book collection the librarian recommends
// from: a JSON list of titles, authors, tags and summaries.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when no book matches a title lookup.
var ErrNotFound = errors.New("book not found")

// closeMatchCutoff is the minimum similarity ratio for a fuzzy title match.
const closeMatchCutoff = 0.6

// Book is one catalog entry as stored in book_summaries.json.
type Book struct {
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Summary string   `json:"summary"`
}

// ID returns the stable slug used as the book's index key.
func (b Book) ID() string {
	return Slugify(b.Title)
}

// Document returns the text embedded for retrieval.
func (b Book) Document() string {
	parts := []string{"Title: " + strings.TrimSpace(b.Title)}
	if len(b.Authors) > 0 {
		parts = append(parts, "Authors: "+strings.Join(b.Authors, ", "))
	}
	if len(b.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(b.Tags, ", "))
	}
	parts = append(parts, "Summary: "+strings.TrimSpace(b.Summary))
	return strings.Join(parts, "\n")
}

// Catalog is an in-memory, reloadable book collection.
//
// # Thread Safety
//
// Safe for concurrent use. Reload swaps the contents atomically.
type Catalog struct {
	path string

	mu    sync.RWMutex
	books []Book
	index map[string]int // normalized title -> position in books
}

// Load reads the catalog from a JSON file.
func Load(path string) (*Catalog, error) {
	c := &Catalog{path: path}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New builds a catalog from books already in memory. Reload is a no-op.
func New(books []Book) *Catalog {
	c := &Catalog{}
	c.set(books)
	return c
}

// Path returns the file the catalog was loaded from.
func (c *Catalog) Path() string {
	return c.path
}

// Reload re-reads the catalog file. On error the previous contents stay.
func (c *Catalog) Reload() error {
	if c.path == "" {
		return nil
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", c.path, err)
	}
	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return fmt.Errorf("parse catalog %s: must be a JSON list of books: %w", c.path, err)
	}
	c.set(books)
	return nil
}

func (c *Catalog) set(books []Book) {
	kept := make([]Book, 0, len(books))
	index := make(map[string]int, len(books))
	for _, b := range books {
		b.Title = strings.TrimSpace(b.Title)
		if b.Title == "" {
			continue
		}
		key := normalize(b.Title)
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = len(kept)
		kept = append(kept, b)
	}

	c.mu.Lock()
	c.books = kept
	c.index = index
	c.mu.Unlock()
}

// Books returns a copy of all books in file order.
func (c *Catalog) Books() []Book {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Book, len(c.books))
	copy(out, c.books)
	return out
}

// Len returns the number of books.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

// Lookup finds a book by title.
//
// # Description
//
// Tries, in order: an exact case-insensitive match, the first title that
// contains the query, then the closest title whose similarity ratio is at
// least 0.6.
//
// # Outputs
//
//   - Book: the match.
//   - error: ErrNotFound if nothing matched or the title is blank.
func (c *Catalog) Lookup(title string) (Book, error) {
	key := normalize(title)
	if key == "" {
		return Book{}, ErrNotFound
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if i, ok := c.index[key]; ok {
		return c.books[i], nil
	}

	for _, b := range c.books {
		if strings.Contains(normalize(b.Title), key) {
			return b, nil
		}
	}

	best, bestScore := -1, 0.0
	for i, b := range c.books {
		score := Similarity(key, normalize(b.Title))
		if score >= closeMatchCutoff && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return c.books[best], nil
	}
	return Book{}, ErrNotFound
}

// SummaryByTitle returns the summary of the book Lookup finds, or a short
// note when that book has no summary.
func (c *Catalog) SummaryByTitle(title string) (string, error) {
	b, err := c.Lookup(title)
	if err != nil {
		return "", err
	}
	if s := strings.TrimSpace(b.Summary); s != "" {
		return s, nil
	}
	return fmt.Sprintf("%q has no summary available.", b.Title), nil
}

// Titles returns every title in file order.
func (c *Catalog) Titles() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.books))
	for i, b := range c.books {
		out[i] = b.Title
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
