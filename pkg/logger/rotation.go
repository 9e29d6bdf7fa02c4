// Copyright 2025 Consentry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102-150405"

// RotatingFileWriter is an io.Writer that rotates its file by size and
// age and prunes old backups.
type RotatingFileWriter struct {
	mu          sync.Mutex
	file        *os.File
	filename    string
	maxSize     int64
	maxBackups  int
	maxAge      int
	currentSize int64
	lastRotate  time.Time
	done        chan struct{}
}

// NewRotatingFileWriter opens filename for appending. The file rotates
// when it would exceed maxSizeMB or turns a day old; at most maxBackups
// backups are kept, none older than maxAgeDays.
func NewRotatingFileWriter(filename string, maxSizeMB, maxBackups, maxAgeDays int) (*RotatingFileWriter, error) {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}
	w := &RotatingFileWriter{
		filename:   filename,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     maxAgeDays,
		lastRotate: time.Now(),
		done:       make(chan struct{}),
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	go w.cleanupLoop()
	return w, nil
}

func (w *RotatingFileWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.needsRotation(int64(len(p))) {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err = w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Close stops the cleanup goroutine and closes the file. Safe to call
// more than once.
func (w *RotatingFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingFileWriter) needsRotation(writeSize int64) bool {
	if w.maxSize > 0 && w.currentSize+writeSize > w.maxSize {
		return true
	}
	return time.Since(w.lastRotate) > 24*time.Hour
}

// rotate renames the current file to a timestamped backup, reopens the
// log and prunes backups past the retention limits.
func (w *RotatingFileWriter) rotate() error {
	if w.file != nil {
		w.file.Close()
	}
	if err := os.Rename(w.filename, w.backupName()); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := w.openFile(); err != nil {
		return err
	}
	w.lastRotate = time.Now()
	w.cleanupBackups()
	return nil
}

func (w *RotatingFileWriter) openFile() error {
	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	w.file = file
	w.currentSize = info.Size()
	return nil
}

// splitName returns the log path without its extension, and the
// extension itself.
func (w *RotatingFileWriter) splitName() (string, string) {
	ext := filepath.Ext(w.filename)
	return strings.TrimSuffix(w.filename, ext), ext
}

func (w *RotatingFileWriter) backupName() string {
	prefix, ext := w.splitName()
	return fmt.Sprintf("%s-%s%s", prefix, time.Now().Format(backupTimeFormat), ext)
}

// cleanupBackups deletes backups beyond maxBackups and past maxAge.
// Backup names embed a timestamp, so glob's lexical order is oldest
// first.
func (w *RotatingFileWriter) cleanupBackups() {
	prefix, ext := w.splitName()
	matches, err := filepath.Glob(fmt.Sprintf("%s-*%s", prefix, ext))
	if err != nil {
		return
	}

	if w.maxBackups > 0 && len(matches) > w.maxBackups {
		excess := len(matches) - w.maxBackups
		for _, path := range matches[:excess] {
			os.Remove(path)
		}
		matches = matches[excess:]
	}

	if w.maxAge > 0 {
		cutoff := time.Now().AddDate(0, 0, -w.maxAge)
		for _, path := range matches {
			info, err := os.Stat(path)
			if err == nil && info.ModTime().Before(cutoff) {
				os.Remove(path)
			}
		}
	}
}

// cleanupLoop enforces the age limit daily even when nothing rotates.
func (w *RotatingFileWriter) cleanupLoop() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			w.cleanupBackups()
			w.mu.Unlock()
		case <-w.done:
			return
		}
	}
}
