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
	"bytes"
	"context"
	"encoding/json"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logger Suite")
}

// newTestLogger returns a plain-text logger writing into a buffer, with
// colors and caller lookup off so assertions stay simple.
func newTestLogger() (*StandardLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := newStandardLogger()
	l.colored = false
	l.showCaller = false
	l.output = buf
	return l, buf
}

var _ = Describe("LogLevel", func() {
	It("should name every level", func() {
		Expect(DebugLevel.String()).To(Equal("DEBUG"))
		Expect(InfoLevel.String()).To(Equal("INFO"))
		Expect(WarnLevel.String()).To(Equal("WARN"))
		Expect(ErrorLevel.String()).To(Equal("ERROR"))
		Expect(FatalLevel.String()).To(Equal("FATAL"))
		Expect(LogLevel(42).String()).To(Equal("UNKNOWN"))
	})

	It("should parse names case-insensitively", func() {
		level, ok := ParseLevel("debug")
		Expect(ok).To(BeTrue())
		Expect(level).To(Equal(DebugLevel))

		level, ok = ParseLevel("ERROR")
		Expect(ok).To(BeTrue())
		Expect(level).To(Equal(ErrorLevel))
	})

	It("should reject unknown names", func() {
		_, ok := ParseLevel("verbose")
		Expect(ok).To(BeFalse())
		_, ok = ParseLevel("")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("StandardLogger", func() {
	Describe("level filtering", func() {
		It("should drop messages below the configured level", func() {
			l, buf := newTestLogger()
			l.SetLevel(WarnLevel)

			l.Debug("quiet")
			l.Info("quiet")
			Expect(buf.String()).To(BeEmpty())

			l.Warn("loud")
			Expect(buf.String()).To(ContainSubstring("loud"))
		})
	})

	Describe("text output", func() {
		It("should print the level tag and message", func() {
			l, buf := newTestLogger()
			l.Info("worker started")

			Expect(buf.String()).To(ContainSubstring("[INFO ]"))
			Expect(buf.String()).To(ContainSubstring("worker started"))
			Expect(buf.String()).To(HaveSuffix("\n"))
		})

		It("should append extra fields sorted by key", func() {
			l, buf := newTestLogger()
			l.Info("scanning", Fields{"zone": "us", "attempt": 2})

			Expect(buf.String()).To(ContainSubstring("scanning | attempt=2, zone=us"))
		})

		It("should include the call site when enabled", func() {
			l, buf := newTestLogger()
			l.showCaller = true
			l.Info("with caller")

			Expect(buf.String()).To(ContainSubstring("[logger_test.go:"))
		})
	})

	Describe("JSON output", func() {
		It("should emit one object per line with the standard keys", func() {
			l, buf := newTestLogger()
			l.jsonFormat = true
			l.Error("scan failed", Fields{"url": "https://example.com"})

			var entry map[string]any
			Expect(json.Unmarshal(buf.Bytes(), &entry)).To(Succeed())
			Expect(entry).To(HaveKeyWithValue("level", "ERROR"))
			Expect(entry).To(HaveKeyWithValue("msg", "scan failed"))
			Expect(entry).To(HaveKeyWithValue("url", "https://example.com"))
			Expect(entry).To(HaveKey("time"))
		})
	})

	Describe("derived loggers", func() {
		It("should carry WithField pairs on every message", func() {
			l, buf := newTestLogger()
			child := l.WithField("component", "supervisor")

			child.Info("tick")
			Expect(buf.String()).To(ContainSubstring("component=supervisor"))
		})

		It("should not leak fields back to the parent", func() {
			l, buf := newTestLogger()
			_ = l.WithFields(Fields{"component": "batch"})

			l.Info("parent message")
			Expect(buf.String()).NotTo(ContainSubstring("component"))
		})

		It("should let per-call fields override inherited ones", func() {
			l, buf := newTestLogger()
			child := l.WithField("phase", "visit")

			child.Info("step", Fields{"phase": "browse"})
			Expect(buf.String()).To(ContainSubstring("phase=browse"))
			Expect(buf.String()).NotTo(ContainSubstring("phase=visit"))
		})

		It("should return the same logger for a nil error", func() {
			l, _ := newTestLogger()
			Expect(l.WithError(nil)).To(BeIdenticalTo(Logger(l)))
		})

		It("should attach the error text for a real error", func() {
			l, buf := newTestLogger()
			l.WithError(context.DeadlineExceeded).Error("scan aborted")

			Expect(buf.String()).To(ContainSubstring("error=context deadline exceeded"))
		})
	})

	Describe("WithContext", func() {
		It("should pick up scan and batch identifiers from the context", func() {
			l, buf := newTestLogger()
			ctx := ContextWithScanID(context.Background(), "scan-123")
			ctx = ContextWithBatchID(ctx, "batch-9")

			l.WithContext(ctx).Info("running")
			Expect(buf.String()).To(ContainSubstring("batch_id=batch-9"))
			Expect(buf.String()).To(ContainSubstring("scan_id=scan-123"))
		})

		It("should add nothing for an unstamped context", func() {
			l, buf := newTestLogger()
			l.WithContext(context.Background()).Info("running")

			Expect(buf.String()).NotTo(ContainSubstring("scan_id"))
			Expect(buf.String()).NotTo(ContainSubstring("batch_id"))
		})

		It("should tolerate a nil context", func() {
			l, buf := newTestLogger()
			var ctx context.Context
			Expect(func() { l.WithContext(ctx).Info("running") }).NotTo(Panic())
			Expect(buf.String()).To(ContainSubstring("running"))
		})
	})
})
