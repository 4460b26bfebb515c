// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package progress tracks nested units of work, such as epochs of a training run and
// users of an evaluation, through spans carried by a context.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

type spanKey struct{}

type Status string

const (
	StatusRunning  Status = "Running"
	StatusComplete Status = "Complete"
	StatusFailed   Status = "Failed"
)

type Span struct {
	mu       sync.Mutex
	name     string
	status   Status
	total    int
	count    int
	err      error
	start    time.Time
	finish   time.Time
	parent   *Span
	children []*Span
}

// Start creates a span below the span carried by ctx, or a root span if there is none.
// The returned context carries the new span.
func Start(ctx context.Context, name string, total int) (context.Context, *Span) {
	span := &Span{name: name, status: StatusRunning, total: total, start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		span.parent = parent
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, spanKey{}, span), span
}

// FromContext returns the span carried by ctx or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// Fail marks the span carried by ctx and its ancestors as failed.
func Fail(ctx context.Context, err error) {
	if span := FromContext(ctx); span != nil {
		span.Fail(err)
	}
}

func (s *Span) Add(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count += n
}

func (s *Span) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// End completes the span unless it has failed.
func (s *Span) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish = time.Now()
	if s.status == StatusRunning {
		s.status = StatusComplete
		s.count = s.total
	}
}

func (s *Span) Fail(err error) {
	for span := s; span != nil; span = span.parent {
		span.mu.Lock()
		span.status = StatusFailed
		span.err = err
		span.mu.Unlock()
	}
}

// Progress returns a snapshot of the span tree rooted at s.
func (s *Span) Progress() Progress {
	s.mu.Lock()
	p := Progress{
		Name:   s.name,
		Status: s.status,
		Count:  s.count,
		Total:  s.total,
	}
	if s.err != nil {
		p.Error = s.err.Error()
	}
	if s.finish.IsZero() {
		p.Elapsed = time.Since(s.start)
	} else {
		p.Elapsed = s.finish.Sub(s.start)
	}
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()
	for _, child := range children {
		p.Children = append(p.Children, child.Progress())
	}
	return p
}

type Progress struct {
	Name     string
	Status   Status
	Error    string
	Count    int
	Total    int
	Elapsed  time.Duration
	Children []Progress
}

// MarshalLogObject logs the tree with zap.Object.
func (p Progress) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", p.Name)
	enc.AddString("status", string(p.Status))
	if p.Error != "" {
		enc.AddString("error", p.Error)
	}
	if p.Total > 0 {
		enc.AddInt("count", p.Count)
		enc.AddInt("total", p.Total)
	}
	enc.AddDuration("elapsed", p.Elapsed)
	if len(p.Children) > 0 {
		return enc.AddArray("children", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
			for _, child := range p.Children {
				if err := arr.AppendObject(child); err != nil {
					return err
				}
			}
			return nil
		}))
	}
	return nil
}
