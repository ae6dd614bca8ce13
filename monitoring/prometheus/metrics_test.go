// Copyright 2024 Rektor Authors. All Rights Reserved.
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

package prometheus

import (
	"fmt"
	"testing"
)

// Metric names must be unique across the default registerer, so each test
// case registers under its own name.
var nameSeq int

func uniqueName() string {
	nameSeq++
	return fmt.Sprintf("test_metric_%d", nameSeq)
}

func TestCounter(t *testing.T) {
	mf := MetricFactory{Prefix: "test_"}

	t.Run("NoLabels", func(t *testing.T) {
		c := mf.NewCounter(uniqueName(), "help")
		if got := c.Value(); got != 0.0 {
			t.Errorf("initial Value() = %v, want 0", got)
		}
		c.Inc()
		c.Add(2.5)
		if got, want := c.Value(), 3.5; got != want {
			t.Errorf("Value() = %v, want %v", got, want)
		}
		// Wrong label cardinality is reported and ignored.
		c.Inc("bogus")
		if got, want := c.Value(), 3.5; got != want {
			t.Errorf("Value() after bad Inc = %v, want %v", got, want)
		}
	})

	t.Run("Labels", func(t *testing.T) {
		c := mf.NewCounter(uniqueName(), "help", "path")
		c.Inc("a")
		c.Add(10.0, "b")
		c.Inc("a")
		if got, want := c.Value("a"), 2.0; got != want {
			t.Errorf("Value(a) = %v, want %v", got, want)
		}
		if got, want := c.Value("b"), 10.0; got != want {
			t.Errorf("Value(b) = %v, want %v", got, want)
		}
		if got := c.Value(); got != 0.0 {
			t.Errorf("Value() with missing label = %v, want 0", got)
		}
	})
}

func TestHistogram(t *testing.T) {
	mf := MetricFactory{Prefix: "test_"}

	t.Run("NoLabels", func(t *testing.T) {
		h := mf.NewHistogram(uniqueName(), "help")
		h.Observe(1.0)
		h.Observe(2.0)
		h.Observe(4.0)
		count, sum := h.Info()
		if count != 3 {
			t.Errorf("Info() count = %d, want 3", count)
		}
		if sum != 7.0 {
			t.Errorf("Info() sum = %v, want 7", sum)
		}
	})

	t.Run("Labels", func(t *testing.T) {
		h := mf.NewHistogram(uniqueName(), "help", "path")
		h.Observe(1.5, "a")
		h.Observe(2.5, "a")
		h.Observe(100.0, "b")
		count, sum := h.Info("a")
		if count != 2 || sum != 4.0 {
			t.Errorf("Info(a) = (%d, %v), want (2, 4)", count, sum)
		}
		count, sum = h.Info("wrong", "arity")
		if count != 0 || sum != 0.0 {
			t.Errorf("Info with bad labels = (%d, %v), want (0, 0)", count, sum)
		}
	})
}
