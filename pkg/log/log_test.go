// Copyright 2024 The Kestrel Authors.
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

package log

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Info)

	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warningf("warning %d", 3)

	out := buf.String()
	if strings.Contains(out, "debug 1") {
		t.Errorf("debug line logged at info level: %q", out)
	}
	for _, want := range []string{"info 2", "warning 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q, got %q", want, out)
		}
	}
}

func TestIsLogging(t *testing.T) {
	l := New(&bytes.Buffer{}, Warning)
	for _, test := range []struct {
		set   Level
		check Level
		want  bool
	}{
		{Warning, Warning, true},
		{Warning, Info, false},
		{Warning, Debug, false},
		{Info, Info, true},
		{Info, Debug, false},
		{Debug, Debug, true},
	} {
		l.SetLevel(test.set)
		if got := l.IsLogging(test.check); got != test.want {
			t.Errorf("at level %v, IsLogging(%v): expected %t, got %t",
				test.set, test.check, test.want, got)
		}
	}
}

func TestSetLevelTakesEffect(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Warning)
	l.Debugf("dropped")
	l.SetLevel(Debug)
	l.Debugf("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("expected the pre-raise debug line to be dropped: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("expected the post-raise debug line: %q", out)
	}
}

// countingLogger counts calls through the Logger interface.
type countingLogger struct {
	calls int
}

func (c *countingLogger) Debugf(format string, v ...any)   { c.calls++ }
func (c *countingLogger) Infof(format string, v ...any)    { c.calls++ }
func (c *countingLogger) Warningf(format string, v ...any) { c.calls++ }
func (c *countingLogger) IsLogging(level Level) bool       { return true }

func TestRateLimitedLogger(t *testing.T) {
	var cl countingLogger
	rl := RateLimitedLogger(&cl, time.Hour)

	for i := 0; i < 10; i++ {
		rl.Warningf("spam %d", i)
	}
	if cl.calls != 1 {
		t.Errorf("expected one line through the limiter, got %d", cl.calls)
	}
	if !rl.IsLogging(Debug) {
		t.Errorf("IsLogging must pass through to the underlying logger")
	}
}
