// Copyright 2025 GraceDB, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConsume(t *testing.T) {
	tracker := NewTracker(1, -1)
	require.Zero(t, tracker.BytesConsumed())

	tracker.Consume(100)
	require.Equal(t, int64(100), tracker.BytesConsumed())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Consume(10)
			tracker.Consume(-10)
		}()
	}
	wg.Wait()
	require.Equal(t, int64(100), tracker.BytesConsumed())
	require.GreaterOrEqual(t, tracker.MaxConsumed(), int64(100))
}

func TestAttachTo(t *testing.T) {
	oldParent := NewTracker(1, -1)
	newParent := NewTracker(2, -1)
	child := NewTracker(3, -1)

	child.Consume(100)
	child.AttachTo(oldParent)
	require.Equal(t, int64(100), oldParent.BytesConsumed())

	child.AttachTo(newParent)
	require.Equal(t, int64(100), newParent.BytesConsumed())
	require.Zero(t, oldParent.BytesConsumed())

	child.Consume(100)
	require.Equal(t, int64(200), newParent.BytesConsumed())

	child.Detach()
	require.Zero(t, newParent.BytesConsumed())
	require.Equal(t, int64(200), child.BytesConsumed())
}

func TestCheckExceed(t *testing.T) {
	tracker := NewTracker(1, 100)
	require.False(t, tracker.CheckExceed())
	require.False(t, tracker.WouldExceed(50))
	require.True(t, tracker.WouldExceed(150))

	tracker.Consume(100)
	require.True(t, tracker.CheckExceed())

	tracker.Consume(-60)
	require.False(t, tracker.CheckExceed())
	require.True(t, tracker.WouldExceed(80))
}

type mockAction struct {
	BaseOOMAction
	called   int
	priority int64
}

func (a *mockAction) Action(*Tracker) {
	a.called++
}

func (a *mockAction) GetPriority() int64 {
	return a.priority
}

func TestActionOnExceed(t *testing.T) {
	action := &mockAction{priority: DefLogPriority}
	tracker := NewTracker(1, 100)
	tracker.SetActionOnExceed(action)

	tracker.Consume(50)
	require.Zero(t, action.called)
	tracker.Consume(100)
	require.Equal(t, 1, action.called)

	// A child's consumption fires the action of its exceeded ancestor.
	parent := NewTracker(2, 10)
	parentAction := &mockAction{priority: DefLogPriority}
	parent.SetActionOnExceed(parentAction)
	child := NewTracker(3, -1)
	child.AttachTo(parent)
	child.Consume(20)
	require.Equal(t, 1, parentAction.called)
}

func TestFallbackAction(t *testing.T) {
	a := &mockAction{priority: DefLogPriority}
	b := &mockAction{priority: DefSpillPriority}
	tracker := NewTracker(1, 10)
	tracker.SetActionOnExceed(a)
	tracker.FallbackOldAndSetNewAction(b)

	// The higher-priority action fires; the old one becomes its fallback.
	tracker.Consume(20)
	require.Equal(t, 1, b.called)
	require.Zero(t, a.called)
}

func TestFormatBytes(t *testing.T) {
	require.Equal(t, "1024 Bytes", FormatBytes(1024))
	require.Equal(t, "2 KB", FormatBytes(2048))
	require.Equal(t, "1.50 MB", FormatBytes(1572864))
}
