package rmsync_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	. "github.com/puzpuzpuz/rmsync"
)

func TestSequence_Empty(t *testing.T) {
	s := NewSequence[int]()
	if !s.IsEmpty() || s.Len() != 0 {
		t.Fatalf("empty sequence was expected: %d", s.Len())
	}
	if v, ok := s.Load(0); ok {
		t.Fatalf("value was not expected: %v", v)
	}
	if v, ok := s.Pop(); ok {
		t.Fatalf("value was not expected: %v", v)
	}
	if v, ok := s.Remove(0); ok {
		t.Fatalf("value was not expected: %v", v)
	}
	if ref, ok := s.GetMut(0); ok || ref != nil {
		t.Fatal("ref was not expected")
	}
	if s.String() != "[]" {
		t.Fatalf("unexpected string: %s", s.String())
	}
}

func TestSequencePushPop_LIFO(t *testing.T) {
	const numValues = 1000
	s := NewSequence[int]()
	for i := 0; i < numValues; i++ {
		s.Push(i)
		if v, ok := s.Load(i); !ok || v != i {
			t.Fatalf("pushed value was not visible for %d: %v", i, v)
		}
		if s.Len() != i+1 {
			t.Fatalf("unexpected length: %d", s.Len())
		}
	}
	for i := numValues - 1; i >= 0; i-- {
		if v, ok := s.Pop(); !ok || v != i {
			t.Fatalf("unexpected popped value for %d: %v", i, v)
		}
	}
	if !s.IsEmpty() {
		t.Fatalf("empty sequence was expected: %d", s.Len())
	}
}

func TestSequencePushAfterPop_ReusesSlot(t *testing.T) {
	s := SequenceOf(1, 2, 3)
	s.Pop()
	s.Push(4)
	if diff := cmp.Diff([]int{1, 2, 4}, s.ToSlice()); diff != "" {
		t.Fatalf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestSequenceInsert(t *testing.T) {
	s := SequenceOf("a", "b", "c")
	if err := s.Insert(1, "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, _ := s.Load(1); v != "x" {
		t.Fatalf("unexpected value at 1: %v", v)
	}
	if diff := cmp.Diff([]string{"a", "x", "b", "c"}, s.ToSlice()); diff != "" {
		t.Fatalf("tail was not shifted (-want +got):\n%s", diff)
	}
	if err := s.Insert(0, "first"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Insert(s.Len(), "last"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"first", "a", "x", "b", "c", "last"}, s.ToSlice()); diff != "" {
		t.Fatalf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestSequenceInsert_OutOfRange(t *testing.T) {
	s := SequenceOf(1, 2)
	for _, idx := range []int{-1, 3, 100} {
		err := s.Insert(idx, 42)
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("ErrIndexOutOfRange was expected for %d: %v", idx, err)
		}
	}
	if diff := cmp.Diff([]int{1, 2}, s.ToSlice()); diff != "" {
		t.Fatalf("sequence was modified (-want +got):\n%s", diff)
	}
}

func TestSequenceInsert_Grows(t *testing.T) {
	s := NewSequence[int]()
	for i := 0; i < 100; i++ {
		if err := s.Insert(0, i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	for i := 0; i < 100; i++ {
		if v := s.LoadUnchecked(i); v != 99-i {
			t.Fatalf("unexpected value at %d: %d", i, v)
		}
	}
	if s.Cap() < s.Len() {
		t.Fatalf("capacity is less than length: %d < %d", s.Cap(), s.Len())
	}
}

func TestSequenceRemove(t *testing.T) {
	s := SequenceOf(1, 2, 3, 4)
	if v, ok := s.Remove(1); !ok || v != 2 {
		t.Fatalf("unexpected removed value: %v, %v", v, ok)
	}
	if diff := cmp.Diff([]int{1, 3, 4}, s.ToSlice()); diff != "" {
		t.Fatalf("tail was not shifted (-want +got):\n%s", diff)
	}
	if v, ok := s.Remove(2); !ok || v != 4 {
		t.Fatalf("unexpected removed value: %v, %v", v, ok)
	}
	if _, ok := s.Remove(2); ok {
		t.Fatal("out of range remove succeeded")
	}
	if _, ok := s.Remove(-1); ok {
		t.Fatal("out of range remove succeeded")
	}
	if diff := cmp.Diff([]int{1, 3}, s.ToSlice()); diff != "" {
		t.Fatalf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestSequenceLoadUnchecked_PanicsOutOfRange(t *testing.T) {
	s := SequenceOf(1)
	defer func() {
		if recover() == nil {
			t.Fatal("panic was expected")
		}
	}()
	s.LoadUnchecked(1)
}

func TestSequenceGetMut(t *testing.T) {
	s := SequenceOf(1, 2, 3)
	ref, ok := s.GetMut(1)
	if !ok {
		t.Fatal("ref was expected")
	}
	ref.Update(func(v int) int { return v * 100 })
	if v, _ := s.Load(1); v != 200 {
		t.Fatalf("mutation was not visible: %d", v)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := s.PushContext(ctx, 4); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline error was expected: %v", err)
	}
	if _, _, err := s.PopContext(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("deadline error was expected: %v", err)
	}
	ref.Release()
	s.Push(4)
	if diff := cmp.Diff([]int{1, 200, 3, 4}, s.ToSlice()); diff != "" {
		t.Fatalf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestSequenceRange(t *testing.T) {
	s := SequenceOf(0, 1, 2, 3, 4)
	n := 0
	s.Range(func(i, v int) bool {
		if i != v {
			t.Fatalf("unexpected element at %d: %d", i, v)
		}
		n++
		return i < 2
	})
	if n != 3 {
		t.Fatalf("unexpected number of iterations: %d", n)
	}
	var got []int
	for i, v := range s.All() {
		got = append(got, i*v)
	}
	if diff := cmp.Diff([]int{0, 1, 4, 9, 16}, got); diff != "" {
		t.Fatalf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestSequenceRangeMut(t *testing.T) {
	s := SequenceOf(1, 2, 3)
	s.RangeMut(func(i int, v *int) bool {
		*v += 10
		return true
	})
	if diff := cmp.Diff([]int{11, 12, 13}, s.ToSlice()); diff != "" {
		t.Fatalf("unexpected elements (-want +got):\n%s", diff)
	}
}

func TestSequenceClearAndShrinkToFit(t *testing.T) {
	s := NewSequence[int](WithPresize(100))
	if s.Cap() != 100 {
		t.Fatalf("unexpected capacity: %d", s.Cap())
	}
	for i := 0; i < 10; i++ {
		s.Push(i)
	}
	s.ShrinkToFit()
	if s.Cap() != 10 || s.Len() != 10 {
		t.Fatalf("unexpected capacity/length: %d/%d", s.Cap(), s.Len())
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, s.ToSlice()); diff != "" {
		t.Fatalf("unexpected elements (-want +got):\n%s", diff)
	}
	s.Clear()
	if !s.IsEmpty() || s.Cap() != 0 {
		t.Fatalf("unexpected capacity/length: %d/%d", s.Cap(), s.Len())
	}
	s.Push(42)
	if v, ok := s.Load(0); !ok || v != 42 {
		t.Fatalf("unexpected value: %v", v)
	}
}

func TestSequenceStats(t *testing.T) {
	s := NewSequence[int]()
	for i := 0; i < 9; i++ {
		s.Push(i)
	}
	stats := s.Stats()
	if stats.Len != 9 {
		t.Fatalf("unexpected length: %d", stats.Len)
	}
	// 0 -> 8 -> 16
	if stats.Cap != 16 || stats.Reallocations != 2 {
		t.Fatalf("unexpected capacity/reallocations: %d/%d", stats.Cap, stats.Reallocations)
	}
	if stats.Writes != 9 {
		t.Fatalf("unexpected number of writes: %d", stats.Writes)
	}
}

func TestSequenceJSONRoundTrip(t *testing.T) {
	s := SequenceOf("c", "a", "b")
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	if string(data) != `["c","a","b"]` {
		t.Fatalf("unexpected JSON: %s", data)
	}
	var s2 Sequence[string]
	if err := json.Unmarshal(data, &s2); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if diff := cmp.Diff(s.ToSlice(), s2.ToSlice()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	empty, err := json.Marshal(NewSequence[int]())
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	if string(empty) != "[]" {
		t.Fatalf("unexpected JSON: %s", empty)
	}
}

func TestSequenceYAMLRoundTrip(t *testing.T) {
	s := SequenceOf(3, 1, 2)
	data, err := yaml.Marshal(s)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	s2 := NewSequence[int]()
	if err := yaml.Unmarshal(data, s2); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if diff := cmp.Diff([]int{3, 1, 2}, s2.ToSlice()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSequenceParallelPushes(t *testing.T) {
	const numPushers = 8
	const numValues = 1000
	s := NewSequence[int]()
	var g errgroup.Group
	for p := 0; p < numPushers; p++ {
		g.Go(func() error {
			for i := 0; i < numValues; i++ {
				s.Push(p*numValues + i)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != numPushers*numValues {
		t.Fatalf("unexpected length: %d", s.Len())
	}
	seen := make(map[int]bool, s.Len())
	s.Range(func(_ int, v int) bool {
		if seen[v] {
			t.Fatalf("duplicate value: %d", v)
		}
		seen[v] = true
		return true
	})
}

func TestSequenceParallelWritersWithReaders(t *testing.T) {
	const numValues = 5000
	s := NewSequence[int]()
	var stop atomic.Bool
	var writers, readers errgroup.Group
	writers.Go(func() error {
		for i := 0; i < numValues; i++ {
			s.Push(i)
			if i%10 == 0 {
				// Insert and remove around the middle; the sequence
				// ends up unchanged by each pair.
				mid := s.Len() / 2
				if err := s.Insert(mid, -1); err != nil {
					return err
				}
				if v, ok := s.Remove(mid); !ok || v != -1 {
					return fmt.Errorf("unexpected removed value: %v", v)
				}
			}
		}
		return nil
	})
	for r := 0; r < 4; r++ {
		readers.Go(func() error {
			for !stop.Load() {
				// Every snapshot is 0..n-1 with at most one -1 inside.
				want, inserted := 0, false
				for i, v := range s.ToSlice() {
					if v == -1 && !inserted {
						inserted = true
						continue
					}
					if v != want {
						return fmt.Errorf("unexpected element at %d: %d", i, v)
					}
					want++
				}
			}
			return nil
		})
	}
	if err := writers.Wait(); err != nil {
		t.Fatal(err)
	}
	stop.Store(true)
	if err := readers.Wait(); err != nil {
		t.Fatal(err)
	}
	if s.Len() != numValues {
		t.Fatalf("unexpected length: %d", s.Len())
	}
}

func BenchmarkSequence_Load(b *testing.B) {
	const numValues = 1000
	s := NewSequence[int]()
	for i := 0; i < numValues; i++ {
		s.Push(i)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			s.Load(i % numValues)
			i++
		}
	})
}

func BenchmarkSequence_Push(b *testing.B) {
	s := NewSequence[int]()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Push(i)
	}
}
