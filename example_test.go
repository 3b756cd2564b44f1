package rmsync_test

import (
	"fmt"

	"github.com/puzpuzpuz/rmsync"
)

func ExampleMap_Compute() {
	counts := rmsync.NewMap[int, int]()

	// Store a new value.
	v, ok := counts.Compute(42, func(oldValue int, loaded bool) (newValue int, delete bool) {
		// loaded is false here.
		newValue = 42
		delete = false
		return
	})
	fmt.Printf("v: %v, ok: %v\n", v, ok)

	// Update an existing value.
	v, ok = counts.Compute(42, func(oldValue int, loaded bool) (newValue int, delete bool) {
		// loaded is true here.
		newValue = oldValue + 42
		delete = false
		return
	})
	fmt.Printf("v: %v, ok: %v\n", v, ok)

	// Set a new value or keep the old value conditionally.
	var oldVal int
	minVal := 63
	v, ok = counts.Compute(42, func(oldValue int, loaded bool) (newValue int, delete bool) {
		oldVal = oldValue
		if !loaded || oldValue < minVal {
			newValue = minVal
			delete = false
			return
		}
		newValue = oldValue
		delete = false
		return
	})
	fmt.Printf("v: %v, ok: %v, oldVal: %v\n", v, ok, oldVal)

	// Delete an existing value.
	v, ok = counts.Compute(42, func(oldValue int, loaded bool) (newValue int, delete bool) {
		// loaded is true here.
		delete = true
		return
	})
	fmt.Printf("v: %v, ok: %v\n", v, ok)
	// Output:
	// v: 42, ok: true
	// v: 84, ok: true
	// v: 84, ok: true, oldVal: 84
	// v: 84, ok: false
}

func ExampleMap_GetMut() {
	m := rmsync.NewMapFrom(map[string]int{"hits": 1})
	if ref, ok := m.GetMut("hits"); ok {
		ref.Update(func(v int) int { return v + 1 })
		ref.Release()
	}
	v, _ := m.Load("hits")
	fmt.Println(v)
	// Output: 2
}

func ExampleOrderedMap_AscendRange() {
	m := rmsync.NewOrderedMapFrom(map[string]int{
		"apple":  1,
		"banana": 2,
		"cherry": 3,
		"date":   4,
	})
	m.AscendRange("b", "d", func(key string, value int) bool {
		fmt.Println(key, value)
		return true
	})
	// Output:
	// banana 2
	// cherry 3
}

func ExampleSequence_Insert() {
	s := rmsync.SequenceOf(1, 3)
	if err := s.Insert(1, 2); err != nil {
		panic(err)
	}
	fmt.Println(s)
	fmt.Println(s.Insert(10, 4))
	// Output:
	// [1 2 3]
	// insert at 10 into sequence of length 3: index out of range
}

func ExampleBarrier() {
	b := rmsync.NewBarrier()
	results := rmsync.NewMap[int, int]()
	for i := 0; i < 3; i++ {
		h := b.Clone()
		go func() {
			defer h.Done()
			results.Store(i, i*i)
		}()
	}
	b.Wait()
	fmt.Println(results)
	// Output: map[0:0 1:1 2:4]
}
