// Package utils tests
package utils

import (
	"errors"
	"sync"
	"testing"
)

func TestSafeGo(t *testing.T) {
	t.Run("panic is recovered and reported", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		var recovered error
		SafeGo(func() {
			panic(errors.New("boom"))
		}, func(err error) {
			recovered = err
			wg.Done()
		})
		wg.Wait()
		if recovered == nil || recovered.Error() != "boom" {
			t.Errorf("SafeGo() recovered = %v, want boom", recovered)
		}
	})

	t.Run("non-error panic is wrapped", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		var recovered error
		SafeGo(func() {
			panic("not an error")
		}, func(err error) {
			recovered = err
			wg.Done()
		})
		wg.Wait()
		if recovered == nil {
			t.Error("SafeGo() should have passed a wrapped error to recoveryFn")
		}
	})

	t.Run("clean run never calls recoveryFn", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(1)
		called := false
		SafeGo(func() {
			wg.Done()
		}, func(err error) {
			called = true
		})
		wg.Wait()
		if called {
			t.Error("SafeGo() called recoveryFn on a clean run")
		}
	})
}
