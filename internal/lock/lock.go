// Package lock — блокировки по ключу датасета.
//
// Locker сериализует проверку активного execution и его создание для
// одного датасета. Реализации:
//   - Keyed    — в памяти процесса, FIFO по ключу
//   - Postgres — advisory lock, общий для нескольких процессов
package lock

import (
	"context"
	"sync"
)

// Locker — взаимное исключение по ключу.
//
// Lock блокирует до получения блокировки или отмены ctx.
// Возвращённая функция снимает блокировку и должна быть вызвана ровно один раз.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// With выполняет fn под блокировкой key.
func With(ctx context.Context, l Locker, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Keyed — справедливая блокировка по ключу в памяти.
//
// Ожидающие получают блокировку в порядке вызова Lock. Состояние ключа
// удаляется, когда его больше никто не держит и не ждёт.
type Keyed struct {
	mu   sync.Mutex
	keys map[string]*keyState
}

type keyState struct {
	held    bool
	waiters []chan struct{}
	refs    int
}

// NewKeyed создаёт пустую блокировку.
func NewKeyed() *Keyed {
	return &Keyed{keys: make(map[string]*keyState)}
}

var _ Locker = (*Keyed)(nil)

// Lock захватывает ключ.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	st, ok := k.keys[key]
	if !ok {
		st = &keyState{}
		k.keys[key] = st
	}
	st.refs++

	if !st.held {
		st.held = true
		k.mu.Unlock()
		return k.unlockFunc(key), nil
	}

	ready := make(chan struct{})
	st.waiters = append(st.waiters, ready)
	k.mu.Unlock()

	select {
	case <-ready:
		return k.unlockFunc(key), nil
	case <-ctx.Done():
		k.mu.Lock()
		for i, w := range st.waiters {
			if w == ready {
				st.waiters = append(st.waiters[:i], st.waiters[i+1:]...)
				st.refs--
				k.cleanup(key, st)
				k.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		k.mu.Unlock()
		// Блокировка уже передана нам: отдаём её следующему.
		k.release(key)
		return nil, ctx.Err()
	}
}

// Len возвращает число ключей, которые сейчас держат или ждут.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.keys)
}

func (k *Keyed) unlockFunc(key string) func() {
	var once sync.Once
	return func() {
		once.Do(func() { k.release(key) })
	}
}

func (k *Keyed) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	st, ok := k.keys[key]
	if !ok {
		return
	}
	st.refs--
	if len(st.waiters) > 0 {
		next := st.waiters[0]
		st.waiters = st.waiters[1:]
		close(next)
		return
	}
	st.held = false
	k.cleanup(key, st)
}

func (k *Keyed) cleanup(key string, st *keyState) {
	if st.refs == 0 {
		delete(k.keys, key)
	}
}
