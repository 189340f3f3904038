package dwce

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/winlinos/dwce/go/models"
	"github.com/winlinos/dwce/go/models/mock"
)

type fakeLoader struct {
	mu    sync.Mutex
	Err   error
	Paths []string
}

func (f *fakeLoader) LoadFile(path string, hint models.Format, m models.Mapper) (*models.LoadedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Paths = append(f.Paths, path)
	if f.Err != nil {
		return nil, f.Err
	}
	if err := m.Map(0x400000, 0x1000, models.PROT_READ|models.PROT_EXEC, "text"); err != nil {
		return nil, err
	}
	return &models.LoadedImage{Format: models.ELF64, Entry: models.AddressEntry(0x400000)}, nil
}

func TestManager(t *testing.T) {
	n := neko.Modern(t)
	ctx := context.Background()

	var loader *fakeLoader
	var starter *mock.Starter
	var config *models.Config
	var m *Manager

	setup := func() {
		loader = &fakeLoader{}
		starter = &mock.Starter{}
		config = models.DefaultConfig()
		config.TerminateTimeout = time.Second
		config.KillGrace = time.Second
		m = NewManager(loader, starter, config)
	}

	n.It("creates and terminates a process", func(t *testing.T) {
		setup()
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)
		require.Equal(t, models.ProcessID(1), id)

		desc, ok := m.Get(id)
		require.True(t, ok)
		require.Equal(t, models.Running, desc.State)
		require.Equal(t, "/bin/guest", desc.Path)
		require.Equal(t, models.ELF64, desc.Format)
		require.Equal(t, 1001, desc.Pid)

		require.NoError(t, m.Terminate(ctx, id, 0))
		require.Empty(t, m.List())
		require.Equal(t, 143, starter.Last().ExitCode())
		require.Equal(t, int32(0), starter.Last().Kills)

		err = m.Terminate(ctx, id, 0)
		require.Equal(t, models.ErrProcessNotFound, errors.Cause(err))
	})

	n.It("maps the image into the process address space", func(t *testing.T) {
		setup()
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)
		space, err := m.Space(id)
		require.NoError(t, err)
		require.Len(t, space.Mappings(), 1)

		addr, err := m.Allocate(id, 0, 0x2000, models.PROT_READ|models.PROT_WRITE)
		require.NoError(t, err)
		require.Equal(t, uint64(0x1000000), addr)
		require.Len(t, space.Mappings(), 2)

		_, err = m.Allocate(99, 0, 0x1000, models.PROT_READ)
		require.Equal(t, models.ErrProcessNotFound, errors.Cause(err))
	})

	n.It("hands out unique increasing ids under concurrency", func(t *testing.T) {
		setup()
		const count = 100
		var wg sync.WaitGroup
		var mu sync.Mutex
		var ids []models.ProcessID
		for i := 0; i < count; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
				require.NoError(t, err)
				mu.Lock()
				ids = append(ids, id)
				mu.Unlock()
			}()
		}
		wg.Wait()
		require.Len(t, ids, count)
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for i, id := range ids {
			require.Equal(t, models.ProcessID(i+1), id)
		}
		list := m.List()
		require.Len(t, list, count)
		for i := 1; i < len(list); i++ {
			require.True(t, list[i-1].ID < list[i].ID)
		}
	})

	n.It("escalates to kill after the timeout", func(t *testing.T) {
		setup()
		starter.Stubborn = true
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)

		start := time.Now()
		require.NoError(t, m.Terminate(ctx, id, 50*time.Millisecond))
		elapsed := time.Since(start)
		require.True(t, elapsed >= 50*time.Millisecond, "returned after %s", elapsed)
		require.True(t, elapsed < 50*time.Millisecond+500*time.Millisecond, "returned after %s", elapsed)

		h := starter.Last()
		require.Equal(t, int32(1), h.Signals)
		require.Equal(t, int32(1), h.Kills)
		require.Equal(t, 137, h.ExitCode())
		require.Empty(t, m.List())
	})

	n.It("drops a process that survives kill", func(t *testing.T) {
		setup()
		config.KillGrace = 50 * time.Millisecond
		starter.Stubborn, starter.Unkillable = true, true
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)

		start := time.Now()
		require.NoError(t, m.Terminate(ctx, id, 50*time.Millisecond))
		require.True(t, time.Since(start) < time.Second)
		_, ok := m.Get(id)
		require.False(t, ok)
	})

	n.It("joins a terminate already in progress", func(t *testing.T) {
		setup()
		starter.Stubborn = true
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = m.Terminate(ctx, id, 100*time.Millisecond)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				require.Equal(t, models.ErrProcessNotFound, errors.Cause(err))
			}
		}
		require.Equal(t, int32(1), starter.Last().Kills)
		require.Empty(t, m.List())
	})

	n.It("leaves no trace when loading fails", func(t *testing.T) {
		setup()
		loader.Err = errors.WithStack(models.ErrInvalidMagic)
		_, err := m.Create(ctx, "/bin/garbage", models.FormatUnknown)
		var failed *models.LoadFailed
		require.True(t, errors.As(err, &failed))
		require.Equal(t, "load", failed.Stage)
		require.Equal(t, "/bin/garbage", failed.Path)
		require.Equal(t, models.ErrInvalidMagic, errors.Cause(failed.Err))
		require.Empty(t, m.List())
		require.Empty(t, starter.Handles)

		loader.Err = nil
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)
		require.Equal(t, models.ProcessID(1), id)
	})

	n.It("skips the id of a process that failed to start", func(t *testing.T) {
		setup()
		starter.Err = errors.New("exec format error")
		_, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		var failed *models.LoadFailed
		require.True(t, errors.As(err, &failed))
		require.Equal(t, "start", failed.Stage)
		require.Empty(t, m.List())

		starter.Err = nil
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)
		require.Equal(t, models.ProcessID(2), id)
	})

	n.It("reaps processes that exit on their own", func(t *testing.T) {
		setup()
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)

		codes := make(chan int, 1)
		go func() {
			code, err := m.Wait(ctx, id)
			require.NoError(t, err)
			codes <- code
		}()
		time.Sleep(20 * time.Millisecond)
		starter.Last().Exit(7)

		select {
		case code := <-codes:
			require.Equal(t, 7, code)
		case <-time.After(time.Second):
			t.Fatal("Wait did not return")
		}
		require.Eventually(t, func() bool { return len(m.List()) == 0 }, time.Second, 5*time.Millisecond)
		err = m.Terminate(ctx, id, 0)
		require.Equal(t, models.ErrProcessNotFound, errors.Cause(err))
	})

	n.It("reports the exit code of a process reaped before Wait", func(t *testing.T) {
		setup()
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)

		starter.Last().Exit(3)
		require.Eventually(t, func() bool { return len(m.List()) == 0 }, time.Second, 5*time.Millisecond)

		code, err := m.Wait(ctx, id)
		require.NoError(t, err)
		require.Equal(t, 3, code)

		_, err = m.Wait(ctx, 99)
		require.Equal(t, models.ErrProcessNotFound, errors.Cause(err))
	})

	n.It("forgets the oldest exit codes", func(t *testing.T) {
		setup()
		m.mu.Lock()
		for i := 1; i <= EXIT_HISTORY+1; i++ {
			m.recordExit(models.ProcessID(i), i)
		}
		m.mu.Unlock()
		require.Len(t, m.exits, EXIT_HISTORY)

		_, err := m.Wait(ctx, 1)
		require.Equal(t, models.ErrProcessNotFound, errors.Cause(err))
		code, err := m.Wait(ctx, EXIT_HISTORY+1)
		require.NoError(t, err)
		require.Equal(t, EXIT_HISTORY+1, code)
	})

	n.It("stops joining a terminate when the context ends", func(t *testing.T) {
		setup()
		starter.Stubborn = true
		id, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
		require.NoError(t, err)

		done := make(chan error, 1)
		go func() { done <- m.Terminate(ctx, id, 500*time.Millisecond) }()
		require.Eventually(t, func() bool {
			desc, ok := m.Get(id)
			return ok && desc.State == models.Terminating
		}, time.Second, time.Millisecond)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		start := time.Now()
		err = m.Terminate(cancelled, id, 0)
		require.Equal(t, context.Canceled, errors.Cause(err))
		require.True(t, time.Since(start) < 100*time.Millisecond)

		require.NoError(t, <-done)
	})

	n.It("shuts everything down", func(t *testing.T) {
		setup()
		for i := 0; i < 3; i++ {
			_, err := m.Create(ctx, "/bin/guest", models.FormatUnknown)
			require.NoError(t, err)
		}
		require.Len(t, m.List(), 3)
		require.NoError(t, m.Shutdown(ctx))
		require.Empty(t, m.List())
		for _, h := range starter.Handles {
			require.Equal(t, int32(1), h.Signals)
		}
	})

	n.Meow()
}
