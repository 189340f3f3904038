package android

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	co "github.com/winlinos/dwce/go/kernel/common"
	"github.com/winlinos/dwce/go/models"
	"github.com/winlinos/dwce/go/models/mock"
)

func TestResolve(t *testing.T) {
	require.Equal(t, "android.util.Log.i", Resolve("android.util.Log.i"))
	require.Equal(t, "android.util.Log.i", Resolve("android.util.Log.i(Ljava/lang/String;Ljava/lang/String;)I"))
	require.Equal(t, "android.util.Log.i", Resolve("Landroid/util/Log;->i(Ljava/lang/String;Ljava/lang/String;)I"))
	require.Equal(t, "java.lang.System.nanoTime", Resolve("Ljava/lang/System;->nanoTime"))
}

func TestTable(t *testing.T) {
	n := neko.Modern(t)
	ctx := context.Background()
	now := time.Unix(1500000000, 123456789)

	var procs *mock.Procs
	var mem *mock.Mem
	var io *mock.IO
	var d *co.Dispatcher

	setup := func() {
		procs = &mock.Procs{}
		mem = &mock.Mem{}
		io = mock.NewIO(now)
		d = co.NewDispatcher(co.NewHostKernel(procs, mem, io, nil), NewTable())
	}

	call := func(name string, caller models.ProcessID, args ...interface{}) (*co.Result, error) {
		return d.Dispatch(ctx, &co.Request{ABI: models.Android, Name: name, Args: args, Caller: caller})
	}

	n.It("writes log calls as one line on the log fd", func(t *testing.T) {
		setup()
		res, err := call("android.util.Log.i", 1, "MainActivity", "started")
		require.NoError(t, err)
		require.Equal(t, len("MainActivity: started\n"), res.Ret)
		_, err = call("Landroid/util/Log;->e(Ljava/lang/String;Ljava/lang/String;)I", 1, "Net", "down")
		require.NoError(t, err)
		require.Equal(t, "MainActivity: started\nNet: down\n", io.Output(LOG_FD))

		_, err = call("android.util.Log.w", 1, "Tag", 42)
		require.Equal(t, models.ErrInvalidArguments, errors.Cause(err))
	})

	n.It("writes a stream slice", func(t *testing.T) {
		setup()
		res, err := call("java.io.FileOutputStream.write", 1, 1, []byte("xxhello"), 2, 5)
		require.NoError(t, err)
		require.Equal(t, 5, res.Ret)
		require.Equal(t, "hello", io.Output(1))

		_, err = call("java.io.FileOutputStream.write", 1, 1, []byte("abc"), 4, 1)
		require.Equal(t, models.ErrInvalidArguments, errors.Cause(err))
	})

	n.It("reads a stream", func(t *testing.T) {
		setup()
		io.Feed(3, []byte("0123456789"))
		res, err := call("java.io.FileInputStream.read", 1, 3, make([]byte, 16), 0, 4)
		require.NoError(t, err)
		require.Equal(t, []byte("0123"), res.Ret)
	})

	n.It("starts and kills processes", func(t *testing.T) {
		setup()
		res, err := call("java.lang.ProcessBuilder.start", 1, []string{"/system/bin/sh", "-c", "true"})
		require.NoError(t, err)
		child := res.Ret.(models.ProcessID)
		_, err = call("java.lang.Runtime.exec", 1, "/system/bin/id -u")
		require.NoError(t, err)
		require.Equal(t, []string{"/system/bin/sh", "/system/bin/id"}, procs.Created)

		_, err = call("android.os.Process.killProcess", 1, int32(child))
		require.NoError(t, err)
		_, err = call("java.lang.System.exit", child, 0)
		require.Equal(t, models.ErrProcessNotFound, errors.Cause(err))

		_, err = call("java.lang.Runtime.exec", 1, "")
		require.Equal(t, models.ErrInvalidArguments, errors.Cause(err))
	})

	n.It("allocates direct buffers", func(t *testing.T) {
		setup()
		res, err := call("java.nio.ByteBuffer.allocateDirect", 4, 4096)
		require.NoError(t, err)
		require.Equal(t, uint64(0x1000000), res.Ret)
		require.Equal(t, models.PROT_READ|models.PROT_WRITE, mem.Allocs[0].Prot)
	})

	n.It("returns clock values", func(t *testing.T) {
		setup()
		res, err := call("java.lang.System.currentTimeMillis", 1)
		require.NoError(t, err)
		require.Equal(t, int64(1500000000123), res.Ret)
		res, err = call("java.lang.System.nanoTime", 1)
		require.NoError(t, err)
		require.Equal(t, now.UnixNano(), res.Ret)
	})

	n.It("reports unknown framework calls", func(t *testing.T) {
		setup()
		_, err := call("android.app.Activity.finish", 1)
		var unmapped *models.UnmappedSyscall
		require.True(t, errors.As(err, &unmapped))
		require.Equal(t, models.Android, unmapped.ABI)
	})

	n.Meow()
}
