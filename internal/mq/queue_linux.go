//go:build linux

package mq

import (
	"strings"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// struct mq_attr. C long is the native word size on every Linux port Go
// supports, which is also the size of Go's int.
type mqAttr struct {
	flags   int
	maxmsg  int
	msgsize int
	curmsgs int
	_       [4]int
}

// The syscall takes the name without the leading slash that mq_open(3) requires.
func syscallName(name string) (*byte, error) {
	return unix.BytePtrFromString(strings.TrimPrefix(name, "/"))
}

func open(name string, create, nonblocking bool, want Attr) (int, error) {
	p, err := syscallName(name)
	if err != nil {
		return -1, err
	}
	flags := unix.O_RDWR | unix.O_CLOEXEC
	var attr *mqAttr
	if create {
		flags |= unix.O_CREAT
		attr = &mqAttr{maxmsg: want.MaxMessages, msgsize: want.MessageSize}
	}
	if nonblocking {
		flags |= unix.O_NONBLOCK
	}
	fd, _, errno := unix.Syscall6(
		unix.SYS_MQ_OPEN,
		uintptr(unsafe.Pointer(p)),
		uintptr(flags),
		uintptr(0600),
		uintptr(unsafe.Pointer(attr)),
		0,
		0,
	)
	if errno != 0 {
		return -1, errno
	}
	return int(fd), nil
}

func getattr(fd int) (Attr, error) {
	var a mqAttr
	_, _, errno := unix.Syscall(
		unix.SYS_MQ_GETSETATTR,
		uintptr(fd),
		0,
		uintptr(unsafe.Pointer(&a)),
	)
	if errno != 0 {
		return Attr{}, errno
	}
	return Attr{
		MaxMessages: a.maxmsg,
		MessageSize: a.msgsize,
		Current:     a.curmsgs,
		NonBlocking: a.flags&unix.O_NONBLOCK != 0,
	}, nil
}

func send(fd int, msg []byte) error {
	var p unsafe.Pointer
	if len(msg) > 0 {
		p = unsafe.Pointer(&msg[0])
	}
	_, _, errno := unix.Syscall6(
		unix.SYS_MQ_TIMEDSEND,
		uintptr(fd),
		uintptr(p),
		uintptr(len(msg)),
		0, // priority
		0, // no timeout
		0,
	)
	if errno != 0 {
		return errno
	}
	return nil
}

func receive(fd int, buf []byte, deadline time.Time) (int, error) {
	ts := unix.NsecToTimespec(deadline.UnixNano())
	var prio uint32
	n, _, errno := unix.Syscall6(
		unix.SYS_MQ_TIMEDRECEIVE,
		uintptr(fd),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(len(buf)),
		uintptr(unsafe.Pointer(&prio)),
		uintptr(unsafe.Pointer(&ts)),
		0,
	)
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}

func unlink(name string) error {
	p, err := syscallName(name)
	if err != nil {
		return err
	}
	_, _, errno := unix.Syscall(unix.SYS_MQ_UNLINK, uintptr(unsafe.Pointer(p)), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}

func isFull(err error) bool {
	return err == unix.EAGAIN
}

func isTimeout(err error) bool {
	return err == unix.ETIMEDOUT || err == unix.EINTR
}
