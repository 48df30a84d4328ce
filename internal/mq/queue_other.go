//go:build !linux

package mq

import "time"

func open(name string, create, nonblocking bool, want Attr) (int, error) {
	return -1, ErrNotSupported
}

func getattr(fd int) (Attr, error) { return Attr{}, ErrNotSupported }

func send(fd int, msg []byte) error { return ErrNotSupported }

func receive(fd int, buf []byte, deadline time.Time) (int, error) { return 0, ErrNotSupported }

func unlink(name string) error { return ErrNotSupported }

func closeFD(fd int) error { return nil }

func isFull(err error) bool { return false }

func isTimeout(err error) bool { return false }
