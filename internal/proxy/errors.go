package proxy

import "errors"

var (
	ErrBind    = errors.New("cannot bind listener")
	ErrConnect = errors.New("cannot connect to remote")
	ErrRelayIO = errors.New("relay i/o failed")
)
