package router

import "errors"

var errNoIngress = errors.New("router: topology has no INGRESS entry")
