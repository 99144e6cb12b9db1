package telemetry

import (
	"io"
	"os"
)

type options struct {
	writer      io.Writer
	prettyPrint bool
	version     string
	instanceId  string
	ns          string
}

type Option func(*options)

// WithWriter sets where exported spans are written. Defaults to os.Stderr,
// since a worker's stdout carries the protocol.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.writer = w
	}
}

func WithPrettyPrint(pretty bool) Option {
	return func(o *options) {
		o.prettyPrint = pretty
	}
}

func WithVersion(version string) Option {
	return func(o *options) {
		o.version = version
	}
}

func WithInstanceId(instanceId string) Option {
	return func(o *options) {
		o.instanceId = instanceId
	}
}

func WithNamespace(ns string) Option {
	return func(o *options) {
		o.ns = ns
	}
}

func defaultOptions() *options {
	return &options{
		writer: os.Stderr,
	}
}
