package singleinstance

// Single-instance ownership and delegation of CLI requests to the resident.

import (
	"context"
)

// Server owns the TCP endpoint and answers delegated requests.
type Server interface {
	// Start binds the first port of the configured range and accepts clients.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted request, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn is one client connection awaiting a response.
type Conn interface {
	Request() Request
	// RespondSuccess sends success with an optional payload.
	RespondSuccess(text string) error
	RespondError(msg string) error
	Close() error
}

// Client delegates a request to a resident server if one is running.
type Client interface {
	// Delegate returns delegated=false, err=nil when no resident answered.
	Delegate(ctx context.Context, req Request) (delegated bool, text string, err error)
}

// NewServer returns TCP implementation.
func NewServer() Server { return newTcpServer() }

// NewClient returns TCP implementation.
func NewClient() Client { return newTcpClient() }
