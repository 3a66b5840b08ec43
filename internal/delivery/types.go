// Package delivery is the boundary to the message senders.
//
// A Sender returns (Result{OK: false}, nil) when the remote side refused the
// message and a non-nil error when the transport itself failed.
package delivery

import "context"

// Request is one message for one target.
type Request struct {
	TargetRef  string
	MentionRef string
	Message    string
}

type Result struct {
	OK     bool
	Detail string
}

type Sender interface {
	Send(ctx context.Context, req Request) (Result, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, req Request) (Result, error)

func (f SenderFunc) Send(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

func ok(detail string) Result     { return Result{OK: true, Detail: detail} }
func refused(detail string) Result { return Result{OK: false, Detail: detail} }
