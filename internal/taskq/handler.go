package taskq

import "context"

// Handler runs dispatched tasks. A returned error is logged, the task is not
// resent.
type Handler interface {
	OnTask(ctx context.Context, payload any, qname, qosKey string, taskID int64) error
}

type HandlerFunc func(ctx context.Context, payload any, qname, qosKey string, taskID int64) error

func (f HandlerFunc) OnTask(ctx context.Context, payload any, qname, qosKey string, taskID int64) error {
	return f(ctx, payload, qname, qosKey, taskID)
}

// HandlerFactory hands out the handler for a dispatched task of queue qname.
type HandlerFactory interface {
	Handler(qname string) Handler
}

type HandlerFactoryFunc func(qname string) Handler

func (f HandlerFactoryFunc) Handler(qname string) Handler {
	return f(qname)
}

type singleton struct {
	h Handler
}

func (s singleton) Handler(string) Handler {
	return s.h
}

// Singleton shares h between all tasks of a queue.
func Singleton(h Handler) HandlerFactory {
	return singleton{h: h}
}
