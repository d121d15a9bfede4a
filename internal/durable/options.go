package durable

import (
	"time"

	"github.com/sf7293/taskq/internal/poll"
)

const (
	DefaultExpireTime     = 120 * time.Second
	DefaultMinFreePercent = 20
)

// Options tune the durable layer. Zero sizes and amounts mean unlimited.
type Options struct {
	ExpireTime        time.Duration
	ReloadInterval    time.Duration
	HeartBeatInterval time.Duration
	FailOverTimeout   time.Duration
	DbGracePeriod     time.Duration

	MaxSize         int
	MaxSizePerQueue int

	ReloadMinFreePercent   int
	ReloadMaxAmountPerPass int
	ReloadLogAmount        int

	NoFailOver       bool
	NoHeartBeatPause bool
}

func DefaultOptions() Options {
	return Options{
		ExpireTime:           DefaultExpireTime,
		ReloadInterval:       poll.DefaultReloadInterval,
		HeartBeatInterval:    poll.DefaultHeartBeatInterval,
		FailOverTimeout:      poll.DefaultFailOverTimeout,
		DbGracePeriod:        poll.DefaultDbGracePeriod,
		ReloadMinFreePercent: DefaultMinFreePercent,
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.ExpireTime <= 0 {
		o.ExpireTime = d.ExpireTime
	}
	if o.ReloadInterval <= 0 {
		o.ReloadInterval = d.ReloadInterval
	}
	if o.HeartBeatInterval <= 0 {
		o.HeartBeatInterval = d.HeartBeatInterval
	}
	if o.FailOverTimeout <= 0 {
		o.FailOverTimeout = d.FailOverTimeout
	}
	if o.DbGracePeriod < 0 {
		o.DbGracePeriod = 0
	}
	if o.MaxSize < 0 {
		o.MaxSize = 0
	}
	if o.MaxSizePerQueue < 0 {
		o.MaxSizePerQueue = 0
	}
	if o.ReloadMinFreePercent < 0 {
		o.ReloadMinFreePercent = 0
	}
	if o.ReloadMinFreePercent > 100 {
		o.ReloadMinFreePercent = 100
	}
	if o.ReloadMaxAmountPerPass < 0 {
		o.ReloadMaxAmountPerPass = 0
	}
	if o.ReloadLogAmount < 0 {
		o.ReloadLogAmount = 0
	}
	return o
}
