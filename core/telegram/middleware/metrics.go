package middleware

import (
	"sync/atomic"

	tele "gopkg.in/telebot.v4"
)

const countersKey = "reply_counters"

// replyCounters tracks what a handler sent back for the handled summary line.
type replyCounters struct {
	messages atomic.Int32
	keyboard atomic.Bool
}

func (rc *replyCounters) count(opts []interface{}, err error) error {
	if err != nil {
		return err
	}
	rc.messages.Add(1)
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				rc.keyboard.Store(true)
			}
		case *tele.ReplyMarkup:
			if v != nil {
				rc.keyboard.Store(true)
			}
		}
	}
	return nil
}

// countingContext counts successful sends and edits.
type countingContext struct {
	tele.Context
	rc *replyCounters
}

func (m countingContext) Send(what interface{}, opts ...interface{}) error {
	return m.rc.count(opts, m.Context.Send(what, opts...))
}

func (m countingContext) Reply(what interface{}, opts ...interface{}) error {
	return m.rc.count(opts, m.Context.Reply(what, opts...))
}

func (m countingContext) Edit(what interface{}, opts ...interface{}) error {
	return m.rc.count(opts, m.Context.Edit(what, opts...))
}

func (m countingContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return m.rc.count(opts, m.Context.EditOrSend(what, opts...))
}

func (m countingContext) EditOrReply(what interface{}, opts ...interface{}) error {
	return m.rc.count(opts, m.Context.EditOrReply(what, opts...))
}

// MessageMetricsMiddleware counts the messages a handler sends and whether
// any of them carried a keyboard.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		rc := &replyCounters{}
		c.Set(countersKey, rc)
		return next(countingContext{Context: c, rc: rc})
	}
}

// GetCounters returns the message count and keyboard flag recorded for c.
func GetCounters(c tele.Context) (int, bool) {
	rc, ok := c.Get(countersKey).(*replyCounters)
	if !ok {
		return 0, false
	}
	return int(rc.messages.Load()), rc.keyboard.Load()
}
