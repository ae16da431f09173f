package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// TraceMethodCall traces a method call with a given struct/package and method
// names. The returned tracer is nil, and all of its methods are no-ops, when
// ctx carries neither a transaction nor an application.
func TraceMethodCall(ctx context.Context, structOrPackageName, methodName string) *MethodTracer {
	txn := newrelic.FromContext(ctx)
	app, hasApp := fromContext(ctx)
	if txn == nil && !hasApp {
		return nil
	}

	name := fmt.Sprintf("%s %s", structOrPackageName, methodName)

	t := &MethodTracer{
		txn:   txn,
		app:   app,
		name:  name,
		start: time.Now(),
	}
	if txn != nil {
		t.seg = txn.StartSegment(name)
	}
	return t
}

// MethodTracer collects analytics for a given method call within an existing
// trace.
type MethodTracer struct {
	txn   *newrelic.Transaction
	seg   *newrelic.Segment
	app   *newrelic.Application
	name  string
	start time.Time
}

// AddAttribute adds a key-value pair metadata to the method trace
func (t *MethodTracer) AddAttribute(key string, value interface{}) {
	if t == nil || t.seg == nil {
		return
	}

	t.seg.AddAttribute(key, value)
}

// AddAttributes adds a set of key-value pair metadata to the method trace
func (t *MethodTracer) AddAttributes(attributes map[string]interface{}) {
	for key, value := range attributes {
		t.AddAttribute(key, value)
	}
}

// OnError observes an error within a method trace
func (t *MethodTracer) OnError(err error) {
	if t == nil || t.txn == nil {
		return
	}

	if err == nil {
		return
	}

	t.txn.NoticeError(err)
}

// End completes the trace for the method call, and records its latency when
// an application is available.
func (t *MethodTracer) End() {
	if t == nil {
		return
	}

	if t.seg != nil {
		t.seg.End()
	}
	if t.app != nil {
		t.app.RecordCustomMetric(fmt.Sprintf("%s/latency", t.name), float64(time.Since(t.start)/time.Millisecond))
	}
}
